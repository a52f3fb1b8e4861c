package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

// Колонки, разрешённые для частичного обновления через UpdatePosition.
// Всё остальное отклоняется до построения запроса.
var positionUpdatableColumns = map[string]bool{
	"status":                       true,
	"funding_pnl":                  true,
	"unrealized_pnl":               true,
	"exit_suggested":               true,
	"exit_reason":                  true,
	"exit_suggested_at":            true,
	"requires_manual_intervention": true,
	"closed_at":                    true,
	"stop_loss_enabled":            true,
	"stop_loss_pct":                true,
	"take_profit_enabled":          true,
	"take_profit_pct":              true,
}

const positionColumns = `
	id, user_id, symbol, group_id,
	long_exchange, long_entry_price, long_size, long_leverage,
	short_exchange, short_entry_price, short_size, short_leverage,
	status,
	stop_loss_enabled, stop_loss_pct, take_profit_enabled, take_profit_pct,
	funding_pnl, unrealized_pnl,
	exit_suggested, exit_reason, exit_suggested_at,
	requires_manual_intervention,
	opened_at, closed_at`

// PositionRepository - работа с таблицей positions
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

func scanPosition(row interface{ Scan(...interface{}) error }) (*models.Position, error) {
	p := &models.Position{}
	var groupID, exitReason sql.NullString
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Symbol,
		&groupID,
		&p.LongLeg.Exchange,
		&p.LongLeg.EntryPrice,
		&p.LongLeg.Size,
		&p.LongLeg.Leverage,
		&p.ShortLeg.Exchange,
		&p.ShortLeg.EntryPrice,
		&p.ShortLeg.Size,
		&p.ShortLeg.Leverage,
		&p.Status,
		&p.StopLossEnabled,
		&p.StopLossPct,
		&p.TakeProfitEnabled,
		&p.TakeProfitPct,
		&p.FundingPnl,
		&p.UnrealizedPnl,
		&p.ExitSuggested,
		&exitReason,
		&p.ExitSuggestedAt,
		&p.RequiresManualIntervention,
		&p.OpenedAt,
		&p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	p.GroupID = groupID.String
	p.ExitReason = exitReason.String
	return p, nil
}

// GetByID возвращает позицию по ID
func (r *PositionRepository) GetByID(ctx context.Context, id int64) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	p, err := scanPosition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return p, nil
}

// FindOpenPositions возвращает открытые позиции.
// Пустой symbol означает все открытые позиции на всех символах.
func (r *PositionRepository) FindOpenPositions(ctx context.Context, symbol string) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = $1`
	args := []interface{}{models.PositionStatusOpen}

	if symbol != "" {
		query += ` AND symbol = $2`
		args = append(args, symbol)
	}
	query += ` ORDER BY opened_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

// FindByGroupID возвращает позиции группы
func (r *PositionRepository) FindByGroupID(ctx context.Context, groupID string) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE group_id = $1 ORDER BY opened_at ASC`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

// UpdatePosition частично обновляет поля позиции.
// Ключи fields проверяются по белому списку колонок; порядок SET
// детерминирован для воспроизводимости запросов.
func (r *PositionRepository) UpdatePosition(ctx context.Context, id int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	columns := make([]string, 0, len(fields))
	for col := range fields {
		if !positionUpdatableColumns[col] {
			return fmt.Errorf("column %q is not updatable", col)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	setClauses := make([]string, 0, len(columns))
	args := make([]interface{}, 0, len(columns)+1)
	for i, col := range columns {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, fields[col])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE positions SET %s WHERE id = $%d",
		strings.Join(setClauses, ", "), len(args))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPositionNotFound
	}

	return nil
}

// CountOpen возвращает количество открытых позиций
func (r *PositionRepository) CountOpen(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM positions WHERE status = $1`

	var count int
	err := r.db.QueryRowContext(ctx, query, models.PositionStatusOpen).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}
