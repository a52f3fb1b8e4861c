package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// Ошибки репозитория сделок
var (
	ErrTradeNotFound = errors.New("trade not found")
)

// TradeRepository - работа с таблицей trades.
// Записи неизменяемые: сделка создается один раз при закрытии позиции.
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// CreateTrade создает запись о закрытой позиции
func (r *TradeRepository) CreateTrade(ctx context.Context, trade *models.Trade) error {
	query := `
		INSERT INTO trades (position_id, symbol, long_exit_price, short_exit_price, fees, funding_pnl, price_diff_pnl, total_pnl, roi_pct, holding_duration, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	if trade.ClosedAt.IsZero() {
		trade.ClosedAt = time.Now()
	}

	return r.db.QueryRowContext(
		ctx,
		query,
		trade.PositionID,
		trade.Symbol,
		trade.LongExit,
		trade.ShortExit,
		trade.Fees,
		trade.FundingPnl,
		trade.PriceDiffPnl,
		trade.TotalPnl,
		trade.RoiPct,
		trade.Holding.Nanoseconds(),
		trade.ClosedAt,
	).Scan(&trade.ID)
}

// GetByPositionID возвращает сделку закрытой позиции
func (r *TradeRepository) GetByPositionID(ctx context.Context, positionID int64) (*models.Trade, error) {
	query := `
		SELECT id, position_id, symbol, long_exit_price, short_exit_price, fees, funding_pnl, price_diff_pnl, total_pnl, roi_pct, holding_duration, closed_at
		FROM trades
		WHERE position_id = $1`

	trade := &models.Trade{}
	var holdingNs int64
	err := r.db.QueryRowContext(ctx, query, positionID).Scan(
		&trade.ID,
		&trade.PositionID,
		&trade.Symbol,
		&trade.LongExit,
		&trade.ShortExit,
		&trade.Fees,
		&trade.FundingPnl,
		&trade.PriceDiffPnl,
		&trade.TotalPnl,
		&trade.RoiPct,
		&holdingNs,
		&trade.ClosedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}

	trade.Holding = time.Duration(holdingNs)
	return trade, nil
}

// GetRecent возвращает последние N сделок
func (r *TradeRepository) GetRecent(ctx context.Context, limit int) ([]*models.Trade, error) {
	query := `
		SELECT id, position_id, symbol, long_exit_price, short_exit_price, fees, funding_pnl, price_diff_pnl, total_pnl, roi_pct, holding_duration, closed_at
		FROM trades
		ORDER BY closed_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		trade := &models.Trade{}
		var holdingNs int64
		err := rows.Scan(
			&trade.ID,
			&trade.PositionID,
			&trade.Symbol,
			&trade.LongExit,
			&trade.ShortExit,
			&trade.Fees,
			&trade.FundingPnl,
			&trade.PriceDiffPnl,
			&trade.TotalPnl,
			&trade.RoiPct,
			&holdingNs,
			&trade.ClosedAt,
		)
		if err != nil {
			return nil, err
		}
		trade.Holding = time.Duration(holdingNs)
		trades = append(trades, trade)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

// TotalPnl возвращает суммарный PNL всех сделок
func (r *TradeRepository) TotalPnl(ctx context.Context) (float64, error) {
	query := `SELECT COALESCE(SUM(total_pnl), 0) FROM trades`

	var total float64
	err := r.db.QueryRowContext(ctx, query).Scan(&total)
	if err != nil {
		return 0, err
	}

	return total, nil
}
