package repository

import (
	"context"
	"database/sql"
	"time"
)

// FundingRepository - учёт начислений фандинга по позициям.
// Начисления пишутся внешним коллектором; движок читает накопленную сумму.
type FundingRepository struct {
	db *sql.DB
}

// NewFundingRepository создает новый экземпляр репозитория
func NewFundingRepository(db *sql.DB) *FundingRepository {
	return &FundingRepository{db: db}
}

// GetCumulativeFundingPnL возвращает накопленный funding PNL позиции в USDT.
// Позиция без начислений дает 0.
func (r *FundingRepository) GetCumulativeFundingPnL(ctx context.Context, positionID int64) (float64, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM funding_payments WHERE position_id = $1`

	var total float64
	err := r.db.QueryRowContext(ctx, query, positionID).Scan(&total)
	if err != nil {
		return 0, err
	}

	return total, nil
}

// RecordPayment записывает начисление фандинга
func (r *FundingRepository) RecordPayment(ctx context.Context, positionID int64, exchange string, amount float64, paidAt time.Time) error {
	query := `
		INSERT INTO funding_payments (position_id, exchange, amount, paid_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query, positionID, exchange, amount, paidAt)
	return err
}
