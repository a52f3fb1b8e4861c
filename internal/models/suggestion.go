package models

import "time"

// Причины exit-подсказки
const (
	ExitReasonAPYNegative    = "APY_NEGATIVE"    // текущая годовая ставка ушла в минус
	ExitReasonProfitLockable = "PROFIT_LOCKABLE" // фандинг уже покрыл ценовой разъезд
)

// ExitSuggestion - рекомендация закрыть позицию.
//
// Отменяется записью ExitCancellation когда условия перестали выполняться.
type ExitSuggestion struct {
	PositionID    int64     `json:"position_id"`
	Reason        string    `json:"reason"` // APY_NEGATIVE | PROFIT_LOCKABLE
	CurrentAPY    float64   `json:"current_apy"`    // %
	FundingPnl    float64   `json:"funding_pnl"`    // накопленный фандинг, USDT
	PriceDiffLoss float64   `json:"price_diff_loss"` // текущий ценовой разъезд, USDT
	NetProfit     float64   `json:"net_profit"`     // funding − priceDiffLoss
	SuggestedAt   time.Time `json:"suggested_at"`
}

// ExitCancellation - отмена ранее выданной подсказки
type ExitCancellation struct {
	PositionID int64     `json:"position_id"`
	CurrentAPY float64   `json:"current_apy"`
	CanceledAt time.Time `json:"canceled_at"`
}

// UserExitSettings - пользовательские настройки exit-подсказок
type UserExitSettings struct {
	UserID       int64   `json:"user_id" db:"user_id"`
	Enabled      bool    `json:"enabled" db:"enabled"`
	APYThreshold float64 `json:"apy_threshold" db:"apy_threshold"` // %, порог PROFIT_LOCKABLE
}
