package models

import "time"

// Статусы позиции
const (
	PositionStatusOpen    = "OPEN"
	PositionStatusPending = "PENDING"
	PositionStatusClosed  = "CLOSED"
)

// Стороны ноги
const (
	LegSideLong  = "long"
	LegSideShort = "short"
)

// PositionLeg - одна нога хеджированной позиции на конкретной бирже
type PositionLeg struct {
	Exchange   string  `json:"exchange" db:"exchange"`
	EntryPrice float64 `json:"entry_price" db:"entry_price"`
	Size       float64 `json:"size" db:"size"`
	Leverage   int     `json:"leverage" db:"leverage"`
}

// Position - хеджированная позиция из двух ног (long + short).
//
// Позиция принадлежит одному пользователю. Движок мониторинга держит
// только рабочую ссылку на время проверки/закрытия; защита от двойного
// закрытия обеспечивается per-position in-flight маркером в мониторе.
// Переход OPEN → CLOSED терминален и необратим.
type Position struct {
	ID      int64  `json:"id" db:"id"`
	UserID  int64  `json:"user_id" db:"user_id"`
	Symbol  string `json:"symbol" db:"symbol"`
	GroupID string `json:"group_id,omitempty" db:"group_id"` // пустая строка = вне группы

	LongLeg  PositionLeg `json:"long_leg"`
	ShortLeg PositionLeg `json:"short_leg"`

	Status string `json:"status" db:"status"` // OPEN, PENDING, CLOSED

	// Конфигурация Stop Loss / Take Profit (percent от цены входа ноги)
	StopLossEnabled   bool    `json:"stop_loss_enabled" db:"stop_loss_enabled"`
	StopLossPct       float64 `json:"stop_loss_pct" db:"stop_loss_pct"`
	TakeProfitEnabled bool    `json:"take_profit_enabled" db:"take_profit_enabled"`
	TakeProfitPct     float64 `json:"take_profit_pct" db:"take_profit_pct"`

	// Кэшированные PNL. nil = значение неизвестно (не путать с нулем)
	FundingPnl    *float64 `json:"funding_pnl,omitempty" db:"funding_pnl"`
	UnrealizedPnl *float64 `json:"unrealized_pnl,omitempty" db:"unrealized_pnl"`

	// Состояние exit-подсказки
	ExitSuggested   bool       `json:"exit_suggested" db:"exit_suggested"`
	ExitReason      string     `json:"exit_reason,omitempty" db:"exit_reason"`
	ExitSuggestedAt *time.Time `json:"exit_suggested_at,omitempty" db:"exit_suggested_at"`

	// Флаг ручного вмешательства: закрытие второй ноги не удалось
	RequiresManualIntervention bool `json:"requires_manual_intervention" db:"requires_manual_intervention"`

	OpenedAt time.Time  `json:"opened_at" db:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// LegBySide возвращает ногу по стороне
func (p *Position) LegBySide(side string) PositionLeg {
	if side == LegSideShort {
		return p.ShortLeg
	}
	return p.LongLeg
}

// IsOpen проверяет, открыта ли позиция
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// Trade - неизменяемая запись о закрытой позиции
type Trade struct {
	ID           int64         `json:"id" db:"id"`
	PositionID   int64         `json:"position_id" db:"position_id"`
	Symbol       string        `json:"symbol" db:"symbol"`
	LongExit     float64       `json:"long_exit_price" db:"long_exit_price"`
	ShortExit    float64       `json:"short_exit_price" db:"short_exit_price"`
	Fees         float64       `json:"fees" db:"fees"`
	FundingPnl   float64       `json:"funding_pnl" db:"funding_pnl"`
	PriceDiffPnl float64       `json:"price_diff_pnl" db:"price_diff_pnl"`
	TotalPnl     float64       `json:"total_pnl" db:"total_pnl"`
	RoiPct       float64       `json:"roi_pct" db:"roi_pct"`
	Holding      time.Duration `json:"holding_duration" db:"holding_duration"`
	ClosedAt     time.Time     `json:"closed_at" db:"closed_at"`
}
