package models

import "time"

// GroupSummary - агрегат группы частичных исполнений.
//
// Средневзвешенные цены входа считаются по размеру ноги.
// Nullable поля PNL: nil если у ВСЕХ позиций группы значение неизвестно
// (сумма части известных значений - это число, отсутствие всех - nil).
// CommonStopLossPct/CommonTakeProfitPct возвращаются только при полном
// совпадении настроек у всех участников - неоднозначные настройки не усредняются.
type GroupSummary struct {
	GroupID       string   `json:"group_id"`
	Symbol        string   `json:"symbol"`
	PositionCount int      `json:"position_count"`
	TotalQuantity float64  `json:"total_quantity"`
	AvgLongEntry  float64  `json:"avg_long_entry"`
	AvgShortEntry float64  `json:"avg_short_entry"`
	FundingPnl    *float64 `json:"funding_pnl,omitempty"`
	UnrealizedPnl *float64 `json:"unrealized_pnl,omitempty"`

	CommonStopLossPct   *float64 `json:"common_stop_loss_pct,omitempty"`
	CommonTakeProfitPct *float64 `json:"common_take_profit_pct,omitempty"`

	EarliestOpenedAt time.Time `json:"earliest_opened_at"`
}
