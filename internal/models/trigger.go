package models

import "time"

// Типы триггеров (какая нога и какое условие сработало)
const (
	TriggerLongSL  = "LONG_SL"
	TriggerLongTP  = "LONG_TP"
	TriggerShortSL = "SHORT_SL"
	TriggerShortTP = "SHORT_TP"
)

// Источники обнаружения триггера
const (
	TriggerSourceStream = "stream" // push событие от биржи
	TriggerSourcePoll   = "poll"   // периодическая сверка состояния
)

// TriggerEvent - срабатывание SL/TP на одной из ног позиции
type TriggerEvent struct {
	ID           string    `json:"id"` // uuid, корреляция фаз закрытия
	PositionID   int64     `json:"position_id"`
	Type         string    `json:"type"` // LONG_SL, LONG_TP, SHORT_SL, SHORT_TP
	TriggerPrice float64   `json:"trigger_price"`
	DetectedAt   time.Time `json:"detected_at"`
	Source       string    `json:"source"` // stream | poll
}

// TriggeredSide возвращает сторону сработавшей ноги
func (e *TriggerEvent) TriggeredSide() string {
	if e.Type == TriggerShortSL || e.Type == TriggerShortTP {
		return LegSideShort
	}
	return LegSideLong
}

// OppositeSide возвращает сторону ноги, которую нужно закрыть
func (e *TriggerEvent) OppositeSide() string {
	if e.TriggeredSide() == LegSideLong {
		return LegSideShort
	}
	return LegSideLong
}

// Фазы последовательности закрытия (прогресс монотонно растет)
const (
	ClosePhaseDetected        = "detected"         // 10%
	ClosePhaseClosingOpposite = "closing_opposite" // 40%
	ClosePhaseCancelingOrders = "canceling_orders" // 70%
	ClosePhaseCompleting      = "completing"       // 90%
	ClosePhaseCompleted       = "completed"        // 100%
	ClosePhaseFailed          = "failed"           // 100%
)

// CloseProgress - прогресс закрытия второй ноги после триггера
type CloseProgress struct {
	SequenceID string `json:"sequence_id"` // uuid последовательности закрытия
	PositionID int64  `json:"position_id"`
	Phase      string `json:"phase"`
	Percent    int    `json:"percent"`
	Message    string `json:"message,omitempty"`

	// Заполняется только для failed
	RequiresManualIntervention bool   `json:"requires_manual_intervention,omitempty"`
	Error                      string `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
