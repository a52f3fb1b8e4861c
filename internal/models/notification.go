package models

import "time"

// Notification представляет уведомление о событии движка
type Notification struct {
	ID         int64                  `json:"id" db:"id"`
	Timestamp  time.Time              `json:"timestamp" db:"timestamp"`
	Type       string                 `json:"type" db:"type"`         // TRIGGER, CLOSE, SECOND_LEG_FAIL, EXIT_SUGGEST, ERROR, SOURCE_CHANGE
	Severity   string                 `json:"severity" db:"severity"` // info, warn, error
	PositionID *int64                 `json:"position_id,omitempty" db:"position_id"`
	Message    string                 `json:"message" db:"message"`
	Meta       map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeTrigger       = "TRIGGER"         // сработал SL/TP на ноге
	NotificationTypeClose         = "CLOSE"           // позиция закрыта полностью
	NotificationTypeSecondLegFail = "SECOND_LEG_FAIL" // не удалось закрыть вторую ногу
	NotificationTypeExitSuggest   = "EXIT_SUGGEST"    // рекомендация выхода
	NotificationTypeError         = "ERROR"           // ошибка API/данных
	NotificationTypeSourceChange  = "SOURCE_CHANGE"   // переключение stream ↔ poll
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
