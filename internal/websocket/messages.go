package websocket

import (
	"time"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/bot"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы push-сообщений движка
const (
	// MessageTypeRateUpdated - пересчитанное агрегированное состояние символа
	MessageTypeRateUpdated MessageType = "rate-updated"

	// Жизненный цикл арбитражной возможности
	MessageTypeOpportunityNew     MessageType = "opportunity:new"
	MessageTypeOpportunityUpdate  MessageType = "opportunity:update"
	MessageTypeOpportunityExpired MessageType = "opportunity:expired"

	// События закрытия позиции
	MessageTypeTriggerDetected MessageType = "position:trigger:detected"
	MessageTypeCloseProgress   MessageType = "position:close:progress"
	MessageTypeCloseSuccess    MessageType = "position:close:success"
	MessageTypeCloseFailed     MessageType = "position:close:failed"

	// Exit-подсказки
	MessageTypeExitSuggested MessageType = "position:exit:suggested"
	MessageTypeExitCanceled  MessageType = "position:exit:canceled"

	// MessageTypeSourceChanged - адаптер переключил источник stream ↔ poll
	MessageTypeSourceChanged MessageType = "source-changed"

	// MessageTypeNotification - уведомление движка
	MessageTypeNotification MessageType = "notification"
)

// BaseMessage - общая шапка всех push-сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// RateUpdatedMessage - обновление агрегата ставок по символу
type RateUpdatedMessage struct {
	BaseMessage
	Data *models.FundingRatePair `json:"data"`
}

// OpportunityMessage - событие жизненного цикла возможности
type OpportunityMessage struct {
	BaseMessage
	Data *bot.Opportunity `json:"data"`
}

// TriggerMessage - обнаружен сработавший SL/TP
type TriggerMessage struct {
	BaseMessage
	Data *models.TriggerEvent `json:"data"`
}

// CloseProgressMessage - фаза последовательности закрытия
type CloseProgressMessage struct {
	BaseMessage
	Data *models.CloseProgress `json:"data"`
}

// ExitSuggestedMessage - рекомендация закрыть позицию
type ExitSuggestedMessage struct {
	BaseMessage
	Data *models.ExitSuggestion `json:"data"`
}

// ExitCanceledMessage - отмена рекомендации
type ExitCanceledMessage struct {
	BaseMessage
	Data *models.ExitCancellation `json:"data"`
}

// SourceChangedMessage - переключение источника котировок
type SourceChangedMessage struct {
	BaseMessage
	Data bot.SourceChangeEvent `json:"data"`
}

// NotificationMessage - уведомление движка
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

func header(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now()}
}

// NewRateUpdatedMessage создает сообщение обновления ставок
func NewRateUpdatedMessage(pair *models.FundingRatePair) *RateUpdatedMessage {
	return &RateUpdatedMessage{BaseMessage: header(MessageTypeRateUpdated), Data: pair}
}

// NewOpportunityMessage создает сообщение жизненного цикла возможности
func NewOpportunityMessage(t MessageType, opp *bot.Opportunity) *OpportunityMessage {
	return &OpportunityMessage{BaseMessage: header(t), Data: opp}
}

// NewTriggerMessage создает сообщение о сработавшем триггере
func NewTriggerMessage(event *models.TriggerEvent) *TriggerMessage {
	return &TriggerMessage{BaseMessage: header(MessageTypeTriggerDetected), Data: event}
}

// NewCloseProgressMessage создает сообщение прогресса закрытия.
// Терминальные фазы транслируются отдельными типами, чтобы frontend
// не разбирал прогресс на клиенте.
func NewCloseProgressMessage(progress *models.CloseProgress) *CloseProgressMessage {
	t := MessageTypeCloseProgress
	switch progress.Phase {
	case models.ClosePhaseCompleted:
		t = MessageTypeCloseSuccess
	case models.ClosePhaseFailed:
		t = MessageTypeCloseFailed
	}
	return &CloseProgressMessage{BaseMessage: header(t), Data: progress}
}

// NewExitSuggestedMessage создает сообщение рекомендации выхода
func NewExitSuggestedMessage(s *models.ExitSuggestion) *ExitSuggestedMessage {
	return &ExitSuggestedMessage{BaseMessage: header(MessageTypeExitSuggested), Data: s}
}

// NewExitCanceledMessage создает сообщение отмены рекомендации
func NewExitCanceledMessage(c *models.ExitCancellation) *ExitCanceledMessage {
	return &ExitCanceledMessage{BaseMessage: header(MessageTypeExitCanceled), Data: c}
}

// NewSourceChangedMessage создает сообщение смены источника
func NewSourceChangedMessage(sc bot.SourceChangeEvent) *SourceChangedMessage {
	return &SourceChangedMessage{BaseMessage: header(MessageTypeSourceChanged), Data: sc}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(n *models.Notification) *NotificationMessage {
	return &NotificationMessage{BaseMessage: header(MessageTypeNotification), Data: n}
}
