package bot

import (
	"sync"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// ============================================================
// Типизированная шина событий движка
// ============================================================
//
// Каждый консьюмер подписывается на конкретный топик и получает
// события своего типа без приведения интерфейсов. Подписка возвращает
// функцию отписки; Reset() снимает всех подписчиков разом при останове.

// Topic - топик событий одного типа
type Topic[T any] struct {
	mu   sync.RWMutex
	subs map[int]func(T)
	next int
}

// Subscribe регистрирует обработчик и возвращает функцию отписки.
// Повторный вызов функции отписки безопасен.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	t.mu.Lock()
	if t.subs == nil {
		t.subs = make(map[int]func(T))
	}
	id := t.next
	t.next++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Publish доставляет событие всем текущим подписчикам синхронно,
// в горутине паблишера. Обработчики обязаны быть быстрыми либо
// перекладывать работу в собственные горутины.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	handlers := make([]func(T), 0, len(t.subs))
	for _, fn := range t.subs {
		handlers = append(handlers, fn)
	}
	t.mu.RUnlock()

	for _, fn := range handlers {
		fn(v)
	}
}

// Len возвращает число подписчиков
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// reset снимает всех подписчиков
func (t *Topic[T]) reset() {
	t.mu.Lock()
	t.subs = nil
	t.mu.Unlock()
}

// Bus - все топики движка. Создаётся на время жизни движка
// и передаётся консьюмерам явно.
type Bus struct {
	RateUpdated Topic[*models.FundingRatePair]

	OpportunityNew     Topic[*Opportunity]
	OpportunityUpdate  Topic[*Opportunity]
	OpportunityExpired Topic[*Opportunity]

	TriggerDetected Topic[*models.TriggerEvent]
	CloseProgress   Topic[*models.CloseProgress]

	ExitSuggested Topic[*models.ExitSuggestion]
	ExitCanceled  Topic[*models.ExitCancellation]

	SourceChanged Topic[SourceChangeEvent]
	Notifications Topic[*models.Notification]
}

// SourceChangeEvent - переключение источника котировок у адаптера
type SourceChangeEvent struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	Source   string `json:"source"`
}

// NewBus создаёт шину событий
func NewBus() *Bus {
	return &Bus{}
}

// Reset снимает всех подписчиков со всех топиков. Идемпотентен.
func (b *Bus) Reset() {
	b.RateUpdated.reset()
	b.OpportunityNew.reset()
	b.OpportunityUpdate.reset()
	b.OpportunityExpired.reset()
	b.TriggerDetected.reset()
	b.CloseProgress.reset()
	b.ExitSuggested.reset()
	b.ExitCanceled.reset()
	b.SourceChanged.reset()
	b.Notifications.reset()
}
