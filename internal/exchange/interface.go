package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// Adapter определяет унифицированный интерфейс потокового адаптера биржи.
//
// Один экземпляр на биржу. Адаптер нормализует venue-specific payload'ы
// в канонические события и отдает их в зарегистрированные callbacks.
// Все события получают метку времени в момент ПРИЕМА (не по времени биржи),
// чтобы сравнение свежести между биржами шло в единой шкале.
type Adapter interface {
	// Name возвращает имя биржи (lowercase)
	Name() string

	// Connect устанавливает сессии с биржей (WS + REST).
	// При ошибке auth/сети возвращает ConnectionError; переподключение
	// с экспоненциальным backoff выполняется внутри, после исчерпания
	// попыток адаптер переходит в состояние AdapterDown.
	Connect(ctx context.Context, apiKey, secret, passphrase string) error

	// Subscribe / Unsubscribe управляют подпиской на символы. Идемпотентны.
	Subscribe(symbols ...string) error
	Unsubscribe(symbols ...string) error

	// Регистрация callbacks (до Connect)
	OnQuote(func(*models.ExchangeQuote))
	OnPositionChange(func(PositionChange))
	OnOrderStatus(func(OrderStatus))
	OnBalanceChange(func(BalanceChange))
	OnSourceChange(func(SourceChange))

	// FetchQuote запрашивает котировку фандинга через REST
	FetchQuote(ctx context.Context, symbol string) (*models.ExchangeQuote, error)

	// FundingInterval возвращает интервал фандинга в часах и провенанс
	// (native | derived | default)
	FundingInterval(ctx context.Context, symbol string) (float64, string, error)

	// GetOpenPositions возвращает открытые позиции на бирже
	GetOpenPositions(ctx context.Context) ([]VenuePosition, error)

	// GetConditionalOrders возвращает условные (SL/TP) ордера по символу
	GetConditionalOrders(ctx context.Context, symbol string) ([]ConditionalOrder, error)

	// CancelConditionalOrders отменяет все условные ордера по символу
	CancelConditionalOrders(ctx context.Context, symbol string) error

	// ClosePosition закрывает позицию по рынку
	ClosePosition(ctx context.Context, symbol, side string, qty float64) error

	// TradingFee возвращает комиссии maker/taker для символа.
	// Биржи без такого API возвращают CapabilityError - вызывающий код
	// обязан пройти fallback цепочку (API → статическая таблица → конфиг).
	TradingFee(ctx context.Context, symbol string) (maker, taker float64, err error)

	// State возвращает текущее состояние адаптера
	State() State

	// Close закрывает все соединения. Идемпотентен.
	Close() error
}

// State - состояние адаптера
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDown // попытки переподключения исчерпаны, требуется вмешательство
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDown:
		return "down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PositionChange - нормализованное событие изменения позиции
type PositionChange struct {
	Exchange      string    `json:"exchange"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // long, short
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	Closed        bool      `json:"closed"` // позиция на бирже обнулилась
	ReceivedAt    time.Time `json:"received_at"`
}

// Статусы условных ордеров (нормализованные)
const (
	OrderStatusNew       = "new"
	OrderStatusTriggered = "triggered"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
)

// Типы условных ордеров
const (
	OrderTypeStopLoss   = "stop_loss"
	OrderTypeTakeProfit = "take_profit"
)

// OrderStatus - нормализованное событие изменения статуса ордера
type OrderStatus struct {
	Exchange     string    `json:"exchange"`
	Symbol       string    `json:"symbol"`
	OrderID      string    `json:"order_id"`
	OrderType    string    `json:"order_type"` // stop_loss, take_profit
	Side         string    `json:"side"`       // сторона позиции: long, short
	Status       string    `json:"status"`     // new, triggered, filled, cancelled
	TriggerPrice float64   `json:"trigger_price"`
	Qty          float64   `json:"qty"`
	ReceivedAt   time.Time `json:"received_at"`
}

// BalanceChange - нормализованное событие изменения баланса
type BalanceChange struct {
	Exchange   string    `json:"exchange"`
	Balance    float64   `json:"balance"` // USDT
	ReceivedAt time.Time `json:"received_at"`
}

// SourceChange - переключение источника котировок символа (stream ↔ poll)
type SourceChange struct {
	Exchange   string    `json:"exchange"`
	Symbol     string    `json:"symbol"`
	Source     string    `json:"source"` // models.QuoteSourceStream | models.QuoteSourcePoll
	ReceivedAt time.Time `json:"received_at"`
}

// VenuePosition - открытая позиция на бирже (сырой ответ сверки)
type VenuePosition struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ConditionalOrder - условный (SL/TP) ордер на бирже
type ConditionalOrder struct {
	OrderID      string  `json:"order_id"`
	Symbol       string  `json:"symbol"`
	OrderType    string  `json:"order_type"`
	Side         string  `json:"side"`
	Status       string  `json:"status"`
	TriggerPrice float64 `json:"trigger_price"`
	Qty          float64 `json:"qty"`
}

// ExchangeError представляет ошибку вызова биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// CapabilityError - биржа не поддерживает запрошенную возможность.
// Отличается от "вызов упал": fallback цепочка должна идти дальше,
// а не считать биржу деградировавшей.
type CapabilityError struct {
	Exchange   string
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: capability %q is not supported", e.Exchange, e.Capability)
}

// IsCapabilityError проверяет, является ли ошибка отсутствием возможности
func IsCapabilityError(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

// Ошибки адаптеров
var (
	ErrConnection   = errors.New("exchange connection error")
	ErrAdapterDown  = errors.New("adapter is down: reconnect attempts exhausted")
	ErrNotConnected = errors.New("adapter is not connected")
	ErrClosed       = errors.New("adapter is closed")
)

// Side constants for orders
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// CloseSideFor возвращает сторону рыночного ордера, закрывающего ногу
func CloseSideFor(legSide string) string {
	if legSide == models.LegSideShort {
		return SideBuy
	}
	return SideSell
}
