package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/exchange"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// ============================================================
// Фейковые коллабораторы для тестов мониторов
// ============================================================

type fakePositionStore struct {
	mu        sync.Mutex
	positions []*models.Position
	updates   []map[string]interface{}
	findErr   error
	updateErr error
}

func (s *fakePositionStore) FindOpenPositions(ctx context.Context, symbol string) ([]*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []*models.Position
	for _, p := range s.positions {
		if !p.IsOpen() {
			continue
		}
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *fakePositionStore) UpdatePosition(ctx context.Context, id int64, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	rec := map[string]interface{}{"_id": id}
	for k, v := range fields {
		rec[k] = v
	}
	s.updates = append(s.updates, rec)
	return nil
}

func (s *fakePositionStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

type fakeTradeStore struct {
	mu     sync.Mutex
	trades []*models.Trade
}

func (s *fakeTradeStore) CreateTrade(ctx context.Context, trade *models.Trade) error {
	s.mu.Lock()
	s.trades = append(s.trades, trade)
	s.mu.Unlock()
	return nil
}

func (s *fakeTradeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

type fakeSettingsStore struct {
	settings map[int64]*models.UserExitSettings
	err      error
}

func (s *fakeSettingsStore) GetUserExitSettings(ctx context.Context, userID int64) (*models.UserExitSettings, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.settings[userID], nil
}

type fakePnlStore struct {
	pnl map[int64]float64
	err error
}

func (s *fakePnlStore) GetCumulativeFundingPnL(ctx context.Context, positionID int64) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.pnl[positionID], nil
}

type fakeNotifier struct {
	mu          sync.Mutex
	sent        []*models.Notification
	emergencies []*models.Notification
}

func (n *fakeNotifier) SendTriggerNotification(notification *models.Notification) {
	n.mu.Lock()
	n.sent = append(n.sent, notification)
	n.mu.Unlock()
}

func (n *fakeNotifier) SendEmergencyNotification(notification *models.Notification) {
	n.mu.Lock()
	n.emergencies = append(n.emergencies, notification)
	n.mu.Unlock()
}

func (n *fakeNotifier) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNotifier) emergencyCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.emergencies)
}

// fakeAdapter - минимальная реализация exchange.Adapter для тестов
type fakeAdapter struct {
	name string

	mu              sync.Mutex
	venuePositions  []exchange.VenuePosition
	venueErr        error
	conditionals    []exchange.ConditionalOrder
	closeErr        error
	closeFailures   int // столько первых ClosePosition падают транзиентно
	closeAttempts   int
	closedLegs      []string // "symbol:side" в порядке закрытий
	canceledSymbols []string
	tradingFeeErr   error
	maker, taker    float64
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Connect(ctx context.Context, apiKey, secret, passphrase string) error {
	return nil
}

func (a *fakeAdapter) Subscribe(symbols ...string) error   { return nil }
func (a *fakeAdapter) Unsubscribe(symbols ...string) error { return nil }

func (a *fakeAdapter) OnQuote(func(*models.ExchangeQuote))          {}
func (a *fakeAdapter) OnPositionChange(func(exchange.PositionChange)) {}
func (a *fakeAdapter) OnOrderStatus(func(exchange.OrderStatus))     {}
func (a *fakeAdapter) OnBalanceChange(func(exchange.BalanceChange)) {}
func (a *fakeAdapter) OnSourceChange(func(exchange.SourceChange))   {}

func (a *fakeAdapter) FetchQuote(ctx context.Context, symbol string) (*models.ExchangeQuote, error) {
	return &models.ExchangeQuote{Exchange: a.name, Symbol: symbol, RecordedAt: time.Now()}, nil
}

func (a *fakeAdapter) FundingInterval(ctx context.Context, symbol string) (float64, string, error) {
	return 8, models.IntervalProvenanceDefault, nil
}

func (a *fakeAdapter) GetOpenPositions(ctx context.Context) ([]exchange.VenuePosition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.venueErr != nil {
		return nil, a.venueErr
	}
	return a.venuePositions, nil
}

func (a *fakeAdapter) GetConditionalOrders(ctx context.Context, symbol string) ([]exchange.ConditionalOrder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conditionals, nil
}

func (a *fakeAdapter) CancelConditionalOrders(ctx context.Context, symbol string) error {
	a.mu.Lock()
	a.canceledSymbols = append(a.canceledSymbols, symbol)
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) ClosePosition(ctx context.Context, symbol, side string, qty float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeAttempts++
	if a.closeErr != nil {
		return a.closeErr
	}
	if a.closeFailures > 0 {
		a.closeFailures--
		return errors.New("venue temporarily unavailable")
	}
	a.closedLegs = append(a.closedLegs, symbol+":"+side)
	return nil
}

func (a *fakeAdapter) TradingFee(ctx context.Context, symbol string) (float64, float64, error) {
	if a.tradingFeeErr != nil {
		return 0, 0, a.tradingFeeErr
	}
	return a.maker, a.taker, nil
}

func (a *fakeAdapter) State() exchange.State { return exchange.StateConnected }
func (a *fakeAdapter) Close() error          { return nil }

func (a *fakeAdapter) closedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.closedLegs)
}

func (a *fakeAdapter) closeAttemptCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeAttempts
}

// ============================================================
// Конструкторы тестовых данных
// ============================================================

func testPosition(id int64, symbol string) *models.Position {
	return &models.Position{
		ID:     id,
		UserID: 1,
		Symbol: symbol,
		Status: models.PositionStatusOpen,
		LongLeg: models.PositionLeg{
			Exchange:   "binance",
			EntryPrice: 50000,
			Size:       0.1,
			Leverage:   3,
		},
		ShortLeg: models.PositionLeg{
			Exchange:   "okx",
			EntryPrice: 50050,
			Size:       0.1,
			Leverage:   3,
		},
		OpenedAt: time.Now().Add(-time.Hour),
	}
}

func testQuote(exchangeName, symbol string, rate, intervalHours float64) *models.ExchangeQuote {
	return &models.ExchangeQuote{
		Exchange:      exchangeName,
		Symbol:        symbol,
		FundingRate:   rate,
		MarkPrice:     50000,
		IntervalHours: intervalHours,
		Source:        models.QuoteSourceStream,
		RecordedAt:    time.Now(),
	}
}

func floatPtr(v float64) *float64 { return &v }
