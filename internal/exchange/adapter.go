package exchange

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/pkg/ratelimit"
)

// AdapterConfig - общие настройки потокового адаптера
type AdapterConfig struct {
	// Окно свежести: если по символу нет stream котировки дольше этого
	// окна, адаптер переходит на REST polling
	StalenessWindow time.Duration
	// Интервал REST polling в режиме fallback
	RestPollInterval time.Duration
	// Запросов в секунду к REST API биржи
	RestRateLimit float64
	// Настройки WebSocket соединения
	Stream StreamConfig
}

// DefaultAdapterConfig возвращает настройки по умолчанию
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		StalenessWindow:  90 * time.Second,
		RestPollInterval: 30 * time.Second,
		RestRateLimit:    5,
		Stream:           DefaultStreamConfig(),
	}
}

// symbolState - состояние источника котировок по символу
type symbolState struct {
	source       string // models.QuoteSourceStream | models.QuoteSourcePoll
	lastStreamAt time.Time
	// Последний mark price для бирж, где он приходит отдельным каналом
	lastMarkPrice float64
}

// baseAdapter содержит общую для всех бирж механику адаптера:
// реестр callbacks, учёт свежести котировок по символам и fallback
// на REST polling при деградации стрима.
//
// Конкретные биржи встраивают baseAdapter и реализуют wire-специфику:
// URL, подписные payload'ы, разбор сообщений и REST endpoints.
type baseAdapter struct {
	name    string
	logger  *zap.Logger
	http    *HTTPClient
	limiter *ratelimit.Limiter
	cfg     AdapterConfig

	// REST запрос котировки; устанавливается биржевым адаптером
	fetchQuote func(ctx context.Context, symbol string) (*models.ExchangeQuote, error)

	mu      sync.RWMutex
	symbols map[string]*symbolState

	callbackMu sync.RWMutex
	quoteFn    func(*models.ExchangeQuote)
	positionFn func(PositionChange)
	orderFn    func(OrderStatus)
	balanceFn  func(BalanceChange)
	sourceFn   func(SourceChange)

	watchCtx    context.Context
	watchCancel context.CancelFunc
	wg          sync.WaitGroup
}

func newBaseAdapter(name string, cfg AdapterConfig, logger *zap.Logger) *baseAdapter {
	return &baseAdapter{
		name:    name,
		logger:  logger.Named(name),
		http:    NewHTTPClient(DefaultHTTPClientConfig()),
		limiter: ratelimit.New(cfg.RestRateLimit, cfg.RestRateLimit+1),
		cfg:     cfg,
		symbols: make(map[string]*symbolState),
	}
}

func (b *baseAdapter) Name() string { return b.name }

func (b *baseAdapter) OnQuote(fn func(*models.ExchangeQuote)) {
	b.callbackMu.Lock()
	b.quoteFn = fn
	b.callbackMu.Unlock()
}

func (b *baseAdapter) OnPositionChange(fn func(PositionChange)) {
	b.callbackMu.Lock()
	b.positionFn = fn
	b.callbackMu.Unlock()
}

func (b *baseAdapter) OnOrderStatus(fn func(OrderStatus)) {
	b.callbackMu.Lock()
	b.orderFn = fn
	b.callbackMu.Unlock()
}

func (b *baseAdapter) OnBalanceChange(fn func(BalanceChange)) {
	b.callbackMu.Lock()
	b.balanceFn = fn
	b.callbackMu.Unlock()
}

func (b *baseAdapter) OnSourceChange(fn func(SourceChange)) {
	b.callbackMu.Lock()
	b.sourceFn = fn
	b.callbackMu.Unlock()
}

// trackSymbols регистрирует символы для контроля свежести. Идемпотентно.
func (b *baseAdapter) trackSymbols(symbols ...string) {
	now := time.Now()
	b.mu.Lock()
	for _, s := range symbols {
		if _, ok := b.symbols[s]; !ok {
			b.symbols[s] = &symbolState{source: models.QuoteSourceStream, lastStreamAt: now}
		}
	}
	b.mu.Unlock()
}

// untrackSymbols снимает символы с контроля. Отсутствующие - no-op.
func (b *baseAdapter) untrackSymbols(symbols ...string) {
	b.mu.Lock()
	for _, s := range symbols {
		delete(b.symbols, s)
	}
	b.mu.Unlock()
}

func (b *baseAdapter) trackedSymbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.symbols))
	for s := range b.symbols {
		out = append(out, s)
	}
	return out
}

// emitStreamQuote публикует котировку, пришедшую по стриму.
// Если символ был в режиме REST fallback - возвращает его на stream
// и рассылает событие смены источника.
func (b *baseAdapter) emitStreamQuote(q *models.ExchangeQuote) {
	q.Source = models.QuoteSourceStream
	q.RecordedAt = time.Now()

	b.mu.Lock()
	st, ok := b.symbols[q.Symbol]
	if !ok {
		st = &symbolState{source: models.QuoteSourceStream}
		b.symbols[q.Symbol] = st
	}
	st.lastStreamAt = q.RecordedAt
	recovered := st.source == models.QuoteSourcePoll
	st.source = models.QuoteSourceStream
	b.mu.Unlock()

	if recovered {
		b.logger.Info("stream recovered, leaving rest fallback", zap.String("symbol", q.Symbol))
		b.emitSourceChange(q.Symbol, models.QuoteSourceStream)
	}
	b.emitQuote(q)
}

// emitPolledQuote публикует котировку, полученную через REST fallback
func (b *baseAdapter) emitPolledQuote(q *models.ExchangeQuote) {
	q.Source = models.QuoteSourcePoll
	q.RecordedAt = time.Now()
	b.emitQuote(q)
}

func (b *baseAdapter) emitQuote(q *models.ExchangeQuote) {
	b.callbackMu.RLock()
	fn := b.quoteFn
	b.callbackMu.RUnlock()
	if fn != nil {
		fn(q)
	}
}

func (b *baseAdapter) emitPosition(p PositionChange) {
	p.Exchange = b.name
	p.ReceivedAt = time.Now()
	b.callbackMu.RLock()
	fn := b.positionFn
	b.callbackMu.RUnlock()
	if fn != nil {
		fn(p)
	}
}

func (b *baseAdapter) emitOrder(o OrderStatus) {
	o.Exchange = b.name
	o.ReceivedAt = time.Now()
	b.callbackMu.RLock()
	fn := b.orderFn
	b.callbackMu.RUnlock()
	if fn != nil {
		fn(o)
	}
}

func (b *baseAdapter) emitBalance(bal BalanceChange) {
	bal.Exchange = b.name
	bal.ReceivedAt = time.Now()
	b.callbackMu.RLock()
	fn := b.balanceFn
	b.callbackMu.RUnlock()
	if fn != nil {
		fn(bal)
	}
}

func (b *baseAdapter) emitSourceChange(symbol, source string) {
	b.callbackMu.RLock()
	fn := b.sourceFn
	b.callbackMu.RUnlock()
	if fn != nil {
		fn(SourceChange{
			Exchange:   b.name,
			Symbol:     symbol,
			Source:     source,
			ReceivedAt: time.Now(),
		})
	}
}

// startWatching запускает контроль свежести и REST fallback polling
func (b *baseAdapter) startWatching() {
	b.watchCtx, b.watchCancel = context.WithCancel(context.Background())
	b.wg.Add(2)
	go b.stalenessLoop()
	go b.pollLoop()
}

// stopWatching останавливает фоновые горутины. Идемпотентен.
func (b *baseAdapter) stopWatching() {
	if b.watchCancel != nil {
		b.watchCancel()
		b.wg.Wait()
		b.watchCancel = nil
	}
	b.http.Close()
}

// stalenessLoop переводит протухшие символы на REST fallback.
// Проверка идёт чаще окна свежести, чтобы не передерживать стухшие данные.
func (b *baseAdapter) stalenessLoop() {
	defer b.wg.Done()

	interval := b.cfg.StalenessWindow / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.watchCtx.Done():
			return
		case <-ticker.C:
			b.sweepStale()
		}
	}
}

func (b *baseAdapter) sweepStale() {
	now := time.Now()
	var degraded []string

	b.mu.Lock()
	for sym, st := range b.symbols {
		if st.source == models.QuoteSourceStream && now.Sub(st.lastStreamAt) > b.cfg.StalenessWindow {
			st.source = models.QuoteSourcePoll
			degraded = append(degraded, sym)
		}
	}
	b.mu.Unlock()

	for _, sym := range degraded {
		b.logger.Warn("stream quotes stale, falling back to rest polling",
			zap.String("symbol", sym),
			zap.Duration("staleness_window", b.cfg.StalenessWindow))
		b.emitSourceChange(sym, models.QuoteSourcePoll)
	}
}

// pollLoop опрашивает через REST символы, находящиеся в режиме fallback
func (b *baseAdapter) pollLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.RestPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.watchCtx.Done():
			return
		case <-ticker.C:
			b.pollOnce()
		}
	}
}

func (b *baseAdapter) pollOnce() {
	if b.fetchQuote == nil {
		return
	}

	b.mu.RLock()
	var polled []string
	for sym, st := range b.symbols {
		if st.source == models.QuoteSourcePoll {
			polled = append(polled, sym)
		}
	}
	b.mu.RUnlock()

	for _, sym := range polled {
		if err := b.limiter.Wait(b.watchCtx); err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(b.watchCtx, 10*time.Second)
		q, err := b.fetchQuote(ctx, sym)
		cancel()
		if err != nil {
			b.logger.Warn("rest fallback poll failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		b.emitPolledQuote(q)
	}
}
