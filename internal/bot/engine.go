package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/config"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/exchange"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// Credentials - расшифрованные ключи API биржи
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// CredentialSource выдаёт расшифрованные ключи по имени биржи
type CredentialSource interface {
	ExchangeCredentials(ctx context.Context, exchangeName string) (Credentials, error)
}

// Engine - мониторинговый движок: владеет адаптерами, кэшами, агрегатором
// и мониторами, связывает их через шину событий.
//
// Движок создаётся с явным жизненным циклом (New → Run → Stop)
// и может быть инстанцирован несколько раз в одном процессе -
// глобального разделяемого состояния нет.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	bus       *Bus
	quotes    *Cache[*models.ExchangeQuote]
	intervals *Cache[models.FundingInterval]

	aggregator    *Aggregator
	assessor      *Assessor
	opportunities *OpportunityTracker
	trigger       *TriggerMonitor
	exit          *ExitMonitor

	creds    CredentialSource
	notifier Notifier

	adapters map[string]exchange.Adapter

	unsubs   []func()
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New создаёт движок со всеми компонентами.
// Шина передается снаружи: на нее подписываются и компоненты движка,
// и внешние консьюмеры (WebSocket hub, сервис уведомлений).
func New(
	cfg *config.Config,
	bus *Bus,
	positions PositionStore,
	trades TradeStore,
	settings SettingsStore,
	pnl PnlStore,
	creds CredentialSource,
	notifier Notifier,
	logger *zap.Logger,
) *Engine {
	logger = logger.Named("engine")
	quotes := NewCache[*models.ExchangeQuote]("quotes", cfg.Engine.QuoteTTL)
	intervals := NewCache[models.FundingInterval]("intervals", cfg.Engine.IntervalTTL)

	// Fee class per биржа: статическая таблица до уточнения через API
	feeClass := make(map[string]float64)
	for _, ex := range cfg.Engine.Exchanges {
		maker, taker := exchange.FallbackFee(ex)
		feeClass[ex] = maker + taker
	}

	aggregator := NewAggregator(AggregatorConfig{
		BasisHours:      cfg.Engine.RateBasisHours,
		StalenessWindow: cfg.Engine.StalenessWindow,
		QuoteTTL:        cfg.Engine.QuoteTTL,
		FeeClass:        feeClass,
	}, quotes, intervals, bus, logger)

	assessor := NewAssessor(AssessorConfig{
		MakerFeeRate:        cfg.Engine.MakerFeeRate,
		TakerFeeRate:        cfg.Engine.TakerFeeRate,
		MinProfitPct:        cfg.Engine.MinProfitPct,
		ExtremePriceDiffPct: cfg.Engine.ExtremePriceDiffPct,
	})

	// Эталонная оценка возможностей: нотионал 10000 USDT, смешанный режим
	opportunities := NewOpportunityTracker(assessor, 10000, FeeModeMixed, bus, logger)

	adapters := make(map[string]exchange.Adapter)

	trigger := NewTriggerMonitor(TriggerMonitorConfig{
		PollInterval:      cfg.Engine.TriggerPollInterval,
		DedupWindow:       cfg.Engine.TriggerDedupWindow,
		CloseTimeout:      cfg.Engine.CloseTimeout,
		OrderQueryTimeout: cfg.Engine.OrderQueryTimeout,
	}, adapters, positions, trades, bus, notifier, logger)

	exit := NewExitMonitor(ExitMonitorConfig{
		Cooldown:     cfg.Engine.ExitCooldown,
		FetchTimeout: cfg.Engine.PnlFetchTimeout,
	}, positions, settings, pnl, bus, notifier, logger)

	return &Engine{
		cfg:           cfg,
		logger:        logger,
		bus:           bus,
		quotes:        quotes,
		intervals:     intervals,
		aggregator:    aggregator,
		assessor:      assessor,
		opportunities: opportunities,
		trigger:       trigger,
		exit:          exit,
		creds:         creds,
		notifier:      notifier,
		adapters:      adapters,
		stopCh:        make(chan struct{}),
	}
}

// Bus возвращает шину событий движка (для push-слоя)
func (e *Engine) Bus() *Bus { return e.bus }

// Run запускает движок и блокируется до отмены контекста
func (e *Engine) Run(ctx context.Context) error {
	if err := e.startAdapters(ctx); err != nil {
		return err
	}

	e.learnIntervals(ctx)
	e.resolveFees(ctx)
	e.subscribeSymbols()
	e.wireBus()

	e.trigger.Start()

	e.wg.Add(2)
	go e.sweepLoop()
	go e.adapterStateLoop()

	e.logger.Info("engine started",
		zap.Strings("exchanges", e.cfg.Engine.Exchanges),
		zap.Strings("symbols", e.cfg.Engine.Symbols))

	<-ctx.Done()
	e.Stop()
	return ctx.Err()
}

// startAdapters создаёт и подключает адаптеры всех бирж параллельно.
// Ошибка любой биржи фатальна для старта движка.
func (e *Engine) startAdapters(ctx context.Context) error {
	adapterCfg := exchange.AdapterConfig{
		StalenessWindow:  e.cfg.Engine.StalenessWindow,
		RestPollInterval: e.cfg.Engine.RestPollInterval,
		RestRateLimit:    5,
		Stream: exchange.StreamConfig{
			InitialDelay:      2 * time.Second,
			MaxDelay:          16 * time.Second,
			MaxRetries:        e.cfg.Engine.MaxConnectRetries,
			ConnectTimeout:    e.cfg.Engine.ConnectTimeout,
			PingInterval:      30 * time.Second,
			PongTimeout:       10 * time.Second,
			SessionRenewAhead: e.cfg.Engine.SessionRenewAhead,
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for _, name := range e.cfg.Engine.Exchanges {
		name := name
		g.Go(func() error {
			adapter, err := exchange.NewAdapter(name, adapterCfg, e.logger)
			if err != nil {
				return err
			}

			creds, err := e.creds.ExchangeCredentials(gctx, name)
			if err != nil {
				return fmt.Errorf("credentials for %s: %w", name, err)
			}

			e.wireAdapter(adapter)
			if err := adapter.Connect(gctx, creds.APIKey, creds.Secret, creds.Passphrase); err != nil {
				return fmt.Errorf("connect %s: %w", name, err)
			}

			mu.Lock()
			e.adapters[name] = adapter
			mu.Unlock()

			e.logger.Info("adapter connected", zap.String("exchange", name))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Откатываем уже подключившиеся адаптеры
		for _, adapter := range e.adapters {
			adapter.Close()
		}
		return err
	}
	return nil
}

// wireAdapter привязывает callbacks адаптера к компонентам движка
func (e *Engine) wireAdapter(adapter exchange.Adapter) {
	adapter.OnQuote(e.aggregator.OnQuote)
	adapter.OnOrderStatus(e.trigger.HandleOrderStatus)
	adapter.OnPositionChange(e.trigger.HandlePositionChange)
	adapter.OnSourceChange(func(sc exchange.SourceChange) {
		sourceFallbacks.WithLabelValues(sc.Exchange, sc.Source).Inc()
		e.bus.SourceChanged.Publish(SourceChangeEvent{
			Exchange: sc.Exchange,
			Symbol:   sc.Symbol,
			Source:   sc.Source,
		})
		e.notifier.SendTriggerNotification(&models.Notification{
			Timestamp: time.Now(),
			Type:      models.NotificationTypeSourceChange,
			Severity:  models.SeverityWarn,
			Message:   fmt.Sprintf("%s %s: источник котировок теперь %s", sc.Exchange, sc.Symbol, sc.Source),
		})
	})
}

// learnIntervals выучивает интервалы фандинга всех (биржа, символ) пар.
// Ошибка не фатальна: агрегатор подставит 8 часов по умолчанию.
func (e *Engine) learnIntervals(ctx context.Context) {
	for name, adapter := range e.adapters {
		for _, symbol := range e.cfg.Engine.Symbols {
			ictx, cancel := context.WithTimeout(ctx, e.cfg.Engine.OrderQueryTimeout)
			hours, provenance, err := adapter.FundingInterval(ictx, symbol)
			cancel()
			if err != nil {
				e.logger.Warn("funding interval lookup failed, default will be used",
					zap.String("exchange", name),
					zap.String("symbol", symbol),
					zap.Error(err))
				continue
			}

			e.intervals.Set(CacheKey(name, symbol), models.FundingInterval{
				Hours:      hours,
				Provenance: provenance,
				LearnedAt:  time.Now(),
			}, 0)

			e.logger.Info("funding interval learned",
				zap.String("exchange", name),
				zap.String("symbol", symbol),
				zap.Float64("hours", hours),
				zap.String("provenance", provenance))
		}
	}
}

// resolveFees уточняет комиссии бирж по fallback цепочке:
// API биржи → статическая таблица → значения из конфигурации.
// CapabilityError означает "у биржи нет такого API", это не деградация.
func (e *Engine) resolveFees(ctx context.Context) {
	if len(e.cfg.Engine.Symbols) == 0 {
		return
	}
	refSymbol := e.cfg.Engine.Symbols[0]

	for name, adapter := range e.adapters {
		fctx, cancel := context.WithTimeout(ctx, e.cfg.Engine.OrderQueryTimeout)
		maker, taker, err := adapter.TradingFee(fctx, refSymbol)
		cancel()

		switch {
		case err == nil:
			e.logger.Info("trading fees resolved via API",
				zap.String("exchange", name),
				zap.Float64("maker", maker), zap.Float64("taker", taker))
		case exchange.IsCapabilityError(err):
			maker, taker = exchange.FallbackFee(name)
			e.logger.Debug("trading fee API not supported, using static table",
				zap.String("exchange", name))
		default:
			maker, taker = e.cfg.Engine.MakerFeeRate, e.cfg.Engine.TakerFeeRate
			e.logger.Warn("trading fee lookup failed, using configured fees",
				zap.String("exchange", name), zap.Error(err))
		}

		e.aggregator.SetFeeClass(name, maker+taker)
	}
}

func (e *Engine) subscribeSymbols() {
	for name, adapter := range e.adapters {
		if err := adapter.Subscribe(e.cfg.Engine.Symbols...); err != nil {
			e.logger.Error("subscribe failed",
				zap.String("exchange", name), zap.Error(err))
		}
	}
}

// wireBus подписывает консьюмеров на топики шины
func (e *Engine) wireBus() {
	e.unsubs = append(e.unsubs,
		e.bus.RateUpdated.Subscribe(e.opportunities.HandleRateUpdate),
		e.bus.RateUpdated.Subscribe(e.exit.HandleRateUpdate),
	)
}

// sweepLoop периодически выметает истёкшие записи кэшей
func (e *Engine) sweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Engine.CacheSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			removed := e.quotes.ClearExpired() + e.intervals.ClearExpired()
			if removed > 0 {
				e.logger.Debug("cache sweep", zap.Int("removed", removed))
			}
		}
	}
}

// adapterStateLoop экспортирует состояние адаптеров в метрики
func (e *Engine) adapterStateLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			for name, adapter := range e.adapters {
				adapterState.WithLabelValues(name).Set(float64(adapter.State()))
			}
		}
	}
}

// Stop останавливает движок: мониторы, адаптеры, подписки, кэши.
// Идемпотентен - повторные вызовы безопасны.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)

		e.trigger.Stop()
		e.exit.Reset()
		e.opportunities.Reset()

		for _, unsub := range e.unsubs {
			unsub()
		}
		e.unsubs = nil
		e.bus.Reset()

		for name, adapter := range e.adapters {
			if err := adapter.Close(); err != nil {
				e.logger.Warn("adapter close error",
					zap.String("exchange", name), zap.Error(err))
			}
		}

		e.quotes.Clear()
		e.intervals.Clear()

		e.wg.Wait()
		e.logger.Info("engine stopped")
	})
}

// EngineStats - сводная статистика для pull-интерфейса
type EngineStats struct {
	QuoteCache    CacheStats        `json:"quote_cache"`
	IntervalCache CacheStats        `json:"interval_cache"`
	Trigger       TriggerStats      `json:"trigger_monitor"`
	Exit          ExitStats         `json:"exit_monitor"`
	Opportunities []*Opportunity    `json:"opportunities"`
	Symbols       []string          `json:"symbols"`
	Adapters      map[string]string `json:"adapters"`
}

// Stats собирает статистику всех компонентов
func (e *Engine) Stats() EngineStats {
	adapters := make(map[string]string, len(e.adapters))
	for name, adapter := range e.adapters {
		adapters[name] = adapter.State().String()
	}

	return EngineStats{
		QuoteCache:    e.quotes.Stats(),
		IntervalCache: e.intervals.Stats(),
		Trigger:       e.trigger.Stats(),
		Exit:          e.exit.Stats(),
		Opportunities: e.opportunities.Active(),
		Symbols:       e.aggregator.Symbols(),
		Adapters:      adapters,
	}
}

// Opportunities возвращает активные арбитражные возможности
func (e *Engine) Opportunities() []*Opportunity {
	return e.opportunities.Active()
}

// Pairs возвращает текущие пары всех символов (pull-интерфейс)
func (e *Engine) Pairs() []*models.FundingRatePair {
	symbols := e.aggregator.Symbols()
	out := make([]*models.FundingRatePair, 0, len(symbols))
	for _, s := range symbols {
		if pair, ok := e.aggregator.Pair(s); ok {
			out = append(out, pair)
		}
	}
	return out
}
