package bot

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/exchange"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/pkg/retry"
)

// TriggerMonitorConfig - настройки монитора триггеров
type TriggerMonitorConfig struct {
	// Период сверки состояния ордеров/позиций с биржами
	PollInterval time.Duration
	// Окно дедупликации stream+poll событий одного триггера
	DedupWindow time.Duration
	// Таймаут закрытия второй ноги
	CloseTimeout time.Duration
	// Таймаут запросов состояния ордеров/позиций
	OrderQueryTimeout time.Duration
}

// TriggerStats - статистика монитора для операционной видимости
type TriggerStats struct {
	TriggersDetected uint64    `json:"triggers_detected"`
	ClosesCompleted  uint64    `json:"closes_completed"`
	ClosesFailed     uint64    `json:"closes_failed"`
	DedupSkips       uint64    `json:"dedup_skips"`
	InFlight         int       `json:"in_flight"`
	LastPollAt       time.Time `json:"last_poll_at"`
}

// TriggerMonitor обнаруживает срабатывание SL/TP на ногах хеджированных
// позиций и координирует закрытие противоположной ноги.
//
// Источники обнаружения в порядке приоритета:
//  1. push события ордеров/позиций от адаптеров (stream);
//  2. периодическая сверка состояния с биржами (poll) - страховочная
//     сетка для бирж с ненадёжными push событиями.
//
// Один и тот же триггер из двух источников схлопывается DedupSet'ом
// по id позиции. Параллельный запуск второй последовательности закрытия
// по той же позиции блокируется per-position in-flight маркером;
// разные позиции закрываются полностью параллельно.
type TriggerMonitor struct {
	cfg       TriggerMonitorConfig
	adapters  map[string]exchange.Adapter
	positions PositionStore
	trades    TradeStore
	bus       *Bus
	notifier  Notifier
	logger    *zap.Logger

	dedup *DedupSet

	inFlightMu sync.Mutex
	inFlight   map[int64]struct{}

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	// seqWg отслеживает запущенные последовательности закрытия отдельно
	// от pollLoop: Stop дожидается и того и другого
	seqWg sync.WaitGroup

	statsMu sync.Mutex
	stats   TriggerStats
}

// NewTriggerMonitor создаёт монитор триггеров
func NewTriggerMonitor(
	cfg TriggerMonitorConfig,
	adapters map[string]exchange.Adapter,
	positions PositionStore,
	trades TradeStore,
	bus *Bus,
	notifier Notifier,
	logger *zap.Logger,
) *TriggerMonitor {
	return &TriggerMonitor{
		cfg:       cfg,
		adapters:  adapters,
		positions: positions,
		trades:    trades,
		bus:       bus,
		notifier:  notifier,
		logger:    logger.Named("trigger"),
		dedup:     NewDedupSet(cfg.DedupWindow),
		inFlight:  make(map[int64]struct{}),
	}
}

// Start запускает периодическую сверку. Повторный Start - no-op.
func (m *TriggerMonitor) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.pollLoop(m.stopCh)
	m.logger.Info("trigger monitor started", zap.Duration("poll_interval", m.cfg.PollInterval))
}

// Stop останавливает сверку и чистит эфемерное состояние.
// Идемпотентен: повторные вызовы безопасны.
func (m *TriggerMonitor) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.runMu.Unlock()

	m.wg.Wait()
	m.seqWg.Wait()
	m.dedup.Clear()
	m.logger.Info("trigger monitor stopped")
}

func (m *TriggerMonitor) pollLoop(stopCh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.pollOnce()
		}
	}
}

// HandleOrderStatus обрабатывает push событие условного ордера от адаптера
func (m *TriggerMonitor) HandleOrderStatus(ev exchange.OrderStatus) {
	if ev.Status != exchange.OrderStatusTriggered && ev.Status != exchange.OrderStatusFilled {
		return
	}

	pos, err := m.findPositionForLeg(ev.Exchange, ev.Symbol, ev.Side)
	if err != nil {
		m.logger.Error("position lookup failed for order event",
			zap.String("exchange", ev.Exchange),
			zap.String("symbol", ev.Symbol),
			zap.Error(err))
		return
	}
	if pos == nil {
		return
	}

	m.processTrigger(pos, &models.TriggerEvent{
		ID:           uuid.NewString(),
		PositionID:   pos.ID,
		Type:         triggerType(ev.Side, ev.OrderType),
		TriggerPrice: ev.TriggerPrice,
		DetectedAt:   time.Now(),
		Source:       models.TriggerSourceStream,
	})
}

// HandlePositionChange обрабатывает push событие позиции: нога обнулилась
// на бирже без известного нам ордера - скорее всего сработал SL/TP.
func (m *TriggerMonitor) HandlePositionChange(ev exchange.PositionChange) {
	if !ev.Closed {
		return
	}

	pos, err := m.findPositionForLeg(ev.Exchange, ev.Symbol, ev.Side)
	if err != nil {
		m.logger.Error("position lookup failed for position event",
			zap.String("exchange", ev.Exchange),
			zap.String("symbol", ev.Symbol),
			zap.Error(err))
		return
	}
	if pos == nil {
		return
	}

	m.processTrigger(pos, &models.TriggerEvent{
		ID:           uuid.NewString(),
		PositionID:   pos.ID,
		Type:         inferTriggerType(pos, ev),
		TriggerPrice: ev.MarkPrice,
		DetectedAt:   time.Now(),
		Source:       models.TriggerSourceStream,
	})
}

// pollOnce сверяет открытые позиции с состоянием бирж
func (m *TriggerMonitor) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OrderQueryTimeout)
	positions, err := m.positions.FindOpenPositions(ctx, "")
	cancel()
	if err != nil {
		m.logger.Error("reconciliation: open positions fetch failed", zap.Error(err))
		return
	}

	m.statsMu.Lock()
	m.stats.LastPollAt = time.Now()
	m.statsMu.Unlock()

	// Позиции на биржах запрашиваются один раз за проход
	venueLegs := m.fetchVenueLegs()

	for _, pos := range positions {
		if !pos.IsOpen() || pos.RequiresManualIntervention {
			continue
		}
		m.reconcilePosition(pos, venueLegs)
	}
}

// venueLegKey - ключ присутствия ноги на бирже
func venueLegKey(symbol, side string) string {
	return symbol + ":" + side
}

// fetchVenueLegs запрашивает открытые позиции со всех бирж.
// Биржа, у которой запрос упал, в карту не попадает - отсутствие
// данных не интерпретируется как отсутствие ноги.
func (m *TriggerMonitor) fetchVenueLegs() map[string]map[string]struct{} {
	legs := make(map[string]map[string]struct{})

	for name, adapter := range m.adapters {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OrderQueryTimeout)
		venuePositions, err := adapter.GetOpenPositions(ctx)
		cancel()
		if err != nil {
			m.logger.Warn("reconciliation: venue positions fetch failed",
				zap.String("exchange", name), zap.Error(err))
			continue
		}

		present := make(map[string]struct{}, len(venuePositions))
		for _, vp := range venuePositions {
			present[venueLegKey(vp.Symbol, vp.Side)] = struct{}{}
		}
		legs[name] = present
	}

	return legs
}

// reconcilePosition проверяет обе ноги позиции против состояния бирж
func (m *TriggerMonitor) reconcilePosition(pos *models.Position, venueLegs map[string]map[string]struct{}) {
	for _, side := range []string{models.LegSideLong, models.LegSideShort} {
		leg := pos.LegBySide(side)
		present, known := venueLegs[leg.Exchange]
		if !known {
			continue
		}
		if _, ok := present[venueLegKey(pos.Symbol, side)]; ok {
			continue
		}

		// Нога пропала с биржи: ищем исполненный условный ордер,
		// чтобы узнать тип и цену срабатывания
		ev := m.resolvePolledTrigger(pos, side, leg.Exchange)
		m.processTrigger(pos, ev)
		return
	}
}

// resolvePolledTrigger строит событие триггера для ноги, пропавшей с биржи
func (m *TriggerMonitor) resolvePolledTrigger(pos *models.Position, side, exchangeName string) *models.TriggerEvent {
	ev := &models.TriggerEvent{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		DetectedAt: time.Now(),
		Source:     models.TriggerSourcePoll,
	}

	// По умолчанию считаем SL: для денег это безопасное предположение
	if side == models.LegSideShort {
		ev.Type = models.TriggerShortSL
	} else {
		ev.Type = models.TriggerLongSL
	}

	adapter, ok := m.adapters[exchangeName]
	if !ok {
		return ev
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OrderQueryTimeout)
	orders, err := adapter.GetConditionalOrders(ctx, pos.Symbol)
	cancel()
	if err != nil {
		m.logger.Warn("reconciliation: conditional orders fetch failed",
			zap.String("exchange", exchangeName), zap.Error(err))
		return ev
	}

	for _, o := range orders {
		if o.Side != side || o.Status != exchange.OrderStatusFilled {
			continue
		}
		ev.Type = triggerType(side, o.OrderType)
		ev.TriggerPrice = o.TriggerPrice
		break
	}

	return ev
}

// triggerType собирает тип триггера из стороны ноги и типа ордера
func triggerType(side, orderType string) string {
	long := side == models.LegSideLong
	sl := orderType == exchange.OrderTypeStopLoss

	switch {
	case long && sl:
		return models.TriggerLongSL
	case long && !sl:
		return models.TriggerLongTP
	case !long && sl:
		return models.TriggerShortSL
	default:
		return models.TriggerShortTP
	}
}

// inferTriggerType угадывает тип по направлению выхода относительно входа,
// когда нога закрылась без известного ордера
func inferTriggerType(pos *models.Position, ev exchange.PositionChange) string {
	leg := pos.LegBySide(ev.Side)
	profitable := ev.MarkPrice > leg.EntryPrice
	if ev.Side == models.LegSideShort {
		profitable = ev.MarkPrice < leg.EntryPrice
	}
	if ev.MarkPrice == 0 {
		profitable = false
	}

	orderType := exchange.OrderTypeStopLoss
	if profitable {
		orderType = exchange.OrderTypeTakeProfit
	}
	return triggerType(ev.Side, orderType)
}

// findPositionForLeg ищет открытую позицию с ногой на данной бирже
func (m *TriggerMonitor) findPositionForLeg(exchangeName, symbol, side string) (*models.Position, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OrderQueryTimeout)
	defer cancel()

	positions, err := m.positions.FindOpenPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}

	for _, pos := range positions {
		if !pos.IsOpen() {
			continue
		}
		if pos.LegBySide(side).Exchange == exchangeName {
			return pos, nil
		}
	}
	return nil, nil
}

// processTrigger - общая точка входа stream и poll событий.
// Дедупликация по id позиции: stream и poll событие одного триггера
// дают ровно одну последовательность закрытия.
//
// runMu удерживается на всё тело: событие после Stop отбрасывается,
// а seqWg.Add не может пересечься с seqWg.Wait в Stop.
func (m *TriggerMonitor) processTrigger(pos *models.Position, ev *models.TriggerEvent) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return
	}

	key := strconv.FormatInt(ev.PositionID, 10)
	if m.dedup.Seen(key) {
		triggerDedupSkips.Inc()
		m.statsMu.Lock()
		m.stats.DedupSkips++
		m.statsMu.Unlock()
		return
	}

	if !m.acquire(pos.ID) {
		// Последовательность закрытия уже в полёте
		return
	}

	triggersDetected.WithLabelValues(ev.Type, ev.Source).Inc()
	m.statsMu.Lock()
	m.stats.TriggersDetected++
	m.statsMu.Unlock()

	m.logger.Info("trigger detected",
		zap.Int64("position_id", pos.ID),
		zap.String("type", ev.Type),
		zap.String("source", ev.Source),
		zap.Float64("trigger_price", ev.TriggerPrice))

	m.seqWg.Add(1)
	go func() {
		defer m.seqWg.Done()
		defer m.release(pos.ID)
		m.runCloseSequence(pos, ev)
	}()
}

// acquire ставит in-flight маркер позиции; false если уже стоит
func (m *TriggerMonitor) acquire(positionID int64) bool {
	m.inFlightMu.Lock()
	defer m.inFlightMu.Unlock()
	if _, busy := m.inFlight[positionID]; busy {
		return false
	}
	m.inFlight[positionID] = struct{}{}
	return true
}

func (m *TriggerMonitor) release(positionID int64) {
	m.inFlightMu.Lock()
	delete(m.inFlight, positionID)
	m.inFlightMu.Unlock()
}

// runCloseSequence ведёт машину состояний закрытия второй ноги.
// Прогресс эмитится на каждой фазе с монотонно растущим процентом.
func (m *TriggerMonitor) runCloseSequence(pos *models.Position, ev *models.TriggerEvent) {
	started := time.Now()
	seqID := uuid.NewString()
	state := StateMonitoring

	// detected (10%)
	state = m.transition(state, StateTriggerDetected)
	m.emitProgress(seqID, pos.ID, state,
		fmt.Sprintf("%s: сработал %s по цене %.6f", pos.Symbol, ev.Type, ev.TriggerPrice), "")
	m.bus.TriggerDetected.Publish(ev)
	m.notifier.SendTriggerNotification(&models.Notification{
		Timestamp:  time.Now(),
		Type:       models.NotificationTypeTrigger,
		Severity:   models.SeverityWarn,
		PositionID: &pos.ID,
		Message:    fmt.Sprintf("Сработал %s на %s, закрываем вторую ногу", ev.Type, pos.Symbol),
		Meta: map[string]interface{}{
			"trigger_type":  ev.Type,
			"trigger_price": ev.TriggerPrice,
			"source":        ev.Source,
		},
	})

	oppositeSide := ev.OppositeSide()
	oppositeLeg := pos.LegBySide(oppositeSide)

	// closing_opposite (40%)
	state = m.transition(state, StateClosingOpposite)
	m.emitProgress(seqID, pos.ID, state,
		fmt.Sprintf("Закрытие %s ноги на %s", oppositeSide, oppositeLeg.Exchange), "")

	if err := m.closeLeg(oppositeLeg.Exchange, pos.Symbol, oppositeSide, oppositeLeg.Size); err != nil {
		m.failSequence(seqID, pos, started, fmt.Errorf("close %s leg on %s: %w",
			oppositeSide, oppositeLeg.Exchange, err))
		return
	}

	// canceling_orders (70%): остаточные условные ордера на обеих ногах.
	// Ошибка отмены не фатальна - обе ноги уже закрыты, reduce-only
	// ордера исполниться не смогут.
	state = m.transition(state, StateCancelingOrders)
	m.emitProgress(seqID, pos.ID, state, "Отмена остаточных условных ордеров", "")
	m.cancelResidualOrders(pos)

	// completing (90%): фиксация в persistence
	m.emitPhase(seqID, pos.ID, models.ClosePhaseCompleting, 90, "Фиксация закрытия", "")
	m.persistClose(pos, ev)

	// completed (100%)
	state = m.transition(state, StateCompleted)
	m.emitProgress(seqID, pos.ID, state, "Позиция закрыта", "")

	closeSequences.WithLabelValues("completed").Inc()
	closeSequenceDuration.Observe(time.Since(started).Seconds())
	m.statsMu.Lock()
	m.stats.ClosesCompleted++
	m.statsMu.Unlock()

	m.notifier.SendTriggerNotification(&models.Notification{
		Timestamp:  time.Now(),
		Type:       models.NotificationTypeClose,
		Severity:   models.SeverityInfo,
		PositionID: &pos.ID,
		Message:    fmt.Sprintf("Позиция %s полностью закрыта", pos.Symbol),
	})

	m.logger.Info("close sequence completed",
		zap.Int64("position_id", pos.ID),
		zap.String("sequence_id", seqID),
		zap.Duration("took", time.Since(started)))
}

// transition выполняет переход машины состояний с проверкой допустимости
func (m *TriggerMonitor) transition(from, to string) string {
	if !CanTransition(from, to) {
		// Недопустимый переход - ошибка программирования, не данных
		m.logger.Error("invalid close state transition",
			zap.String("from", from), zap.String("to", to))
		return from
	}
	return to
}

// closeLeg закрывает ногу рыночным ордером. Транзиентные ошибки биржи
// ретраятся агрессивно в пределах CloseTimeout; после исчерпания попыток
// позиция уходит на ручное вмешательство, бесконечных ретраев нет.
func (m *TriggerMonitor) closeLeg(exchangeName, symbol, side string, size float64) error {
	adapter, ok := m.adapters[exchangeName]
	if !ok {
		return fmt.Errorf("no adapter for exchange %s", exchangeName)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CloseTimeout)
	defer cancel()

	cfg := retry.AggressiveConfig()
	cfg.RetryIf = func(err error) bool {
		// Биржа не умеет операцию - ретраить бессмысленно
		return !exchange.IsCapabilityError(err)
	}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		m.logger.Warn("opposite leg close retry",
			zap.String("exchange", exchangeName),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	return retry.Do(ctx, func() error {
		return adapter.ClosePosition(ctx, symbol, exchange.CloseSideFor(side), size)
	}, cfg)
}

// cancelResidualOrders отменяет условные ордера обеих ног
func (m *TriggerMonitor) cancelResidualOrders(pos *models.Position) {
	for _, legExchange := range []string{pos.LongLeg.Exchange, pos.ShortLeg.Exchange} {
		adapter, ok := m.adapters[legExchange]
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OrderQueryTimeout)
		err := adapter.CancelConditionalOrders(ctx, pos.Symbol)
		cancel()
		if err != nil {
			m.logger.Warn("residual order cancel failed",
				zap.Int64("position_id", pos.ID),
				zap.String("exchange", legExchange),
				zap.Error(err))
		}
	}
}

// persistClose переводит позицию в CLOSED и создаёт запись Trade.
// Ошибки persistence логируются, но закрытие уже состоялось на биржах -
// последовательность не проваливается.
func (m *TriggerMonitor) persistClose(pos *models.Position, ev *models.TriggerEvent) {
	now := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OrderQueryTimeout)
	defer cancel()

	if err := m.positions.UpdatePosition(ctx, pos.ID, map[string]interface{}{
		"status":    models.PositionStatusClosed,
		"closed_at": now,
	}); err != nil {
		m.logger.Error("position close persist failed",
			zap.Int64("position_id", pos.ID), zap.Error(err))
	}

	trade := &models.Trade{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Holding:    now.Sub(pos.OpenedAt),
		ClosedAt:   now,
	}
	if ev.TriggeredSide() == models.LegSideLong {
		trade.LongExit = ev.TriggerPrice
	} else {
		trade.ShortExit = ev.TriggerPrice
	}
	if pos.FundingPnl != nil {
		trade.FundingPnl = *pos.FundingPnl
	}
	if pos.UnrealizedPnl != nil {
		trade.PriceDiffPnl = *pos.UnrealizedPnl
	}
	trade.TotalPnl = trade.FundingPnl + trade.PriceDiffPnl

	notional := pos.LongLeg.Size * pos.LongLeg.EntryPrice
	if notional > 0 {
		trade.RoiPct = trade.TotalPnl / notional * 100
	}

	if err := m.trades.CreateTrade(ctx, trade); err != nil {
		m.logger.Error("trade record persist failed",
			zap.Int64("position_id", pos.ID), zap.Error(err))
	}
}

// failSequence фиксирует частичный провал: сработавшая нога закрыта биржей,
// вторую закрыть не удалось. Позиция помечается на ручное вмешательство
// и больше не ретраится автоматически.
func (m *TriggerMonitor) failSequence(seqID string, pos *models.Position, started time.Time, cause error) {
	m.logger.Error("close sequence failed, manual intervention required",
		zap.Int64("position_id", pos.ID),
		zap.String("sequence_id", seqID),
		zap.Error(cause))

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OrderQueryTimeout)
	err := m.positions.UpdatePosition(ctx, pos.ID, map[string]interface{}{
		"requires_manual_intervention": true,
	})
	cancel()
	if err != nil {
		m.logger.Error("manual intervention flag persist failed",
			zap.Int64("position_id", pos.ID), zap.Error(err))
	}

	progress := &models.CloseProgress{
		SequenceID:                 seqID,
		PositionID:                 pos.ID,
		Phase:                      models.ClosePhaseFailed,
		Percent:                    100,
		Message:                    "Не удалось закрыть вторую ногу",
		RequiresManualIntervention: true,
		Error:                      cause.Error(),
		Timestamp:                  time.Now(),
	}
	m.bus.CloseProgress.Publish(progress)

	closeSequences.WithLabelValues("failed").Inc()
	closeSequenceDuration.Observe(time.Since(started).Seconds())
	m.statsMu.Lock()
	m.stats.ClosesFailed++
	m.statsMu.Unlock()

	m.notifier.SendEmergencyNotification(&models.Notification{
		Timestamp:  time.Now(),
		Type:       models.NotificationTypeSecondLegFail,
		Severity:   models.SeverityError,
		PositionID: &pos.ID,
		Message:    fmt.Sprintf("СРОЧНО: вторая нога %s не закрылась, требуется ручное вмешательство", pos.Symbol),
		Meta:       map[string]interface{}{"error": cause.Error()},
	})
}

// emitProgress публикует прогресс для состояния машины
func (m *TriggerMonitor) emitProgress(seqID string, positionID int64, state, message, errMsg string) {
	phase, percent := PhaseForState(state)
	m.emitPhase(seqID, positionID, phase, percent, message, errMsg)
}

func (m *TriggerMonitor) emitPhase(seqID string, positionID int64, phase string, percent int, message, errMsg string) {
	m.bus.CloseProgress.Publish(&models.CloseProgress{
		SequenceID: seqID,
		PositionID: positionID,
		Phase:      phase,
		Percent:    percent,
		Message:    message,
		Error:      errMsg,
		Timestamp:  time.Now(),
	})
}

// Stats возвращает снапшот статистики монитора
func (m *TriggerMonitor) Stats() TriggerStats {
	m.statsMu.Lock()
	stats := m.stats
	m.statsMu.Unlock()

	m.inFlightMu.Lock()
	stats.InFlight = len(m.inFlight)
	m.inFlightMu.Unlock()
	return stats
}
