package bot

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// ExitMonitorConfig - настройки монитора exit-подсказок
type ExitMonitorConfig struct {
	// Debounce повторных эмиссий по одной позиции
	Cooldown time.Duration
	// Таймаут чтения PNL и настроек из persistence
	FetchTimeout time.Duration
}

// ExitStats - статистика монитора
type ExitStats struct {
	Suggestions   uint64    `json:"suggestions"`
	Cancellations uint64    `json:"cancellations"`
	Errors        uint64    `json:"errors"`
	LastCheckAt   time.Time `json:"last_check_at"`
}

// ExitDecision - результат чистой оценки условий выхода
type ExitDecision struct {
	Suggest bool
	Reason  string // APY_NEGATIVE | PROFIT_LOCKABLE
	Cancel  bool   // условия перестали выполняться у активной подсказки
}

// ShouldSuggestClose - чистая функция правил выхода, в порядке приоритета:
//  1. текущая годовая ставка отрицательна → APY_NEGATIVE;
//  2. ставка ниже порога пользователя И накопленный фандинг СТРОГО
//     превышает ценовой разъезд → PROFIT_LOCKABLE;
//  3. подсказка была активна, но условия не выполняются → отмена.
//
// Равенство фандинга и разъезда подсказку не даёт: фиксировать нечего.
func ShouldSuggestClose(currentAPY, threshold, fundingPnl, priceDiffLoss float64, active bool) ExitDecision {
	if currentAPY < 0 {
		return ExitDecision{Suggest: true, Reason: models.ExitReasonAPYNegative}
	}
	if currentAPY < threshold && fundingPnl > priceDiffLoss {
		return ExitDecision{Suggest: true, Reason: models.ExitReasonProfitLockable}
	}
	if active {
		return ExitDecision{Cancel: true}
	}
	return ExitDecision{}
}

// ExitMonitor оценивает открытые позиции на каждом rate-updated событии
// и выдаёт подсказки закрытия с debounce.
//
// Ошибка чтения настроек или PNL одной позиции логируется и считается,
// но не прерывает оценку остальных позиций прохода.
type ExitMonitor struct {
	cfg       ExitMonitorConfig
	positions PositionStore
	settings  SettingsStore
	pnl       PnlStore
	bus       *Bus
	notifier  Notifier
	logger    *zap.Logger

	cooldown *CooldownStore

	statsMu sync.Mutex
	stats   ExitStats
}

// NewExitMonitor создаёт монитор exit-подсказок
func NewExitMonitor(
	cfg ExitMonitorConfig,
	positions PositionStore,
	settings SettingsStore,
	pnl PnlStore,
	bus *Bus,
	notifier Notifier,
	logger *zap.Logger,
) *ExitMonitor {
	return &ExitMonitor{
		cfg:       cfg,
		positions: positions,
		settings:  settings,
		pnl:       pnl,
		bus:       bus,
		notifier:  notifier,
		logger:    logger.Named("exit"),
		cooldown:  NewCooldownStore(cfg.Cooldown),
	}
}

// HandleRateUpdate оценивает все открытые позиции символа
func (m *ExitMonitor) HandleRateUpdate(pair *models.FundingRatePair) {
	// Без best pair нет текущей ставки - оценивать нечем
	if pair == nil || pair.Best == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FetchTimeout)
	positions, err := m.positions.FindOpenPositions(ctx, pair.Symbol)
	cancel()
	if err != nil {
		m.countError()
		m.logger.Error("exit evaluation: open positions fetch failed",
			zap.String("symbol", pair.Symbol), zap.Error(err))
		return
	}

	m.statsMu.Lock()
	m.stats.LastCheckAt = time.Now()
	m.statsMu.Unlock()

	for _, pos := range positions {
		if !pos.IsOpen() {
			continue
		}
		// Ошибки по одной позиции изолированы от остального прохода
		if err := m.evaluatePosition(pos, pair.Best.AnnualizedPct); err != nil {
			m.countError()
			m.logger.Error("exit evaluation failed for position",
				zap.Int64("position_id", pos.ID), zap.Error(err))
		}
	}
}

func (m *ExitMonitor) evaluatePosition(pos *models.Position, currentAPY float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FetchTimeout)
	defer cancel()

	settings, err := m.settings.GetUserExitSettings(ctx, pos.UserID)
	if err != nil {
		return fmt.Errorf("user settings: %w", err)
	}
	if settings == nil || !settings.Enabled {
		return nil
	}

	fundingPnl, err := m.pnl.GetCumulativeFundingPnL(ctx, pos.ID)
	if err != nil {
		return fmt.Errorf("funding pnl: %w", err)
	}

	// Ценовой разъезд: отрицательный unrealized PNL это потеря
	priceDiffLoss := 0.0
	if pos.UnrealizedPnl != nil && *pos.UnrealizedPnl < 0 {
		priceDiffLoss = -*pos.UnrealizedPnl
	}

	decision := ShouldSuggestClose(currentAPY, settings.APYThreshold, fundingPnl, priceDiffLoss, pos.ExitSuggested)

	switch {
	case decision.Suggest:
		m.emitSuggestion(ctx, pos, decision.Reason, currentAPY, fundingPnl, priceDiffLoss)
	case decision.Cancel:
		m.emitCancellation(ctx, pos, currentAPY)
	}
	return nil
}

func (m *ExitMonitor) emitSuggestion(ctx context.Context, pos *models.Position, reason string, currentAPY, fundingPnl, priceDiffLoss float64) {
	if !m.cooldown.Allow(strconv.FormatInt(pos.ID, 10)) {
		return
	}

	now := time.Now()
	suggestion := &models.ExitSuggestion{
		PositionID:    pos.ID,
		Reason:        reason,
		CurrentAPY:    currentAPY,
		FundingPnl:    fundingPnl,
		PriceDiffLoss: priceDiffLoss,
		NetProfit:     fundingPnl - priceDiffLoss,
		SuggestedAt:   now,
	}

	if err := m.positions.UpdatePosition(ctx, pos.ID, map[string]interface{}{
		"exit_suggested":    true,
		"exit_reason":       reason,
		"exit_suggested_at": now,
	}); err != nil {
		m.countError()
		m.logger.Error("exit suggestion persist failed",
			zap.Int64("position_id", pos.ID), zap.Error(err))
	}
	pos.ExitSuggested = true
	pos.ExitReason = reason

	exitSuggestions.WithLabelValues(reason).Inc()
	m.statsMu.Lock()
	m.stats.Suggestions++
	m.statsMu.Unlock()

	m.logger.Info("exit suggested",
		zap.Int64("position_id", pos.ID),
		zap.String("reason", reason),
		zap.Float64("current_apy", currentAPY),
		zap.Float64("funding_pnl", fundingPnl),
		zap.Float64("price_diff_loss", priceDiffLoss))

	m.bus.ExitSuggested.Publish(suggestion)
	m.notifier.SendTriggerNotification(&models.Notification{
		Timestamp:  now,
		Type:       models.NotificationTypeExitSuggest,
		Severity:   models.SeverityInfo,
		PositionID: &pos.ID,
		Message:    fmt.Sprintf("Рекомендуется закрыть позицию %s: %s", pos.Symbol, reason),
		Meta: map[string]interface{}{
			"current_apy":     currentAPY,
			"funding_pnl":     fundingPnl,
			"price_diff_loss": priceDiffLoss,
		},
	})
}

func (m *ExitMonitor) emitCancellation(ctx context.Context, pos *models.Position, currentAPY float64) {
	if !m.cooldown.Allow(strconv.FormatInt(pos.ID, 10)) {
		return
	}

	now := time.Now()
	if err := m.positions.UpdatePosition(ctx, pos.ID, map[string]interface{}{
		"exit_suggested":    false,
		"exit_reason":       "",
		"exit_suggested_at": nil,
	}); err != nil {
		m.countError()
		m.logger.Error("exit cancellation persist failed",
			zap.Int64("position_id", pos.ID), zap.Error(err))
	}
	pos.ExitSuggested = false
	pos.ExitReason = ""

	exitCancellations.Inc()
	m.statsMu.Lock()
	m.stats.Cancellations++
	m.statsMu.Unlock()

	m.logger.Info("exit suggestion canceled",
		zap.Int64("position_id", pos.ID),
		zap.Float64("current_apy", currentAPY))

	m.bus.ExitCanceled.Publish(&models.ExitCancellation{
		PositionID: pos.ID,
		CurrentAPY: currentAPY,
		CanceledAt: now,
	})
}

func (m *ExitMonitor) countError() {
	exitErrors.Inc()
	m.statsMu.Lock()
	m.stats.Errors++
	m.statsMu.Unlock()
}

// Stats возвращает снапшот статистики монитора
func (m *ExitMonitor) Stats() ExitStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// Reset сбрасывает debounce состояние. Вызывается при останове движка.
func (m *ExitMonitor) Reset() {
	m.cooldown.Reset()
}
