package bot

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/exchange"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

func TestTriggerType(t *testing.T) {
	tests := []struct {
		side      string
		orderType string
		want      string
	}{
		{models.LegSideLong, exchange.OrderTypeStopLoss, models.TriggerLongSL},
		{models.LegSideLong, exchange.OrderTypeTakeProfit, models.TriggerLongTP},
		{models.LegSideShort, exchange.OrderTypeStopLoss, models.TriggerShortSL},
		{models.LegSideShort, exchange.OrderTypeTakeProfit, models.TriggerShortTP},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := triggerType(tt.side, tt.orderType); got != tt.want {
				t.Errorf("triggerType(%s, %s) = %s, want %s", tt.side, tt.orderType, got, tt.want)
			}
		})
	}
}

func TestInferTriggerType(t *testing.T) {
	pos := testPosition(1, "BTCUSDT") // long вход 50000, short вход 50050

	tests := []struct {
		name string
		side string
		mark float64
		want string
	}{
		{"long closed above entry", models.LegSideLong, 51000, models.TriggerLongTP},
		{"long closed below entry", models.LegSideLong, 49000, models.TriggerLongSL},
		{"short closed below entry", models.LegSideShort, 49000, models.TriggerShortTP},
		{"short closed above entry", models.LegSideShort, 51000, models.TriggerShortSL},
		// без цены закрытия безопасное предположение - стоп-лосс
		{"unknown mark price", models.LegSideLong, 0, models.TriggerLongSL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := exchange.PositionChange{
				Exchange:  "binance",
				Symbol:    "BTCUSDT",
				Side:      tt.side,
				Closed:    true,
				MarkPrice: tt.mark,
			}
			if got := inferTriggerType(pos, ev); got != tt.want {
				t.Errorf("inferTriggerType(%s, mark %v) = %s, want %s", tt.side, tt.mark, got, tt.want)
			}
		})
	}
}

// ============================================================
// Последовательность закрытия
// ============================================================

type triggerFixture struct {
	monitor   *TriggerMonitor
	positions *fakePositionStore
	trades    *fakeTradeStore
	notifier  *fakeNotifier
	bus       *Bus
	binance   *fakeAdapter
	okx       *fakeAdapter

	progressMu sync.Mutex
	progress   []*models.CloseProgress
}

func newTriggerFixture(t *testing.T) *triggerFixture {
	t.Helper()

	f := &triggerFixture{
		positions: &fakePositionStore{},
		trades:    &fakeTradeStore{},
		notifier:  &fakeNotifier{},
		bus:       NewBus(),
		binance:   &fakeAdapter{name: "binance"},
		okx:       &fakeAdapter{name: "okx"},
	}

	f.bus.CloseProgress.Subscribe(func(p *models.CloseProgress) {
		f.progressMu.Lock()
		f.progress = append(f.progress, p)
		f.progressMu.Unlock()
	})

	f.monitor = NewTriggerMonitor(TriggerMonitorConfig{
		PollInterval:      time.Hour, // сверки в тестах запускаются вручную
		DedupWindow:       time.Minute,
		CloseTimeout:      time.Second,
		OrderQueryTimeout: time.Second,
	}, map[string]exchange.Adapter{
		"binance": f.binance,
		"okx":     f.okx,
	}, f.positions, f.trades, f.bus, f.notifier, zap.NewNop())

	// события принимаются только запущенным монитором
	f.monitor.Start()
	t.Cleanup(f.monitor.Stop)

	return f
}

// wait дожидается завершения запущенных последовательностей закрытия
func (f *triggerFixture) wait() {
	f.monitor.seqWg.Wait()
}

func (f *triggerFixture) phases() []string {
	f.progressMu.Lock()
	defer f.progressMu.Unlock()
	out := make([]string, 0, len(f.progress))
	for _, p := range f.progress {
		out = append(out, p.Phase)
	}
	return out
}

func TestCloseSequenceHappyPath(t *testing.T) {
	f := newTriggerFixture(t)
	pos := testPosition(1, "BTCUSDT")
	pos.FundingPnl = floatPtr(12)
	pos.UnrealizedPnl = floatPtr(-2)
	f.positions.positions = []*models.Position{pos}

	// SL сработал на long ноге (binance): закрываем short на okx
	f.monitor.HandleOrderStatus(exchange.OrderStatus{
		Exchange:     "binance",
		Symbol:       "BTCUSDT",
		Side:         models.LegSideLong,
		OrderType:    exchange.OrderTypeStopLoss,
		Status:       exchange.OrderStatusTriggered,
		TriggerPrice: 49000,
	})
	f.wait()

	// вторая нога закрыта стороной buy (short закрывается покупкой)
	if f.okx.closedCount() != 1 {
		t.Fatalf("okx closes = %d, want 1", f.okx.closedCount())
	}
	if f.okx.closedLegs[0] != "BTCUSDT:"+exchange.SideBuy {
		t.Errorf("closed leg = %s, want BTCUSDT:%s", f.okx.closedLegs[0], exchange.SideBuy)
	}
	if f.binance.closedCount() != 0 {
		t.Errorf("binance closes = %d, want 0: сработавшую ногу закрыла биржа", f.binance.closedCount())
	}

	// остаточные условные ордера отменены на обеих биржах
	if len(f.binance.canceledSymbols) != 1 || len(f.okx.canceledSymbols) != 1 {
		t.Errorf("cancels binance=%d okx=%d, want 1/1",
			len(f.binance.canceledSymbols), len(f.okx.canceledSymbols))
	}

	// фазы в порядке и с монотонным процентом
	wantPhases := []string{
		models.ClosePhaseDetected,
		models.ClosePhaseClosingOpposite,
		models.ClosePhaseCancelingOrders,
		models.ClosePhaseCompleting,
		models.ClosePhaseCompleted,
	}
	got := f.phases()
	if len(got) != len(wantPhases) {
		t.Fatalf("phases = %v, want %v", got, wantPhases)
	}
	for i := range wantPhases {
		if got[i] != wantPhases[i] {
			t.Errorf("phase[%d] = %s, want %s", i, got[i], wantPhases[i])
		}
	}
	prev := 0
	for _, p := range f.progress {
		if p.Percent < prev {
			t.Errorf("percent dropped: %d after %d", p.Percent, prev)
		}
		prev = p.Percent
	}

	// позиция переведена в CLOSED
	var closedUpdate map[string]interface{}
	for _, upd := range f.positions.updates {
		if upd["status"] == models.PositionStatusClosed {
			closedUpdate = upd
		}
	}
	if closedUpdate == nil {
		t.Fatal("no CLOSED status update persisted")
	}

	// запись истории с ценой выхода на сработавшей стороне
	if f.trades.count() != 1 {
		t.Fatalf("trades = %d, want 1", f.trades.count())
	}
	trade := f.trades.trades[0]
	if trade.LongExit != 49000 || trade.ShortExit != 0 {
		t.Errorf("exits = %v/%v, want 49000/0", trade.LongExit, trade.ShortExit)
	}
	if trade.TotalPnl != 10 {
		t.Errorf("TotalPnl = %v, want 10", trade.TotalPnl)
	}
	// ROI от нотионала long ноги: 10 / 5000 × 100 = 0.2%
	if trade.RoiPct != 0.2 {
		t.Errorf("RoiPct = %v, want 0.2", trade.RoiPct)
	}

	stats := f.monitor.Stats()
	if stats.TriggersDetected != 1 || stats.ClosesCompleted != 1 || stats.ClosesFailed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCloseSequenceShortTriggerClosesLong(t *testing.T) {
	f := newTriggerFixture(t)
	f.positions.positions = []*models.Position{testPosition(1, "BTCUSDT")}

	f.monitor.HandleOrderStatus(exchange.OrderStatus{
		Exchange:     "okx",
		Symbol:       "BTCUSDT",
		Side:         models.LegSideShort,
		OrderType:    exchange.OrderTypeTakeProfit,
		Status:       exchange.OrderStatusFilled,
		TriggerPrice: 48000,
	})
	f.wait()

	// long нога закрывается продажей на binance
	if f.binance.closedCount() != 1 {
		t.Fatalf("binance closes = %d, want 1", f.binance.closedCount())
	}
	if f.binance.closedLegs[0] != "BTCUSDT:"+exchange.SideSell {
		t.Errorf("closed leg = %s, want BTCUSDT:%s", f.binance.closedLegs[0], exchange.SideSell)
	}

	trade := f.trades.trades[0]
	if trade.ShortExit != 48000 || trade.LongExit != 0 {
		t.Errorf("exits = %v/%v, want 0/48000", trade.LongExit, trade.ShortExit)
	}
}

func TestTriggerDedup(t *testing.T) {
	f := newTriggerFixture(t)
	f.positions.positions = []*models.Position{testPosition(1, "BTCUSDT")}

	ev := exchange.OrderStatus{
		Exchange:  "binance",
		Symbol:    "BTCUSDT",
		Side:      models.LegSideLong,
		OrderType: exchange.OrderTypeStopLoss,
		Status:    exchange.OrderStatusTriggered,
	}
	// stream событие и его poll двойник в пределах окна
	f.monitor.HandleOrderStatus(ev)
	f.monitor.HandleOrderStatus(ev)
	f.wait()

	if f.okx.closedCount() != 1 {
		t.Errorf("closes = %d, want 1: duplicate must be dropped", f.okx.closedCount())
	}
	if f.monitor.Stats().DedupSkips != 1 {
		t.Errorf("DedupSkips = %d, want 1", f.monitor.Stats().DedupSkips)
	}
}

func TestTriggerIgnoresInertOrderStates(t *testing.T) {
	f := newTriggerFixture(t)
	f.positions.positions = []*models.Position{testPosition(1, "BTCUSDT")}

	for _, status := range []string{exchange.OrderStatusNew, exchange.OrderStatusCancelled} {
		f.monitor.HandleOrderStatus(exchange.OrderStatus{
			Exchange:  "binance",
			Symbol:    "BTCUSDT",
			Side:      models.LegSideLong,
			OrderType: exchange.OrderTypeStopLoss,
			Status:    status,
		})
	}
	f.wait()

	if f.monitor.Stats().TriggersDetected != 0 {
		t.Errorf("TriggersDetected = %d, want 0 for new/cancelled", f.monitor.Stats().TriggersDetected)
	}
}

func TestTriggerInFlightLock(t *testing.T) {
	f := newTriggerFixture(t)

	if !f.monitor.acquire(1) {
		t.Fatal("first acquire must pass")
	}
	if f.monitor.acquire(1) {
		t.Fatal("second acquire on same position must be blocked")
	}
	if !f.monitor.acquire(2) {
		t.Fatal("other position must not be blocked")
	}

	f.monitor.release(1)
	if !f.monitor.acquire(1) {
		t.Fatal("acquire after release must pass")
	}
}

func TestCloseSequenceFailure(t *testing.T) {
	f := newTriggerFixture(t)
	f.positions.positions = []*models.Position{testPosition(1, "BTCUSDT")}
	f.okx.closeErr = errors.New("insufficient margin")

	f.monitor.HandleOrderStatus(exchange.OrderStatus{
		Exchange:  "binance",
		Symbol:    "BTCUSDT",
		Side:      models.LegSideLong,
		OrderType: exchange.OrderTypeStopLoss,
		Status:    exchange.OrderStatusTriggered,
	})
	f.wait()

	// позиция помечена на ручное вмешательство
	var manual bool
	for _, upd := range f.positions.updates {
		if upd["requires_manual_intervention"] == true {
			manual = true
		}
	}
	if !manual {
		t.Error("requires_manual_intervention flag not persisted")
	}

	// аварийное уведомление с причиной
	if f.notifier.emergencyCount() != 1 {
		t.Fatalf("emergencies = %d, want 1", f.notifier.emergencyCount())
	}

	// последняя фаза - failed со 100% и текстом ошибки
	got := f.phases()
	if len(got) == 0 || got[len(got)-1] != models.ClosePhaseFailed {
		t.Fatalf("phases = %v, want trailing failed", got)
	}
	last := f.progress[len(f.progress)-1]
	if last.Percent != 100 || !last.RequiresManualIntervention {
		t.Errorf("failed progress = %+v", last)
	}
	if !strings.Contains(last.Error, "insufficient margin") {
		t.Errorf("Error = %q, want cause preserved", last.Error)
	}

	// сделка не записывается, ордера не отменяются
	if f.trades.count() != 0 {
		t.Errorf("trades = %d, want 0 on failure", f.trades.count())
	}
	if len(f.okx.canceledSymbols) != 0 {
		t.Errorf("cancels = %d, want 0 on failure", len(f.okx.canceledSymbols))
	}
	if f.monitor.Stats().ClosesFailed != 1 {
		t.Errorf("ClosesFailed = %d, want 1", f.monitor.Stats().ClosesFailed)
	}
}

// ============================================================
// Сверка (poll)
// ============================================================

func TestPollDetectsMissingLeg(t *testing.T) {
	f := newTriggerFixture(t)
	f.positions.positions = []*models.Position{testPosition(1, "BTCUSDT")}

	// long нога на месте, short нога пропала с okx
	f.binance.venuePositions = []exchange.VenuePosition{
		{Symbol: "BTCUSDT", Side: models.LegSideLong, Size: 0.1},
	}
	f.okx.venuePositions = nil
	// исполненный TP объясняет пропажу
	f.okx.conditionals = []exchange.ConditionalOrder{
		{Symbol: "BTCUSDT", Side: models.LegSideShort, OrderType: exchange.OrderTypeTakeProfit,
			Status: exchange.OrderStatusFilled, TriggerPrice: 48500},
	}

	var triggers []*models.TriggerEvent
	f.bus.TriggerDetected.Subscribe(func(ev *models.TriggerEvent) { triggers = append(triggers, ev) })

	f.monitor.pollOnce()
	f.wait()

	if len(triggers) != 1 {
		t.Fatalf("triggers = %d, want 1", len(triggers))
	}
	ev := triggers[0]
	if ev.Type != models.TriggerShortTP {
		t.Errorf("Type = %s, want %s", ev.Type, models.TriggerShortTP)
	}
	if ev.TriggerPrice != 48500 {
		t.Errorf("TriggerPrice = %v, want 48500", ev.TriggerPrice)
	}
	if ev.Source != models.TriggerSourcePoll {
		t.Errorf("Source = %s, want poll", ev.Source)
	}

	// long нога закрыта продажей
	if f.binance.closedCount() != 1 {
		t.Errorf("binance closes = %d, want 1", f.binance.closedCount())
	}
}

func TestPollDefaultsToStopLoss(t *testing.T) {
	f := newTriggerFixture(t)
	f.positions.positions = []*models.Position{testPosition(1, "BTCUSDT")}

	f.binance.venuePositions = nil // long нога пропала, ордеров нет
	f.okx.venuePositions = []exchange.VenuePosition{
		{Symbol: "BTCUSDT", Side: models.LegSideShort, Size: 0.1},
	}

	var triggers []*models.TriggerEvent
	f.bus.TriggerDetected.Subscribe(func(ev *models.TriggerEvent) { triggers = append(triggers, ev) })

	f.monitor.pollOnce()
	f.wait()

	if len(triggers) != 1 {
		t.Fatalf("triggers = %d, want 1", len(triggers))
	}
	if triggers[0].Type != models.TriggerLongSL {
		t.Errorf("Type = %s, want default %s", triggers[0].Type, models.TriggerLongSL)
	}
}

func TestPollSkipsUnreachableVenue(t *testing.T) {
	f := newTriggerFixture(t)
	f.positions.positions = []*models.Position{testPosition(1, "BTCUSDT")}

	// okx недоступна: отсутствие данных не значит отсутствие ноги
	f.binance.venuePositions = []exchange.VenuePosition{
		{Symbol: "BTCUSDT", Side: models.LegSideLong, Size: 0.1},
	}
	f.okx.venueErr = errors.New("venue timeout")

	f.monitor.pollOnce()
	f.wait()

	if f.monitor.Stats().TriggersDetected != 0 {
		t.Errorf("TriggersDetected = %d, want 0 for unreachable venue", f.monitor.Stats().TriggersDetected)
	}
}

func TestPollSkipsManualInterventionPositions(t *testing.T) {
	f := newTriggerFixture(t)
	pos := testPosition(1, "BTCUSDT")
	pos.RequiresManualIntervention = true
	f.positions.positions = []*models.Position{pos}

	// обе ноги пропали, но позиция уже на ручном разборе
	f.binance.venuePositions = nil
	f.okx.venuePositions = nil

	f.monitor.pollOnce()
	f.wait()

	if f.monitor.Stats().TriggersDetected != 0 {
		t.Errorf("TriggersDetected = %d, want 0 for manual intervention position", f.monitor.Stats().TriggersDetected)
	}
}

func TestPositionChangeTrigger(t *testing.T) {
	f := newTriggerFixture(t)
	f.positions.positions = []*models.Position{testPosition(1, "BTCUSDT")}

	// нога закрылась с прибылью: long вышел выше входа
	f.monitor.HandlePositionChange(exchange.PositionChange{
		Exchange:  "binance",
		Symbol:    "BTCUSDT",
		Side:      models.LegSideLong,
		Closed:    true,
		MarkPrice: 52000,
	})
	f.wait()

	if f.monitor.Stats().TriggersDetected != 1 {
		t.Fatalf("TriggersDetected = %d, want 1", f.monitor.Stats().TriggersDetected)
	}
	if f.okx.closedCount() != 1 {
		t.Errorf("okx closes = %d, want 1", f.okx.closedCount())
	}

	// событие без закрытия игнорируется
	f.monitor.HandlePositionChange(exchange.PositionChange{
		Exchange: "binance", Symbol: "BTCUSDT", Side: models.LegSideLong, Closed: false,
	})
	f.wait()
	if f.monitor.Stats().TriggersDetected != 1 {
		t.Errorf("TriggersDetected = %d, want still 1", f.monitor.Stats().TriggersDetected)
	}
}

func TestCloseSequenceRetriesTransientCloseFailure(t *testing.T) {
	f := newTriggerFixture(t)
	f.positions.positions = []*models.Position{testPosition(1, "BTCUSDT")}
	f.okx.closeFailures = 2 // первые две попытки падают, третья проходит

	f.monitor.HandleOrderStatus(exchange.OrderStatus{
		Exchange:  "binance",
		Symbol:    "BTCUSDT",
		Side:      models.LegSideLong,
		OrderType: exchange.OrderTypeStopLoss,
		Status:    exchange.OrderStatusTriggered,
	})
	f.wait()

	if f.okx.closeAttemptCount() != 3 {
		t.Errorf("close attempts = %d, want 3", f.okx.closeAttemptCount())
	}
	if f.okx.closedCount() != 1 {
		t.Fatalf("okx closes = %d, want 1 after retries", f.okx.closedCount())
	}
	if f.notifier.emergencyCount() != 0 {
		t.Errorf("emergencies = %d, want 0: транзиентный сбой не эскалируется", f.notifier.emergencyCount())
	}
	if f.monitor.Stats().ClosesCompleted != 1 || f.monitor.Stats().ClosesFailed != 0 {
		t.Errorf("stats = %+v", f.monitor.Stats())
	}
}

func TestTriggerMonitorStartStopIdempotent(t *testing.T) {
	f := newTriggerFixture(t)

	f.monitor.Start() // повторный старт - no-op
	f.monitor.Stop()
	f.monitor.Stop() // повторный стоп безопасен

	// после стопа dedup состояние чистое
	if f.monitor.dedup.Len() != 0 {
		t.Errorf("dedup Len = %d, want 0 after stop", f.monitor.dedup.Len())
	}
}

func TestTriggerMonitorRejectsEventsAfterStop(t *testing.T) {
	f := newTriggerFixture(t)
	f.positions.positions = []*models.Position{testPosition(1, "BTCUSDT")}

	f.monitor.Stop()

	// stream событие после остановки
	f.monitor.HandleOrderStatus(exchange.OrderStatus{
		Exchange:     "binance",
		Symbol:       "BTCUSDT",
		Side:         models.LegSideLong,
		OrderType:    exchange.OrderTypeStopLoss,
		Status:       exchange.OrderStatusTriggered,
		TriggerPrice: 49000,
	})
	// и его poll двойник
	f.monitor.HandlePositionChange(exchange.PositionChange{
		Exchange: "binance", Symbol: "BTCUSDT", Side: models.LegSideLong, Closed: true,
	})
	f.wait()

	if f.okx.closedCount() != 0 {
		t.Errorf("okx closes = %d, want 0 after stop", f.okx.closedCount())
	}
	if f.monitor.Stats().TriggersDetected != 0 {
		t.Errorf("TriggersDetected = %d, want 0 after stop", f.monitor.Stats().TriggersDetected)
	}
	if len(f.phases()) != 0 {
		t.Errorf("progress events = %d, want 0 after stop", len(f.phases()))
	}
}
