package bot

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// FeeMode - режим комиссий при оценке связки
type FeeMode string

const (
	FeeModeMaker FeeMode = "maker" // обе ноги лимитными ордерами
	FeeModeTaker FeeMode = "taker" // обе ноги рыночными ордерами
	// Смешанный режим асимметричен намеренно: long нога входит maker,
	// short нога taker. Это жёсткий контракт, не случайность.
	FeeModeMixed FeeMode = "mixed"
)

// AssessorConfig - комиссии и пороги оценки
type AssessorConfig struct {
	MakerFeeRate        float64 // доля нотионала за ногу
	TakerFeeRate        float64
	MinProfitPct        float64 // порог чистой прибыли, %
	ExtremePriceDiffPct float64 // порог предупреждения о разъезде цен, %
}

// Assessment - результат оценки связки
type Assessment struct {
	Symbol       string  `json:"symbol"`
	Feasible     bool    `json:"feasible"`
	Reason       string  `json:"reason,omitempty"` // почему не feasible
	SpreadAmount float64 `json:"spread_amount"`    // нотионал × спред
	FeeAmount    float64 `json:"fee_amount"`       // суммарные комиссии обеих ног
	NetProfit    float64 `json:"net_profit"`
	NetProfitPct float64 `json:"net_profit_pct"`
	// Предупреждение: расхождение цен ног превышает порог, вход рискован
	ExtremePriceDiff bool `json:"extreme_price_diff"`
}

// Причины отрицательной оценки
const (
	ReasonNoPairInfo    = "no pair information"
	ReasonBelowMinLevel = "net profit below minimum threshold"
)

// Assessor - чистый расчётный слой: по снимку пары и нотионалу считает
// комиссии, чистую прибыль и выполнимость. Состояния не имеет.
type Assessor struct {
	cfg AssessorConfig
}

// NewAssessor создаёт ассессор
func NewAssessor(cfg AssessorConfig) *Assessor {
	return &Assessor{cfg: cfg}
}

// legFees возвращает суммарную ставку комиссий обеих ног для режима
func (a *Assessor) legFees(mode FeeMode) float64 {
	switch mode {
	case FeeModeMaker:
		return a.cfg.MakerFeeRate * 2
	case FeeModeTaker:
		return a.cfg.TakerFeeRate * 2
	case FeeModeMixed:
		return a.cfg.MakerFeeRate + a.cfg.TakerFeeRate
	default:
		return a.cfg.TakerFeeRate * 2
	}
}

// Assess оценивает связку при данном нотионале и режиме комиссий.
//
// Отсутствие best pair - не ошибка: возвращается not feasible
// с явной причиной, чтобы даунстрим отличал "нет данных" от "невыгодно".
// Отсутствие данных о ценах ног лишь отключает предупреждение
// об экстремальном расхождении, оценка продолжается.
func (a *Assessor) Assess(pair *models.FundingRatePair, notional float64, mode FeeMode) *Assessment {
	if pair == nil || pair.Best == nil {
		symbol := ""
		if pair != nil {
			symbol = pair.Symbol
		}
		return &Assessment{
			Symbol:   symbol,
			Feasible: false,
			Reason:   ReasonNoPairInfo,
		}
	}

	spreadAmount := notional * pair.Best.Spread
	feeAmount := notional * a.legFees(mode)
	netProfit := spreadAmount - feeAmount

	netProfitPct := 0.0
	if notional > 0 {
		netProfitPct = netProfit / notional * 100
	}

	result := &Assessment{
		Symbol:       pair.Symbol,
		SpreadAmount: spreadAmount,
		FeeAmount:    feeAmount,
		NetProfit:    netProfit,
		NetProfitPct: netProfitPct,
		Feasible:     netProfitPct >= a.cfg.MinProfitPct,
	}
	if !result.Feasible {
		result.Reason = ReasonBelowMinLevel
	}
	if pair.Best.HasPriceDiff && pair.Best.PriceDiffPct > a.cfg.ExtremePriceDiffPct {
		result.ExtremePriceDiff = true
	}

	return result
}

// Opportunity - активная арбитражная возможность по символу
type Opportunity struct {
	Symbol     string             `json:"symbol"`
	Pair       *models.BestPair   `json:"pair"`
	Assessment *Assessment        `json:"assessment"`
	FirstSeen  time.Time          `json:"first_seen"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// OpportunityTracker следит за жизненным циклом возможностей:
// появление (new), изменение параметров (update), исчезновение (expired).
// Подписан на rate-updated, оценивает каждую пару ассессором.
type OpportunityTracker struct {
	assessor *Assessor
	bus      *Bus
	logger   *zap.Logger

	// нотионал и режим комиссий для эталонной оценки
	refNotional float64
	refMode     FeeMode

	mu     sync.Mutex
	active map[string]*Opportunity
}

// NewOpportunityTracker создаёт трекер возможностей
func NewOpportunityTracker(assessor *Assessor, refNotional float64, refMode FeeMode, bus *Bus, logger *zap.Logger) *OpportunityTracker {
	return &OpportunityTracker{
		assessor:    assessor,
		bus:         bus,
		logger:      logger.Named("opportunities"),
		refNotional: refNotional,
		refMode:     refMode,
		active:      make(map[string]*Opportunity),
	}
}

// HandleRateUpdate оценивает пару и публикует события жизненного цикла
func (t *OpportunityTracker) HandleRateUpdate(pair *models.FundingRatePair) {
	assessment := t.assessor.Assess(pair, t.refNotional, t.refMode)
	now := time.Now()

	t.mu.Lock()
	existing, wasActive := t.active[pair.Symbol]

	switch {
	case assessment.Feasible && !wasActive:
		opp := &Opportunity{
			Symbol:     pair.Symbol,
			Pair:       pair.Best,
			Assessment: assessment,
			FirstSeen:  now,
			UpdatedAt:  now,
		}
		t.active[pair.Symbol] = opp
		t.mu.Unlock()

		opportunityEvents.WithLabelValues("new").Inc()
		t.logger.Info("new opportunity",
			zap.String("symbol", pair.Symbol),
			zap.String("long", pair.Best.LongExchange),
			zap.String("short", pair.Best.ShortExchange),
			zap.Float64("net_profit", assessment.NetProfit))
		t.bus.OpportunityNew.Publish(opp)

	case assessment.Feasible && wasActive:
		existing.Pair = pair.Best
		existing.Assessment = assessment
		existing.UpdatedAt = now
		opp := *existing
		t.mu.Unlock()

		opportunityEvents.WithLabelValues("update").Inc()
		t.bus.OpportunityUpdate.Publish(&opp)

	case !assessment.Feasible && wasActive:
		delete(t.active, pair.Symbol)
		existing.UpdatedAt = now
		t.mu.Unlock()

		opportunityEvents.WithLabelValues("expired").Inc()
		t.logger.Info("opportunity expired",
			zap.String("symbol", pair.Symbol),
			zap.String("reason", assessment.Reason))
		t.bus.OpportunityExpired.Publish(existing)

	default:
		t.mu.Unlock()
	}
}

// Active возвращает снимок активных возможностей
func (t *OpportunityTracker) Active() []*Opportunity {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Opportunity, 0, len(t.active))
	for _, opp := range t.active {
		copied := *opp
		out = append(out, &copied)
	}
	return out
}

// Reset очищает активные возможности
func (t *OpportunityTracker) Reset() {
	t.mu.Lock()
	t.active = make(map[string]*Opportunity)
	t.mu.Unlock()
}
