package bot

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/pkg/mathutil"
)

// часов в году для аннуализации спреда
const hoursPerYear = 8760.0

// AggregatorConfig - настройки агрегатора ставок
type AggregatorConfig struct {
	// Общий временной базис нормализации, часы
	BasisHours float64
	// Окно свежести котировки
	StalenessWindow time.Duration
	// TTL котировок в кэше
	QuoteTTL time.Duration
	// Комбинированный fee class по биржам для tie-break (меньше - лучше)
	FeeClass map[string]float64
}

// Aggregator сводит котировки фандинга разных бирж к общему базису
// и держит актуальную FundingRatePair по каждому символу.
//
// Нормализация линейная: ставка за нативный интервал делится на интервал
// и умножается на базис. Биржи котируют ставку за период, компаундинга нет.
//
// Best pair пересчитывается на каждом обновлении котировки сканом всех
// СВЕЖИХ котировок символа; свежесть определяется по recorded-at, а не
// по порядку прихода, поэтому агрегатор корректен при interleaving бирж.
type Aggregator struct {
	cfg       AggregatorConfig
	quotes    *Cache[*models.ExchangeQuote]
	intervals *Cache[models.FundingInterval]
	bus       *Bus
	logger    *zap.Logger

	mu sync.Mutex
	// биржи, когда-либо присылавшие котировки по символу
	seen map[string]map[string]struct{}
	// последняя собранная пара по символу
	pairs map[string]*models.FundingRatePair
}

// NewAggregator создаёт агрегатор
func NewAggregator(cfg AggregatorConfig, quotes *Cache[*models.ExchangeQuote], intervals *Cache[models.FundingInterval], bus *Bus, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		cfg:       cfg,
		quotes:    quotes,
		intervals: intervals,
		bus:       bus,
		logger:    logger.Named("aggregator"),
		seen:      make(map[string]map[string]struct{}),
		pairs:     make(map[string]*models.FundingRatePair),
	}
}

// NormalizeRate приводит ставку за intervalHours к базису basisHours.
// Линейный rescale, обратим в пределах плавающей точности.
func NormalizeRate(rate, intervalHours, basisHours float64) float64 {
	if intervalHours <= 0 || basisHours <= 0 {
		return rate
	}
	return rate / intervalHours * basisHours
}

// OnQuote обрабатывает новую котировку: кладёт её в кэш и пересчитывает
// пару символа. Вызывается из callbacks адаптеров.
func (a *Aggregator) OnQuote(q *models.ExchangeQuote) {
	if q == nil || q.Symbol == "" || q.Exchange == "" {
		return
	}
	// Адаптеры интервал в котировке не несут: он выучивается отдельно
	// и хранится в кэше интервалов с провенансом
	if q.IntervalHours <= 0 {
		if iv, ok := a.intervals.Get(CacheKey(q.Exchange, q.Symbol)); ok {
			q.IntervalHours = iv.Hours
		} else {
			q.IntervalHours = 8
		}
	}

	a.quotes.Set(CacheKey(q.Exchange, q.Symbol), q, a.cfg.QuoteTTL)
	quotesReceived.WithLabelValues(q.Exchange, q.Source).Inc()

	a.mu.Lock()
	if a.seen[q.Symbol] == nil {
		a.seen[q.Symbol] = make(map[string]struct{})
	}
	a.seen[q.Symbol][q.Exchange] = struct{}{}
	pair := a.rebuildLocked(q.Symbol)
	a.mu.Unlock()

	rateUpdates.WithLabelValues(q.Symbol).Inc()
	if pair.Best != nil {
		currentSpread.WithLabelValues(q.Symbol).Set(pair.Best.Spread)
	} else {
		currentSpread.WithLabelValues(q.Symbol).Set(0)
	}

	a.bus.RateUpdated.Publish(pair)
}

// SetFeeClass обновляет комбинированный fee class биржи для tie-break.
// Вызывается движком после уточнения комиссий через API биржи.
func (a *Aggregator) SetFeeClass(exchangeName string, feeClass float64) {
	a.mu.Lock()
	a.cfg.FeeClass[exchangeName] = feeClass
	a.mu.Unlock()
}

// Pair возвращает последнюю собранную пару символа
func (a *Aggregator) Pair(symbol string) (*models.FundingRatePair, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pairs[symbol]
	return p, ok
}

// Symbols возвращает символы с хотя бы одной известной котировкой
func (a *Aggregator) Symbols() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.seen))
	for s := range a.seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// rebuildLocked собирает пару символа из свежих котировок кэша.
// Вызывается под a.mu.
func (a *Aggregator) rebuildLocked(symbol string) *models.FundingRatePair {
	now := time.Now()
	fresh := make(map[string]models.ExchangeQuote)

	for ex := range a.seen[symbol] {
		q, ok := a.quotes.Get(CacheKey(ex, symbol))
		if !ok {
			continue
		}
		// Дополнительно к TTL кэша проверяем окно свежести:
		// протухшие котировки не участвуют в выборе best pair
		if now.Sub(q.RecordedAt) > a.cfg.StalenessWindow {
			continue
		}
		fresh[ex] = *q
	}

	pair := &models.FundingRatePair{
		Symbol:     symbol,
		Quotes:     fresh,
		Best:       a.bestPair(fresh),
		RecordedAt: now,
	}
	a.pairs[symbol] = pair
	return pair
}

// bestPair выбирает комбинацию (long, short), максимизирующую
// нормализованный спред shortRate - longRate. При равенстве спредов
// выигрывает пара с меньшим суммарным fee class, затем лексикографический
// порядок имён бирж для детерминизма.
//
// Меньше двух свежих котировок - пары нет (nil, не нули): даунстрим
// различает "нет возможности" и "нет данных".
func (a *Aggregator) bestPair(fresh map[string]models.ExchangeQuote) *models.BestPair {
	if len(fresh) < 2 {
		return nil
	}

	exchanges := make([]string, 0, len(fresh))
	for ex := range fresh {
		exchanges = append(exchanges, ex)
	}
	sort.Strings(exchanges)

	var best *models.BestPair
	var bestFeeClass float64

	for _, longEx := range exchanges {
		for _, shortEx := range exchanges {
			if longEx == shortEx {
				continue
			}
			longQ := fresh[longEx]
			shortQ := fresh[shortEx]

			longRate := NormalizeRate(longQ.FundingRate, longQ.IntervalHours, a.cfg.BasisHours)
			shortRate := NormalizeRate(shortQ.FundingRate, shortQ.IntervalHours, a.cfg.BasisHours)
			spread := shortRate - longRate

			feeClass := a.cfg.FeeClass[longEx] + a.cfg.FeeClass[shortEx]

			if best != nil {
				switch {
				case mathutil.AlmostEqual(spread, best.Spread, mathutil.Epsilon):
					// При равных спредах выигрывает меньший fee class;
					// при равных fee class остаётся ранняя пара -
					// обход в отсортированном порядке даёт детерминизм
					if feeClass >= bestFeeClass {
						continue
					}
				case spread < best.Spread:
					continue
				}
			}

			candidate := &models.BestPair{
				LongExchange:  longEx,
				ShortExchange: shortEx,
				Spread:        spread,
				AnnualizedPct: spread * (hoursPerYear / a.cfg.BasisHours) * 100,
			}
			if longQ.MarkPrice > 0 && shortQ.MarkPrice > 0 {
				candidate.PriceDiffPct = mathutil.PctDiff(longQ.MarkPrice, shortQ.MarkPrice)
				candidate.HasPriceDiff = true
			}

			best = candidate
			bestFeeClass = feeClass
		}
	}

	return best
}
