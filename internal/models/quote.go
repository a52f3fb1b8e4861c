package models

import "time"

// Источник котировки
const (
	QuoteSourceStream = "stream" // получена из WebSocket потока
	QuoteSourcePoll   = "poll"   // получена через REST fallback
)

// Провенанс интервала фандинга
const (
	IntervalProvenanceNative  = "native"  // биржа сообщает интервал явно
	IntervalProvenanceDerived = "derived" // вычислен из соседних nextFundingTime
	IntervalProvenanceDefault = "default" // значение по умолчанию (8h)
)

// ExchangeQuote - неизменяемый снимок ставки фандинга одной биржи для символа.
//
// RecordedAt ставится в момент ПРИЕМА события, а не по времени биржи -
// все сравнения свежести в движке делаются в единой шкале времени.
type ExchangeQuote struct {
	Exchange      string    `json:"exchange"`
	Symbol        string    `json:"symbol"`
	FundingRate   float64   `json:"funding_rate"`   // ставка за нативный интервал (доля, не %)
	MarkPrice     float64   `json:"mark_price"`
	IndexPrice    float64   `json:"index_price"`
	NextFundingAt time.Time `json:"next_funding_at"`
	IntervalHours float64   `json:"interval_hours"` // нативный интервал фандинга в часах
	Source        string    `json:"source"`         // stream | poll
	RecordedAt    time.Time `json:"recorded_at"`
}

// FundingInterval - выученный интервал фандинга с провенансом.
// Хранится в отдельном кэше (exchange, symbol) → interval.
type FundingInterval struct {
	Hours      float64   `json:"hours"`
	Provenance string    `json:"provenance"` // native | derived | default
	LearnedAt  time.Time `json:"learned_at"`
}

// BestPair - лучшая связка long/short для символа.
//
// Spread выражен как доля нотионала за общий временной базис
// (short rate − long rate после приведения к базису).
type BestPair struct {
	LongExchange  string  `json:"long_exchange"`
	ShortExchange string  `json:"short_exchange"`
	Spread        float64 `json:"spread"`         // доля за базисный интервал
	AnnualizedPct float64 `json:"annualized_pct"` // годовая экстраполяция, %
	PriceDiffPct  float64 `json:"price_diff_pct"` // расхождение mark цен ног, %
	HasPriceDiff  bool    `json:"has_price_diff"` // false если mark цены недоступны
}

// FundingRatePair - агрегированное состояние символа по всем биржам.
//
// Best == nil означает "нет данных" (меньше двух свежих котировок),
// что потребители обязаны отличать от "нет возможности".
// Карта Quotes строится заново при каждом пересчете - снимок не мутируется.
type FundingRatePair struct {
	Symbol     string                   `json:"symbol"`
	Quotes     map[string]ExchangeQuote `json:"quotes"` // exchange → котировка (приведенная к базису)
	Best       *BestPair                `json:"best_pair,omitempty"`
	RecordedAt time.Time                `json:"recorded_at"`
}
