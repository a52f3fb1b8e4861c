package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики мониторингового движка
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о проблемах

// ============ Поток котировок ============

// quotesReceived - количество принятых котировок фандинга
var quotesReceived = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "engine",
		Name:      "quotes_received_total",
		Help:      "Total number of funding rate quotes received",
	},
	[]string{"exchange", "source"}, // source: stream | poll
)

// sourceFallbacks - переключения stream → poll и обратно
var sourceFallbacks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "engine",
		Name:      "source_changes_total",
		Help:      "Total number of quote source changes per exchange",
	},
	[]string{"exchange", "source"},
)

// ============ Кэши ============

var cacheHits = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total number of cache hits",
	},
	[]string{"cache"},
)

var cacheMisses = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total number of cache misses",
	},
	[]string{"cache"},
)

var cacheSets = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "cache",
		Name:      "sets_total",
		Help:      "Total number of cache writes",
	},
	[]string{"cache"},
)

// ============ Агрегатор и возможности ============

// rateUpdates - пересчёты best pair по символам
var rateUpdates = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "engine",
		Name:      "rate_updates_total",
		Help:      "Total number of funding rate pair recomputations",
	},
	[]string{"symbol"},
)

// currentSpread - текущий нормализованный спред по символу
var currentSpread = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "fundingarb",
		Subsystem: "engine",
		Name:      "best_pair_spread",
		Help:      "Current best pair normalized funding spread per symbol",
	},
	[]string{"symbol"},
)

// opportunityEvents - события жизненного цикла возможностей
var opportunityEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "engine",
		Name:      "opportunity_events_total",
		Help:      "Total number of opportunity lifecycle events",
	},
	[]string{"event"}, // new | update | expired
)

// ============ Триггеры и закрытия ============

var triggersDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "trigger",
		Name:      "detected_total",
		Help:      "Total number of SL/TP triggers detected",
	},
	[]string{"type", "source"}, // LONG_SL... x stream | poll
)

var triggerDedupSkips = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "trigger",
		Name:      "dedup_skips_total",
		Help:      "Total number of duplicate trigger events skipped",
	},
)

var closeSequences = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "trigger",
		Name:      "close_sequences_total",
		Help:      "Total number of finished two-leg close sequences",
	},
	[]string{"result"}, // completed | failed
)

// closeSequenceDuration - длительность закрытия второй ноги
var closeSequenceDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "fundingarb",
		Subsystem: "trigger",
		Name:      "close_sequence_seconds",
		Help:      "Duration of a two-leg close sequence in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	},
)

// ============ Exit-подсказки ============

var exitSuggestions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "exit",
		Name:      "suggestions_total",
		Help:      "Total number of exit suggestions emitted",
	},
	[]string{"reason"},
)

var exitCancellations = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "exit",
		Name:      "cancellations_total",
		Help:      "Total number of exit suggestion cancellations",
	},
)

var exitErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "exit",
		Name:      "errors_total",
		Help:      "Total number of per-position errors during exit evaluation",
	},
)

// ============ Адаптеры ============

// adapterState - состояние адаптера биржи (значение State)
var adapterState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "fundingarb",
		Subsystem: "adapter",
		Name:      "state",
		Help:      "Exchange adapter connection state (0=disconnected..5=closed)",
	},
	[]string{"exchange"},
)
