// Package metrics owns the Prometheus collectors for the ingestion and
// retrieval pipeline. A nil *Metrics is valid and records nothing, so
// components and tests never need to nil-check before recording.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cograg"

// Metrics holds every pipeline collector.
type Metrics struct {
	// ingestTotal counts finished ingestion runs by outcome: "completed" or "failed".
	ingestTotal *prometheus.CounterVec

	// stageSeconds records per-stage ingestion latency
	// (parse, summarize, split, embed, upsert).
	stageSeconds *prometheus.HistogramVec

	// safetyRetries counts completions retried with the fallback sampling profile.
	safetyRetries prometheus.Counter

	// safetyBlocked counts windows blocked under both sampling profiles.
	safetyBlocked prometheus.Counter

	// retrieveSeconds records end-to-end retrieval latency.
	retrieveSeconds prometheus.Histogram

	// fallbackWiden counts threshold searches that were widened, by layer.
	fallbackWiden *prometheus.CounterVec

	// rerankFailures counts rerank calls that fell back to vector order.
	rerankFailures prometheus.Counter

	// workersBusy is the number of ingestion tasks currently running.
	workersBusy prometheus.Gauge
}

// New registers all collectors against reg. Pass a fresh
// prometheus.NewRegistry() in tests to keep them hermetic.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ingestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents that reached a terminal ingestion state, partitioned by outcome.",
		}, []string{"outcome"}),

		stageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each ingestion stage.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 180, 600},
		}, []string{"stage"}),

		safetyRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "summarizer",
			Name:      "safety_retries_total",
			Help:      "Completions retried with the fallback sampling profile after a safety interception.",
		}),

		safetyBlocked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "summarizer",
			Name:      "safety_blocked_total",
			Help:      "Summaries blocked under both sampling profiles.",
		}),

		retrieveSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "End-to-end retrieval latency.",
			Buckets:   prometheus.DefBuckets,
		}),

		fallbackWiden: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "fallback_widen_total",
			Help:      "Threshold searches re-run without a threshold, partitioned by layer.",
		}, []string{"layer"}),

		rerankFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "rerank_failures_total",
			Help:      "Rerank calls that failed and fell back to vector-score order.",
		}),

		workersBusy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "busy",
			Help:      "Ingestion tasks currently running.",
		}),
	}
}

// IngestFinished records a terminal ingestion outcome.
func (m *Metrics) IngestFinished(outcome string) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long an ingestion stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// SafetyRetry records a fallback-profile retry.
func (m *Metrics) SafetyRetry() {
	if m == nil {
		return
	}
	m.safetyRetries.Inc()
}

// SafetyBlocked records a terminal safety block.
func (m *Metrics) SafetyBlocked() {
	if m == nil {
		return
	}
	m.safetyBlocked.Inc()
}

// ObserveRetrieve records end-to-end retrieval latency.
func (m *Metrics) ObserveRetrieve(d time.Duration) {
	if m == nil {
		return
	}
	m.retrieveSeconds.Observe(d.Seconds())
}

// FallbackWiden records a widened search on layer.
func (m *Metrics) FallbackWiden(layer string) {
	if m == nil {
		return
	}
	m.fallbackWiden.WithLabelValues(layer).Inc()
}

// RerankFailed records a rerank fallback.
func (m *Metrics) RerankFailed() {
	if m == nil {
		return
	}
	m.rerankFailures.Inc()
}

// WorkerStarted increments the busy-worker gauge.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.workersBusy.Inc()
}

// WorkerDone decrements the busy-worker gauge.
func (m *Metrics) WorkerDone() {
	if m == nil {
		return
	}
	m.workersBusy.Dec()
}
