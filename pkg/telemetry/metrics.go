package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the pipeline.
type Metrics struct {
	config MetricsConfig

	// Batch metrics
	batchesStarted   prometheus.Counter
	batchesCompleted *prometheus.CounterVec
	batchDuration    prometheus.Histogram

	// Item metrics
	itemsProcessed *prometheus.CounterVec

	// Classifier metrics
	classifierCalls    *prometheus.CounterVec
	classifierDuration prometheus.Histogram

	// Mutation metrics
	mutationsApplied  *prometheus.CounterVec
	mutationConflicts prometheus.Counter
	mutationSkips     prometheus.Counter

	// Claim metrics
	claims *prometheus.CounterVec

	// Digest metrics
	digestsSent *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance; all record methods nil-check.
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_started_total",
			Help:      "Total number of batch invocations started",
		}),
		batchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_completed_total",
			Help:      "Total number of batch invocations completed, by status",
		}, []string{"status"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch invocations",
			Buckets:   buckets,
		}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Total number of source items processed, by outcome",
		}, []string{"outcome"}),
		classifierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_calls_total",
			Help:      "Total number of classifier calls, by status",
		}, []string{"status"}),
		classifierDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classifier_call_duration_seconds",
			Help:      "Duration of classifier calls",
			Buckets:   buckets,
		}),
		mutationsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_applied_total",
			Help:      "Total number of destination mutations applied, by operation and outcome",
		}, []string{"op", "outcome"}),
		mutationConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_conflicts_total",
			Help:      "Total number of optimistic-write conflicts detected",
		}),
		mutationSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_skips_total",
			Help:      "Total number of mutations skipped because their idempotency key was already applied",
		}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Total number of claim attempts, by result",
		}, []string{"result"}),
		digestsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_sent_total",
			Help:      "Total number of digest notifications sent, by kind and status",
		}, []string{"kind", "status"}),
	}

	registry.MustRegister(
		m.batchesStarted, m.batchesCompleted, m.batchDuration,
		m.itemsProcessed,
		m.classifierCalls, m.classifierDuration,
		m.mutationsApplied, m.mutationConflicts, m.mutationSkips,
		m.claims, m.digestsSent,
	)

	return m, nil
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordBatchStarted increments the batches started counter.
func (m *Metrics) RecordBatchStarted() {
	if m.batchesStarted != nil {
		m.batchesStarted.Inc()
	}
}

// RecordBatchCompleted records a completed batch with its duration.
func (m *Metrics) RecordBatchCompleted(status string, duration time.Duration) {
	if m.batchesCompleted != nil {
		m.batchesCompleted.WithLabelValues(status).Inc()
		m.batchDuration.Observe(duration.Seconds())
	}
}

// RecordItemOutcome records a processed item by terminal outcome.
func (m *Metrics) RecordItemOutcome(outcome string) {
	if m.itemsProcessed != nil {
		m.itemsProcessed.WithLabelValues(outcome).Inc()
	}
}

// RecordClassifierCall records one classifier call.
func (m *Metrics) RecordClassifierCall(status string, duration time.Duration) {
	if m.classifierCalls != nil {
		m.classifierCalls.WithLabelValues(status).Inc()
		m.classifierDuration.Observe(duration.Seconds())
	}
}

// RecordMutation records one mutation apply attempt outcome.
func (m *Metrics) RecordMutation(op, outcome string) {
	if m.mutationsApplied != nil {
		m.mutationsApplied.WithLabelValues(op, outcome).Inc()
	}
}

// RecordMutationConflict records a detected optimistic-write conflict.
func (m *Metrics) RecordMutationConflict() {
	if m.mutationConflicts != nil {
		m.mutationConflicts.Inc()
	}
}

// RecordMutationSkip records an idempotent skip.
func (m *Metrics) RecordMutationSkip() {
	if m.mutationSkips != nil {
		m.mutationSkips.Inc()
	}
}

// RecordClaim records a claim attempt result (won, lost).
func (m *Metrics) RecordClaim(result string) {
	if m.claims != nil {
		m.claims.WithLabelValues(result).Inc()
	}
}

// RecordDigest records a digest delivery attempt.
func (m *Metrics) RecordDigest(kind, status string) {
	if m.digestsSent != nil {
		m.digestsSent.WithLabelValues(kind, status).Inc()
	}
}
