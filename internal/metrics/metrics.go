package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_sessions_started_total",
			Help: "Total number of research sessions started",
		},
	)

	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_sessions_completed_total",
			Help: "Total number of research sessions reaching a terminal state",
		},
		[]string{"status", "degraded"},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quill_session_duration_seconds",
			Help:    "End-to-end session duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 180, 300, 600},
		},
	)

	// Stage metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quill_stage_duration_seconds",
			Help:    "Per-stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_stage_timeouts_total",
			Help: "Total number of stage allowances that elapsed",
		},
		[]string{"stage"},
	)

	// Source fetching metrics
	ProviderFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_provider_fetches_total",
			Help: "Total number of provider fetch attempts",
		},
		[]string{"provider", "status"},
	)

	ProviderFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_provider_fallbacks_total",
			Help: "Total number of fallbacks to a later provider in the chain",
		},
	)

	SourcesValidated = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quill_sources_validated",
			Help:    "Number of validated sources per session",
			Buckets: []float64{0, 2, 5, 10, 15, 20, 30},
		},
	)

	// Analysis metrics
	AnalysisRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_analysis_retries_total",
			Help: "Total number of analysis call retries after backoff",
		},
	)

	AnalysisFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_analysis_failures_total",
			Help: "Total number of sources abandoned after retry exhaustion",
		},
	)

	// Gate metrics
	GateVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_gate_verdicts_total",
			Help: "Total number of gate verdicts by gate and outcome",
		},
		[]string{"gate", "passed"},
	)

	RegenerationAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_regeneration_attempts_total",
			Help: "Total number of draft regenerations triggered by gate failures",
		},
	)

	DegradedReturns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_degraded_returns_total",
			Help: "Total number of drafts returned with the degraded flag",
		},
	)

	// Session store metrics
	SessionStoreSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quill_session_store_size",
			Help: "Current number of sessions held by the store",
		},
	)
)

// RecordStage records a completed stage execution.
func RecordStage(stage string, seconds float64) {
	StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordGate records one gate verdict.
func RecordGate(gate string, passed bool) {
	label := "false"
	if passed {
		label = "true"
	}
	GateVerdicts.WithLabelValues(gate, label).Inc()
}

// RecordSessionCompleted records a terminal session.
func RecordSessionCompleted(status string, degraded bool, seconds float64) {
	d := "false"
	if degraded {
		d = "true"
	}
	SessionsCompleted.WithLabelValues(status, d).Inc()
	SessionDuration.Observe(seconds)
}
