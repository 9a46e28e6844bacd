package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GradingTierTotal counts grading tier outcomes
	GradingTierTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mockexam_grading_tier_total",
			Help: "Grading tier attempts by outcome",
		},
		[]string{"tier", "outcome"},
	)

	// RetryAttemptsTotal counts retries scheduled by the backoff transport
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mockexam_retry_attempts_total",
			Help: "Total number of retried remote calls",
		},
		[]string{"operation"},
	)

	// RemoteCallsTotal counts AI gateway calls per operation and model
	RemoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mockexam_remote_calls_total",
			Help: "Total number of AI gateway calls",
		},
		[]string{"operation", "model", "status"},
	)

	// RemoteCallLatency tracks AI gateway call latency
	RemoteCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mockexam_remote_call_latency_seconds",
			Help:    "AI gateway call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "model"},
	)

	// FallbacksTotal counts local substitutes used for assist operations
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mockexam_local_fallbacks_total",
			Help: "Total number of local fallback results",
		},
		[]string{"operation"},
	)

	// PersistErrorsTotal counts failed session snapshot reads and writes
	PersistErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mockexam_persist_errors_total",
			Help: "Total number of session persistence errors",
		},
		[]string{"op"},
	)
)
