package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric definitions for the propagation backend

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dncprop",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "handler", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dncprop",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"method", "handler"},
	)

	// Request ledger metrics
	requestDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dncprop",
			Subsystem: "removal",
			Name:      "request_decisions_total",
			Help:      "Removal request decisions by outcome",
		},
		[]string{"decision"},
	)

	// Propagation metrics
	attemptOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dncprop",
			Subsystem: "propagation",
			Name:      "attempt_outcomes_total",
			Help:      "Terminal attempt outcomes per provider",
		},
		[]string{"provider", "outcome"},
	)

	providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dncprop",
			Subsystem: "propagation",
			Name:      "provider_call_duration_seconds",
			Help:      "Duration of external provider calls",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~160s
		},
		[]string{"provider", "operation"},
	)

	orchestrationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dncprop",
			Subsystem: "propagation",
			Name:      "orchestration_runs_total",
			Help:      "Orchestration runs by result",
		},
		[]string{"result"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dncprop",
			Subsystem: "propagation",
			Name:      "queue_depth",
			Help:      "Requests waiting for orchestration",
		},
	)

	// Auditor metrics
	repairRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dncprop",
			Subsystem: "audit",
			Name:      "repair_rows_total",
			Help:      "Rows affected by auditor repair operations",
		},
		[]string{"operation"},
	)
)

// RecordHTTPRequest records one handled HTTP request
func RecordHTTPRequest(method, handler, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, handler, status).Inc()
	httpRequestDuration.WithLabelValues(method, handler).Observe(duration.Seconds())
}

// RecordDecision records an approve/deny outcome
func RecordDecision(decision string) {
	requestDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordAttemptOutcome records a terminal attempt state for a provider
func RecordAttemptOutcome(provider, outcome string) {
	attemptOutcomesTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordProviderCall records the duration of one adapter call
func RecordProviderCall(provider, operation string, duration time.Duration) {
	providerCallDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordOrchestrationRun records one orchestration run result
func RecordOrchestrationRun(result string) {
	orchestrationRunsTotal.WithLabelValues(result).Inc()
}

// SetQueueDepth reports the current orchestration queue depth
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// RecordRepair records rows affected by an auditor repair
func RecordRepair(operation string, rows int) {
	repairRowsTotal.WithLabelValues(operation).Add(float64(rows))
}
