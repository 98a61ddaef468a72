// Package observability owns the Prometheus metrics and the metrics/health
// HTTP endpoint.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	agentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudgebot_agent_runs_total",
			Help: "Total number of agent runs",
		},
		[]string{"mode", "status"},
	)

	agentRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nudgebot_agent_run_duration_seconds",
			Help:    "Agent run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudgebot_tool_calls_total",
			Help: "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)

	storeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudgebot_store_requests_total",
			Help: "Total number of task store requests",
		},
		[]string{"method", "status"},
	)

	storeRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nudgebot_store_request_duration_seconds",
			Help:    "Task store request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	digestSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudgebot_digest_sends_total",
			Help: "Total number of digest runs by outcome",
		},
		[]string{"outcome"},
	)

	cleanupResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudgebot_cleanup_resolutions_total",
			Help: "Total number of cleanup resolutions by action",
		},
		[]string{"action"},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			agentRunsTotal,
			agentRunDuration,
			toolCallsTotal,
			storeRequestsTotal,
			storeRequestDuration,
			digestSendsTotal,
			cleanupResolutionsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordAgentRun records one agent run
func RecordAgentRun(mode, status string, duration time.Duration) {
	agentRunsTotal.WithLabelValues(mode, status).Inc()
	agentRunDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordToolCall records one tool invocation
func RecordToolCall(tool, status string) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordStoreRequest records one task store request
func RecordStoreRequest(method, status string, duration time.Duration) {
	storeRequestsTotal.WithLabelValues(method, status).Inc()
	storeRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordDigest records one digest run outcome (sent, edited, skipped, failed)
func RecordDigest(outcome string) {
	digestSendsTotal.WithLabelValues(outcome).Inc()
}

// RecordCleanupResolution records one cleanup resolution action
func RecordCleanupResolution(action string) {
	cleanupResolutionsTotal.WithLabelValues(action).Inc()
}
