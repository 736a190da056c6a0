package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for AdGate.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Safety pipeline metrics.
	PreviewsTotal          *prometheus.CounterVec
	ConfirmationsTotal     *prometheus.CounterVec
	BlockedOperationsTotal *prometheus.CounterVec
	TokenExpiriesTotal     prometheus.Counter

	// Snapshot metrics.
	RollbacksTotal *prometheus.CounterVec

	// Platform call metrics.
	PlatformCallsTotal   *prometheus.CounterVec
	PlatformCallDuration *prometheus.HistogramVec

	// Tool execution metrics.
	ToolExecutionDuration *prometheus.HistogramVec

	// Admin HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		PreviewsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adgate",
			Subsystem: "safety",
			Name:      "previews_total",
			Help:      "Total dry-run previews issued.",
		}, []string{"tool"}),

		ConfirmationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adgate",
			Subsystem: "safety",
			Name:      "confirmations_total",
			Help:      "Total confirmation attempts by outcome.",
		}, []string{"tool", "status"}),

		BlockedOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adgate",
			Subsystem: "safety",
			Name:      "blocked_operations_total",
			Help:      "Total operations refused by the safety pipeline.",
		}, []string{"operation", "reason"}),

		TokenExpiriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "adgate",
			Subsystem: "safety",
			Name:      "token_expiries_total",
			Help:      "Total confirmation tokens swept after expiry.",
		}),

		RollbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adgate",
			Subsystem: "snapshot",
			Name:      "rollbacks_total",
			Help:      "Total rollback attempts by outcome.",
		}, []string{"status"}),

		PlatformCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adgate",
			Subsystem: "platform",
			Name:      "calls_total",
			Help:      "Total platform API calls.",
		}, []string{"platform", "operation", "status"}),

		PlatformCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adgate",
			Subsystem: "platform",
			Name:      "call_duration_seconds",
			Help:      "Platform API call duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"platform", "operation"}),

		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adgate",
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "adgate",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.PreviewsTotal,
		m.ConfirmationsTotal,
		m.BlockedOperationsTotal,
		m.TokenExpiriesTotal,
		m.RollbacksTotal,
		m.PlatformCallsTotal,
		m.PlatformCallDuration,
		m.ToolExecutionDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}
