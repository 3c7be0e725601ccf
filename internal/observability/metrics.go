package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsCollector owns the process registry. Orchestrator and agent
// metrics register themselves on Registry; the collector adds HTTP and
// snapshot store metrics plus the Go runtime collectors.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Snapshot store metrics.
	StateOpsTotal   *prometheus.CounterVec
	StateOpDuration *prometheus.HistogramVec
	StateBytes      *prometheus.GaugeVec

	// Task submission metrics.
	SubmissionsTotal *prometheus.CounterVec

	// HTTP API metrics.
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

		StateOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hive",
			Subsystem: "state",
			Name:      "operations_total",
			Help:      "Total snapshot store operations.",
		}, []string{"op", "driver", "status"}),

		StateOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hive",
			Subsystem: "state",
			Name:      "operation_duration_seconds",
			Help:      "Snapshot store operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"op", "driver"}),

		StateBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hive",
			Subsystem: "state",
			Name:      "snapshot_bytes",
			Help:      "Size of the last saved or loaded snapshot.",
		}, []string{"op"}),

		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hive",
			Subsystem: "submission",
			Name:      "requests_total",
			Help:      "Task submissions by task type and result.",
		}, []string{"task_type", "result"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hive",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hive",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hive",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.StateOpsTotal,
		m.StateOpDuration,
		m.StateBytes,
		m.SubmissionsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// RecordSubmission counts a submission. Nil-safe.
func (m *MetricsCollector) RecordSubmission(taskType, result string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(taskType, result).Inc()
}

// Reg returns the registry, or nil when metrics are disabled.
func (m *MetricsCollector) Reg() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.Registry
}
