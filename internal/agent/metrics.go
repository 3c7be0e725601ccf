package agent

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for task execution inside agents.
type Metrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers agent metrics on the given registry.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hive",
			Subsystem: "agent",
			Name:      "executions_total",
			Help:      "Total task executions by agent role and result (success, retryable, terminal).",
		}, []string{"role", "result"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hive",
			Subsystem: "agent",
			Name:      "execution_duration_seconds",
			Help:      "Task execution duration in seconds by agent role.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"role"}),
	}

	reg.MustRegister(m.ExecutionsTotal, m.ExecutionDuration)
	return m
}

func (m *Metrics) observe(role string, kind ResultKind, d time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(role, kind.String()).Inc()
	m.ExecutionDuration.WithLabelValues(role).Observe(d.Seconds())
}
