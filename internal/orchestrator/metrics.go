package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the assignment loop.
// All metrics use the hive_orchestrator_ prefix.
type Metrics struct {
	AssignmentsTotal   *prometheus.CounterVec
	AssignmentDuration prometheus.Histogram
	PendingTasks       prometheus.Gauge
	TasksSubmitted     prometheus.Counter
}

// NewMetrics creates and registers orchestrator metrics on the given registry.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		AssignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hive",
			Subsystem: "orchestrator",
			Name:      "assignments_total",
			Help:      "Assignment passes by outcome (assigned, requeued, no_candidate, dead_lettered, deadline_missed, skipped).",
		}, []string{"outcome"}),

		AssignmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hive",
			Subsystem: "orchestrator",
			Name:      "assignment_duration_seconds",
			Help:      "Time spent scoring agents and handing a task over.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		PendingTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hive",
			Subsystem: "orchestrator",
			Name:      "pending_tasks",
			Help:      "Number of tasks waiting in the pending queue.",
		}),

		TasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hive",
			Subsystem: "orchestrator",
			Name:      "tasks_enqueued_total",
			Help:      "Total tasks handed to the pending queue by submitters.",
		}),
	}

	reg.MustRegister(
		m.AssignmentsTotal,
		m.AssignmentDuration,
		m.PendingTasks,
		m.TasksSubmitted,
	)

	return m
}
