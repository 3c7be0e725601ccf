// Package orchestrator implements the hive scheduling loop: it pulls the
// most urgent pending task, scores every registered agent for it, hands
// it to the best match and handles re-queue, backoff and terminal failure.
package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/hive/internal/agent"
	"github.com/jkaninda/hive/internal/task"
)

// Directory lists the agents eligible for assignment. The registry implements it.
type Directory interface {
	GetAll() []*agent.Agent
}

// Outcome is the result of one assignment pass.
type Outcome string

const (
	OutcomeIdle           Outcome = "idle"            // Pending queue was empty.
	OutcomeAssigned       Outcome = "assigned"        // Task handed to an agent.
	OutcomeDeadlineMissed Outcome = "deadline_missed" // Task was overdue; failed_deadline.
	OutcomeSkipped        Outcome = "skipped"         // Task was already terminal (e.g. cancelled).
	OutcomeRequeued       Outcome = "requeued"        // Best candidate refused; task re-queued.
	OutcomeNoCandidate    Outcome = "no_candidate"    // No eligible agent; task re-queued.
	OutcomeDeadLettered   Outcome = "dead_lettered"   // Retries exhausted; task failed.
)

// Orchestrator matches pending tasks to agents.
type Orchestrator struct {
	agents  Directory
	queue   PendingQueue
	config  Config
	metrics *Metrics
	tracer  trace.Tracer
	logger  *slog.Logger

	running  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
}

// New creates an orchestrator drawing candidates from agents.
func New(agents Directory, config Config, metrics *Metrics, tracer trace.Tracer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("")
	}
	return &Orchestrator{
		agents:  agents,
		config:  config,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// AddTask enqueues t for assignment.
func (o *Orchestrator) AddTask(t *task.Task) {
	o.queue.Push(t)
	if o.metrics != nil {
		o.metrics.TasksSubmitted.Inc()
		o.metrics.PendingTasks.Set(float64(o.queue.Len()))
	}
}

// Pending returns the queued task ids in dequeue order.
func (o *Orchestrator) Pending() []string { return o.queue.IDs() }

// Len returns the number of queued tasks.
func (o *Orchestrator) Len() int { return o.queue.Len() }

// Reset drops every queued task.
func (o *Orchestrator) Reset() {
	o.queue.Reset()
	o.setPendingGauge()
}

// Running reports whether Run is active.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// Score computes the suitability of a for a task. It returns false when
// a lacks the skill or is at capacity.
func (o *Orchestrator) Score(a *agent.Agent, taskType string) (float64, bool) {
	if !a.HasSkill(taskType) {
		return 0, false
	}
	capacity := a.Capacity()
	if capacity <= 0 {
		capacity = o.config.defaultCapacity()
	}
	workload := a.Workload()
	if workload >= capacity {
		return 0, false
	}
	w := o.config.weights()
	h := a.Health().EWMA(o.config.alpha())
	return h*w.Health - w.Workload*float64(workload)/float64(capacity) + w.Access*float64(a.AccessLevel()), true
}

// selectAgent returns the candidate with the strictly greatest score;
// ties keep the first seen in registry order.
func (o *Orchestrator) selectAgent(taskType string) (*agent.Agent, float64) {
	var (
		best      *agent.Agent
		bestScore float64
	)
	for _, a := range o.agents.GetAll() {
		score, ok := o.Score(a, taskType)
		if !ok {
			continue
		}
		if best == nil || score > bestScore {
			best, bestScore = a, score
		}
	}
	return best, bestScore
}

// AssignOnce runs a single assignment pass and reports its outcome.
// It never sleeps; Run applies the delays.
func (o *Orchestrator) AssignOnce(ctx context.Context) Outcome {
	t, ok := o.queue.Pop()
	if !ok {
		return OutcomeIdle
	}
	o.setPendingGauge()

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.assign",
		trace.WithAttributes(
			attribute.String("task.id", t.ID()),
			attribute.String("task.type", t.Type()),
		),
	)
	outcome := o.assign(ctx, t)
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	span.End()

	if o.metrics != nil {
		o.metrics.AssignmentsTotal.WithLabelValues(string(outcome)).Inc()
		o.metrics.AssignmentDuration.Observe(time.Since(start).Seconds())
	}
	return outcome
}

func (o *Orchestrator) assign(ctx context.Context, t *task.Task) Outcome {
	if t.Status().IsTerminal() {
		o.logger.DebugContext(ctx, "dropping terminal task from pending queue",
			slog.String("task_id", t.ID()),
			slog.String("status", string(t.Status())),
		)
		return OutcomeSkipped
	}

	if t.IsOverdue() {
		t.UpdateStatus(task.StatusFailedDeadline)
		o.logger.WarnContext(ctx, "task missed its deadline",
			slog.String("task_id", t.ID()),
			slog.String("task_type", t.Type()),
		)
		return OutcomeDeadlineMissed
	}

	best, score := o.selectAgent(t.Type())
	if best == nil {
		return o.requeue(ctx, t, OutcomeNoCandidate)
	}

	if err := best.ReceiveTask(ctx, t); err != nil {
		o.logger.WarnContext(ctx, "agent refused task",
			slog.String("task_id", t.ID()),
			slog.String("agent_id", best.ID()),
			slog.String("error", err.Error()),
		)
		return o.requeue(ctx, t, OutcomeRequeued)
	}

	o.logger.InfoContext(ctx, "task assigned",
		slog.String("task_id", t.ID()),
		slog.String("task_type", t.Type()),
		slog.String("agent_id", best.ID()),
		slog.Float64("score", score),
	)
	return OutcomeAssigned
}

// requeue decays the priority and counts the attempt. Past the retry
// limit the task fails terminally; there is no dead-letter store.
func (o *Orchestrator) requeue(ctx context.Context, t *task.Task, outcome Outcome) Outcome {
	priority := t.DecayPriority()
	attempts := t.IncrementAttempt()

	if attempts > o.config.maxRetries() {
		t.UpdateStatus(task.StatusFailed)
		o.logger.WarnContext(ctx, "task exhausted assignment retries, dead-lettering not implemented",
			slog.String("task_id", t.ID()),
			slog.String("task_type", t.Type()),
			slog.Int("attempts", attempts),
		)
		return OutcomeDeadLettered
	}

	o.queue.Push(t)
	o.setPendingGauge()
	o.logger.InfoContext(ctx, "task re-queued",
		slog.String("task_id", t.ID()),
		slog.String("reason", string(outcome)),
		slog.Int("priority", priority),
		slog.Int("attempts", attempts),
	)
	return outcome
}

// Run loops AssignOnce until Stop is called or ctx is done. It waits the
// idle delay after an empty pass and the retry delay when no agent was
// eligible.
func (o *Orchestrator) Run(ctx context.Context) {
	if !o.running.CompareAndSwap(false, true) {
		return
	}
	defer o.running.Store(false)

	o.logger.InfoContext(ctx, "orchestrator started",
		slog.Duration("retry_delay", o.config.retryDelay()),
		slog.Duration("idle_delay", o.config.idleDelay()),
		slog.Int("max_retries", o.config.maxRetries()),
	)

	for {
		select {
		case <-o.stop:
			o.logger.InfoContext(ctx, "orchestrator stopped")
			return
		case <-ctx.Done():
			o.logger.InfoContext(ctx, "orchestrator context done")
			return
		default:
		}

		var wait time.Duration
		switch o.AssignOnce(ctx) {
		case OutcomeIdle:
			wait = o.config.idleDelay()
		case OutcomeNoCandidate:
			wait = o.config.retryDelay()
		default:
			continue
		}

		select {
		case <-o.stop:
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
}

// Stop signals Run to return. Safe to call more than once.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}

func (o *Orchestrator) setPendingGauge() {
	if o.metrics != nil {
		o.metrics.PendingTasks.Set(float64(o.queue.Len()))
	}
}
