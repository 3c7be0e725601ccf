// Package agent implements the hive worker: a bounded local priority
// queue of assigned tasks, an execution capability, a rolling health
// score, and access-controlled messaging with other agents.
//
// Each Agent serializes its own state behind a single mutex. Calls that
// cross into another component (the registry, another agent, the
// executor, the memory store) are always made with that mutex released.
package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/hive/internal/domain"
	"github.com/jkaninda/hive/internal/health"
	"github.com/jkaninda/hive/internal/task"
)

const (
	DefaultCapacity    = 10
	DefaultAccessLevel = 1
)

// State is the coarse activity state of an agent.
type State string

const (
	StateReady State = "ready"
	StateBusy  State = "busy"
)

// Resolver looks up agents by id. The registry implements it.
type Resolver interface {
	Get(id string) (*Agent, bool)
}

// TaskLookup resolves canonical task records by id. The delegation tree
// implements it.
type TaskLookup interface {
	GetTask(id string) (*task.Task, bool)
}

// Agent is a worker that executes tasks matching its skills.
type Agent struct {
	id          string
	role        string
	skills      []string
	accessLevel int
	capacity    int
	executor    Executor
	memory      Memory
	sink        AuditSink
	metrics     *Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
	healthSize  int

	mu         sync.Mutex
	resolver   Resolver
	tasks      TaskLookup
	state      State
	workload   int
	queue      localQueue
	errorCount int
	audit      []AuditEntry
	inbox      map[string][]Message
	health     *health.History
	lastActive time.Time
	startedAt  time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithID sets an explicit identity instead of a generated one.
func WithID(id string) Option { return func(a *Agent) { a.id = id } }

func WithAccessLevel(level int) Option { return func(a *Agent) { a.accessLevel = level } }

// WithCapacity bounds the number of tasks queued or executing at once.
// Values <= 0 use DefaultCapacity.
func WithCapacity(n int) Option { return func(a *Agent) { a.capacity = n } }

func WithExecutor(e Executor) Option { return func(a *Agent) { a.executor = e } }

// WithResolver injects the agent directory used to route results and
// authenticate senders.
func WithResolver(r Resolver) Option { return func(a *Agent) { a.resolver = r } }

// WithTasks injects the task directory used to find child task owners.
func WithTasks(l TaskLookup) Option { return func(a *Agent) { a.tasks = l } }

// WithMemory records successful results into m.
func WithMemory(m Memory) Option { return func(a *Agent) { a.memory = m } }

// WithAuditSink mirrors audit entries to s.
func WithAuditSink(s AuditSink) Option { return func(a *Agent) { a.sink = s } }

func WithMetrics(m *Metrics) Option { return func(a *Agent) { a.metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(a *Agent) { a.tracer = t } }

func WithLogger(l *slog.Logger) Option { return func(a *Agent) { a.logger = l } }

// WithHealthWindow sets the health window size (default 10).
func WithHealthWindow(n int) Option { return func(a *Agent) { a.healthSize = n } }

// New creates a ready agent.
func New(role string, skills []string, opts ...Option) *Agent {
	now := time.Now().UTC()
	a := &Agent{
		role:        role,
		accessLevel: DefaultAccessLevel,
		capacity:    DefaultCapacity,
		state:       StateReady,
		inbox:       make(map[string][]Message),
		lastActive:  now,
		startedAt:   now,
	}
	for _, s := range skills {
		if !slices.Contains(a.skills, s) {
			a.skills = append(a.skills, s)
		}
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.id == "" {
		a.id = uuid.NewString()
	}
	if a.capacity <= 0 {
		a.capacity = DefaultCapacity
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if a.tracer == nil {
		a.tracer = trace.NewNoopTracerProvider().Tracer("")
	}
	a.health = health.NewHistory(a.healthSize, health.DefaultInitial)
	return a
}

// Attach sets the registry and task directory handles after construction.
func (a *Agent) Attach(r Resolver, l TaskLookup) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resolver = r
	a.tasks = l
}

func (a *Agent) ID() string       { return a.id }
func (a *Agent) Role() string     { return a.role }
func (a *Agent) AccessLevel() int { return a.accessLevel }
func (a *Agent) Capacity() int    { return a.capacity }

// Skills returns a copy of the skill set.
func (a *Agent) Skills() []string { return slices.Clone(a.skills) }

// HasSkill reports an exact match against the skill set.
func (a *Agent) HasSkill(skill string) bool { return slices.Contains(a.skills, skill) }

// Executor returns the configured execution capability, or nil.
func (a *Agent) Executor() Executor { return a.executor }

// Health returns the agent's health history.
func (a *Agent) Health() *health.History { return a.health }

// Workload counts tasks queued on or executing in this agent.
func (a *Agent) Workload() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workload
}

func (a *Agent) QueueDepth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue.Len()
}

func (a *Agent) ErrorCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errorCount
}

// QueuedTaskIDs returns the local queue in dequeue order.
func (a *Agent) QueuedTaskIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	items := a.queue.ordered()
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.task.ID()
	}
	return ids
}

// ReceiveTask assigns t to this agent and queues it locally. It returns
// domain.ErrQueueFull when the agent is at capacity; the caller is
// expected to retry the assignment elsewhere.
func (a *Agent) ReceiveTask(ctx context.Context, t *task.Task) error {
	if s := t.Status(); s.IsTerminal() {
		return fmt.Errorf("task %s is %s", t.ID(), s)
	}

	a.mu.Lock()
	if a.workload >= a.capacity {
		a.mu.Unlock()
		return fmt.Errorf("agent %s: %w", a.id, domain.ErrQueueFull)
	}
	t.AssignTo(a.id)
	a.queue.push(t)
	a.workload++
	e := a.appendAuditLocked(EventTaskReceived, t.ID(), map[string]any{"priority": t.Priority()})
	a.mu.Unlock()

	a.emitAudit(ctx, e)
	return nil
}

// ProcessTask executes the highest-priority queued task. It returns
// false when the queue was empty. Execution failures become task state
// transitions and are never returned.
func (a *Agent) ProcessTask(ctx context.Context) bool {
	a.mu.Lock()
	t, ok := a.queue.pop()
	if !ok {
		a.mu.Unlock()
		return false
	}
	a.state = StateBusy
	a.mu.Unlock()

	if !t.Start() {
		a.mu.Lock()
		a.workload--
		a.state = StateReady
		e := a.appendAuditLocked(EventTaskSkipped, t.ID(), map[string]any{"status": string(t.Status())})
		a.mu.Unlock()
		a.emitAudit(ctx, e)
		return true
	}

	start := time.Now()
	res := a.execute(ctx, t)
	a.metrics.observe(a.role, res.Kind, time.Since(start))

	if res.Kind == Success {
		a.finishSuccess(ctx, t, res.Value)
	} else {
		a.finishFailure(ctx, t, res)
	}
	return true
}

// execute runs the executor inside a span. A panic counts as a retryable
// failure. Failures always leave with an Err matching domain.ErrExecution.
func (a *Agent) execute(ctx context.Context, t *task.Task) (res Result) {
	ctx, span := a.tracer.Start(ctx, "agent.execute_task",
		trace.WithAttributes(
			attribute.String("agent.id", a.id),
			attribute.String("task.id", t.ID()),
			attribute.String("task.type", t.Type()),
		),
	)
	defer func() {
		if r := recover(); r != nil {
			res = Retry(domain.NewExecutionError("panic: %v", r))
		}
		if res.Kind != Success {
			res.Err = asExecutionError(res.Err)
		}
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
	}()

	if a.executor == nil {
		return Fail(domain.NewExecutionError("agent %s has no executor", a.id))
	}
	return a.executor.Execute(ctx, t)
}

func (a *Agent) finishSuccess(ctx context.Context, t *task.Task, value any) {
	a.health.AddScore(1.0)
	completed := t.Complete(value)

	a.mu.Lock()
	a.workload--
	a.state = StateReady
	a.lastActive = time.Now().UTC()
	var e AuditEntry
	if completed {
		e = a.appendAuditLocked(EventTaskCompleted, t.ID(), nil)
	} else {
		e = a.appendAuditLocked(EventResultDropped, t.ID(), map[string]any{"status": string(t.Status())})
	}
	a.mu.Unlock()
	a.emitAudit(ctx, e)

	if !completed {
		return
	}
	if a.memory != nil {
		if err := a.memory.Add(ctx, fmt.Sprintf("%s %v", t.Type(), value)); err != nil {
			a.logger.WarnContext(ctx, "memory add failed",
				slog.String("agent_id", a.id),
				slog.String("task_id", t.ID()),
				slog.String("error", err.Error()),
			)
		}
	}
	a.CommunicateResult(ctx, t, value)
}

func (a *Agent) finishFailure(ctx context.Context, t *task.Task, res Result) {
	a.health.AddScore(0.0)
	t.SetError(res.Err)

	retry := res.Kind == Retryable && t.CanRetry() && t.Status() != task.StatusCancelled
	a.mu.Lock()
	a.errorCount++
	a.state = StateReady
	a.lastActive = time.Now().UTC()
	if retry {
		t.UpdateStatus(task.StatusRetryPending)
		t.DecayPriority()
		a.queue.push(t)
	} else {
		if t.Status() != task.StatusCancelled {
			t.UpdateStatus(task.StatusFailed)
		}
		a.workload--
	}
	e := a.appendAuditLocked(EventTaskFailed, t.ID(), map[string]any{
		"error":    res.Err.Error(),
		"kind":     res.Kind.String(),
		"retrying": retry,
		"attempts": t.AttemptCount(),
	})
	a.mu.Unlock()
	a.emitAudit(ctx, e)
}

// StatusReport is a point-in-time view of an agent.
type StatusReport struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Status      State     `json:"status"`
	Skills      []string  `json:"skills"`
	AccessLevel int       `json:"access_level"`
	Capacity    int       `json:"capacity"`
	Workload    int       `json:"workload"`
	QueueSize   int       `json:"queue_size"`
	ErrorCount  int       `json:"error_count"`
	Health      float64   `json:"health"`
	LastActive  time.Time `json:"last_active"`
	Uptime      string    `json:"uptime"`
}

// Status returns a snapshot of the agent. Health is the EWMA at alpha.
func (a *Agent) Status(alpha float64) StatusReport {
	if alpha <= 0 {
		alpha = health.DefaultAlpha
	}
	h := a.health.EWMA(alpha)

	a.mu.Lock()
	defer a.mu.Unlock()
	return StatusReport{
		ID:          a.id,
		Role:        a.role,
		Status:      a.state,
		Skills:      slices.Clone(a.skills),
		AccessLevel: a.accessLevel,
		Capacity:    a.capacity,
		Workload:    a.workload,
		QueueSize:   a.queue.Len(),
		ErrorCount:  a.errorCount,
		Health:      h,
		LastActive:  a.lastActive,
		Uptime:      time.Since(a.startedAt).Truncate(time.Second).String(),
	}
}

// ReconcileWorkload sets the workload to the local queue depth. Used after
// a restore, when tasks that were executing at save time have been handed
// back to the orchestrator. Returns the number of slots released.
func (a *Agent) ReconcileWorkload() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	released := a.workload - a.queue.Len()
	a.workload = a.queue.Len()
	a.state = StateReady
	return released
}

// Reset clears transient state (audit log, inbox, queue, workload,
// error count) and returns the agent to ready. Identity, configuration
// and health history are kept.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audit = nil
	a.inbox = make(map[string][]Message)
	a.queue.clear()
	a.workload = 0
	a.errorCount = 0
	a.state = StateReady
}
