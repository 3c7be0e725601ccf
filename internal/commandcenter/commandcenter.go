// Package commandcenter is the façade over the agent registry, the
// delegation tree and the orchestrator. It owns the background workers
// (orchestration loop, dispatcher pool, autosave) and whole-system
// snapshots.
package commandcenter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/hive/internal/agent"
	"github.com/jkaninda/hive/internal/delegation"
	"github.com/jkaninda/hive/internal/executor"
	"github.com/jkaninda/hive/internal/orchestrator"
	"github.com/jkaninda/hive/internal/ratelimit"
	"github.com/jkaninda/hive/internal/registry"
	"github.com/jkaninda/hive/internal/storage"
	"github.com/jkaninda/hive/internal/task"
)

// DefaultPriority is used when a submission carries no priority.
const DefaultPriority = task.DefaultPriority

var (
	// ErrRunning is returned by operations that require stopped background workers.
	ErrRunning = errors.New("command center is running")
	// ErrStarted is returned by a second call to Start. A command center
	// runs its background workers at most once.
	ErrStarted = errors.New("command center already started")
)

// SubmissionRecorder counts accepted and rejected submissions.
// observability.MetricsCollector implements it.
type SubmissionRecorder interface {
	RecordSubmission(taskType, result string)
}

// Config tunes the background workers. Zero values select defaults.
type Config struct {
	Orchestrator     orchestrator.Config
	Workers          int           // Concurrent task executions. Default: 4.
	DispatchInterval time.Duration // Pause between dispatcher passes. Default: 100ms.
	TaskTimeout      time.Duration // Per execution deadline. Default: 5m.
	StateName        string        // Snapshot name used by autosave and empty names. Default: hive_state.json.
	AutosaveSchedule string        // Cron spec; empty disables autosave.
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return 4
}

func (c Config) dispatchInterval() time.Duration {
	if c.DispatchInterval > 0 {
		return c.DispatchInterval
	}
	return 100 * time.Millisecond
}

func (c Config) taskTimeout() time.Duration {
	if c.TaskTimeout > 0 {
		return c.TaskTimeout
	}
	return 5 * time.Minute
}

func (c Config) stateName() string {
	if c.StateName != "" {
		return c.StateName
	}
	return "hive_state.json"
}

// Option configures a CommandCenter.
type Option func(*CommandCenter)

// WithStore sets the snapshot store used by SaveState and LoadState.
func WithStore(s storage.Store) Option { return func(cc *CommandCenter) { cc.store = s } }

// WithCatalog sets the executor catalog used to build and restore agents.
func WithCatalog(c *executor.Catalog) Option { return func(cc *CommandCenter) { cc.catalog = c } }

func WithMemory(m agent.Memory) Option { return func(cc *CommandCenter) { cc.memory = m } }

func WithLimiter(l *ratelimit.Limiter) Option { return func(cc *CommandCenter) { cc.limiter = l } }

// WithAuditSink sets the sink every managed agent writes audit entries to.
func WithAuditSink(s agent.AuditSink) Option { return func(cc *CommandCenter) { cc.sink = s } }

// WithRegistry registers orchestrator and agent metrics on reg.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(cc *CommandCenter) { cc.promReg = reg }
}

func WithSubmissionRecorder(r SubmissionRecorder) Option {
	return func(cc *CommandCenter) { cc.submissions = r }
}

func WithTracer(t trace.Tracer) Option { return func(cc *CommandCenter) { cc.tracer = t } }

func WithLogger(l *slog.Logger) Option { return func(cc *CommandCenter) { cc.logger = l } }

// CommandCenter coordinates submission, queries, cancellation and
// snapshots across the registry, the delegation tree and the orchestrator.
type CommandCenter struct {
	cfg          Config
	registry     *registry.Registry
	tree         *delegation.Tree
	orchestrator *orchestrator.Orchestrator

	store        storage.Store
	catalog      *executor.Catalog
	memory       agent.Memory
	limiter      *ratelimit.Limiter
	sink         agent.AuditSink
	promReg      *prometheus.Registry
	agentMetrics *agent.Metrics
	submissions  SubmissionRecorder
	tracer       trace.Tracer
	logger       *slog.Logger

	started  atomic.Bool
	running  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	cron     *cron.Cron
	saveMu   sync.Mutex
	inflight sync.Map // agent id -> struct{}
}

// New builds a command center with an empty registry and tree.
func New(cfg Config, opts ...Option) *CommandCenter {
	cc := &CommandCenter{cfg: cfg}
	for _, opt := range opts {
		opt(cc)
	}
	if cc.logger == nil {
		cc.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cc.tracer == nil {
		cc.tracer = trace.NewNoopTracerProvider().Tracer("")
	}
	if cc.catalog == nil {
		cc.catalog = executor.NewCatalog(nil)
	}
	if cc.promReg != nil {
		cc.agentMetrics = agent.NewMetrics(cc.promReg)
	}

	cc.registry = registry.New(cc.logger)
	cc.tree = delegation.New(cc.logger)
	cc.orchestrator = orchestrator.New(cc.registry, cfg.Orchestrator,
		orchestrator.NewMetrics(cc.promReg), cc.tracer, cc.logger)
	return cc
}

// Registry returns the agent directory.
func (cc *CommandCenter) Registry() *registry.Registry { return cc.registry }

// Tree returns the delegation tree.
func (cc *CommandCenter) Tree() *delegation.Tree { return cc.tree }

// Orchestrator returns the assignment loop.
func (cc *CommandCenter) Orchestrator() *orchestrator.Orchestrator { return cc.orchestrator }

// Store returns the configured snapshot store, or nil.
func (cc *CommandCenter) Store() storage.Store { return cc.store }

// --- Submission ---

// SubmitRequest describes a new task.
type SubmitRequest struct {
	Type       string
	Details    map[string]any
	Priority   *int // nil = DefaultPriority. Any integer is accepted.
	ParentID   string
	Deadline   *time.Time
	MaxRetries int // 0 = task default.
}

// SubmitTask creates a task, links it under ParentID and queues it for
// assignment. It returns false on any failure; failures are logged and
// never propagated.
func (cc *CommandCenter) SubmitTask(ctx context.Context, req SubmitRequest) (string, bool) {
	id, err := cc.Submit(ctx, req)
	return id, err == nil
}

// Submit is SubmitTask returning the cause of a rejection: an error
// matching domain.ErrBudgetExceeded when the task type is rate limited,
// or domain.ErrDataIntegrity when ParentID is unknown.
func (cc *CommandCenter) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if cc.limiter != nil {
		if err := cc.limiter.Allow(req.Type); err != nil {
			cc.recordSubmission(req.Type, "rate_limited")
			cc.logger.WarnContext(ctx, "task submission rejected",
				slog.String("task_type", req.Type),
				slog.String("error", err.Error()),
			)
			return "", err
		}
	}

	priority := DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	t := task.New(req.Type, req.Details, priority, task.Options{
		Deadline:   req.Deadline,
		MaxRetries: req.MaxRetries,
	})
	if err := cc.tree.AddTask(t, req.ParentID); err != nil {
		cc.recordSubmission(req.Type, "rejected")
		cc.logger.ErrorContext(ctx, "task submission failed",
			slog.String("task_type", req.Type),
			slog.String("parent_id", req.ParentID),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	cc.orchestrator.AddTask(t)
	cc.recordSubmission(req.Type, "accepted")

	cc.logger.InfoContext(ctx, "task submitted",
		slog.String("task_id", t.ID()),
		slog.String("task_type", t.Type()),
		slog.Int("priority", t.Priority()),
		slog.String("parent_id", req.ParentID),
	)
	return t.ID(), nil
}

func (cc *CommandCenter) recordSubmission(taskType, result string) {
	if cc.submissions != nil {
		cc.submissions.RecordSubmission(taskType, result)
	}
}

// --- Queries ---

// GetTaskStatus returns the status of id.
func (cc *CommandCenter) GetTaskStatus(id string) (task.Status, bool) {
	t, ok := cc.tree.GetTask(id)
	if !ok {
		return "", false
	}
	return t.Status(), true
}

// GetTaskDetails returns the full record of id.
func (cc *CommandCenter) GetTaskDetails(id string) (task.Record, bool) {
	t, ok := cc.tree.GetTask(id)
	if !ok {
		return task.Record{}, false
	}
	return t.Record(), true
}

func (cc *CommandCenter) GetAgentStatus(id string) (agent.StatusReport, bool) {
	a, ok := cc.registry.Get(id)
	if !ok {
		return agent.StatusReport{}, false
	}
	return a.Status(cc.cfg.Orchestrator.HealthAlpha), true
}

// ListAllTasks returns every task record in submission order.
func (cc *CommandCenter) ListAllTasks() []task.Record {
	tasks := cc.tree.Tasks()
	out := make([]task.Record, len(tasks))
	for i, t := range tasks {
		out[i] = t.Record()
	}
	return out
}

// ListAllAgents returns the status of every agent in registration order.
func (cc *CommandCenter) ListAllAgents() []agent.StatusReport {
	agents := cc.registry.GetAll()
	out := make([]agent.StatusReport, len(agents))
	for i, a := range agents {
		out[i] = a.Status(cc.cfg.Orchestrator.HealthAlpha)
	}
	return out
}

func (cc *CommandCenter) GetTaskHierarchy(id string) (*delegation.Node, bool) {
	return cc.tree.Hierarchy(id)
}

// QueryMemory returns up to n remembered results related to text, best
// match first. Without a memory it returns nothing.
func (cc *CommandCenter) QueryMemory(ctx context.Context, text string, n int) ([]string, error) {
	if cc.memory == nil {
		return nil, nil
	}
	return cc.memory.Query(ctx, text, n)
}

// CancelTask cancels id and its subtree. Terminal or unknown tasks
// report false. Executions already running are not interrupted.
func (cc *CommandCenter) CancelTask(ctx context.Context, id string) bool {
	ok := cc.tree.Cancel(id)
	if !ok {
		cc.logger.DebugContext(ctx, "cancel refused", slog.String("task_id", id))
	}
	return ok
}

// --- Agents ---

func (cc *CommandCenter) agentOptions() []agent.Option {
	return []agent.Option{
		agent.WithResolver(cc.registry),
		agent.WithTasks(cc.tree),
		agent.WithMemory(cc.memory),
		agent.WithAuditSink(cc.sink),
		agent.WithMetrics(cc.agentMetrics),
		agent.WithTracer(cc.tracer),
		agent.WithLogger(cc.logger),
	}
}

// AgentSpec declares an agent by executor name.
type AgentSpec struct {
	ID           string
	Role         string
	Skills       []string
	AccessLevel  int
	Capacity     int
	Executor     string
	HealthWindow int
}

// CreateAgent builds an agent from spec with the command center's
// collaborators and registers it.
func (cc *CommandCenter) CreateAgent(spec AgentSpec) (*agent.Agent, error) {
	exec, err := cc.catalog.Get(spec.Executor)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", spec.Role, err)
	}
	opts := cc.agentOptions()
	if spec.ID != "" {
		opts = append(opts, agent.WithID(spec.ID))
	}
	if spec.AccessLevel > 0 {
		opts = append(opts, agent.WithAccessLevel(spec.AccessLevel))
	}
	if spec.Capacity > 0 {
		opts = append(opts, agent.WithCapacity(spec.Capacity))
	}
	if spec.HealthWindow > 0 {
		opts = append(opts, agent.WithHealthWindow(spec.HealthWindow))
	}
	if exec != nil {
		opts = append(opts, agent.WithExecutor(exec))
	}
	a := agent.New(spec.Role, spec.Skills, opts...)
	if err := cc.registry.Register(a); err != nil {
		return nil, err
	}
	return a, nil
}

// RegisterAgent attaches a to the registry and the delegation tree and
// registers it.
func (cc *CommandCenter) RegisterAgent(a *agent.Agent) error {
	a.Attach(cc.registry, cc.tree)
	return cc.registry.Register(a)
}

func (cc *CommandCenter) UnregisterAgent(id string) error {
	return cc.registry.Unregister(id)
}

// --- Background workers ---

// Start launches the orchestration loop, the dispatcher and, when a
// schedule is configured, autosave. The workers stop when ctx is done
// or Shutdown is called.
func (cc *CommandCenter) Start(ctx context.Context) error {
	if !cc.started.CompareAndSwap(false, true) {
		return ErrStarted
	}

	if spec := cc.cfg.AutosaveSchedule; spec != "" {
		c := cron.New()
		if _, err := c.AddFunc(spec, func() { cc.autosave(ctx) }); err != nil {
			cc.started.Store(false)
			return fmt.Errorf("autosave schedule %q: %w", spec, err)
		}
		cc.cron = c
		c.Start()
	}

	ctx, cancel := context.WithCancel(ctx)
	cc.cancel = cancel
	cc.running.Store(true)

	cc.wg.Add(2)
	go func() {
		defer cc.wg.Done()
		cc.orchestrator.Run(ctx)
	}()
	go func() {
		defer cc.wg.Done()
		cc.dispatch(ctx)
	}()

	cc.logger.InfoContext(ctx, "command center started",
		slog.Int("workers", cc.cfg.workers()),
		slog.Duration("dispatch_interval", cc.cfg.dispatchInterval()),
		slog.String("autosave", cc.cfg.AutosaveSchedule),
	)
	return nil
}

// Running reports whether the background workers are active.
func (cc *CommandCenter) Running() bool { return cc.running.Load() }

// Shutdown stops the orchestrator and the dispatcher, waits for running
// executions and autosaves to finish, and returns once everything has
// quiesced or ctx expires. When ctx expires first, Running stays true
// until the remaining executions finish.
func (cc *CommandCenter) Shutdown(ctx context.Context) error {
	if !cc.running.Load() {
		return nil
	}
	cc.orchestrator.Stop()
	if cc.cancel != nil {
		cc.cancel()
	}

	done := make(chan struct{})
	go func() {
		if cc.cron != nil {
			<-cc.cron.Stop().Done()
		}
		cc.wg.Wait()
		cc.running.Store(false)
		close(done)
	}()

	select {
	case <-done:
		cc.logger.InfoContext(ctx, "command center stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

func (cc *CommandCenter) autosave(ctx context.Context) {
	if err := cc.SaveState(ctx, ""); err != nil {
		cc.logger.ErrorContext(ctx, "autosave failed", slog.String("error", err.Error()))
	}
}
