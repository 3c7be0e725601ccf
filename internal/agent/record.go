package agent

import (
	"fmt"
	"slices"
	"time"

	"github.com/jkaninda/hive/internal/domain"
	"github.com/jkaninda/hive/internal/health"
)

// Named is implemented by executors that can be rebuilt by name after a
// restore.
type Named interface {
	Name() string
}

// QueueEntry is a serialized local queue slot.
type QueueEntry struct {
	TaskID   string `json:"task_id"`
	Priority int    `json:"priority"`
	Seq      uint64 `json:"seq"`
}

// Record is the serialized form of an Agent.
type Record struct {
	ID          string               `json:"id"`
	Role        string               `json:"role"`
	Skills      []string             `json:"skills"`
	AccessLevel int                  `json:"access_level"`
	Capacity    int                  `json:"capacity"`
	Executor    string               `json:"executor,omitempty"`
	Status      State                `json:"status"`
	Workload    int                  `json:"workload"`
	ErrorCount  int                  `json:"error_count"`
	Queue       []QueueEntry         `json:"queue"`
	AuditLog    []AuditEntry         `json:"audit_log"`
	Inbox       map[string][]Message `json:"inbox"`
	Health      []float64            `json:"health"`
	HealthSize  int                  `json:"health_size"`
	LastActive  time.Time            `json:"last_active"`
	StartedAt   time.Time            `json:"started_at"`
}

// Record returns a consistent snapshot of the agent.
func (a *Agent) Record() Record {
	scores := a.health.Scores()

	a.mu.Lock()
	defer a.mu.Unlock()

	items := a.queue.ordered()
	queue := make([]QueueEntry, len(items))
	for i, it := range items {
		queue[i] = QueueEntry{TaskID: it.task.ID(), Priority: it.priority, Seq: it.seq}
	}
	inbox := make(map[string][]Message, len(a.inbox))
	for k, v := range a.inbox {
		inbox[k] = append([]Message(nil), v...)
	}
	var executor string
	if n, ok := a.executor.(Named); ok {
		executor = n.Name()
	}
	return Record{
		ID:          a.id,
		Role:        a.role,
		Skills:      slices.Clone(a.skills),
		AccessLevel: a.accessLevel,
		Capacity:    a.capacity,
		Executor:    executor,
		Status:      a.state,
		Workload:    a.workload,
		ErrorCount:  a.errorCount,
		Queue:       queue,
		AuditLog:    append([]AuditEntry(nil), a.audit...),
		Inbox:       inbox,
		Health:      scores,
		HealthSize:  a.health.Size(),
		LastActive:  a.lastActive,
		StartedAt:   a.startedAt,
	}
}

// FromRecord rebuilds an agent. Queue entries are rebound to the
// canonical tasks found through tasks; an entry whose task is missing is
// a data integrity violation. opts supply what a record cannot carry
// (executor, resolver, logger, sinks).
func FromRecord(r Record, tasks TaskLookup, opts ...Option) (*Agent, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("agent record without id: %w", domain.ErrDataIntegrity)
	}
	base := []Option{
		WithID(r.ID),
		WithAccessLevel(r.AccessLevel),
		WithCapacity(r.Capacity),
		WithTasks(tasks),
		WithHealthWindow(r.HealthSize),
	}
	a := New(r.Role, r.Skills, append(base, opts...)...)

	for _, e := range r.Queue {
		if tasks == nil {
			return nil, fmt.Errorf("agent %s: queued task %s without task lookup: %w", r.ID, e.TaskID, domain.ErrDataIntegrity)
		}
		t, ok := tasks.GetTask(e.TaskID)
		if !ok {
			return nil, fmt.Errorf("agent %s: queued task %s: %w", r.ID, e.TaskID, domain.ErrDataIntegrity)
		}
		a.queue.restore(t, e.Priority, e.Seq)
	}

	a.health = health.NewHistory(r.HealthSize, health.DefaultInitial)
	a.health.Restore(r.Health)

	if r.Status != "" {
		a.state = r.Status
	}
	a.workload = r.Workload
	a.errorCount = r.ErrorCount
	a.audit = append([]AuditEntry(nil), r.AuditLog...)
	for k, v := range r.Inbox {
		a.inbox[k] = append([]Message(nil), v...)
	}
	if !r.LastActive.IsZero() {
		a.lastActive = r.LastActive
	}
	if !r.StartedAt.IsZero() {
		a.startedAt = r.StartedAt
	}
	return a, nil
}
