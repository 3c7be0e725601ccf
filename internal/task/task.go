// Package task defines the unit of work scheduled by hive: a mutable
// record with a status state machine, retry bookkeeping, and
// parent/child links.
//
// A Task is shared by reference between the delegation tree (which owns
// it), the orchestrator and the agent executing it, so every accessor
// takes the task's own lock. No operation fails.
package task

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending        Status = "pending"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusRetryPending   Status = "retry_pending"
	StatusFailed         Status = "failed"
	StatusFailedDeadline Status = "failed_deadline"
	StatusCancelled      Status = "cancelled"
)

// IsTerminal reports whether no further transition is expected from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusFailedDeadline, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusRetryPending,
		StatusFailed, StatusFailedDeadline, StatusCancelled:
		return true
	}
	return false
}

const (
	DefaultPriority   = 5
	DefaultMaxRetries = 3
	// MinPriority is the floor applied when a priority decays.
	MinPriority = 1
)

// Options carries the optional creation attributes.
type Options struct {
	Deadline   *time.Time
	MaxRetries int // 0 = DefaultMaxRetries
	ParentID   string
}

// Task is a single unit of work.
type Task struct {
	mu sync.Mutex

	id         string
	taskType   string
	details    map[string]any
	priority   int
	deadline   *time.Time
	status     Status
	attempts   int
	maxRetries int
	result     any
	hasResult  bool
	err        string
	parentID   string
	children   []string
	assignedTo string
	createdAt  time.Time
	updatedAt  time.Time
}

// New creates a pending task with a fresh id.
func New(taskType string, details map[string]any, priority int, opts Options) *Task {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if details == nil {
		details = map[string]any{}
	}
	var deadline *time.Time
	if opts.Deadline != nil {
		d := opts.Deadline.UTC()
		deadline = &d
	}
	now := time.Now().UTC()
	return &Task{
		id:         uuid.NewString(),
		taskType:   taskType,
		details:    details,
		priority:   priority,
		deadline:   deadline,
		status:     StatusPending,
		maxRetries: maxRetries,
		parentID:   opts.ParentID,
		createdAt:  now,
		updatedAt:  now,
	}
}

func (t *Task) ID() string   { return t.id }
func (t *Task) Type() string { return t.taskType }

// Details returns a shallow copy of the payload.
func (t *Task) Details() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]any, len(t.details))
	for k, v := range t.details {
		out[k] = v
	}
	return out
}

// Detail returns a single payload value.
func (t *Task) Detail(key string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.details[key]
	return v, ok
}

func (t *Task) Priority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

func (t *Task) SetPriority(p int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.priority = p
	t.touch()
}

// DecayPriority lowers the priority by one, never below MinPriority,
// and returns the new value.
func (t *Task) DecayPriority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.priority = max(MinPriority, t.priority-1)
	t.touch()
	return t.priority
}

// Deadline returns a copy of the deadline, or nil.
func (t *Task) Deadline() *time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deadline == nil {
		return nil
	}
	d := *t.deadline
	return &d
}

// IsOverdue reports whether a deadline is set and has passed.
func (t *Task) IsOverdue() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline != nil && time.Now().After(*t.deadline)
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// UpdateStatus writes the status unconditionally.
func (t *Task) UpdateStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = s
	t.touch()
}

// Cancel moves a non-terminal task to cancelled. It returns false when
// the task was already terminal.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return false
	}
	t.status = StatusCancelled
	t.touch()
	return true
}

// Start transitions the task to in_progress and counts the attempt,
// unless it was cancelled meanwhile. Returns false for a cancelled task.
func (t *Task) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusCancelled {
		return false
	}
	t.status = StatusInProgress
	t.attempts++
	t.touch()
	return true
}

func (t *Task) AttemptCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// IncrementAttempt adds one attempt and returns the new count.
func (t *Task) IncrementAttempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	t.touch()
	return t.attempts
}

func (t *Task) MaxRetries() int { return t.maxRetries }

// CanRetry reports attempt_count < max_retries.
func (t *Task) CanRetry() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts < t.maxRetries
}

// Result returns the recorded result and whether one is present.
func (t *Task) Result() (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.hasResult
}

// SetResult records the result and clears any prior error.
func (t *Task) SetResult(v any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result = v
	t.hasResult = true
	t.err = ""
	t.touch()
}

// Complete records the result and moves the task to completed. A task
// cancelled while it was executing keeps its cancelled status; the
// return value reports whether the task is now completed.
func (t *Task) Complete(v any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result = v
	t.hasResult = true
	t.err = ""
	t.touch()
	if t.status == StatusCancelled {
		return false
	}
	t.status = StatusCompleted
	return true
}

// Err returns the recorded error message, or "".
func (t *Task) Err() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		t.err = ""
	} else {
		t.err = err.Error()
	}
	t.touch()
}

func (t *Task) ParentID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parentID
}

// SetParentID links the task to its parent. The delegation tree calls
// this once the parent has been validated.
func (t *Task) SetParentID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parentID = id
}

// Children returns the child ids in insertion order.
func (t *Task) Children() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.children))
	copy(out, t.children)
	return out
}

// AddChild appends id unless already present.
func (t *Task) AddChild(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.children {
		if c == id {
			return
		}
	}
	t.children = append(t.children, id)
}

// RemoveChild drops id from the child list.
func (t *Task) RemoveChild(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.children {
		if c == id {
			t.children = append(t.children[:i], t.children[i+1:]...)
			return
		}
	}
}

func (t *Task) AssignedTo() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assignedTo
}

func (t *Task) AssignTo(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.assignedTo = agentID
	t.touch()
}

func (t *Task) CreatedAt() time.Time { return t.createdAt }

func (t *Task) UpdatedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updatedAt
}

// touch must be called with mu held.
func (t *Task) touch() {
	t.updatedAt = time.Now().UTC()
}
