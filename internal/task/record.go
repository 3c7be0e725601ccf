package task

import (
	"fmt"
	"time"

	"github.com/jkaninda/hive/internal/domain"
)

// Record is the serialized form of a Task.
type Record struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Details      map[string]any `json:"details"`
	Priority     int            `json:"priority"`
	Deadline     *time.Time     `json:"deadline,omitempty"`
	Status       Status         `json:"status"`
	AttemptCount int            `json:"attempt_count"`
	MaxRetries   int            `json:"max_retries"`
	Result       any            `json:"result,omitempty"`
	HasResult    bool           `json:"has_result,omitempty"`
	Error        string         `json:"error,omitempty"`
	ParentID     string         `json:"parent_id,omitempty"`
	Children     []string       `json:"children"`
	AssignedTo   string         `json:"assigned_to,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Record returns a consistent snapshot of every attribute.
func (t *Task) Record() Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	details := make(map[string]any, len(t.details))
	for k, v := range t.details {
		details[k] = v
	}
	children := make([]string, len(t.children))
	copy(children, t.children)
	var deadline *time.Time
	if t.deadline != nil {
		d := *t.deadline
		deadline = &d
	}
	return Record{
		ID:           t.id,
		Type:         t.taskType,
		Details:      details,
		Priority:     t.priority,
		Deadline:     deadline,
		Status:       t.status,
		AttemptCount: t.attempts,
		MaxRetries:   t.maxRetries,
		Result:       t.result,
		HasResult:    t.hasResult,
		Error:        t.err,
		ParentID:     t.parentID,
		Children:     children,
		AssignedTo:   t.assignedTo,
		CreatedAt:    t.createdAt,
		UpdatedAt:    t.updatedAt,
	}
}

// FromRecord rebuilds a task. The id and status are validated; every
// other attribute is taken as is.
func FromRecord(r Record) (*Task, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("task record without id: %w", domain.ErrDataIntegrity)
	}
	if !r.Status.Valid() {
		return nil, fmt.Errorf("task %s: unknown status %q: %w", r.ID, r.Status, domain.ErrDataIntegrity)
	}
	details := r.Details
	if details == nil {
		details = map[string]any{}
	}
	children := make([]string, len(r.Children))
	copy(children, r.Children)
	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Task{
		id:         r.ID,
		taskType:   r.Type,
		details:    details,
		priority:   r.Priority,
		deadline:   r.Deadline,
		status:     r.Status,
		attempts:   r.AttemptCount,
		maxRetries: maxRetries,
		result:     r.Result,
		hasResult:  r.HasResult,
		err:        r.Error,
		parentID:   r.ParentID,
		children:   children,
		assignedTo: r.AssignedTo,
		createdAt:  r.CreatedAt,
		updatedAt:  r.UpdatedAt,
	}, nil
}
