package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Audit events recorded by agents.
const (
	EventTaskReceived    = "TASK_RECEIVED"
	EventTaskCompleted   = "TASK_COMPLETED"
	EventTaskFailed      = "TASK_FAILED"
	EventTaskSkipped     = "TASK_SKIPPED" // Cancelled before execution started.
	EventResultDropped   = "RESULT_DROPPED"
	EventMessageReceived = "MESSAGE_RECEIVED"
	EventMessageRejected = "MESSAGE_REJECTED"
	EventAccessDenied    = "ACCESS_DENIED"
	EventResultSent      = "RESULT_SENT"
	EventDeliveryFailed  = "DELIVERY_FAILED"
)

// AuditEntry is one line of an agent's append-only audit log.
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	AgentID   string         `json:"agent_id"`
	AgentRole string         `json:"agent_role"`
	Event     string         `json:"event"`
	TaskID    string         `json:"task_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// AuditSink receives a copy of every audit entry. Write errors are logged
// by the agent and never fail the caller.
type AuditSink interface {
	Write(ctx context.Context, e AuditEntry) error
}

// JSONLSink appends audit entries as JSON lines. Safe for concurrent use
// by every agent in the process.
type JSONLSink struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewJSONLSink opens (or creates) path in append-only mode with 0600 permissions.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &JSONLSink{w: f, c: f}, nil
}

// NewWriterSink writes JSON lines to w.
func NewWriterSink(w io.Writer) *JSONLSink {
	return &JSONLSink{w: w}
}

// Write marshals outside the lock; only the write is serialized.
func (s *JSONLSink) Write(_ context.Context, e AuditEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	_, err = s.w.Write(data)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Close closes the underlying file, if any.
func (s *JSONLSink) Close() error {
	if s.c == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Close()
}

// LogActivity appends an entry to the agent's audit log. It never fails.
func (a *Agent) LogActivity(ctx context.Context, event, taskID string, details map[string]any) {
	a.mu.Lock()
	e := a.appendAuditLocked(event, taskID, details)
	a.mu.Unlock()
	a.emitAudit(ctx, e)
}

// appendAuditLocked must be called with a.mu held. The caller passes the
// returned entry to emitAudit after releasing the lock.
func (a *Agent) appendAuditLocked(event, taskID string, details map[string]any) AuditEntry {
	e := AuditEntry{
		Timestamp: time.Now().UTC(),
		AgentID:   a.id,
		AgentRole: a.role,
		Event:     event,
		TaskID:    taskID,
		Details:   details,
	}
	a.audit = append(a.audit, e)
	return e
}

func (a *Agent) emitAudit(ctx context.Context, e AuditEntry) {
	attrs := []any{
		slog.String("agent_id", e.AgentID),
		slog.String("event", e.Event),
	}
	if e.TaskID != "" {
		attrs = append(attrs, slog.String("task_id", e.TaskID))
	}
	a.logger.InfoContext(ctx, "agent activity", attrs...)

	if a.sink == nil {
		return
	}
	if err := a.sink.Write(ctx, e); err != nil {
		a.logger.WarnContext(ctx, "audit sink write failed",
			slog.String("agent_id", a.id),
			slog.String("error", err.Error()),
		)
	}
}

// AuditLog returns a copy of the agent's audit entries, oldest first.
func (a *Agent) AuditLog() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditEntry, len(a.audit))
	copy(out, a.audit)
	return out
}

// MultiSink fans each entry out to every sink. All sinks are attempted;
// the joined errors are returned.
type MultiSink []AuditSink

func (m MultiSink) Write(ctx context.Context, e AuditEntry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
