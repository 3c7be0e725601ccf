package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/hive/internal/domain"
	"github.com/jkaninda/hive/internal/task"
)

// Message is a result delivered from one agent to another.
type Message struct {
	TaskID string    `json:"task_id"`
	Result any       `json:"result,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

// CommunicateResult delivers the result of a parent task to the agent
// owning each child task. A failure for one child is logged and audited
// and does not stop delivery to the others.
func (a *Agent) CommunicateResult(ctx context.Context, t *task.Task, result any) {
	a.mu.Lock()
	resolver, tasks := a.resolver, a.tasks
	a.mu.Unlock()

	children := t.Children()
	if len(children) == 0 {
		return
	}
	if resolver == nil || tasks == nil {
		a.logger.WarnContext(ctx, "cannot route result: agent not attached",
			slog.String("agent_id", a.id),
			slog.String("task_id", t.ID()),
		)
		return
	}

	msg := Message{TaskID: t.ID(), Result: result, SentAt: time.Now().UTC()}
	for _, childID := range children {
		if err := a.deliver(ctx, resolver, tasks, childID, msg); err != nil {
			a.LogActivity(ctx, EventDeliveryFailed, t.ID(), map[string]any{
				"child_id": childID,
				"error":    err.Error(),
			})
			continue
		}
		a.LogActivity(ctx, EventResultSent, t.ID(), map[string]any{"child_id": childID})
	}
}

func (a *Agent) deliver(ctx context.Context, resolver Resolver, tasks TaskLookup, childID string, msg Message) error {
	child, ok := tasks.GetTask(childID)
	if !ok {
		return fmt.Errorf("child task %s: %w", childID, domain.ErrNotFound)
	}
	owner := child.AssignedTo()
	if owner == "" {
		return fmt.Errorf("child task %s is not assigned", childID)
	}
	target, ok := resolver.Get(owner)
	if !ok {
		return fmt.Errorf("agent %s: %w", owner, domain.ErrNotFound)
	}
	if _, err := target.ReceiveMessage(ctx, a.id, msg); err != nil {
		return err
	}
	return nil
}

// ReceiveMessage accepts msg from senderID. An unknown sender is logged
// and rejected with (false, nil). A sender with a lower access level is
// rejected with domain.ErrAccessDenied.
func (a *Agent) ReceiveMessage(ctx context.Context, senderID string, msg Message) (bool, error) {
	a.mu.Lock()
	resolver := a.resolver
	a.mu.Unlock()

	var sender *Agent
	if resolver != nil {
		sender, _ = resolver.Get(senderID)
	}
	if sender == nil {
		a.LogActivity(ctx, EventMessageRejected, msg.TaskID, map[string]any{
			"sender_id": senderID,
			"reason":    "unknown sender",
		})
		return false, nil
	}

	if sender.AccessLevel() < a.accessLevel {
		a.LogActivity(ctx, EventAccessDenied, msg.TaskID, map[string]any{
			"sender_id":    senderID,
			"sender_level": sender.AccessLevel(),
			"level":        a.accessLevel,
		})
		return false, fmt.Errorf("agent %s (level %d) to %s (level %d): %w",
			senderID, sender.AccessLevel(), a.id, a.accessLevel, domain.ErrAccessDenied)
	}

	a.mu.Lock()
	a.inbox[senderID] = append(a.inbox[senderID], msg)
	a.lastActive = time.Now().UTC()
	e := a.appendAuditLocked(EventMessageReceived, msg.TaskID, map[string]any{"sender_id": senderID})
	a.mu.Unlock()
	a.emitAudit(ctx, e)
	return true, nil
}

// Inbox returns a copy of the received messages keyed by sender id.
func (a *Agent) Inbox() map[string][]Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string][]Message, len(a.inbox))
	for k, v := range a.inbox {
		out[k] = append([]Message(nil), v...)
	}
	return out
}
