package commandcenter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/hive/internal/agent"
	"github.com/jkaninda/hive/internal/delegation"
	"github.com/jkaninda/hive/internal/domain"
	"github.com/jkaninda/hive/internal/registry"
	"github.com/jkaninda/hive/internal/task"
)

// StateVersion is the snapshot format written by SaveState.
const StateVersion = 1

// ErrNoStore is returned by SaveState and LoadState without a configured store.
var ErrNoStore = errors.New("no state store configured")

// State is the whole-system snapshot.
type State struct {
	Version        int                 `json:"version"`
	SavedAt        time.Time           `json:"saved_at"`
	DelegationTree delegation.Snapshot `json:"delegation_tree"`
	Agents         []agent.Record      `json:"agents"`
	Pending        []string            `json:"pending"`
}

// Snapshot captures the current state. Agents are read before the
// pending queue and the tree last, so every task id referenced by a
// queue is present in the tree. A task moving between queues while the
// snapshot is taken may appear in neither; LoadState re-queues it.
func (cc *CommandCenter) Snapshot() State {
	agents := cc.registry.Records()
	pending := cc.orchestrator.Pending()
	return State{
		Version:        StateVersion,
		SavedAt:        time.Now().UTC(),
		DelegationTree: cc.tree.Snapshot(),
		Agents:         agents,
		Pending:        pending,
	}
}

// SaveState writes a snapshot under name. An empty name selects the
// configured state name.
func (cc *CommandCenter) SaveState(ctx context.Context, name string) error {
	if cc.store == nil {
		return ErrNoStore
	}
	if name == "" {
		name = cc.cfg.stateName()
	}

	cc.saveMu.Lock()
	defer cc.saveMu.Unlock()

	ctx, span := cc.tracer.Start(ctx, "commandcenter.save_state",
		trace.WithAttributes(attribute.String("state.name", name)))
	defer span.End()

	st := cc.Snapshot()
	data, err := json.Marshal(st)
	if err != nil {
		return cc.spanError(span, fmt.Errorf("encoding state: %w", err))
	}
	if err := cc.store.Save(ctx, name, data); err != nil {
		return cc.spanError(span, fmt.Errorf("saving state %s: %w", name, err))
	}

	cc.logger.InfoContext(ctx, "state saved",
		slog.String("name", name),
		slog.String("driver", cc.store.Driver()),
		slog.Int("tasks", len(st.DelegationTree.Tasks)),
		slog.Int("agents", len(st.Agents)),
		slog.Int("pending", len(st.Pending)),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// LoadState replaces the tree, the agents and the pending queue with the
// snapshot saved under name. The snapshot is decoded and validated
// first; on any error the current state is left untouched. A missing
// snapshot matches domain.ErrStateNotFound.
//
// Tasks that were in flight when the snapshot was taken (not terminal,
// not queued anywhere) go back to pending and are re-queued, and agent
// workloads are reconciled with their queues.
func (cc *CommandCenter) LoadState(ctx context.Context, name string) error {
	if cc.store == nil {
		return ErrNoStore
	}
	if cc.running.Load() {
		return ErrRunning
	}
	if name == "" {
		name = cc.cfg.stateName()
	}

	cc.saveMu.Lock()
	defer cc.saveMu.Unlock()

	ctx, span := cc.tracer.Start(ctx, "commandcenter.load_state",
		trace.WithAttributes(attribute.String("state.name", name)))
	defer span.End()

	data, err := cc.store.Load(ctx, name)
	if err != nil {
		return cc.spanError(span, fmt.Errorf("loading state %s: %w", name, err))
	}
	st, err := DecodeState(data)
	if err != nil {
		return cc.spanError(span, fmt.Errorf("loading state %s: %w", name, err))
	}
	if err := cc.validate(st); err != nil {
		return cc.spanError(span, fmt.Errorf("loading state %s: %w", name, err))
	}

	// Validated above; the tree must be in place before agents rebind
	// their queues to it.
	if err := cc.tree.Restore(st.DelegationTree); err != nil {
		return cc.spanError(span, fmt.Errorf("restoring tree: %w", err))
	}
	if err := cc.registry.Restore(st.Agents, cc.builder(cc.tree)); err != nil {
		return cc.spanError(span, fmt.Errorf("restoring agents: %w", err))
	}
	cc.orchestrator.Reset()
	requeued, recovered := cc.requeue(st.Pending)

	cc.logger.InfoContext(ctx, "state loaded",
		slog.String("name", name),
		slog.Time("saved_at", st.SavedAt),
		slog.Int("tasks", cc.tree.Len()),
		slog.Int("agents", cc.registry.Len()),
		slog.Int("pending", requeued),
		slog.Int("recovered", recovered),
	)
	return nil
}

// DecodeState parses a snapshot blob.
func DecodeState(data []byte) (State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decoding state: %w", err)
	}
	if st.Version > StateVersion {
		return State{}, fmt.Errorf("state version %d is newer than %d: %w", st.Version, StateVersion, domain.ErrDataIntegrity)
	}
	return st, nil
}

// validate restores st into scratch collaborators.
func (cc *CommandCenter) validate(st State) error {
	scratch := delegation.New(nil)
	if err := scratch.Restore(st.DelegationTree); err != nil {
		return err
	}
	if err := registry.New(nil).Restore(st.Agents, cc.builder(scratch)); err != nil {
		return err
	}
	for _, id := range st.Pending {
		if _, ok := scratch.GetTask(id); !ok {
			return fmt.Errorf("pending task %s: %w", id, domain.ErrDataIntegrity)
		}
	}
	return nil
}

// builder rebuilds agents bound to tasks, resolving executors by name.
func (cc *CommandCenter) builder(tasks agent.TaskLookup) registry.Builder {
	return func(rec agent.Record) (*agent.Agent, error) {
		exec, err := cc.catalog.Get(rec.Executor)
		if err != nil {
			return nil, err
		}
		opts := cc.agentOptions()
		if exec != nil {
			opts = append(opts, agent.WithExecutor(exec))
		}
		return agent.FromRecord(rec, tasks, opts...)
	}
}

// requeue rebuilds the pending queue from ids, then hands back every
// non-terminal task found in no queue. It returns the number of queued
// ids and the number of recovered tasks.
func (cc *CommandCenter) requeue(ids []string) (int, int) {
	queued := make(map[string]bool)
	agents := cc.registry.GetAll()
	for _, a := range agents {
		for _, id := range a.QueuedTaskIDs() {
			queued[id] = true
		}
	}

	requeued := 0
	for _, id := range ids {
		t, ok := cc.tree.GetTask(id)
		if !ok || queued[id] || t.Status().IsTerminal() {
			continue
		}
		queued[id] = true
		cc.orchestrator.AddTask(t)
		requeued++
	}

	recovered := 0
	for _, t := range cc.tree.Tasks() {
		if queued[t.ID()] || t.Status().IsTerminal() {
			continue
		}
		if t.Status() != task.StatusPending {
			t.UpdateStatus(task.StatusPending)
		}
		t.AssignTo("")
		queued[t.ID()] = true
		cc.orchestrator.AddTask(t)
		recovered++
	}

	for _, a := range agents {
		if n := a.ReconcileWorkload(); n != 0 {
			cc.logger.Info("agent workload reconciled",
				slog.String("agent_id", a.ID()),
				slog.Int("released", n),
			)
		}
	}
	return requeued, recovered
}

func (cc *CommandCenter) spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
