// Package registry is the directory of live agents. One Registry is
// constructed per running system and passed explicitly to every
// collaborator that needs it.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/jkaninda/hive/internal/agent"
	"github.com/jkaninda/hive/internal/domain"
)

// Registry maps agent ids to agents, preserving registration order.
// It never takes an individual agent's lock while holding its own.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	agents map[string]*agent.Agent
	logger *slog.Logger
}

var _ agent.Resolver = (*Registry)(nil)

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		agents: make(map[string]*agent.Agent),
		logger: logger,
	}
}

// Register adds a. It fails with domain.ErrDuplicateID if the id is taken.
func (r *Registry) Register(a *agent.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[a.ID()]; ok {
		return fmt.Errorf("registering agent %s: %w", a.ID(), domain.ErrDuplicateID)
	}
	r.agents[a.ID()] = a
	r.order = append(r.order, a.ID())

	r.logger.Info("agent registered",
		slog.String("agent_id", a.ID()),
		slog.String("role", a.Role()),
		slog.Int("access_level", a.AccessLevel()),
		slog.Int("capacity", a.Capacity()),
		slog.Int("skills", len(a.Skills())),
	)
	return nil
}

// Unregister removes the agent. It fails with domain.ErrNotFound if absent.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("unregistering agent %s: %w", id, domain.ErrNotFound)
	}
	delete(r.agents, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	r.logger.Info("agent unregistered", slog.String("agent_id", id))
	return nil
}

// Get returns an agent by id.
func (r *Registry) Get(id string) (*agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// GetAll returns a snapshot of every agent in registration order.
func (r *Registry) GetAll() []*agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*agent.Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// GetByRole returns agents with the given role, in registration order.
func (r *Registry) GetByRole(role string) []*agent.Agent {
	return filter(r.GetAll(), func(a *agent.Agent) bool { return a.Role() == role })
}

// GetBySkill returns agents advertising skill, in registration order.
func (r *Registry) GetBySkill(skill string) []*agent.Agent {
	return filter(r.GetAll(), func(a *agent.Agent) bool { return a.HasSkill(skill) })
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// ResetAll resets the transient state of every agent. Agents are reset
// outside the directory lock.
func (r *Registry) ResetAll() {
	for _, a := range r.GetAll() {
		a.Reset()
	}
}

// Records serializes every agent in registration order.
func (r *Registry) Records() []agent.Record {
	all := r.GetAll()
	out := make([]agent.Record, len(all))
	for i, a := range all {
		out[i] = a.Record()
	}
	return out
}

// Builder turns a record back into an agent.
type Builder func(agent.Record) (*agent.Agent, error)

// Restore builds every agent from records and, only if all succeed,
// replaces the registry contents.
func (r *Registry) Restore(records []agent.Record, build Builder) error {
	order := make([]string, 0, len(records))
	agents := make(map[string]*agent.Agent, len(records))
	for _, rec := range records {
		if _, ok := agents[rec.ID]; ok {
			return fmt.Errorf("restoring agent %s: %w", rec.ID, domain.ErrDuplicateID)
		}
		a, err := build(rec)
		if err != nil {
			return fmt.Errorf("restoring agent %s: %w", rec.ID, err)
		}
		agents[a.ID()] = a
		order = append(order, a.ID())
	}

	r.mu.Lock()
	r.agents = agents
	r.order = order
	r.mu.Unlock()

	r.logger.Info("agent registry restored", slog.Int("agents", len(order)))
	return nil
}

// Save writes every agent record to path as JSON.
func (r *Registry) Save(_ context.Context, path string) error {
	data, err := json.MarshalIndent(r.Records(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding agents: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Load replaces the registry contents with the agents saved at path.
// A missing file is reported as domain.ErrStateNotFound and leaves the
// registry untouched.
func (r *Registry) Load(_ context.Context, path string, build Builder) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("loading %s: %w", path, domain.ErrStateNotFound)
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var records []agent.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return r.Restore(records, build)
}

func filter(in []*agent.Agent, keep func(*agent.Agent) bool) []*agent.Agent {
	var out []*agent.Agent
	for _, a := range in {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}
