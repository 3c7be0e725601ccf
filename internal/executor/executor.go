// Package executor provides the built-in task execution capabilities
// and the catalog that maps executor names to implementations.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/jkaninda/hive/internal/agent"
	"github.com/jkaninda/hive/internal/domain"
	"github.com/jkaninda/hive/internal/task"
)

// Echo returns the task details as its result.
type Echo struct{}

func (Echo) Name() string { return "echo" }

func (Echo) Execute(_ context.Context, t *task.Task) agent.Result {
	return agent.Succeeded(t.Details())
}

// Catalog resolves executors by name. Safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	executors map[string]agent.Executor
}

// NewCatalog creates a catalog holding echo and, when fetch is non-nil, web_fetch.
func NewCatalog(fetch *WebFetch) *Catalog {
	c := &Catalog{executors: make(map[string]agent.Executor)}
	c.Register("echo", Echo{})
	if fetch != nil {
		c.Register(fetch.Name(), fetch)
	}
	return c
}

// Register adds or replaces an executor. Executors without a Name are
// wrapped so agents using them can be restored by name.
func (c *Catalog) Register(name string, e agent.Executor) {
	if n, ok := e.(agent.Named); !ok || n.Name() != name {
		e = Named(name, e)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executors[name] = e
}

// Get resolves name. An empty name resolves to nil without error.
func (c *Catalog) Get(name string) (agent.Executor, error) {
	if name == "" {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.executors[name]
	if !ok {
		return nil, fmt.Errorf("executor %q: %w", name, domain.ErrNotFound)
	}
	return e, nil
}

// Names lists registered executors, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.executors))
	for n := range c.executors {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// named wraps a function executor so it survives a save/restore by name.
type named struct {
	name string
	agent.Executor
}

func (n named) Name() string { return n.name }

// Named attaches a catalog name to e.
func Named(name string, e agent.Executor) agent.Executor { return named{name: name, Executor: e} }

func discardIfNil(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}
