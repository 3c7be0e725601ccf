// Package delegation owns the canonical task records and the
// parent/child hierarchy between them.
package delegation

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/jkaninda/hive/internal/domain"
	"github.com/jkaninda/hive/internal/task"
)

// Tree maps task ids to tasks and keeps a parent to children adjacency
// in sync with each Task's own child list. Every id in the adjacency
// map exists as a task.
type Tree struct {
	mu            sync.Mutex
	tasks         map[string]*task.Task
	relationships map[string][]string
	order         []string
	logger        *slog.Logger
}

// Node is a nested view of a task and its descendants.
type Node struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Status   task.Status `json:"status"`
	Children []*Node     `json:"children"`
}

// New creates an empty tree.
func New(logger *slog.Logger) *Tree {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tree{
		tasks:         make(map[string]*task.Task),
		relationships: make(map[string][]string),
		logger:        logger,
	}
}

// AddTask registers t, linking it under parentID when given. An unknown
// parent is a domain.ErrDataIntegrity violation and leaves the tree unchanged.
func (tr *Tree) AddTask(t *task.Task, parentID string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, ok := tr.tasks[t.ID()]; ok {
		return fmt.Errorf("adding task %s: %w", t.ID(), domain.ErrDuplicateID)
	}
	if parentID != "" {
		parent, ok := tr.tasks[parentID]
		if !ok {
			return fmt.Errorf("adding task %s: parent %s not found: %w", t.ID(), parentID, domain.ErrDataIntegrity)
		}
		t.SetParentID(parentID)
		parent.AddChild(t.ID())
		tr.relationships[parentID] = append(tr.relationships[parentID], t.ID())
	}
	tr.tasks[t.ID()] = t
	tr.relationships[t.ID()] = []string{}
	tr.order = append(tr.order, t.ID())
	return nil
}

// GetTask returns the task with id.
func (tr *Tree) GetTask(id string) (*task.Task, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	t, ok := tr.tasks[id]
	return t, ok
}

// GetChildren returns the direct children of id in insertion order.
func (tr *Tree) GetChildren(id string) []*task.Task {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	var out []*task.Task
	for _, c := range tr.relationships[id] {
		if t, ok := tr.tasks[c]; ok {
			out = append(out, t)
		}
	}
	return out
}

// UpdateTaskStatus writes status to the task. An unknown id is a
// domain.ErrDataIntegrity violation.
func (tr *Tree) UpdateTaskStatus(id string, status task.Status) error {
	tr.mu.Lock()
	t, ok := tr.tasks[id]
	tr.mu.Unlock()
	if !ok {
		return fmt.Errorf("updating task %s: %w", id, domain.ErrDataIntegrity)
	}
	t.UpdateStatus(status)
	return nil
}

// Hierarchy builds the nested view rooted at id by depth-first traversal.
func (tr *Tree) Hierarchy(id string) (*Node, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.tasks[id]; !ok {
		return nil, false
	}
	return tr.buildLocked(id), true
}

func (tr *Tree) buildLocked(id string) *Node {
	t := tr.tasks[id]
	n := &Node{ID: id, Type: t.Type(), Status: t.Status(), Children: []*Node{}}
	for _, c := range tr.relationships[id] {
		if _, ok := tr.tasks[c]; ok {
			n.Children = append(n.Children, tr.buildLocked(c))
		}
	}
	return n
}

// RemoveTask removes id and its whole subtree, detaching id from its
// parent. It reports whether id existed.
func (tr *Tree) RemoveTask(id string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	t, ok := tr.tasks[id]
	if !ok {
		return false
	}
	tr.removeSubtreeLocked(id)

	if parentID := t.ParentID(); parentID != "" {
		if parent, ok := tr.tasks[parentID]; ok {
			parent.RemoveChild(id)
			tr.relationships[parentID] = slices.DeleteFunc(tr.relationships[parentID], func(s string) bool { return s == id })
		}
	}
	tr.order = slices.DeleteFunc(tr.order, func(s string) bool {
		_, ok := tr.tasks[s]
		return !ok
	})
	return true
}

// removeSubtreeLocked deletes children first, then id itself.
func (tr *Tree) removeSubtreeLocked(id string) {
	for _, c := range slices.Clone(tr.relationships[id]) {
		tr.removeSubtreeLocked(c)
	}
	delete(tr.relationships, id)
	delete(tr.tasks, id)
}

// Cancel marks id and every non-terminal descendant cancelled. It
// returns false when id is unknown or already terminal. Descendants
// already in a terminal state are left as they are.
func (tr *Tree) Cancel(id string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	t, ok := tr.tasks[id]
	if !ok || !t.Cancel() {
		return false
	}
	n := tr.cancelDescendantsLocked(id)
	tr.logger.Info("task cancelled",
		slog.String("task_id", id),
		slog.Int("descendants_cancelled", n),
	)
	return true
}

func (tr *Tree) cancelDescendantsLocked(id string) int {
	n := 0
	for _, c := range tr.relationships[id] {
		if t, ok := tr.tasks[c]; ok && t.Cancel() {
			n++
		}
		n += tr.cancelDescendantsLocked(c)
	}
	return n
}

// Tasks returns every task in insertion order.
func (tr *Tree) Tasks() []*task.Task {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]*task.Task, 0, len(tr.order))
	for _, id := range tr.order {
		out = append(out, tr.tasks[id])
	}
	return out
}

// Len returns the number of tasks.
func (tr *Tree) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.tasks)
}
