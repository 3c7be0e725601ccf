package delegation

import (
	"fmt"
	"slices"

	"github.com/jkaninda/hive/internal/domain"
	"github.com/jkaninda/hive/internal/task"
)

// Snapshot is the serialized form of a Tree.
type Snapshot struct {
	Tasks         []task.Record       `json:"tasks"`
	Relationships map[string][]string `json:"relationships"`
}

// Snapshot captures every task and the adjacency map under the tree lock.
func (tr *Tree) Snapshot() Snapshot {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	s := Snapshot{
		Tasks:         make([]task.Record, 0, len(tr.order)),
		Relationships: make(map[string][]string, len(tr.relationships)),
	}
	for _, id := range tr.order {
		s.Tasks = append(s.Tasks, tr.tasks[id].Record())
	}
	for k, v := range tr.relationships {
		s.Relationships[k] = slices.Clone(v)
	}
	return s
}

// Restore validates s and replaces the tree contents. Any dangling
// reference is a domain.ErrDataIntegrity violation and leaves the tree
// unchanged.
func (tr *Tree) Restore(s Snapshot) error {
	tasks := make(map[string]*task.Task, len(s.Tasks))
	order := make([]string, 0, len(s.Tasks))
	for _, rec := range s.Tasks {
		if _, ok := tasks[rec.ID]; ok {
			return fmt.Errorf("restoring task %s: %w", rec.ID, domain.ErrDuplicateID)
		}
		t, err := task.FromRecord(rec)
		if err != nil {
			return err
		}
		tasks[t.ID()] = t
		order = append(order, t.ID())
	}

	relationships := make(map[string][]string, len(tasks))
	for parent, children := range s.Relationships {
		if _, ok := tasks[parent]; !ok {
			return fmt.Errorf("relationship for unknown task %s: %w", parent, domain.ErrDataIntegrity)
		}
		for _, c := range children {
			if _, ok := tasks[c]; !ok {
				return fmt.Errorf("task %s lists unknown child %s: %w", parent, c, domain.ErrDataIntegrity)
			}
		}
		relationships[parent] = slices.Clone(children)
	}
	for _, id := range order {
		t := tasks[id]
		if p := t.ParentID(); p != "" {
			if _, ok := tasks[p]; !ok {
				return fmt.Errorf("task %s references unknown parent %s: %w", id, p, domain.ErrDataIntegrity)
			}
		}
		for _, c := range t.Children() {
			if _, ok := tasks[c]; !ok {
				return fmt.Errorf("task %s lists unknown child %s: %w", id, c, domain.ErrDataIntegrity)
			}
		}
		if _, ok := relationships[id]; !ok {
			relationships[id] = []string{}
		}
	}

	tr.mu.Lock()
	tr.tasks = tasks
	tr.relationships = relationships
	tr.order = order
	tr.mu.Unlock()
	return nil
}
