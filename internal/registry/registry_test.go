package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jkaninda/hive/internal/agent"
	"github.com/jkaninda/hive/internal/domain"
)

func plainBuilder(r agent.Record) (*agent.Agent, error) {
	return agent.FromRecord(r, nil)
}

func TestRegister_DuplicateID(t *testing.T) {
	r := New(nil)
	first := agent.New("scraper", []string{"web"}, agent.WithID("a1"))
	second := agent.New("writer", []string{"text"}, agent.WithID("a1"))

	if err := r.Register(first); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register(second)
	if !errors.Is(err, domain.ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}
	got, _ := r.Get("a1")
	if got != first {
		t.Error("second agent must not replace the first")
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
}

func TestUnregister(t *testing.T) {
	r := New(nil)
	_ = r.Register(agent.New("a", nil, agent.WithID("a1")))
	_ = r.Register(agent.New("b", nil, agent.WithID("a2")))

	if err := r.Unregister("a1"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := r.Unregister("a1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, ok := r.Get("a1"); ok {
		t.Error("a1 should be gone")
	}
	all := r.GetAll()
	if len(all) != 1 || all[0].ID() != "a2" {
		t.Errorf("GetAll = %v", all)
	}
}

func TestQueries(t *testing.T) {
	r := New(nil)
	_ = r.Register(agent.New("scraper", []string{"web", "html"}, agent.WithID("s1")))
	_ = r.Register(agent.New("writer", []string{"text"}, agent.WithID("w1")))
	_ = r.Register(agent.New("scraper", []string{"web"}, agent.WithID("s2")))

	all := r.GetAll()
	if len(all) != 3 || all[0].ID() != "s1" || all[1].ID() != "w1" || all[2].ID() != "s2" {
		t.Fatalf("GetAll order wrong: %v", ids(all))
	}
	if got := ids(r.GetByRole("scraper")); len(got) != 2 || got[0] != "s1" || got[1] != "s2" {
		t.Errorf("GetByRole = %v", got)
	}
	if got := ids(r.GetBySkill("html")); len(got) != 1 || got[0] != "s1" {
		t.Errorf("GetBySkill = %v", got)
	}
	if got := r.GetBySkill("nope"); len(got) != 0 {
		t.Errorf("GetBySkill(nope) = %v", ids(got))
	}
}

func TestResetAll(t *testing.T) {
	r := New(nil)
	a := agent.New("w", nil, agent.WithID("a1"))
	_ = r.Register(a)
	a.LogActivity(context.Background(), "X", "", nil)
	r.ResetAll()
	if len(a.AuditLog()) != 0 {
		t.Error("expected audit log cleared")
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agents.json")

	r := New(nil)
	_ = r.Register(agent.New("scraper", []string{"web"}, agent.WithID("s1"), agent.WithAccessLevel(3)))
	_ = r.Register(agent.New("writer", []string{"text"}, agent.WithID("w1"), agent.WithCapacity(2)))
	if err := r.Save(ctx, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := New(nil)
	_ = loaded.Register(agent.New("stale", nil, agent.WithID("old")))
	if err := loaded.Load(ctx, path, plainBuilder); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := loaded.Get("old"); ok {
		t.Error("load must replace existing contents")
	}
	got := ids(loaded.GetAll())
	if len(got) != 2 || got[0] != "s1" || got[1] != "w1" {
		t.Fatalf("loaded = %v", got)
	}
	s1, _ := loaded.Get("s1")
	if s1.AccessLevel() != 3 {
		t.Errorf("access level = %d, want 3", s1.AccessLevel())
	}
	w1, _ := loaded.Get("w1")
	if w1.Capacity() != 2 {
		t.Errorf("capacity = %d, want 2", w1.Capacity())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	r := New(nil)
	_ = r.Register(agent.New("w", nil, agent.WithID("a1")))
	err := r.Load(context.Background(), filepath.Join(t.TempDir(), "nope.json"), plainBuilder)
	if !errors.Is(err, domain.ErrStateNotFound) {
		t.Fatalf("err = %v, want ErrStateNotFound", err)
	}
	if r.Len() != 1 {
		t.Error("registry must be untouched after a failed load")
	}
}

func TestRestore_AllOrNothing(t *testing.T) {
	r := New(nil)
	_ = r.Register(agent.New("w", nil, agent.WithID("keep")))
	records := []agent.Record{{ID: "a1", Role: "w"}, {ID: "a1", Role: "w"}}
	if err := r.Restore(records, plainBuilder); !errors.Is(err, domain.ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}
	if _, ok := r.Get("keep"); !ok {
		t.Error("failed restore must keep previous contents")
	}
}

func ids(agents []*agent.Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.ID()
	}
	return out
}
