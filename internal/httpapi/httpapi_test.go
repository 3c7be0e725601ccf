package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/jkaninda/hive/internal/commandcenter"
	"github.com/jkaninda/hive/internal/domain"
	"github.com/jkaninda/hive/internal/ratelimit"
	"github.com/jkaninda/hive/internal/task"
)

// --- Request validation ---

func TestSubmitTaskRequest_Validate(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	nine, negative := 9, -1

	tests := []struct {
		name    string
		req     SubmitTaskRequest
		wantErr bool
	}{
		{"minimal", SubmitTaskRequest{Type: "echo"}, false},
		{"full", SubmitTaskRequest{Type: "web_fetch", Priority: &nine, Deadline: &future, MaxRetries: 1}, false},
		{"missing type", SubmitTaskRequest{}, true},
		{"negative priority", SubmitTaskRequest{Type: "echo", Priority: &negative}, false},
		{"negative retries", SubmitTaskRequest{Type: "echo", MaxRetries: -2}, true},
		{"past deadline", SubmitTaskRequest{Type: "echo", Deadline: &past}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := parseStatus(""); err != nil || s != "" {
		t.Errorf("empty = (%q, %v)", s, err)
	}
	if s, err := parseStatus("completed"); err != nil || s != task.StatusCompleted {
		t.Errorf("completed = (%q, %v)", s, err)
	}
	if _, err := parseStatus("done"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestSubmitStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%q: %w", "x", ratelimit.ErrRateLimited), http.StatusTooManyRequests},
		{fmt.Errorf("parent: %w", domain.ErrDataIntegrity), http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := submitStatus(tt.err); got != tt.want {
			t.Errorf("submitStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestParseMemoryQuery(t *testing.T) {
	q, n, err := parseMemoryQuery(url.Values{"q": {" weather "}, "n": {"3"}})
	if err != nil || q != "weather" || n != 3 {
		t.Errorf("= (%q, %d, %v)", q, n, err)
	}
	if _, n, err := parseMemoryQuery(url.Values{"q": {"x"}}); err != nil || n != 0 {
		t.Errorf("default n = (%d, %v)", n, err)
	}
	if _, _, err := parseMemoryQuery(url.Values{}); err == nil {
		t.Error("expected error for missing q")
	}
	if _, _, err := parseMemoryQuery(url.Values{"q": {"x"}, "n": {"-1"}}); err == nil {
		t.Error("expected error for negative n")
	}
}

// --- Response mapping ---

func TestTaskViews(t *testing.T) {
	cc := commandcenter.New(commandcenter.Config{})
	ctx := context.Background()

	seven := 7
	root, err := cc.Submit(ctx, SubmitTaskRequest{Type: "echo", Priority: &seven}.toSubmitRequest())
	if err != nil {
		t.Fatal(err)
	}
	child, err := cc.Submit(ctx, SubmitTaskRequest{Type: "echo", ParentID: root}.toSubmitRequest())
	if err != nil {
		t.Fatal(err)
	}
	cc.CancelTask(ctx, child)

	all := filterTasks(cc.ListAllTasks(), "")
	if len(all) != 2 {
		t.Fatalf("tasks = %d, want 2", len(all))
	}
	if all[0].ID != root || all[0].Priority != 7 || len(all[0].Children) != 1 {
		t.Errorf("root view = %+v", all[0])
	}
	if all[1].Children == nil {
		t.Error("children should encode as an empty list")
	}

	cancelled := filterTasks(cc.ListAllTasks(), task.StatusCancelled)
	if len(cancelled) != 1 || cancelled[0].ID != child {
		t.Errorf("cancelled = %+v", cancelled)
	}

	node, ok := cc.GetTaskHierarchy(root)
	if !ok {
		t.Fatal("hierarchy missing")
	}
	tree := toTreeNode(node)
	if len(tree.Children) != 1 || tree.Children[0].ID != child || tree.Children[0].Status != task.StatusCancelled {
		t.Errorf("tree = %+v", tree)
	}
	if tree.Children[0].Children == nil {
		t.Error("leaf children should be an empty list")
	}
}

func TestStopBeforeStart(t *testing.T) {
	s := New(Config{}, commandcenter.New(commandcenter.Config{}), nil)
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}
