package task

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jkaninda/hive/internal/domain"
)

// --- State machine ---

func TestNew_Defaults(t *testing.T) {
	tk := New("scrape", nil, DefaultPriority, Options{})
	if tk.ID() == "" {
		t.Fatal("expected generated id")
	}
	if tk.Status() != StatusPending {
		t.Errorf("status = %s, want pending", tk.Status())
	}
	if tk.MaxRetries() != DefaultMaxRetries {
		t.Errorf("max retries = %d, want %d", tk.MaxRetries(), DefaultMaxRetries)
	}
	if tk.Details() == nil {
		t.Error("details should never be nil")
	}
	if other := New("scrape", nil, 1, Options{}); other.ID() == tk.ID() {
		t.Error("ids must be unique")
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusFailedDeadline, StatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusInProgress, StatusRetryPending} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCanRetry(t *testing.T) {
	tk := New("x", nil, 5, Options{MaxRetries: 2})
	if !tk.CanRetry() {
		t.Fatal("fresh task should be retryable")
	}
	tk.IncrementAttempt()
	if !tk.CanRetry() {
		t.Fatal("1 < 2 should be retryable")
	}
	tk.IncrementAttempt()
	if tk.CanRetry() {
		t.Fatal("2 attempts of 2 should not be retryable")
	}
}

func TestDecayPriorityFloor(t *testing.T) {
	tk := New("x", nil, 2, Options{})
	if p := tk.DecayPriority(); p != 1 {
		t.Errorf("priority = %d, want 1", p)
	}
	if p := tk.DecayPriority(); p != 1 {
		t.Errorf("priority = %d, want floor 1", p)
	}
}

func TestSetResultClearsError(t *testing.T) {
	tk := New("x", nil, 5, Options{})
	tk.SetError(errors.New("boom"))
	if tk.Err() != "boom" {
		t.Fatalf("err = %q", tk.Err())
	}
	tk.SetResult("ok")
	if tk.Err() != "" {
		t.Errorf("error should be cleared, got %q", tk.Err())
	}
	if v, ok := tk.Result(); !ok || v != "ok" {
		t.Errorf("result = %v,%v", v, ok)
	}
}

func TestCancel(t *testing.T) {
	tk := New("x", nil, 5, Options{})
	if !tk.Cancel() {
		t.Fatal("pending task should cancel")
	}
	if tk.Cancel() {
		t.Fatal("cancelled task must not cancel again")
	}
	done := New("x", nil, 5, Options{})
	done.UpdateStatus(StatusFailedDeadline)
	if done.Cancel() {
		t.Fatal("failed_deadline task must not cancel")
	}
}

func TestCompleteAfterCancelKeepsStatus(t *testing.T) {
	tk := New("x", nil, 5, Options{})
	if !tk.Start() {
		t.Fatal("start")
	}
	tk.Cancel()
	if tk.Complete("late") {
		t.Fatal("Complete should report false for a cancelled task")
	}
	if tk.Status() != StatusCancelled {
		t.Errorf("status = %s, want cancelled", tk.Status())
	}
	if v, ok := tk.Result(); !ok || v != "late" {
		t.Errorf("result should still be recorded, got %v", v)
	}
	if tk.Start() {
		t.Error("Start must refuse a cancelled task")
	}
}

func TestIsOverdue(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	if !New("x", nil, 5, Options{Deadline: &past}).IsOverdue() {
		t.Error("past deadline should be overdue")
	}
	if New("x", nil, 5, Options{Deadline: &future}).IsOverdue() {
		t.Error("future deadline should not be overdue")
	}
	if New("x", nil, 5, Options{}).IsOverdue() {
		t.Error("no deadline is never overdue")
	}
}

func TestChildrenOrderedSet(t *testing.T) {
	tk := New("x", nil, 5, Options{})
	tk.AddChild("a")
	tk.AddChild("b")
	tk.AddChild("a")
	if got := tk.Children(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("children = %v", got)
	}
	tk.RemoveChild("a")
	if got := tk.Children(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("children = %v", got)
	}
}

// --- Serialization ---

func TestRecordRoundTrip(t *testing.T) {
	deadline := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	tk := New("scrape", map[string]any{"url": "https://example.com", "depth": 2}, 7, Options{
		Deadline:   &deadline,
		MaxRetries: 4,
		ParentID:   "parent-1",
	})
	tk.AddChild("c1")
	tk.AddChild("c2")
	tk.AssignTo("agent-1")
	tk.Start()
	tk.UpdateStatus(StatusRetryPending)
	tk.SetError(errors.New("temporary"))

	data, err := json.Marshal(tk.Record())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored, err := FromRecord(rec)
	if err != nil {
		t.Fatalf("from record: %v", err)
	}

	again, err := json.Marshal(restored.Record())
	if err != nil {
		t.Fatalf("marshal restored: %v", err)
	}
	if string(data) != string(again) {
		t.Errorf("round trip mismatch:\n%s\n%s", data, again)
	}
	if restored.ID() != tk.ID() || restored.AttemptCount() != 1 || restored.Priority() != 7 {
		t.Errorf("restored = %+v", restored.Record())
	}
	if restored.Deadline() == nil || !restored.Deadline().Equal(deadline) {
		t.Errorf("deadline = %v", restored.Deadline())
	}
}

func TestRecordRoundTrip_KeepsNumericTypes(t *testing.T) {
	details := map[string]any{
		"depth":  2,
		"ratio":  0.5,
		"whole":  3.0,
		"big":    int64(1 << 40),
		"nested": map[string]any{"n": uint8(3), "s": "x"},
		"list":   []any{1, "a", float32(1.5)},
		"tags":   []string{"a", "b"},
		"name":   "plain",
	}
	tk := New("crawl", details, DefaultPriority, Options{})
	tk.SetResult(7)

	data, err := json.Marshal(tk.Record())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored, err := FromRecord(rec)
	if err != nil {
		t.Fatalf("from record: %v", err)
	}

	if v, _ := restored.Detail("depth"); v != any(2) {
		t.Errorf("depth = %#v (%T), want int 2", v, v)
	}
	if !reflect.DeepEqual(restored.Details(), details) {
		t.Errorf("details = %#v\nwant %#v", restored.Details(), details)
	}
	if v, ok := restored.Result(); !ok || v != any(7) {
		t.Errorf("result = %#v (%T)", v, v)
	}
}

func TestRecordUnmarshal_Untyped(t *testing.T) {
	var rec Record
	if err := json.Unmarshal([]byte(`{"id":"t1","status":"pending","details":{"n":4},"result":1.5}`), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Details["n"] != any(float64(4)) {
		t.Errorf("n = %#v (%T)", rec.Details["n"], rec.Details["n"])
	}
	if rec.Result != any(1.5) {
		t.Errorf("result = %#v", rec.Result)
	}
	if err := json.Unmarshal([]byte(`{"id":"t1","details":{"n":300},"detail_types":{"n":"uint8"}}`), &rec); err == nil {
		t.Error("expected overflow error")
	}
}

func TestFromRecord_Invalid(t *testing.T) {
	if _, err := FromRecord(Record{Status: StatusPending}); !errors.Is(err, domain.ErrDataIntegrity) {
		t.Errorf("missing id: err = %v", err)
	}
	if _, err := FromRecord(Record{ID: "a", Status: "bogus"}); !errors.Is(err, domain.ErrDataIntegrity) {
		t.Errorf("bad status: err = %v", err)
	}
}
