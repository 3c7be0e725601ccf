package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/hive/internal/agent"
	"github.com/jkaninda/hive/internal/task"
)

type agentList []*agent.Agent

func (l agentList) GetAll() []*agent.Agent { return l }

func newTask(typ string, priority int) *task.Task {
	return task.New(typ, nil, priority, task.Options{})
}

// --- PendingQueue ---

func TestPendingQueue_HigherPriorityFirst(t *testing.T) {
	var q PendingQueue
	low := newTask("x", 1)
	high := newTask("x", 9)
	midA := newTask("x", 5)
	midB := newTask("x", 5)
	for _, tk := range []*task.Task{low, midA, high, midB} {
		q.Push(tk)
	}

	ids := q.IDs()
	want := []string{high.ID(), midA.ID(), midB.ID(), low.ID()}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("IDs[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
	if q.Len() != 4 {
		t.Fatalf("IDs must not consume the queue, len = %d", q.Len())
	}
	for i := range want {
		got, ok := q.Pop()
		if !ok || got.ID() != want[i] {
			t.Fatalf("Pop %d = %v, want %s", i, got, want[i])
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected empty queue")
	}
}

// --- Scoring ---

func TestScore(t *testing.T) {
	o := New(agentList{}, Config{}, nil, nil, nil)
	a := agent.New("w", []string{"x"}, agent.WithCapacity(4), agent.WithAccessLevel(2))
	_ = a.ReceiveTask(context.Background(), newTask("x", 5))

	score, ok := o.Score(a, "x")
	if !ok {
		t.Fatal("expected eligible agent")
	}
	// 1.0*10 - 1/4 + 2*0.1
	if want := 9.95; score < want-1e-9 || score > want+1e-9 {
		t.Errorf("score = %v, want %v", score, want)
	}
	if _, ok := o.Score(a, "y"); ok {
		t.Error("agent without the skill must be skipped")
	}
}

func TestScore_CustomWeights(t *testing.T) {
	o := New(agentList{}, Config{Weights: Weights{Health: 1, Workload: 0, Access: 1}}, nil, nil, nil)
	a := agent.New("w", []string{"x"}, agent.WithAccessLevel(3))
	if score, _ := o.Score(a, "x"); score != 4 {
		t.Errorf("score = %v, want 4", score)
	}
}

func TestSelectAgent_PrefersHealthyThenFirstSeen(t *testing.T) {
	sick := agent.New("w", []string{"x"}, agent.WithID("sick"))
	for i := 0; i < 10; i++ {
		sick.Health().AddScore(0)
	}
	first := agent.New("w", []string{"x"}, agent.WithID("first"))
	second := agent.New("w", []string{"x"}, agent.WithID("second"))
	o := New(agentList{sick, first, second}, Config{}, nil, nil, nil)

	best, _ := o.selectAgent("x")
	if best == nil || best.ID() != "first" {
		t.Fatalf("best = %v, want first", best)
	}
}

func TestSelectAgent_SkipsFullAgents(t *testing.T) {
	full := agent.New("w", []string{"x"}, agent.WithID("full"), agent.WithCapacity(1))
	_ = full.ReceiveTask(context.Background(), newTask("x", 5))
	spare := agent.New("w", []string{"x"}, agent.WithID("spare"), agent.WithAccessLevel(0))
	o := New(agentList{full, spare}, Config{}, nil, nil, nil)

	best, _ := o.selectAgent("x")
	if best == nil || best.ID() != "spare" {
		t.Fatalf("best = %v, want spare", best)
	}
}

// --- Assignment ---

func TestAssignOnce_Assigns(t *testing.T) {
	ctx := context.Background()
	a := agent.New("w", []string{"x"}, agent.WithCapacity(1))
	o := New(agentList{a}, Config{}, nil, nil, nil)
	tk := newTask("x", 5)
	o.AddTask(tk)

	if got := o.AssignOnce(ctx); got != OutcomeAssigned {
		t.Fatalf("outcome = %s, want assigned", got)
	}
	if a.Workload() != 1 {
		t.Errorf("workload = %d, want 1", a.Workload())
	}
	if tk.AssignedTo() != a.ID() {
		t.Errorf("assigned_to = %q", tk.AssignedTo())
	}
	if o.Len() != 0 {
		t.Errorf("pending = %d, want 0", o.Len())
	}
}

func TestAssignOnce_Idle(t *testing.T) {
	o := New(agentList{}, Config{}, nil, nil, nil)
	if got := o.AssignOnce(context.Background()); got != OutcomeIdle {
		t.Fatalf("outcome = %s, want idle", got)
	}
}

func TestAssignOnce_NoCandidateRequeues(t *testing.T) {
	other := agent.New("w", []string{"y"})
	o := New(agentList{other}, Config{}, nil, nil, nil)
	tk := newTask("x", 5)
	o.AddTask(tk)

	if got := o.AssignOnce(context.Background()); got != OutcomeNoCandidate {
		t.Fatalf("outcome = %s, want no_candidate", got)
	}
	if tk.Priority() != 4 {
		t.Errorf("priority = %d, want 4", tk.Priority())
	}
	if tk.AttemptCount() != 1 {
		t.Errorf("attempts = %d, want 1", tk.AttemptCount())
	}
	if o.Len() != 1 {
		t.Errorf("pending = %d, want 1", o.Len())
	}
	if tk.Status() != task.StatusPending {
		t.Errorf("status = %s, want pending", tk.Status())
	}
}

func TestAssignOnce_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	o := New(agentList{}, Config{MaxRetries: 3}, nil, nil, nil)
	tk := newTask("x", 2)
	o.AddTask(tk)

	for i := 1; i <= 3; i++ {
		if got := o.AssignOnce(ctx); got != OutcomeNoCandidate {
			t.Fatalf("pass %d outcome = %s", i, got)
		}
		if tk.AttemptCount() > 3 {
			t.Fatalf("attempts %d exceeded max while re-queued", tk.AttemptCount())
		}
	}
	if tk.Priority() != 1 {
		t.Errorf("priority = %d, want floor 1", tk.Priority())
	}
	if got := o.AssignOnce(ctx); got != OutcomeDeadLettered {
		t.Fatalf("outcome = %s, want dead_lettered", got)
	}
	if tk.Status() != task.StatusFailed {
		t.Errorf("status = %s, want failed", tk.Status())
	}
	if o.Len() != 0 {
		t.Error("failed task must not be re-queued")
	}
}

func TestAssignOnce_DeadlineMissed(t *testing.T) {
	a := agent.New("w", []string{"x"})
	o := New(agentList{a}, Config{}, nil, nil, nil)
	past := time.Now().Add(-time.Second)
	tk := task.New("x", nil, 5, task.Options{Deadline: &past})
	o.AddTask(tk)

	if got := o.AssignOnce(context.Background()); got != OutcomeDeadlineMissed {
		t.Fatalf("outcome = %s, want deadline_missed", got)
	}
	if tk.Status() != task.StatusFailedDeadline {
		t.Errorf("status = %s", tk.Status())
	}
	if a.Workload() != 0 || o.Len() != 0 {
		t.Error("overdue task must be neither assigned nor re-queued")
	}
}

func TestAssignOnce_SkipsCancelled(t *testing.T) {
	a := agent.New("w", []string{"x"})
	o := New(agentList{a}, Config{}, nil, nil, nil)
	tk := newTask("x", 5)
	o.AddTask(tk)
	tk.Cancel()

	if got := o.AssignOnce(context.Background()); got != OutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped", got)
	}
	if a.Workload() != 0 {
		t.Error("cancelled task must not be assigned")
	}
}

// --- Loop ---

func TestRunStop(t *testing.T) {
	a := agent.New("w", []string{"x"})
	o := New(agentList{a}, Config{IdleDelay: 5 * time.Millisecond, RetryDelay: 5 * time.Millisecond}, nil, nil, nil)

	done := make(chan struct{})
	go func() {
		o.Run(context.Background())
		close(done)
	}()

	o.AddTask(newTask("x", 5))
	deadline := time.Now().Add(2 * time.Second)
	for a.Workload() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("task was not assigned by the loop")
		}
		time.Sleep(5 * time.Millisecond)
	}

	o.Stop()
	o.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if o.Running() {
		t.Error("Running should be false after Run returns")
	}
}

func TestRun_ContextCancel(t *testing.T) {
	o := New(agentList{}, Config{IdleDelay: time.Hour}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not honor context cancellation during idle wait")
	}
}

// --- Metrics ---

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	o := New(agentList{}, Config{}, m, nil, nil)
	o.AddTask(newTask("x", 5))
	o.AssignOnce(context.Background())

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var noCandidate, pending float64
	for _, f := range families {
		switch f.GetName() {
		case "hive_orchestrator_assignments_total":
			for _, metric := range f.GetMetric() {
				for _, l := range metric.GetLabel() {
					if l.GetName() == "outcome" && l.GetValue() == string(OutcomeNoCandidate) {
						noCandidate = metric.GetCounter().GetValue()
					}
				}
			}
		case "hive_orchestrator_pending_tasks":
			pending = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	if noCandidate != 1 {
		t.Errorf("no_candidate count = %v, want 1", noCandidate)
	}
	if pending != 1 {
		t.Errorf("pending gauge = %v, want 1", pending)
	}
	if NewMetrics(nil) != nil {
		t.Error("NewMetrics(nil) should return nil")
	}
}
