package main

import (
	"context"
	"testing"
	"time"

	"github.com/jkaninda/hive/internal/commandcenter"
	"github.com/jkaninda/hive/internal/config"
	"github.com/jkaninda/hive/internal/task"
)

func TestParseDeadline(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	got, err := parseDeadline("30m", now)
	if err != nil || !got.Equal(now.Add(30*time.Minute)) {
		t.Errorf("duration = (%v, %v)", got, err)
	}
	got, err = parseDeadline("2026-01-02T04:00:00Z", now)
	if err != nil || !got.Equal(time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC)) {
		t.Errorf("rfc3339 = (%v, %v)", got, err)
	}
	if _, err := parseDeadline("-5m", now); err == nil {
		t.Error("expected error for negative duration")
	}
	if _, err := parseDeadline("tomorrow", now); err == nil {
		t.Error("expected error for unparseable deadline")
	}
}

func TestDrain(t *testing.T) {
	cc := commandcenter.New(commandcenter.Config{})
	ctx := context.Background()
	if _, err := cc.CreateAgent(commandcenter.AgentSpec{Role: "echoer", Skills: []string{"echo"}, Executor: "echo"}); err != nil {
		t.Fatal(err)
	}

	var ids []string
	for range 3 {
		id, err := cc.Submit(ctx, commandcenter.SubmitRequest{Type: "echo"})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	if n := drain(ctx, cc, 10); n != 3 {
		t.Errorf("executed = %d, want 3", n)
	}
	for _, id := range ids {
		if s, _ := cc.GetTaskStatus(id); s != task.StatusCompleted {
			t.Errorf("task %s = %s, want completed", id, s)
		}
	}
	if n := drain(ctx, cc, 10); n != 0 {
		t.Errorf("second drain executed %d", n)
	}
}

func TestOrchestratorConfig(t *testing.T) {
	oc := orchestratorConfig(config.OrchestratorConfig{
		RetryDelaySeconds: 2,
		MaxRetries:        4,
		Weights:           &config.WeightsConfig{Health: 5, Workload: 2, Access: 1},
	})
	if oc.RetryDelay != 2*time.Second || oc.MaxRetries != 4 {
		t.Errorf("config = %+v", oc)
	}
	if oc.Weights.Health != 5 || oc.Weights.Workload != 2 || oc.Weights.Access != 1 {
		t.Errorf("weights = %+v", oc.Weights)
	}

	if oc := orchestratorConfig(config.OrchestratorConfig{}); oc.Weights.Health != 0 {
		t.Errorf("unset weights should stay zero, got %+v", oc.Weights)
	}
}
