package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/hive/internal/commandcenter"
	"github.com/jkaninda/hive/internal/domain"
	"github.com/jkaninda/hive/internal/orchestrator"
)

// Offline commands operate on a saved snapshot: load, act, print and,
// for mutating commands, save.

var stateName string

var (
	submitType       string
	submitDetails    string
	submitPriority   int
	submitParent     string
	submitDeadline   string
	submitMaxRetries int
	drainPasses      int
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a task to the saved state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		req, err := submitRequest(time.Now())
		if err != nil {
			return err
		}
		return withState(cmd.Context(), true, true, func(ctx context.Context, sc *SharedComponents) error {
			id, err := sc.CC.Submit(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"id": id})
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Print the status of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withState(cmd.Context(), false, false, func(_ context.Context, sc *SharedComponents) error {
			rec, ok := sc.CC.GetTaskDetails(args[0])
			if !ok {
				return fmt.Errorf("task %s: %w", args[0], domain.ErrNotFound)
			}
			return printJSON(rec)
		})
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List all tasks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withState(cmd.Context(), false, false, func(_ context.Context, sc *SharedComponents) error {
			return printJSON(sc.CC.ListAllTasks())
		})
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List all agents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withState(cmd.Context(), false, false, func(_ context.Context, sc *SharedComponents) error {
			return printJSON(sc.CC.ListAllAgents())
		})
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree <task-id>",
	Short: "Print the delegation subtree rooted at a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withState(cmd.Context(), false, false, func(_ context.Context, sc *SharedComponents) error {
			node, ok := sc.CC.GetTaskHierarchy(args[0])
			if !ok {
				return fmt.Errorf("task %s: %w", args[0], domain.ErrNotFound)
			}
			return printJSON(node)
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task and its subtree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withState(cmd.Context(), false, true, func(ctx context.Context, sc *SharedComponents) error {
			if !sc.CC.CancelTask(ctx, args[0]) {
				status, ok := sc.CC.GetTaskStatus(args[0])
				if !ok {
					return fmt.Errorf("task %s: %w", args[0], domain.ErrNotFound)
				}
				return fmt.Errorf("task %s is already %s", args[0], status)
			}
			return printJSON(map[string]string{"id": args[0], "status": "cancelled"})
		})
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Assign and execute queued tasks until no progress is made",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withState(cmd.Context(), false, true, func(ctx context.Context, sc *SharedComponents) error {
			executed := drain(ctx, sc.CC, drainPasses)
			return printJSON(map[string]int{
				"executed": executed,
				"pending":  sc.CC.Orchestrator().Len(),
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(drainCmd)
	for _, cmd := range []*cobra.Command{submitCmd, statusCmd, tasksCmd, agentsCmd, treeCmd, cancelCmd, drainCmd} {
		cmd.Flags().StringVar(&stateName, "state", "", "snapshot name (default: state_file from config)")
	}

	submitCmd.Flags().StringVar(&submitType, "type", "", "task type (required)")
	submitCmd.Flags().StringVar(&submitDetails, "details", "", "task details as a JSON object")
	submitCmd.Flags().IntVar(&submitPriority, "priority", commandcenter.DefaultPriority, "priority; larger runs first")
	submitCmd.Flags().StringVar(&submitParent, "parent", "", "parent task ID")
	submitCmd.Flags().StringVar(&submitDeadline, "deadline", "", "deadline as RFC 3339 time or duration from now (e.g. 30m)")
	submitCmd.Flags().IntVar(&submitMaxRetries, "max-retries", 0, "retries before the task fails (0 = orchestrator default)")
	_ = submitCmd.MarkFlagRequired("type")

	drainCmd.Flags().IntVar(&drainPasses, "passes", 100, "maximum assign/execute passes")
}

// submitRequest builds the request from the submit flags.
func submitRequest(now time.Time) (commandcenter.SubmitRequest, error) {
	req := commandcenter.SubmitRequest{
		Type:       submitType,
		Priority:   &submitPriority,
		ParentID:   submitParent,
		MaxRetries: submitMaxRetries,
	}
	if submitDetails != "" {
		if err := json.Unmarshal([]byte(submitDetails), &req.Details); err != nil {
			return req, fmt.Errorf("parsing --details: %w", err)
		}
	}
	if submitDeadline != "" {
		deadline, err := parseDeadline(submitDeadline, now)
		if err != nil {
			return req, err
		}
		req.Deadline = &deadline
	}
	return req, nil
}

// parseDeadline accepts an RFC 3339 time or a duration relative to now.
func parseDeadline(raw string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("--deadline must be in the future")
		}
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing --deadline %q: want RFC 3339 time or duration", raw)
	}
	return t, nil
}

// withState loads the snapshot, runs fn and saves when save is set. A
// missing snapshot is an error unless seed is set, in which case the
// configured agents are created.
func withState(ctx context.Context, seed, save bool, fn func(context.Context, *SharedComponents) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	sc, err := initShared(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	if seed {
		if _, err := restoreOrSeed(ctx, sc, stateName); err != nil {
			return err
		}
	} else if err := sc.CC.LoadState(ctx, stateName); err != nil {
		if errors.Is(err, domain.ErrStateNotFound) {
			return fmt.Errorf("no saved state; submit a task or run the command center first: %w", err)
		}
		return err
	}

	if err := fn(ctx, sc); err != nil {
		return err
	}
	if !save {
		return nil
	}
	return sc.CC.SaveState(ctx, stateName)
}

// drain alternates assignment passes with execution passes until neither
// makes progress or passes run out. It returns the number of executions.
// A task with no eligible agent spends one retry per pass, as it does in
// the running assignment loop.
func drain(ctx context.Context, cc *commandcenter.CommandCenter, passes int) int {
	executed := 0
	for range passes {
		assigned := 0
		for range cc.Orchestrator().Len() {
			if cc.Orchestrator().AssignOnce(ctx) == orchestrator.OutcomeAssigned {
				assigned++
			}
		}
		n := cc.DrainOnce(ctx)
		executed += n
		if assigned == 0 && n == 0 {
			break
		}
	}
	return executed
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
