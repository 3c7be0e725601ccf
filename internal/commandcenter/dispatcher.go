package commandcenter

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jkaninda/hive/internal/agent"
)

// dispatch hands agents with queued work to the worker pool on every
// tick. An agent runs at most one execution at a time; tasks queued
// behind it wait for the next tick. On return every started execution
// has finished.
func (cc *CommandCenter) dispatch(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(cc.cfg.workers())

	ticker := time.NewTicker(cc.cfg.dispatchInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return
		case <-ticker.C:
		}

		for _, a := range cc.registry.GetAll() {
			if a.QueueDepth() == 0 {
				continue
			}
			if _, busy := cc.inflight.LoadOrStore(a.ID(), struct{}{}); busy {
				continue
			}
			if !g.TryGo(func() error {
				defer cc.inflight.Delete(a.ID())
				cc.execute(ctx, a)
				return nil
			}) {
				// Pool saturated; retry on the next tick.
				cc.inflight.Delete(a.ID())
				break
			}
		}
	}
}

// execute runs one queued task of a. Cancelling ctx does not interrupt
// the execution; only the per-task timeout does.
func (cc *CommandCenter) execute(ctx context.Context, a *agent.Agent) {
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cc.cfg.taskTimeout())
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			cc.logger.ErrorContext(ctx, "agent pass panicked",
				slog.String("agent_id", a.ID()),
				slog.Any("panic", r),
			)
		}
	}()

	start := time.Now()
	if a.ProcessTask(execCtx) {
		cc.logger.DebugContext(ctx, "agent pass finished",
			slog.String("agent_id", a.ID()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// DrainOnce executes one queued task on every agent that has work and
// waits for them. It returns the number of executions. The offline CLI
// uses it in place of the dispatcher.
func (cc *CommandCenter) DrainOnce(ctx context.Context) int {
	var g errgroup.Group
	g.SetLimit(cc.cfg.workers())
	n := 0
	for _, a := range cc.registry.GetAll() {
		if a.QueueDepth() == 0 {
			continue
		}
		if _, busy := cc.inflight.LoadOrStore(a.ID(), struct{}{}); busy {
			continue
		}
		n++
		g.Go(func() error {
			defer cc.inflight.Delete(a.ID())
			cc.execute(ctx, a)
			return nil
		})
	}
	_ = g.Wait()
	return n
}
