package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/hive/internal/agent"
	"github.com/jkaninda/hive/internal/commandcenter"
	"github.com/jkaninda/hive/internal/config"
	"github.com/jkaninda/hive/internal/domain"
	"github.com/jkaninda/hive/internal/executor"
	"github.com/jkaninda/hive/internal/memory"
	"github.com/jkaninda/hive/internal/observability"
	"github.com/jkaninda/hive/internal/orchestrator"
	"github.com/jkaninda/hive/internal/ratelimit"
	"github.com/jkaninda/hive/internal/storage"
)

// SharedComponents holds the subsystems every command needs. Built once
// by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Obs    *observability.Observability
	Store  storage.Store
	CC     *commandcenter.CommandCenter

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// loadConfig reads the config file. A missing file at the default
// location yields the defaults; a missing explicit file is an error.
func loadConfig() (*config.Config, error) {
	path := goutils.Env("HIVE_CONFIG", configPath)
	if path == "" {
		path = config.DefaultConfigPath()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Default()
		}
	}
	return config.Load(path)
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// initShared wires storage, observability, executors, memory, audit and
// the command center. Callers must call sc.Cleanup() when done.
// withSchedule enables autosave; one-shot commands leave it off.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger, withSchedule bool) (*SharedComponents, error) {
	sc := &SharedComponents{Config: cfg, Logger: logger}

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Observability.
	obs, err := observability.New(ctx, cfg.Observability, version, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	logger.Debug("observability initialized",
		slog.Bool("metrics", obs.Metrics != nil),
		slog.Bool("tracing", obs.Tracer != nil),
		slog.Bool("anomaly", obs.Anomaly != nil),
	)

	// Storage.
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = observability.NewInstrumentedStore(store, obs.Metrics, obs.Tracer)
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})
	obs.Health.AddCheck("storage", func(ctx context.Context) error {
		if p, ok := store.(interface{ Ping(context.Context) error }); ok {
			return p.Ping(ctx)
		}
		if _, err := os.Stat(dataDir); err != nil {
			return fmt.Errorf("data directory: %w", err)
		}
		return nil
	})

	opts := []commandcenter.Option{
		commandcenter.WithStore(sc.Store),
		commandcenter.WithTracer(obs.TracerOrNoop()),
		commandcenter.WithLogger(logger),
	}
	if obs.Metrics != nil {
		opts = append(opts,
			commandcenter.WithRegistry(obs.Metrics.Reg()),
			commandcenter.WithSubmissionRecorder(obs.Metrics),
		)
	}

	// Shared memory. Also backs the web_fetch cache.
	var cache executor.Cache
	if cfg.Memory != nil {
		mem := memory.New(memory.Config{TTL: cfg.Memory.TTL(), MaxResults: cfg.Memory.MaxResults})
		cache = mem
		opts = append(opts, commandcenter.WithMemory(mem))
	}

	var fetch *executor.WebFetch
	if wf := cfg.WebFetch; wf != nil {
		fetch = executor.NewWebFetch(executor.WebFetchConfig{
			AllowedDomains:       wf.AllowedDomains,
			MaxResponseBytes:     wf.MaxResponseBytes,
			Timeout:              time.Duration(wf.TimeoutSeconds) * time.Second,
			AllowPrivateNetworks: wf.AllowPrivateNetworks,
			UserAgent:            wf.UserAgent,
		}, cache, logger)
	}
	opts = append(opts, commandcenter.WithCatalog(executor.NewCatalog(fetch)))

	// Audit: JSONL file and anomaly detector.
	var sinks agent.MultiSink
	if cfg.Audit != nil {
		jsonl, err := agent.NewJSONLSink(cfg.AuditLogPath())
		if err != nil {
			sc.Cleanup()
			return nil, err
		}
		sc.addCleanup(func() { _ = jsonl.Close() })
		sinks = append(sinks, jsonl)
	}
	if obs.Anomaly != nil {
		sinks = append(sinks, obs.Anomaly)
		obs.Health.AddCheck("anomaly", obs.Anomaly.Check())
	}
	if len(sinks) > 0 {
		opts = append(opts, commandcenter.WithAuditSink(sinks))
	}

	if sub := cfg.Submission; sub != nil {
		opts = append(opts, commandcenter.WithLimiter(ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: sub.RequestsPerMinute,
			BurstSize:         sub.BurstSize,
			PerKey:            sub.PerTaskType,
		})))
	}

	ccCfg := commandcenter.Config{
		Orchestrator:     orchestratorConfig(cfg.Orchestrator),
		Workers:          cfg.Workers.Size(),
		DispatchInterval: cfg.Workers.DispatchInterval(),
		TaskTimeout:      cfg.Workers.TaskTimeout(),
		StateName:        cfg.StateFile,
	}
	if withSchedule && cfg.Autosave != nil {
		ccCfg.AutosaveSchedule = cfg.Autosave.CronSchedule()
	}
	sc.CC = commandcenter.New(ccCfg, opts...)
	return sc, nil
}

func orchestratorConfig(o config.OrchestratorConfig) orchestrator.Config {
	oc := orchestrator.Config{
		RetryDelay:      o.RetryDelay(),
		IdleDelay:       o.IdleDelay(),
		MaxRetries:      o.MaxRetries,
		DefaultCapacity: o.DefaultCapacity,
		HealthAlpha:     o.HealthAlpha,
	}
	if w := o.Weights; w != nil {
		oc.Weights = orchestrator.Weights{Health: w.Health, Workload: w.Workload, Access: w.Access}
	}
	return oc
}

// initStore opens the configured snapshot backend.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	sc := storage.Config{Driver: cfg.StorageDriverName()}
	if cfg.Storage != nil {
		if s := cfg.Storage.SQLite; s != nil {
			sc.SQLite = storage.SQLiteConfig{Path: s.Path, JournalMode: s.JournalMode}
		}
		if p := cfg.Storage.Postgres; p != nil {
			sc.Postgres = storage.PostgresConfig{
				DSN:              p.DSN,
				MaxOpenConns:     p.MaxOpenConns,
				MaxIdleConns:     p.MaxIdleConns,
				ConnMaxLifetimeS: p.ConnMaxLifetimeS,
			}
		}
	}
	store, err := storage.Open(sc, cfg.ResolvedDataDir(), logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))
	return store, nil
}

// createConfiguredAgents registers the agents declared in the config.
func createConfiguredAgents(sc *SharedComponents) error {
	for _, ac := range sc.Config.Agents {
		capacity := ac.Capacity
		if capacity <= 0 {
			capacity = sc.Config.Orchestrator.DefaultCapacity
		}
		a, err := sc.CC.CreateAgent(commandcenter.AgentSpec{
			ID:           ac.ID,
			Role:         ac.Role,
			Skills:       ac.Skills,
			AccessLevel:  ac.AccessLevel,
			Capacity:     capacity,
			Executor:     ac.Executor,
			HealthWindow: ac.HealthWindow,
		})
		if err != nil {
			return fmt.Errorf("creating agent %s: %w", ac.Role, err)
		}
		sc.Logger.Info("agent created",
			slog.String("agent_id", a.ID()),
			slog.String("role", ac.Role),
		)
	}
	return nil
}

// restoreOrSeed loads the saved state, or registers the configured agents
// when no snapshot exists yet. It reports whether a snapshot was loaded.
func restoreOrSeed(ctx context.Context, sc *SharedComponents, name string) (bool, error) {
	err := sc.CC.LoadState(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrStateNotFound):
		return false, createConfiguredAgents(sc)
	default:
		return false, err
	}
}
