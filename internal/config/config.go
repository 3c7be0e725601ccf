// Package config handles loading and validating hive configuration.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for hive.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`     // Persistent data directory. Default: ~/.hive/data. Override: HIVE_DATA_DIR env var.
	StateFile     string               `json:"state_file,omitempty" yaml:"state_file,omitempty"` // Snapshot name. Default: hive_state.json. Override: HIVE_STATE_FILE env var.
	Log           LogConfig            `json:"log" yaml:"log"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = file store under DataDir
	Orchestrator  OrchestratorConfig   `json:"orchestrator" yaml:"orchestrator"`
	Workers       WorkersConfig        `json:"workers" yaml:"workers"`
	Agents        []AgentConfig        `json:"agents,omitempty" yaml:"agents,omitempty"`
	Memory        *MemoryConfig        `json:"memory,omitempty" yaml:"memory,omitempty"`               // nil = agents run without memory
	Submission    *SubmissionConfig    `json:"submission,omitempty" yaml:"submission,omitempty"`       // nil = unlimited submissions
	Autosave      *AutosaveConfig      `json:"autosave,omitempty" yaml:"autosave,omitempty"`           // nil = save on shutdown only
	Audit         *AuditConfig         `json:"audit,omitempty" yaml:"audit,omitempty"`                 // nil = in-memory audit logs only
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	HTTP          *HTTPConfig          `json:"http,omitempty" yaml:"http,omitempty"`                   // nil = no HTTP surface
	WebFetch      *WebFetchConfig      `json:"web_fetch,omitempty" yaml:"web_fetch,omitempty"`         // nil = web_fetch executor not registered
}

// DefaultStateFile is the snapshot name used when none is configured.
const DefaultStateFile = "hive_state.json"

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // "debug", "info" (default), "warn", "error"
	Format string `json:"format" yaml:"format"` // "text" (default) or "json"
}

// SlogLevel parses Level. Unknown values fall back to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StorageConfig configures the snapshot backend.
// When nil, defaults to one file per snapshot under the data directory.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "file" (default), "sqlite" or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "file".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "file"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: <data_dir>/hive.db.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: HIVE_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 10
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 2
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// OrchestratorConfig configures assignment of pending tasks to agents.
type OrchestratorConfig struct {
	RetryDelaySeconds float64        `json:"retry_delay_seconds" yaml:"retry_delay_seconds"` // Wait after no agent fits. Default: 5
	IdleDelaySeconds  float64        `json:"idle_delay_seconds" yaml:"idle_delay_seconds"`   // Wait on an empty queue. Default: 1
	MaxRetries        int            `json:"max_retries" yaml:"max_retries"`                 // Requeues before a task fails. Default: 3
	DefaultCapacity   int            `json:"default_capacity" yaml:"default_capacity"`       // Agent capacity when unset. Default: 10
	HealthAlpha       float64        `json:"health_alpha" yaml:"health_alpha"`               // EWMA smoothing factor. Default: 0.1
	Weights           *WeightsConfig `json:"weights,omitempty" yaml:"weights,omitempty"`     // nil = 10 / 1 / 0.1
}

// WeightsConfig weighs the terms of the suitability score.
type WeightsConfig struct {
	Health   float64 `json:"health" yaml:"health"`
	Workload float64 `json:"workload" yaml:"workload"`
	Access   float64 `json:"access" yaml:"access"`
}

// RetryDelay returns the wait after a pass with no suitable agent.
func (o OrchestratorConfig) RetryDelay() time.Duration {
	return secondsOr(o.RetryDelaySeconds, 5*time.Second)
}

// IdleDelay returns the poll interval on an empty queue.
func (o OrchestratorConfig) IdleDelay() time.Duration {
	return secondsOr(o.IdleDelaySeconds, time.Second)
}

// WorkersConfig sizes the pool that runs agent task bodies.
type WorkersConfig struct {
	PoolSize           int `json:"pool_size" yaml:"pool_size"`                       // Default: 4
	DispatchIntervalMS int `json:"dispatch_interval_ms" yaml:"dispatch_interval_ms"` // Default: 100
	TaskTimeoutSeconds int `json:"task_timeout_seconds" yaml:"task_timeout_seconds"` // Per execution. Default: 300
}

// Size returns the worker pool size.
func (w WorkersConfig) Size() int {
	if w.PoolSize > 0 {
		return w.PoolSize
	}
	return 4
}

// DispatchInterval returns how often idle agents with queued work are scanned.
func (w WorkersConfig) DispatchInterval() time.Duration {
	if w.DispatchIntervalMS > 0 {
		return time.Duration(w.DispatchIntervalMS) * time.Millisecond
	}
	return 100 * time.Millisecond
}

// TaskTimeout returns the deadline applied to one execution.
func (w WorkersConfig) TaskTimeout() time.Duration {
	if w.TaskTimeoutSeconds > 0 {
		return time.Duration(w.TaskTimeoutSeconds) * time.Second
	}
	return 300 * time.Second
}

// AgentConfig declares an agent created at startup when no saved state exists.
type AgentConfig struct {
	ID           string   `json:"id,omitempty" yaml:"id,omitempty"` // Default: generated.
	Role         string   `json:"role" yaml:"role"`
	Skills       []string `json:"skills" yaml:"skills"`
	AccessLevel  int      `json:"access_level" yaml:"access_level"`                       // Default: 1
	Capacity     int      `json:"capacity" yaml:"capacity"`                               // Default: orchestrator.default_capacity
	Executor     string   `json:"executor,omitempty" yaml:"executor,omitempty"`           // Catalog name, e.g. "echo" or "web_fetch".
	HealthWindow int      `json:"health_window,omitempty" yaml:"health_window,omitempty"` // Default: 10
}

// MemoryConfig configures the shared agent memory.
type MemoryConfig struct {
	TTLSeconds int `json:"ttl_seconds" yaml:"ttl_seconds"` // Default: 7200
	MaxResults int `json:"max_results" yaml:"max_results"` // Default: 5
}

// TTL returns the entry lifetime.
func (m *MemoryConfig) TTL() time.Duration {
	if m != nil && m.TTLSeconds > 0 {
		return time.Duration(m.TTLSeconds) * time.Second
	}
	return 2 * time.Hour
}

// SubmissionConfig rate-limits task submission per task type.
type SubmissionConfig struct {
	RequestsPerMinute int            `json:"requests_per_minute" yaml:"requests_per_minute"`               // 0 = unlimited
	BurstSize         int            `json:"burst_size" yaml:"burst_size"`                                 // Default: requests_per_minute
	PerTaskType       map[string]int `json:"per_task_type,omitempty" yaml:"per_task_type,omitempty"`       // Overrides by task type.
}

// AutosaveConfig schedules periodic state snapshots.
type AutosaveConfig struct {
	Schedule string `json:"schedule" yaml:"schedule"` // Cron expression or "@every 5m". Default: "@every 5m"
}

// CronSchedule returns the schedule expression.
func (a *AutosaveConfig) CronSchedule() string {
	if a != nil && a.Schedule != "" {
		return a.Schedule
	}
	return "@every 5m"
}

// AuditConfig mirrors agent audit entries to a JSONL file.
type AuditConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Default: <data_dir>/audit.jsonl
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path.
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "hive"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures threshold-based detection of failing task types.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% failures
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// HTTPConfig configures the status API.
type HTTPConfig struct {
	ListenAddr          string `json:"listen_addr" yaml:"listen_addr"` // Override: HIVE_LISTEN_ADDR env var.
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`   // Default: 15
	WriteTimeoutSeconds int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"` // Default: 30
}

// ReadTimeout returns the server read timeout.
func (h *HTTPConfig) ReadTimeout() time.Duration {
	if h != nil && h.ReadTimeoutSeconds > 0 {
		return time.Duration(h.ReadTimeoutSeconds) * time.Second
	}
	return 15 * time.Second
}

// WriteTimeout returns the server write timeout.
func (h *HTTPConfig) WriteTimeout() time.Duration {
	if h != nil && h.WriteTimeoutSeconds > 0 {
		return time.Duration(h.WriteTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// WebFetchConfig configures the web_fetch executor.
type WebFetchConfig struct {
	AllowedDomains       []string `json:"allowed_domains" yaml:"allowed_domains"`               // Empty = deny all. "*.example.com" admits subdomains.
	MaxResponseBytes     int64    `json:"max_response_bytes" yaml:"max_response_bytes"`         // Default: 5 MB
	TimeoutSeconds       int      `json:"timeout_seconds" yaml:"timeout_seconds"`               // Default: 10
	AllowPrivateNetworks bool     `json:"allow_private_networks" yaml:"allow_private_networks"` // Local development only.
	UserAgent            string   `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// DefaultConfigPath returns the default config file path (~/.hive/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/hive.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".hive", "config.yaml")
}

// Default returns a validated config with every section at its default,
// after environment overrides. Used when no config file exists.
func Default() (*Config, error) {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnv applies environment overrides. Env vars take precedence over config values.
func (c *Config) applyEnv() {
	if v := os.Getenv("HIVE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("HIVE_STATE_FILE"); v != "" {
		c.StateFile = v
	}
	if v := os.Getenv("HIVE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("HIVE_DB_DSN"); v != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("HIVE_LISTEN_ADDR"); v != "" {
		if c.HTTP == nil {
			c.HTTP = &HTTPConfig{}
		}
		c.HTTP.ListenAddr = v
	}
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.DataDir = filepath.Join(home, ".hive", "data")
		} else {
			c.DataDir = "data"
		}
	}
	if c.StateFile == "" {
		c.StateFile = DefaultStateFile
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// AuditLogPath returns the audit log path, defaulting under the data directory.
func (c *Config) AuditLogPath() string {
	if c.Audit != nil && c.Audit.Path != "" {
		return c.Audit.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "audit.jsonl")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	return c.Storage.StorageDriver()
}

func (c *Config) validate() error {
	switch c.StorageDriverName() {
	case "file", "sqlite":
	case "postgres":
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	o := c.Orchestrator
	if o.RetryDelaySeconds < 0 || o.IdleDelaySeconds < 0 {
		return fmt.Errorf("orchestrator delays must not be negative")
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must not be negative")
	}
	if o.HealthAlpha < 0 || o.HealthAlpha > 1 {
		return fmt.Errorf("orchestrator.health_alpha must be in (0, 1], got %v", o.HealthAlpha)
	}

	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Role == "" {
			return fmt.Errorf("agents[%d]: role is required", i)
		}
		if a.AccessLevel < 0 || a.Capacity < 0 {
			return fmt.Errorf("agents[%d]: access_level and capacity must not be negative", i)
		}
		if a.ID != "" {
			if seen[a.ID] {
				return fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID)
			}
			seen[a.ID] = true
		}
	}

	if c.Autosave != nil {
		if _, err := cron.ParseStandard(c.Autosave.CronSchedule()); err != nil {
			return fmt.Errorf("autosave.schedule %q: %w", c.Autosave.Schedule, err)
		}
	}

	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
	}
	return nil
}

func secondsOr(s float64, def time.Duration) time.Duration {
	if s > 0 {
		return time.Duration(s * float64(time.Second))
	}
	return def
}
