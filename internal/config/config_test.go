package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- Load ---

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "hive.yaml", `
data_dir: /tmp/hive-test
log:
  level: debug
  format: json
orchestrator:
  retry_delay_seconds: 0.5
  max_retries: 2
  weights:
    health: 5
    workload: 2
    access: 0
agents:
  - id: fetcher-1
    role: fetcher
    skills: [web_fetch]
    access_level: 2
    executor: web_fetch
autosave:
  schedule: "@every 1m"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/tmp/hive-test" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.StateFile != DefaultStateFile {
		t.Errorf("state_file = %q, want default", cfg.StateFile)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("level = %v", cfg.Log.SlogLevel())
	}
	if cfg.Orchestrator.RetryDelay() != 500*time.Millisecond {
		t.Errorf("retry delay = %v", cfg.Orchestrator.RetryDelay())
	}
	if cfg.Orchestrator.IdleDelay() != time.Second {
		t.Errorf("idle delay = %v, want default 1s", cfg.Orchestrator.IdleDelay())
	}
	if w := cfg.Orchestrator.Weights; w == nil || w.Health != 5 || w.Workload != 2 {
		t.Errorf("weights = %+v", w)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Executor != "web_fetch" || cfg.Agents[0].AccessLevel != 2 {
		t.Errorf("agents = %+v", cfg.Agents)
	}
	if cfg.StorageDriverName() != "file" {
		t.Errorf("driver = %q, want file", cfg.StorageDriverName())
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "hive.json", `{"data_dir": "/tmp/x", "storage": {"driver": "sqlite"}, "workers": {"pool_size": 8}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageDriverName() != "sqlite" {
		t.Errorf("driver = %q", cfg.StorageDriverName())
	}
	if cfg.Workers.Size() != 8 {
		t.Errorf("pool size = %d", cfg.Workers.Size())
	}
	if cfg.Workers.DispatchInterval() != 100*time.Millisecond {
		t.Errorf("dispatch interval = %v", cfg.Workers.DispatchInterval())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HIVE_DATA_DIR", "/env/data")
	t.Setenv("HIVE_STATE_FILE", "env.json")
	t.Setenv("HIVE_DB_DSN", "postgres://u:p@localhost/hive")
	t.Setenv("HIVE_LISTEN_ADDR", ":9999")

	cfg, err := Load(writeFile(t, "hive.yaml", "data_dir: /file/data\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/env/data" || cfg.StateFile != "env.json" {
		t.Errorf("data_dir/state_file = %q/%q", cfg.DataDir, cfg.StateFile)
	}
	if cfg.StorageDriverName() != "postgres" || cfg.Storage.Postgres.DSN == "" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.HTTP == nil || cfg.HTTP.ListenAddr != ":9999" {
		t.Errorf("http = %+v", cfg.HTTP)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown driver":   "storage:\n  driver: redis\n",
		"postgres no dsn":  "storage:\n  driver: postgres\n",
		"agent no role":    "agents:\n  - id: a\n",
		"duplicate agent":  "agents:\n  - {id: a, role: r}\n  - {id: a, role: r}\n",
		"bad alpha":        "orchestrator:\n  health_alpha: 2\n",
		"bad schedule":     "autosave:\n  schedule: \"not a cron\"\n",
		"bad log format":   "log:\n  format: xml\n",
		"tracing endpoint": "observability:\n  tracing:\n    enabled: true\n",
	}
	for name, body := range cases {
		if _, err := Load(writeFile(t, "hive.yaml", body)); err == nil {
			t.Errorf("%s: expected error", name)
		} else if !strings.Contains(err.Error(), "invalid config") {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// --- Defaults ---

func TestDefault(t *testing.T) {
	t.Setenv("HIVE_DATA_DIR", t.TempDir())
	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if cfg.Orchestrator.RetryDelay() != 5*time.Second {
		t.Errorf("retry delay = %v", cfg.Orchestrator.RetryDelay())
	}
	if cfg.Memory.TTL() != 2*time.Hour {
		t.Errorf("memory ttl = %v", cfg.Memory.TTL())
	}
	if cfg.Autosave.CronSchedule() != "@every 5m" {
		t.Errorf("schedule = %q", cfg.Autosave.CronSchedule())
	}
	if !strings.HasSuffix(cfg.AuditLogPath(), "audit.jsonl") {
		t.Errorf("audit path = %q", cfg.AuditLogPath())
	}
	var h *HTTPConfig
	if h.ReadTimeout() != 15*time.Second {
		t.Errorf("read timeout = %v", h.ReadTimeout())
	}
}
