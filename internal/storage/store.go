// Package storage persists named state snapshots. Three backends are
// provided: a plain file per snapshot (default, zero-config), SQLite and
// PostgreSQL. The database backends live in subpackages and share the
// GORM model in gormstore.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/jkaninda/hive/internal/storage/postgres"
	"github.com/jkaninda/hive/internal/storage/sqlite"
)

// Store saves and loads opaque snapshot blobs by name.
// Load returns an error matching domain.ErrStateNotFound when name was never saved.
type Store interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
	// Driver returns the storage driver name ("file", "sqlite" or "postgres").
	Driver() string
	Close() error
}

const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// DefaultDriver is the default storage driver.
	DefaultDriver = DriverFile
)

// Config selects and configures a backend.
type Config struct {
	Driver   string         `json:"driver" yaml:"driver"` // "file" (default), "sqlite" or "postgres"
	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Default: <data_dir>/hive.db
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"`
}

func (c Config) driver() string {
	if c.Driver == "" {
		return DefaultDriver
	}
	return c.Driver
}

// Open creates the configured backend. dataDir anchors the file store and
// the default SQLite path.
func Open(cfg Config, dataDir string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	switch cfg.driver() {
	case DriverFile:
		s, err := NewFileStore(dataDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		path := cfg.SQLite.Path
		if path == "" {
			path = filepath.Join(dataDir, "hive.db")
		}
		s, err := sqlite.Open(sqlite.Config{Path: path, JournalMode: cfg.SQLite.JournalMode}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := postgres.Open(postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: secondsToDuration(cfg.Postgres.ConnMaxLifetimeS),
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
