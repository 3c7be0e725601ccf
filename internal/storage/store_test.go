package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/jkaninda/hive/internal/domain"
)

func roundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Load(ctx, "state.json"); !errors.Is(err, domain.ErrStateNotFound) {
		t.Fatalf("load before save: err = %v, want ErrStateNotFound", err)
	}
	if err := s.Save(ctx, "state.json", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, "state.json", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := s.Load(ctx, "state.json")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("loaded %q, want the latest save", got)
	}
}

// --- file ---

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "nested"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	roundTrip(t, s)
	if s.Driver() != DriverFile {
		t.Errorf("driver = %q", s.Driver())
	}
}

func TestFileStore_MissingWrapsNotExist(t *testing.T) {
	s, _ := NewFileStore(t.TempDir())
	_, err := s.Load(context.Background(), "absent.json")
	if !errors.Is(err, fs.ErrNotExist) || !errors.Is(err, domain.ErrStateNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestFileStore_AbsoluteName(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(filepath.Join(dir, "base"))
	abs := filepath.Join(dir, "elsewhere", "snap.json")
	if err := s.Save(context.Background(), abs, []byte("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(abs); err != nil {
		t.Fatalf("absolute path not honored: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(abs))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

// --- sqlite ---

func TestOpen_SQLite(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Driver: DriverSQLite}, dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if s.Driver() != DriverSQLite {
		t.Errorf("driver = %q", s.Driver())
	}
	roundTrip(t, s)
	if _, err := os.Stat(filepath.Join(dir, "hive.db")); err != nil {
		t.Errorf("default database path not used: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, t.TempDir(), nil); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpen_PostgresRequiresDSN(t *testing.T) {
	if _, err := Open(Config{Driver: DriverPostgres}, t.TempDir(), nil); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}
