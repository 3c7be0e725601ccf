// Package gormstore implements snapshot persistence on top of GORM.
// All GORM usage is confined to the storage packages; domain types remain ORM-free.
package gormstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/jkaninda/hive/internal/domain"
)

// SnapshotModel maps to the "hive_snapshots" table.
type SnapshotModel struct {
	Name      string `gorm:"primaryKey;size:255"`
	Data      []byte `gorm:"not null"`
	Checksum  string `gorm:"size:64;not null"`
	Size      int    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SnapshotModel) TableName() string { return "hive_snapshots" }

// Store saves snapshots as rows keyed by name.
type Store struct {
	db     *gorm.DB
	driver string
	logger *slog.Logger
}

// New migrates the snapshot table and wraps db.
func New(db *gorm.DB, driver string, slogger *slog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&SnapshotModel{}); err != nil {
		return nil, fmt.Errorf("auto-migrating snapshots: %w", err)
	}
	return &Store{db: db, driver: driver, logger: slogger}, nil
}

// Save upserts the snapshot.
func (s *Store) Save(ctx context.Context, name string, data []byte) error {
	m := SnapshotModel{
		Name:     name,
		Data:     data,
		Checksum: checksum(data),
		Size:     len(data),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "checksum", "size", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("saving snapshot %q: %w", name, err)
	}
	s.logger.DebugContext(ctx, "snapshot saved",
		slog.String("driver", s.driver),
		slog.String("name", name),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// Load returns the snapshot. A stored checksum mismatch is a data integrity error.
func (s *Store) Load(ctx context.Context, name string) ([]byte, error) {
	var m SnapshotModel
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("snapshot %q: %w", name, domain.ErrStateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %q: %w", name, err)
	}
	if checksum(m.Data) != m.Checksum {
		return nil, fmt.Errorf("snapshot %q checksum mismatch: %w", name, domain.ErrDataIntegrity)
	}
	return m.Data, nil
}

func (s *Store) Driver() string { return s.driver }

// GormDB exposes the connection for health probes.
func (s *Store) GormDB() *gorm.DB { return s.db }

// Ping checks the database connection for health/readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewLogger routes GORM warnings and slow queries through slog.
func NewLogger(slogger *slog.Logger) logger.Interface {
	return logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

func checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
