// Package store provides the unified, crash-safe persistence layer for
// campaigns, arms, posteriors, metrics, the allocation change log, and the
// crash-recovery intended-allocation journal. All database operations for
// the engine go through this package.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"adbudget/logger"
)

// Store is the unified data storage handle. Sub-stores are lazily
// initialized on first access, mirroring the teacher's sub-store pattern.
type Store struct {
	gdb    *gorm.DB
	db     *sql.DB
	dbType DBType

	campaigns *CampaignStore
	arms      *ArmStore
	posts     *PosteriorStore
	metrics   *MetricStore
	changes   *ChangeStore
	intended  *IntendedStore
	mmm       *MMMStore
	adstock   *AdStockStore

	mu sync.RWMutex
}

// New creates a Store in SQLite mode at dbPath.
func New(dbPath string) (*Store, error) {
	return NewWithConfig(DBConfig{Type: DBTypeSQLite, Path: dbPath})
}

// NewWithConfig creates a Store from the provided database configuration
// (SQLite or PostgreSQL).
func NewWithConfig(cfg DBConfig) (*Store, error) {
	gdb, err := InitGormWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	s := &Store{gdb: gdb, db: sqlDB, dbType: cfg.Type}
	if err := s.initTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}

	dbTypeStr := "SQLite"
	if cfg.Type == DBTypePostgres {
		dbTypeStr = "PostgreSQL"
	}
	logger.Infof("database initialized (GORM, %s)", dbTypeStr)
	return s, nil
}

// NewFromGorm builds a Store around an already-open GORM connection,
// without running migrations, so the database must already be migrated.
func NewFromGorm(gdb *gorm.DB) (*Store, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	return &Store{gdb: gdb, db: sqlDB, dbType: DBTypeSQLite}, nil
}

func (s *Store) initTables() error {
	if err := s.Campaigns().initTables(); err != nil {
		return fmt.Errorf("failed to initialize campaign tables: %w", err)
	}
	if err := s.Arms().initTables(); err != nil {
		return fmt.Errorf("failed to initialize arm tables: %w", err)
	}
	if err := s.Posteriors().initTables(); err != nil {
		return fmt.Errorf("failed to initialize posterior tables: %w", err)
	}
	if err := s.Metrics().initTables(); err != nil {
		return fmt.Errorf("failed to initialize metric tables: %w", err)
	}
	if err := s.Changes().initTables(); err != nil {
		return fmt.Errorf("failed to initialize change log tables: %w", err)
	}
	if err := s.Intended().initTables(); err != nil {
		return fmt.Errorf("failed to initialize intended-allocation tables: %w", err)
	}
	if err := s.MMM().initTables(); err != nil {
		return fmt.Errorf("failed to initialize MMM factor tables: %w", err)
	}
	if err := s.AdStock().initTables(); err != nil {
		return fmt.Errorf("failed to initialize ad-stock tables: %w", err)
	}
	return nil
}

// Campaigns returns the campaign sub-store.
func (s *Store) Campaigns() *CampaignStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.campaigns == nil {
		s.campaigns = NewCampaignStore(s.gdb)
	}
	return s.campaigns
}

// Arms returns the arm sub-store.
func (s *Store) Arms() *ArmStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.arms == nil {
		s.arms = NewArmStore(s.gdb)
	}
	return s.arms
}

// Posteriors returns the posterior sub-store.
func (s *Store) Posteriors() *PosteriorStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.posts == nil {
		s.posts = NewPosteriorStore(s.gdb)
	}
	return s.posts
}

// Metrics returns the metric sub-store.
func (s *Store) Metrics() *MetricStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metrics == nil {
		s.metrics = NewMetricStore(s.gdb)
	}
	return s.metrics
}

// Changes returns the append-only change-log sub-store.
func (s *Store) Changes() *ChangeStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.changes == nil {
		s.changes = NewChangeStore(s.gdb)
	}
	return s.changes
}

// Intended returns the crash-recovery intended-allocation journal sub-store.
func (s *Store) Intended() *IntendedStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intended == nil {
		s.intended = NewIntendedStore(s.gdb)
	}
	return s.intended
}

// MMM returns the MMM factor config sub-store.
func (s *Store) MMM() *MMMStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mmm == nil {
		s.mmm = NewMMMStore(s.gdb)
	}
	return s.mmm
}

// AdStock returns the ad-stock carryover sub-store.
func (s *Store) AdStock() *AdStockStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adstock == nil {
		s.adstock = NewAdStockStore(s.gdb)
	}
	return s.adstock
}

// GormDB returns the underlying GORM connection, for sub-stores and tests.
func (s *Store) GormDB() *gorm.DB {
	return s.gdb
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Transaction runs fn within a GORM transaction, rolling back on error.
func (s *Store) Transaction(fn func(tx *gorm.DB) error) error {
	return s.gdb.Transaction(fn)
}

// Checkpoint reclaims disk space after a bulk delete (the retention
// sweep's change-log prune). Under SQLite's WAL mode a TRUNCATE
// checkpoint folds the write-ahead log back into the main file and lets
// freed pages be reused; PostgreSQL reclaims space on its own schedule
// via autovacuum, so this is a no-op there.
func (s *Store) Checkpoint() error {
	if s.dbType != DBTypeSQLite {
		return nil
	}
	return s.gdb.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error
}
