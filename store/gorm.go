package store

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// InitGorm initializes GORM with SQLite. Returned handle is owned by the
// caller (normally a Store); no package-level global is kept, per the
// engine's explicit-dependency design note.
//
// Tuning departs from a plain single-writer SQLite setup: the poller,
// webhook server, override server and every campaign's cycle all write to
// this database concurrently (observe/apply happen on independent
// goroutines per campaign, per spec.md §5's scheduling model), so WAL
// keeps readers from blocking behind writers, synchronous=NORMAL is safe
// under WAL, and a single connection with a generous busy_timeout lets
// SQLite's own lock serialize writers instead of failing them outright.
// Crash safety for in-flight bid pushes is the intended-allocation
// journal's job (IntendedStore), not a stricter fsync policy here.
func InitGorm(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")
	db.Exec("PRAGMA synchronous = NORMAL")
	db.Exec("PRAGMA busy_timeout = 10000")

	return db, nil
}

// InitGormPostgres initializes GORM with PostgreSQL. poolSize<=0 falls
// back to a small default suitable for a single-instance deployment;
// config.Config.DBPoolSize lets an operator scale it with the number of
// concurrent campaign cycles.
func InitGormPostgres(host string, port int, user, password, dbname, sslmode string, poolSize int) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	if poolSize <= 0 {
		poolSize = 25
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(poolSize)
	sqlDB.SetMaxIdleConns(max(1, poolSize/5))
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// InitGormWithConfig dispatches to the SQLite or PostgreSQL initializer
// based on cfg.Type.
func InitGormWithConfig(cfg DBConfig) (*gorm.DB, error) {
	switch cfg.Type {
	case DBTypeSQLite:
		return InitGorm(cfg.Path)
	case DBTypePostgres:
		return InitGormPostgres(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode, cfg.PoolSize)
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE: %s (use 'sqlite' or 'postgres')", cfg.Type)
	}
}

// ============================================================================
// Query scopes - reusable query helpers
// ============================================================================

// ForCampaign returns a scope that filters by campaign_id.
func ForCampaign(campaignID uint64) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("campaign_id = ?", campaignID)
	}
}

// ForArm returns a scope that filters by arm_id.
func ForArm(armID uint64) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("arm_id = ?", armID)
	}
}

// ActiveCampaigns returns a scope for campaigns with status Active.
func ActiveCampaigns() func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ?", "Active")
	}
}

// TimeRange returns a scope that bounds a ts column to [from, to].
func TimeRange(column string, from, to time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(column+" >= ? AND "+column+" <= ?", from, to)
	}
}

// OrderByTSAsc returns a scope that orders by ts ascending.
func OrderByTSAsc() func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order("ts ASC")
	}
}

// Paginate returns a scope for pagination.
func Paginate(limit, offset int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Limit(limit).Offset(offset)
	}
}
