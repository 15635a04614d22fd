// Package store provides database driver abstraction
package store

// DBType represents database type
type DBType string

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypePostgres DBType = "postgres"
)

// DBConfig database configuration. The actual open+PRAGMA/pool-tuning
// logic lives in gorm.go (InitGorm/InitGormPostgres) — this package used
// to also carry a standalone database/sql DBDriver duplicating that same
// logic, but nothing called it; see DESIGN.md's store section for why it
// was removed instead of kept as a second, unexercised code path.
type DBConfig struct {
	Type     DBType // sqlite or postgres
	Path     string // SQLite file path (for sqlite)
	Host     string // PostgreSQL host (for postgres)
	Port     int    // PostgreSQL port (for postgres)
	User     string // PostgreSQL user (for postgres)
	Password string // PostgreSQL password (for postgres)
	DBName   string // PostgreSQL database name (for postgres)
	SSLMode  string // PostgreSQL SSL mode (for postgres)
	PoolSize int    // PostgreSQL max open connections (for postgres); <=0 uses InitGormPostgres's default
}
