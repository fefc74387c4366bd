// Package database opens and migrates the embedded store backing the cache,
// local-record, and request-queue buckets. SQLite is the default for an
// embedded deployment; MySQL and Postgres are supported for hosts that point
// several dashboard instances at one shared store.
package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/clerkdesk/offline/internal/models"
)

// Config contains database connection options.
type Config struct {
	Driver   string // sqlite (default), mysql, postgres
	Path     string // SQLite database path when Driver == sqlite
	DSN      string // Optional DSN override
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// Open initialises a gorm.DB using the provided configuration.
func Open(cfg Config) (*gorm.DB, error) {
	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = "sqlite"
	}

	switch driver {
	case "sqlite":
		return openSQLite(cfg)
	case "mysql":
		return openMySQL(cfg)
	case "postgres":
		return openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// AutoMigrate creates or updates the schema for all persisted buckets.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	return db.AutoMigrate(
		&models.CacheSnapshot{},
		&models.LocalRecord{},
		&models.QueuedRequest{},
		&models.DeadLetter{},
	)
}
