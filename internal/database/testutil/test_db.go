// Package testutil provides database helpers shared by store and engine tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/clerkdesk/offline/internal/database"
)

// MustOpenTestDB opens a migrated in-memory SQLite database for tests. Each
// call gets its own named memory database so parallel tests stay isolated;
// the connection is closed via t.Cleanup.
func MustOpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := database.Open(database.Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

// MustOpenFileDB opens a migrated SQLite database at the supplied path,
// used by durability tests that reopen the same file.
func MustOpenFileDB(t *testing.T, path string) *gorm.DB {
	t.Helper()

	db, err := database.Open(database.Config{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}
