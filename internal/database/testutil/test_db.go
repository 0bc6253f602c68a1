package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dugout-developers/catchmate-server/internal/database"
)

// MustOpenTestDB opens an in-memory SQLite database for tests with the full
// schema migrated. The returned connection is closed via t.Cleanup.
func MustOpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Private in-memory database per test; the shared-cache DSN used in
	// production would leak state across parallel tests.
	db, err := database.Open(database.Config{Driver: "sqlite", DSN: "file::memory:?_foreign_keys=1"})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A second pooled connection would see its own empty in-memory database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
