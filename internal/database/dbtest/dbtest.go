// Package dbtest provides database helpers for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/iliyamo/training-seat-pools/internal/database"
	"github.com/iliyamo/training-seat-pools/internal/database/migrate"
)

// OpenSQLite opens a migrated temp SQLite database for testing.  The file
// is closed when the test finishes.
func OpenSQLite(tb testing.TB) *database.DB {
	tb.Helper()
	ctx := context.Background()
	dbpath := filepath.Join(tb.TempDir(), "test.db")
	db, err := database.Open(ctx, database.DriverSQLite, dbpath)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	tb.Cleanup(func() {
		if err := db.Close(); err != nil {
			tb.Error(err)
		}
	})
	if err := migrate.Migrate(ctx, db, nil); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return db
}
