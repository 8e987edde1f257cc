// Package migrate applies versioned schema migrations for the seat pool
// tables.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/training-seat-pools/internal/database"
)

// MigrateFunc executes one migration step.
type MigrateFunc func(ctx context.Context, tx *database.Tx) error //nolint:revive

// Migration is a named, versioned schema change.
type Migration struct {
	Version int64
	Name    string
	Migrate MigrateFunc
}

// record is a row of the migrations table.
type record struct {
	ID      int64  `db:"id"`
	Name    string `db:"name"`
	Version int64  `db:"version"`
}

func migrationsTable(driverName string) string {
	switch driverName {
	case database.DriverMySQL:
		return `CREATE TABLE IF NOT EXISTS migrations (
			id INT NOT NULL AUTO_INCREMENT,
			name VARCHAR(255) NOT NULL,
			version INT NOT NULL,
			UNIQUE (version),
			PRIMARY KEY (id)
		)`
	default:
		return `CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			version INTEGER NOT NULL UNIQUE
		)`
	}
}

// Migrate applies every migration newer than the recorded version.
func Migrate(ctx context.Context, db *database.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.ExecContext(ctx, migrationsTable(db.DriverName())); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	var last record
	if err := db.GetContext(ctx, &last, db.Rebind(`SELECT id, name, version FROM migrations ORDER BY version DESC LIMIT 1`)); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	for _, m := range migrations {
		if m.Version <= last.Version {
			continue
		}
		logger.Info("applying migration", zap.Int64("version", m.Version), zap.String("name", m.Name))
		err := db.TransactionContext(ctx, func(tx *database.Tx) error {
			if err := m.Migrate(ctx, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO migrations (name, version) VALUES (?, ?)`), m.Name, m.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// execAll runs the statements for the transaction's driver in order.
func execAll(ctx context.Context, tx *database.Tx, stmts map[string][]string) error {
	list, ok := stmts[tx.DriverName()]
	if !ok {
		return fmt.Errorf("unsupported driver %q", tx.DriverName())
	}
	for _, q := range list {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
