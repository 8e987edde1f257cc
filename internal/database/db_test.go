package database_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/training-seat-pools/internal/database"
	"github.com/iliyamo/training-seat-pools/internal/database/dbtest"
	"github.com/iliyamo/training-seat-pools/internal/database/migrate"
)

func TestOpenUnknownDriver(t *testing.T) {
	_, err := database.Open(context.TODO(), "invalid", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestMySQLDSN(t *testing.T) {
	assert.Equal(t, "app:secret@tcp(db:3306)/seats?charset=utf8mb4&parseTime=true&loc=UTC",
		database.MySQLDSN("app", "secret", "db", "3306", "seats"))
	assert.Equal(t, "app@tcp(db:3306)/seats?charset=utf8mb4&parseTime=true&loc=UTC",
		database.MySQLDSN("app", "", "db", "3306", "seats"))
}

func TestWrapError(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	var id int64
	err := db.GetContext(context.Background(), &id, `SELECT id FROM seat_pools WHERE id = 42`)
	assert.ErrorIs(t, database.WrapError(err), database.ErrRecordNotFound)

	other := errors.New("boom")
	assert.Equal(t, other, database.WrapError(other))
	assert.NoError(t, database.WrapError(nil))
}

func TestTransactionRollback(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := db.TransactionContext(ctx, func(tx *database.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO organizations (id, name) VALUES ('org-1', 'Acme')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.GetContext(ctx, &n, `SELECT COUNT(*) FROM organizations`))
	assert.Zero(t, n)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.DriverSQLite, filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, migrate.Migrate(ctx, db, nil))
	require.NoError(t, migrate.Migrate(ctx, db, nil))

	var versions []int64
	require.NoError(t, db.SelectContext(ctx, &versions, `SELECT version FROM migrations ORDER BY version`))
	assert.Equal(t, []int64{1, 2}, versions)
	assert.Equal(t, "", database.ForUpdate(db))
}
