package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// ErrRecordNotFound is returned by WrapError in place of sql.ErrNoRows.
var ErrRecordNotFound = errors.New("record not found")

// DB wraps sqlx.DB and adds transaction helpers.
type DB struct {
	*sqlx.DB
}

// Tx wraps sqlx.Tx.
type Tx struct {
	*sqlx.Tx
}

// Open connects to the named driver and verifies the connection.
func Open(ctx context.Context, driverName, dsn string) (*DB, error) {
	switch driverName {
	case DriverMySQL, DriverSQLite:
	default:
		return nil, fmt.Errorf("unknown driver %q", driverName)
	}
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	switch driverName {
	case DriverSQLite:
		// One connection serializes writers; sqlite would otherwise fail
		// concurrent transactions with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Ping with timeout
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if driverName == DriverSQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &DB{DB: db}, nil
}

// MySQLDSN builds a DSN for the mysql driver.
func MySQLDSN(user, pass, host, port, name string) string {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)
}

// TransactionContext runs fn inside a transaction.  The transaction is
// committed when fn returns nil and rolled back otherwise.
func (d *DB) TransactionContext(ctx context.Context, fn func(tx *Tx) error) error {
	txx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = txx.Rollback()
		}
	}()
	if err := fn(&Tx{txx}); err != nil {
		return err
	}
	if err := txx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// WrapError maps sql.ErrNoRows to ErrRecordNotFound and leaves every other
// error untouched.
func WrapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRecordNotFound
	}
	return err
}

// ForUpdate returns the row-locking suffix supported by the handler's
// driver.  sqlite locks the whole database on write and has no such clause.
func ForUpdate(h Handler) string {
	if h.DriverName() == DriverMySQL {
		return " FOR UPDATE"
	}
	return ""
}
