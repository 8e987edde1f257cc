package database

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Handler is satisfied by both *DB and *Tx so that repository methods can
// run inside or outside a transaction.
type Handler interface {
	Rebind(string) string
	DriverName() string

	SelectContext(context.Context, interface{}, string, ...interface{}) error
	GetContext(context.Context, interface{}, string, ...interface{}) error
	QueryxContext(context.Context, string, ...interface{}) (*sqlx.Rows, error)
	QueryRowxContext(context.Context, string, ...interface{}) *sqlx.Row
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
}

var (
	_ Handler = (*DB)(nil)
	_ Handler = (*Tx)(nil)
)
