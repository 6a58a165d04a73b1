package store

import (
	"context"
	"database/sql"
)

// DBTX is the query surface the SQL stores need. Both *sql.DB and *sql.Tx
// satisfy it, so a store can be bound to a transaction when several writes
// must land together.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
