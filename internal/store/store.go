// Package store implements the relational schema: users, devices,
// encrypted task blobs, sync metadata, the sync operation log, and the
// conflict log. A Store wraps a DBTX (pool, connection or transaction,
// see WithTx) so callers can run inside or outside a transaction without
// the store knowing the difference.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the minimal surface the store needs from either *pgxpool.Pool,
// *pgxpool.Conn, or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps a DBTX with the queries for every table.
type Store struct {
	db DBTX
}

// New creates a Store over the given connection or pool.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to an active transaction, for callers that
// need the push algorithm's read-then-write to share one connection.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

var _ DBTX = (*pgxpool.Pool)(nil)
var _ DBTX = (*pgxpool.Conn)(nil)
var _ DBTX = (pgx.Tx)(nil)
