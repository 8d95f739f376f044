package repository

import (
	"context"
	"database/sql"
)

// txKey carries an open *sql.Tx through a context so that repository
// methods called inside BookingRepo.WithEventTx participate in the same
// transaction without changing their signatures.
type txKey struct{}

func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFrom(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// querier is the subset of *sql.DB and *sql.Tx the repositories need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// pick returns the transaction from ctx when present, the pool otherwise.
func pick(ctx context.Context, db *sql.DB) querier {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return db
}
