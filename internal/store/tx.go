package store

import (
	"context"
	"database/sql"
)

type txKey struct{}

type txState struct {
	owner *Store
	tx    *sql.Tx
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside one transaction. The context passed to fn carries
// the transaction; Store methods called with it join the transaction.
// A nested WithTx joins the outer transaction instead of opening another.
//
// The transaction commits if fn returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return backendErr("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, txState{owner: s, tx: tx})); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return backendErr("commit transaction", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	st, ok := ctx.Value(txKey{}).(txState)
	return ok && st.owner == s
}

// q returns the context transaction when there is one for this store.
func (s *Store) q(ctx context.Context) querier {
	if st, ok := ctx.Value(txKey{}).(txState); ok && st.owner == s {
		return st.tx
	}
	return s.db
}

// InTx reports whether ctx carries a transaction of this store.
func (s *Store) InTx(ctx context.Context) bool {
	return s.inTx(ctx)
}
