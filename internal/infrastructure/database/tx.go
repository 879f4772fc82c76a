package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
)

// queryExecer is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx,
// letting repository writes run with or without an enclosing transaction.
type queryExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgxTransaction adapts pgx.Tx to the domain Transaction interface
type pgxTransaction struct {
	tx  pgx.Tx
	ctx context.Context
}

func (t *pgxTransaction) Commit() error {
	return t.tx.Commit(t.ctx)
}

func (t *pgxTransaction) Rollback() error {
	return t.tx.Rollback(t.ctx)
}

func (t *pgxTransaction) Context() context.Context {
	return t.ctx
}

// beginTx starts a transaction on the pool
func beginTx(ctx context.Context, pool *pgxpool.Pool) (removal.Transaction, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, errors.NewInternalError("failed to begin transaction").WithCause(err)
	}
	return &pgxTransaction{tx: tx, ctx: ctx}, nil
}

// pgxTxFrom extracts the underlying pgx.Tx from a domain transaction
func pgxTxFrom(tx removal.Transaction) (pgx.Tx, error) {
	wrapped, ok := tx.(*pgxTransaction)
	if !ok {
		return nil, errors.NewInternalError("transaction is not a pgx transaction")
	}
	return wrapped.tx, nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic
func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx removal.Transaction) error) error {
	tx, err := beginTx(ctx, pool)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternalError("failed to commit transaction").WithCause(err)
	}
	return nil
}
