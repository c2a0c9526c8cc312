// Package storage implements the deduplicating insertion layer (spec.md
// §4.A): a transactional session scope plus insert_general,
// insert_mixed_general, get_general, delete_general and projection helpers
// shared by every concrete Postgres store.
package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// DefaultBatchSize is the batchsize insert_general batches at (spec.md §4.A:
// "approximately 200").
const DefaultBatchSize = 200

// TxFunc runs inside a transactional session. Returning an error rolls the
// transaction back; returning nil commits it.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// WithTx opens a transaction, runs fn, and guarantees the transaction is
// either committed (fn returned nil) or rolled back (fn returned an error,
// or panicked) on every exit path. This is the "scoped acquisition of a
// transactional context with guaranteed release" spec.md §4.A calls for.
func WithTx(ctx context.Context, db *sql.DB, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithSavepoint runs fn inside a named SAVEPOINT nested in tx, rolling back
// to the savepoint (not the whole transaction) on error. The Return Engine
// uses this so a single bad result can't cost it the manager row lock or
// any other task's result already applied in the same call (spec.md §4.H).
func WithSavepoint(ctx context.Context, tx *sql.Tx, name string, fn TxFunc) (err error) {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_, _ = tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint failed: %v)", err, rbErr)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

// ReadFunc runs inside a short-lived read-only session.
type ReadFunc func(ctx context.Context, tx *sql.Tx) error

// WithReadTx implements the "optional_session" pattern of spec.md §5: a
// short-lived session that always rolls back on exit, since it never
// intends to persist anything.
func WithReadTx(ctx context.Context, db *sql.DB, fn ReadFunc) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	return fn(ctx, tx)
}
