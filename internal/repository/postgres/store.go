// Package postgres is the PostgreSQL implementation of the workflow store.
// Case locking uses SELECT ... FOR UPDATE bounded by a per-transaction
// lock_timeout.
package postgres

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/database"
	"github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow"
)

//go:embed schema.sql
var schema string

// PostgreSQL error codes the store distinguishes.
const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// Store implements workflow.Store. Its embedded queries run against the pool
// outside any transaction and serve the collaborator write paths.
type Store struct {
	*queries
	db          *database.DB
	lockTimeout time.Duration
}

var _ workflow.Store = (*Store)(nil)

// NewStore creates a Store. lockTimeout bounds how long a transition waits for
// a case row lock; zero leaves the server default.
func NewStore(db *database.DB, lockTimeout time.Duration) *Store {
	return &Store{queries: &queries{q: db}, db: db, lockTimeout: lockTimeout}
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to apply schema")
	}
	return nil
}

// View runs fn in a read-only snapshot transaction.
func (s *Store) View(ctx context.Context, fn func(workflow.View) error) error {
	return mapTxError(s.db.ReadOnly(ctx, func(tx pgx.Tx) error {
		return fn(&queries{q: tx})
	}))
}

// InTransaction runs fn in a read-committed transaction with the configured
// lock timeout applied locally.
func (s *Store) InTransaction(ctx context.Context, fn func(workflow.Tx) error) error {
	return mapTxError(s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if s.lockTimeout > 0 {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return wrapPg(err, "failed to set lock timeout")
			}
		}
		return fn(&queries{q: tx})
	}))
}

// queries implements workflow.Tx over any Querier.
type queries struct {
	q database.Querier
}

var _ workflow.Tx = (*queries)(nil)

// ── error mapping ─────────────────────────────────────────────────────────────

// wrapPg classifies driver errors: lock waits and context expiry are
// UNAVAILABLE, serialization failures and deadlocks are CONFLICT.
func wrapPg(err error, msg string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable:
			return errors.Unavailable(err, "case is locked by another transition")
		case pgSerializationFailure, pgDeadlockDetected:
			return errors.Wrap(err, errors.ErrCodeConflict, "concurrent modification")
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Unavailable(err, msg)
	}
	return errors.Wrap(err, errors.ErrCodeInternal, msg)
}

// mapTxError classifies failures raised by begin/commit. Errors already
// produced by the callback are returned as they are.
func mapTxError(err error) error {
	if err == nil {
		return nil
	}
	var coded *errors.Error
	if stderrors.As(err, &coded) {
		return err
	}
	if _, ok := workflow.AsTransitionError(err); ok {
		return err
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) || stderrors.Is(err, context.DeadlineExceeded) {
		return wrapPg(err, "transaction failed")
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// validID reports whether id can be compared against a UUID column.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

type scanner interface {
	Scan(dest ...any) error
}
