// Package sqlite is the embedded SQLite implementation of the workflow store,
// used for single-node deployments and tests.
//
// SQLite has no row locks; a transition's first statement is a no-op UPDATE
// of the case row, which takes the database write lock for the rest of the
// transaction. In-process writers additionally queue on a semaphore so they
// wait on the context rather than on busy_timeout.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	stderrors "errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Config defines the SQLite connection parameters.
type Config struct {
	Path         string
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns settings suitable for a single service instance.
func DefaultConfig(path string) Config {
	return Config{Path: path, BusyTimeout: 5 * time.Second, MaxOpenConns: 8}
}

// Store implements workflow.Store on SQLite.
type Store struct {
	*queries
	db    *sql.DB
	write chan struct{}

	closeOnce sync.Once
	closeErr  error
}

var _ workflow.Store = (*Store)(nil)

// Open connects, applies pending migrations and returns the store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 8
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migration failed: %w", err)
	}

	return &Store{queries: &queries{q: db}, db: db, write: make(chan struct{}, 1)}, nil
}

// Close closes the database handle. Repeated calls return the first result.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate applies every embedded migration above PRAGMA user_version, one
// transaction per file.
func migrate(ctx context.Context, db *sql.DB) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return err
	}

	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	for i, name := range files {
		version := i + 1
		if version <= current {
			continue
		}
		body, err := migrationFS.ReadFile(name)
		if err != nil {
			return err
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// View runs fn in a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(workflow.View) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLite(err, "failed to begin read transaction")
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&queries{q: tx})
}

// InTransaction runs fn with exclusive write access. Waiting for another
// in-process writer is bounded by ctx and reported as UNAVAILABLE.
func (s *Store) InTransaction(ctx context.Context, fn func(workflow.Tx) error) error {
	select {
	case s.write <- struct{}{}:
	case <-ctx.Done():
		return errors.Unavailable(ctx.Err(), "timed out waiting for write lock")
	}
	defer func() { <-s.write }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLite(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	return wrapSQLite(tx.Commit(), "failed to commit transaction")
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements workflow.Tx over a querier.
type queries struct {
	q querier
}

var _ workflow.Tx = (*queries)(nil)

// ── error mapping ─────────────────────────────────────────────────────────────

func wrapSQLite(err error, msg string) error {
	if err == nil {
		return nil
	}
	var sqliteErr *msqlite.Error
	if stderrors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY:
			return errors.Unavailable(err, "database is busy")
		case sqlite3lib.SQLITE_LOCKED:
			return errors.Wrap(err, errors.ErrCodeConflict, "concurrent modification")
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Unavailable(err, msg)
	}
	return errors.Wrap(err, errors.ErrCodeInternal, msg)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if stderrors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// ── value helpers ─────────────────────────────────────────────────────────────

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nowMillis() int64 {
	return toMillis(time.Now())
}

type scanner interface {
	Scan(dest ...any) error
}
