package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/repository/storetest"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DefaultConfig(filepath.Join(t.TempDir(), "workflow.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store { return openTestStore(t) })
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.db")
	ctx := context.Background()

	first, err := Open(ctx, DefaultConfig(path))
	require.NoError(t, err)
	require.NoError(t, first.Close())
	require.NoError(t, first.Close(), "close is idempotent")

	second, err := Open(ctx, DefaultConfig(path))
	require.NoError(t, err)
	defer second.Close()

	var version int
	require.NoError(t, second.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version))
	assert.Equal(t, 1, version)
	require.NoError(t, second.Ping(ctx))
}

func TestAuditLogIsImmutable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `INSERT INTO workflow_stages (id, code, name, sort_order, created_at) VALUES ('s1', 'A', 'A', 1, 0)`)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `INSERT INTO cases (id, file_no, plot_no, current_stage_id, status, post_entries_complete, version, created_by, created_at, updated_at)
		VALUES ('c1', 'F-1', 'P-1', 's1', 'OPEN', 0, 1, 'clerk', 0, 0)`)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `INSERT INTO case_audit_log (id, case_id, to_stage_id, guard_name, actor_id, actor_role, sequence, created_at)
		VALUES ('a1', 'c1', 's1', 'INTAKE', 'clerk', 'CLERK', 1, 0)`)
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE case_audit_log SET actor_id = 'mallory' WHERE id = 'a1'`)
	assert.Error(t, err)
	_, err = s.db.ExecContext(ctx, `DELETE FROM case_audit_log WHERE id = 'a1'`)
	assert.Error(t, err)
}

func TestInTransaction_WaitIsBoundedByContext(t *testing.T) {
	s := openTestStore(t)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.InTransaction(context.Background(), func(workflow.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.InTransaction(ctx, func(workflow.Tx) error { return nil })
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnavailable), "got %v", err)
	assert.True(t, apperrors.IsRetryable(err))

	close(release)
	require.NoError(t, <-done)
}
