package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/database"
	"github.com/pesio-ai/be-plot-transfers/internal/repository/storetest"
)

// TEST_DATABASE_URL points at a disposable database; every subtest truncates it.
func TestStoreConformance(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, database.Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	store := NewStore(db, 2*time.Second)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "schema is idempotent")

	storetest.Run(t, func(t *testing.T) storetest.Store {
		_, err := db.Exec(ctx, `TRUNCATE case_audit_log, case_documents, case_accounts_breakdowns,
			case_reviews, case_clearances, cases, workflow_transitions, workflow_stages CASCADE`)
		require.NoError(t, err)
		return store
	})
}
