// Package storetest is a conformance suite run against every workflow store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow"
)

// Store is the full surface both implementations expose.
type Store interface {
	workflow.Store
	workflow.Tx
	SeedTopology(ctx context.Context, stages []repository.Stage, specs []repository.TransitionSpec) error
	UndeclaredTransitions(ctx context.Context, specs []repository.TransitionSpec) ([]repository.TransitionSpec, error)
	RecordReview(ctx context.Context, rv *repository.Review) error
	RecordClearance(ctx context.Context, cl *repository.Clearance) error
	SaveAccountsBreakdown(ctx context.Context, b *repository.AccountsBreakdown) error
	AttachDocument(ctx context.Context, d *repository.Document) error
	UpdateCaseStatus(ctx context.Context, caseID, status string, postEntriesComplete bool) (*repository.Case, error)
}

// Run executes the suite. newStore must return an empty, migrated store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SeedTopologyUpserts", func(t *testing.T) { testSeedTopology(t, newStore(t)) })
	t.Run("UndeclaredTransitions", func(t *testing.T) { testUndeclaredTransitions(t, newStore(t)) })
	t.Run("CaseLifecycle", func(t *testing.T) { testCaseLifecycle(t, newStore(t)) })
	t.Run("Clearances", func(t *testing.T) { testClearances(t, newStore(t)) })
	t.Run("ReviewsAccountsDocuments", func(t *testing.T) { testCollaboratorData(t, newStore(t)) })
	t.Run("AuditTrail", func(t *testing.T) { testAuditTrail(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
}

var (
	testStages = []repository.Stage{
		{Code: "SUBMITTED", Name: "Submitted", SortOrder: 10},
		{Code: "UNDER_SCRUTINY", Name: "Under Scrutiny", SortOrder: 20},
		{Code: "CLOSED", Name: "Closed", SortOrder: 30},
	}
	testSpecs = []repository.TransitionSpec{
		{FromCode: "SUBMITTED", ToCode: "UNDER_SCRUTINY", GuardName: "GUARD_SCRUTINY_COMPLETE", Position: 1},
		{FromCode: "UNDER_SCRUTINY", ToCode: "CLOSED", GuardName: "GUARD_CLOSE_CASE", Position: 2},
	}
)

func seeded(t *testing.T, s Store) map[string]string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SeedTopology(ctx, testStages, testSpecs))
	stages, _, err := s.LoadTopology(ctx)
	require.NoError(t, err)
	ids := make(map[string]string, len(stages))
	for _, st := range stages {
		ids[st.Code] = st.ID
	}
	return ids
}

func newCase(t *testing.T, s Store, stageID, fileNo string) *repository.Case {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	c := &repository.Case{
		FileNo:         fileNo,
		PlotNo:         "P-1",
		CurrentStageID: stageID,
		Status:         repository.CaseStatusOpen,
		Version:        1,
		CreatedBy:      "clerk",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.InTransaction(context.Background(), func(tx workflow.Tx) error {
		return tx.CreateCase(context.Background(), c)
	}))
	require.NotEmpty(t, c.ID)
	return c
}

func testSeedTopology(t *testing.T, s Store) {
	ctx := context.Background()
	ids := seeded(t, s)
	require.Len(t, ids, 3)

	role := "ADMIN"
	require.NoError(t, s.SeedTopology(ctx, testStages, []repository.TransitionSpec{
		{FromCode: "SUBMITTED", ToCode: "UNDER_SCRUTINY", GuardName: "GUARD_NONE", RequiredRole: &role, Position: 5},
	}))

	stages, transitions, err := s.LoadTopology(ctx)
	require.NoError(t, err)
	assert.Len(t, stages, 3)
	require.Len(t, transitions, 2)

	// Position 2 now sorts ahead of the re-seeded edge at 5.
	assert.Equal(t, ids["UNDER_SCRUTINY"], transitions[0].FromStageID)
	upd := transitions[1]
	assert.Equal(t, ids["SUBMITTED"], upd.FromStageID)
	assert.Equal(t, "GUARD_NONE", upd.GuardName)
	require.NotNil(t, upd.RequiredRole)
	assert.Equal(t, "ADMIN", *upd.RequiredRole)

	err = s.SeedTopology(ctx, nil, []repository.TransitionSpec{{FromCode: "SUBMITTED", ToCode: "MISSING", GuardName: "GUARD_NONE"}})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound), "got %v", err)
}

func testUndeclaredTransitions(t *testing.T, s Store) {
	ctx := context.Background()
	seeded(t, s)

	stale, err := s.UndeclaredTransitions(ctx, testSpecs)
	require.NoError(t, err)
	assert.Empty(t, stale)

	// The definition dropped UNDER_SCRUTINY -> CLOSED.
	stale, err = s.UndeclaredTransitions(ctx, testSpecs[:1])
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "UNDER_SCRUTINY", stale[0].FromCode)
	assert.Equal(t, "CLOSED", stale[0].ToCode)
	assert.Equal(t, "GUARD_CLOSE_CASE", stale[0].GuardName)
	assert.Equal(t, 2, stale[0].Position)
	assert.Nil(t, stale[0].RequiredRole)
}

func testCaseLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	ids := seeded(t, s)
	c := newCase(t, s, ids["SUBMITTED"], "F-1")

	got, err := s.Case(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "F-1", got.FileNo)
	assert.Nil(t, got.PreviousStageID)
	assert.True(t, c.CreatedAt.Equal(got.CreatedAt))

	_, err = s.Case(ctx, uuid.NewString())
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))

	err = s.InTransaction(ctx, func(tx workflow.Tx) error {
		return tx.CreateCase(ctx, &repository.Case{
			FileNo: "F-1", CurrentStageID: ids["SUBMITTED"], Status: repository.CaseStatusOpen,
			Version: 1, CreatedBy: "clerk", CreatedAt: time.Now(), UpdatedAt: time.Now(),
		})
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeExists), "got %v", err)

	var moved *repository.Case
	require.NoError(t, s.InTransaction(ctx, func(tx workflow.Tx) error {
		locked, err := tx.LockCase(ctx, c.ID)
		if err != nil {
			return err
		}
		moved, err = tx.MoveCase(ctx, locked, ids["UNDER_SCRUTINY"])
		return err
	}))
	assert.Equal(t, ids["UNDER_SCRUTINY"], moved.CurrentStageID)
	require.NotNil(t, moved.PreviousStageID)
	assert.Equal(t, ids["SUBMITTED"], *moved.PreviousStageID)
	assert.Equal(t, int64(2), moved.Version)

	// c still carries version 1.
	err = s.InTransaction(ctx, func(tx workflow.Tx) error {
		_, err := tx.MoveCase(ctx, c, ids["CLOSED"])
		return err
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeConflict), "got %v", err)
	assert.True(t, apperrors.IsRetryable(err))

	err = s.InTransaction(ctx, func(tx workflow.Tx) error {
		_, err := tx.LockCase(ctx, uuid.NewString())
		return err
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound), "got %v", err)

	updated, err := s.UpdateCaseStatus(ctx, c.ID, repository.CaseStatusApproved, true)
	require.NoError(t, err)
	assert.Equal(t, repository.CaseStatusApproved, updated.Status)
	assert.True(t, updated.PostEntriesComplete)
	assert.Equal(t, int64(2), updated.Version, "status updates do not bump the version")
	assert.Equal(t, ids["UNDER_SCRUTINY"], updated.CurrentStageID)
}

func testClearances(t *testing.T, s Store) {
	ctx := context.Background()
	ids := seeded(t, s)
	c := newCase(t, s, ids["SUBMITTED"], "F-2")

	var created []bool
	require.NoError(t, s.InTransaction(ctx, func(tx workflow.Tx) error {
		for i := 0; i < 2; i++ {
			ok, err := tx.EnsureClearance(ctx, c.ID, repository.SectionAccounts, repository.ClearanceStatusPending)
			if err != nil {
				return err
			}
			created = append(created, ok)
		}
		return nil
	}))
	assert.Equal(t, []bool{true, false}, created)

	cleared := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.SetClearanceStatus(ctx, c.ID, repository.SectionAccounts, repository.ClearanceStatusClear, &cleared))
	require.NoError(t, s.SetClearanceStatus(ctx, c.ID, repository.SectionBCA, repository.ClearanceStatusObjection, nil))

	all, err := s.Clearances(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, repository.SectionAccounts, all[0].SectionCode)
	assert.Equal(t, repository.ClearanceStatusClear, all[0].StatusCode)
	require.NotNil(t, all[0].ClearedAt)
	assert.True(t, cleared.Equal(*all[0].ClearedAt))
	assert.Nil(t, all[1].ClearedAt)

	remarks := "boundary wall encroachment"
	cl := &repository.Clearance{CaseID: c.ID, SectionCode: repository.SectionHousing, StatusCode: repository.ClearanceStatusObjection, Remarks: &remarks}
	require.NoError(t, s.RecordClearance(ctx, cl))
	assert.NotEmpty(t, cl.ID)

	got, err := s.Clearance(ctx, c.ID, repository.SectionHousing)
	require.NoError(t, err)
	require.NotNil(t, got.Remarks)
	assert.Equal(t, remarks, *got.Remarks)

	none, err := s.Clearance(ctx, c.ID, repository.SectionOWO)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func testCollaboratorData(t *testing.T, s Store) {
	ctx := context.Background()
	ids := seeded(t, s)
	c := newCase(t, s, ids["SUBMITTED"], "F-3")

	rv := &repository.Review{CaseID: c.ID, SectionCode: repository.SectionOWO, Status: repository.ReviewStatusRejected, ReviewerID: "owo-1", ReviewedAt: time.Now()}
	require.NoError(t, s.RecordReview(ctx, rv))
	rv2 := &repository.Review{CaseID: c.ID, SectionCode: repository.SectionOWO, Status: repository.ReviewStatusApproved, ReviewerID: "owo-2", ReviewedAt: time.Now()}
	require.NoError(t, s.RecordReview(ctx, rv2))

	got, err := s.Review(ctx, c.ID, repository.SectionOWO)
	require.NoError(t, err)
	assert.Equal(t, repository.ReviewStatusApproved, got.Status)
	assert.Equal(t, "owo-2", got.ReviewerID)
	assert.Equal(t, rv.ID, got.ID, "a later review replaces the earlier row")

	missing, err := s.Review(ctx, c.ID, repository.SectionApproval)
	require.NoError(t, err)
	assert.Nil(t, missing)

	b := &repository.AccountsBreakdown{CaseID: c.ID, TransferFee: 100, StampDuty: 20, RegistrationFee: 3, ProcessingFee: 4, OtherCharges: 5, TotalAmount: 999}
	require.NoError(t, s.SaveAccountsBreakdown(ctx, b))
	stored, err := s.AccountsBreakdown(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(132), stored.TotalAmount)
	assert.False(t, stored.PaymentVerified)

	b.PaymentVerified = true
	require.NoError(t, s.SaveAccountsBreakdown(ctx, b))
	stored, err = s.AccountsBreakdown(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.PaymentVerified)

	for _, doc := range []string{"TRANSFER_DEED", "APPLICATION_FORM", "TRANSFER_DEED"} {
		require.NoError(t, s.AttachDocument(ctx, &repository.Document{CaseID: c.ID, DocType: doc, FileRef: "dms://" + doc, UploadedBy: "clerk", UploadedAt: time.Now()}))
	}
	docs, err := s.Documents(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "APPLICATION_FORM", docs[0].DocType)
}

func testAuditTrail(t *testing.T, s Store) {
	ctx := context.Background()
	ids := seeded(t, s)
	c := newCase(t, s, ids["SUBMITTED"], "F-4")

	from := ids["SUBMITTED"]
	remarks := "ok"
	records := []*repository.AuditRecord{
		{CaseID: c.ID, FromStageID: &from, ToStageID: ids["UNDER_SCRUTINY"], GuardName: "GUARD_SCRUTINY_COMPLETE", ActorID: "clerk", ActorRole: "CLERK", Remarks: &remarks, Sequence: 2},
		{CaseID: c.ID, ToStageID: ids["SUBMITTED"], GuardName: "INTAKE", ActorID: "clerk", Sequence: 1},
	}
	require.NoError(t, s.InTransaction(ctx, func(tx workflow.Tx) error {
		for _, r := range records {
			if err := tx.AppendAudit(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))

	trail, err := s.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, int64(1), trail[0].Sequence)
	assert.Nil(t, trail[0].FromStageID)
	assert.Equal(t, int64(2), trail[1].Sequence)
	require.NotNil(t, trail[1].Remarks)
	assert.Equal(t, "ok", *trail[1].Remarks)
	assert.Equal(t, "CLERK", trail[1].ActorRole)

	err = s.InTransaction(ctx, func(tx workflow.Tx) error {
		return tx.AppendAudit(ctx, &repository.AuditRecord{CaseID: c.ID, ToStageID: ids["CLOSED"], GuardName: "X", ActorID: "clerk", Sequence: 2})
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeConflict), "got %v", err)
}

func testRollback(t *testing.T, s Store) {
	ctx := context.Background()
	ids := seeded(t, s)
	c := newCase(t, s, ids["SUBMITTED"], "F-5")

	boom := errors.New("guard exploded")
	err := s.InTransaction(ctx, func(tx workflow.Tx) error {
		locked, err := tx.LockCase(ctx, c.ID)
		if err != nil {
			return err
		}
		if _, err := tx.EnsureClearance(ctx, c.ID, repository.SectionAccounts, repository.ClearanceStatusPending); err != nil {
			return err
		}
		if _, err := tx.MoveCase(ctx, locked, ids["UNDER_SCRUTINY"]); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Case(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ids["SUBMITTED"], got.CurrentStageID)
	assert.Equal(t, int64(1), got.Version)

	cl, err := s.Clearance(ctx, c.ID, repository.SectionAccounts)
	require.NoError(t, err)
	assert.Nil(t, cl)

	require.NoError(t, s.View(ctx, func(v workflow.View) error {
		trail, err := v.AuditTrail(ctx, c.ID)
		assert.Empty(t, trail)
		return err
	}))
}
