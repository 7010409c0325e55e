package workflow_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/platform/logger"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
	"github.com/pesio-ai/be-plot-transfers/internal/repository/sqlite"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow/seed"
)

var (
	clerk    = workflow.Actor{ID: "clerk-1", Role: "CLERK"}
	owo      = workflow.Actor{ID: "owo-1", Role: "OWO"}
	accounts = workflow.Actor{ID: "acc-1", Role: "ACCOUNTS"}
	approver = workflow.Actor{ID: "dir-1", Role: "APPROVER"}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []workflow.TransitionEvent
}

func (p *recordingPublisher) PublishTransition(_ context.Context, ev workflow.TransitionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Events() []workflow.TransitionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]workflow.TransitionEvent(nil), p.events...)
}

type harness struct {
	store     *sqlite.Store
	engine    *workflow.Engine
	publisher *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, sqlite.DefaultConfig(filepath.Join(t.TempDir(), "plots.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	def, err := seed.Default()
	require.NoError(t, err)
	require.NoError(t, seed.Apply(ctx, store, def))

	guards := workflow.NewGuardCatalogue(workflow.DefaultGuardOptions())
	topo := workflow.NewTopology(store, guards, logger.Nop())
	require.NoError(t, topo.Reload(ctx))

	pub := &recordingPublisher{}
	engine := workflow.NewEngine(store, topo, workflow.NewEvaluator(guards, logger.Nop()),
		workflow.Config{InitialStage: "SUBMITTED", ExecuteTimeout: 5 * time.Second},
		logger.Nop(), workflow.WithPublisher(pub))

	return &harness{store: store, engine: engine, publisher: pub}
}

func (h *harness) intake(t *testing.T, fileNo string) *repository.Case {
	t.Helper()
	c, err := h.engine.Intake(context.Background(), workflow.NewCase{FileNo: fileNo, PlotNo: "P-" + fileNo, CreatedBy: clerk})
	require.NoError(t, err)
	return c
}

func (h *harness) stageOf(t *testing.T, caseID string) string {
	t.Helper()
	c, err := h.engine.GetCase(context.Background(), caseID)
	require.NoError(t, err)
	stages, err := h.engine.Stages()
	require.NoError(t, err)
	for _, s := range stages {
		if s.ID == c.CurrentStageID {
			return s.Code
		}
	}
	t.Fatalf("case %s is on unknown stage %s", caseID, c.CurrentStageID)
	return ""
}

func (h *harness) review(t *testing.T, caseID, section, status string) {
	t.Helper()
	require.NoError(t, h.store.RecordReview(context.Background(), &repository.Review{
		CaseID: caseID, SectionCode: section, Status: status, ReviewerID: "reviewer", ReviewedAt: time.Now(),
	}))
}

func (h *harness) clearance(t *testing.T, caseID, section, status string) {
	t.Helper()
	require.NoError(t, h.store.RecordClearance(context.Background(), &repository.Clearance{
		CaseID: caseID, SectionCode: section, StatusCode: status,
	}))
}

func (h *harness) breakdown(t *testing.T, caseID string, verified bool) {
	t.Helper()
	require.NoError(t, h.store.SaveAccountsBreakdown(context.Background(), &repository.AccountsBreakdown{
		CaseID: caseID, TransferFee: 25000, StampDuty: 5000, PaymentVerified: verified,
	}))
}

func (h *harness) execute(caseID, to string, actor workflow.Actor) (*repository.Case, error) {
	return h.engine.Execute(context.Background(), workflow.ExecuteRequest{CaseID: caseID, ToStage: to, Actor: actor})
}

type step struct {
	to      string
	actor   workflow.Actor
	prepare func(t *testing.T, h *harness, caseID string)
}

// happyPath satisfies and executes every forward edge of the seeded workflow.
var happyPath = []step{
	{"UNDER_SCRUTINY", clerk, func(t *testing.T, h *harness, id string) {
		h.review(t, id, repository.SectionScrutiny, repository.ReviewStatusRecorded)
	}},
	{"SENT_FOR_CLEARANCES", clerk, func(t *testing.T, h *harness, id string) {
		for _, doc := range workflow.DefaultGuardOptions().IntakeDocuments {
			require.NoError(t, h.store.AttachDocument(context.Background(), &repository.Document{
				CaseID: id, DocType: doc, FileRef: "dms://" + doc, UploadedBy: clerk.ID, UploadedAt: time.Now(),
			}))
		}
	}},
	{"BCA_HOUSING_REVIEW", clerk, func(t *testing.T, h *harness, id string) {
		h.clearance(t, id, repository.SectionBCA, repository.ClearanceStatusClear)
		h.clearance(t, id, repository.SectionHousing, repository.ClearanceStatusClear)
	}},
	{"OWO_REVIEW_BCA_HOUSING", clerk, nil},
	{"SENT_TO_ACCOUNTS", owo, func(t *testing.T, h *harness, id string) {
		h.review(t, id, repository.SectionOWO, repository.ReviewStatusApproved)
	}},
	{"ACCOUNTS_CLEAR", accounts, func(t *testing.T, h *harness, id string) {
		h.breakdown(t, id, true)
	}},
	{"OWO_REVIEW_ACCOUNTS", clerk, nil},
	{"PENDING_APPROVAL", owo, func(t *testing.T, h *harness, id string) {
		h.review(t, id, repository.SectionOWOAccounts, repository.ReviewStatusApproved)
	}},
	{"APPROVED", approver, func(t *testing.T, h *harness, id string) {
		h.review(t, id, repository.SectionApproval, repository.ReviewStatusApproved)
	}},
	{"POST_ENTRIES", clerk, func(t *testing.T, h *harness, id string) {
		_, err := h.store.UpdateCaseStatus(context.Background(), id, repository.CaseStatusApproved, false)
		require.NoError(t, err)
	}},
	{"CLOSED", clerk, func(t *testing.T, h *harness, id string) {
		_, err := h.store.UpdateCaseStatus(context.Background(), id, repository.CaseStatusApproved, true)
		require.NoError(t, err)
	}},
}

// walkTo drives a fresh case along the happy path until it occupies target.
func (h *harness) walkTo(t *testing.T, caseID, target string) {
	t.Helper()
	for _, s := range happyPath {
		if h.stageOf(t, caseID) == target {
			return
		}
		if s.prepare != nil {
			s.prepare(t, h, caseID)
		}
		_, err := h.execute(caseID, s.to, s.actor)
		require.NoError(t, err, "advance to %s", s.to)
	}
	require.Equal(t, target, h.stageOf(t, caseID))
}

func previewFor(t *testing.T, items []workflow.PreviewItem, to string) workflow.PreviewItem {
	t.Helper()
	for _, it := range items {
		if it.ToStage.Code == to {
			return it
		}
	}
	t.Fatalf("no preview item for %s", to)
	return workflow.PreviewItem{}
}

func TestIntake(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	c := h.intake(t, "F-100")
	assert.Equal(t, "SUBMITTED", h.stageOf(t, c.ID))
	assert.Nil(t, c.PreviousStageID)
	assert.Equal(t, int64(1), c.Version)

	history, err := h.engine.History(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].FromStageID)
	assert.Equal(t, workflow.GuardNameIntake, history[0].GuardName)

	_, err = h.engine.Intake(context.Background(), workflow.NewCase{FileNo: "F-100", CreatedBy: clerk})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeExists))

	_, err = h.engine.Intake(context.Background(), workflow.NewCase{FileNo: "  ", CreatedBy: clerk})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))
}

func TestScenarioA_ScrutinyGatesSubmission(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	c := h.intake(t, "F-A")

	items, err := h.engine.Preview(ctx, "SUBMITTED", c.ID, clerk)
	require.NoError(t, err)
	item := previewFor(t, items, "UNDER_SCRUTINY")
	assert.False(t, item.Result.CanTransition)
	assert.Contains(t, item.Result.Reason, "scrutiny")

	h.review(t, c.ID, repository.SectionScrutiny, repository.ReviewStatusRecorded)

	items, err = h.engine.Preview(ctx, "SUBMITTED", c.ID, clerk)
	require.NoError(t, err)
	assert.True(t, previewFor(t, items, "UNDER_SCRUTINY").Result.CanTransition)

	moved, err := h.execute(c.ID, "UNDER_SCRUTINY", clerk)
	require.NoError(t, err)
	assert.Equal(t, "UNDER_SCRUTINY", h.stageOf(t, c.ID))
	require.NotNil(t, moved.PreviousStageID)
	assert.Equal(t, c.CurrentStageID, *moved.PreviousStageID)

	history, err := h.engine.History(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	last := history[1]
	assert.Equal(t, string(workflow.GuardScrutinyComplete), last.GuardName)
	assert.Equal(t, clerk.ID, last.ActorID)
	assert.Equal(t, moved.CurrentStageID, last.ToStageID)
	assert.Equal(t, moved.Version, last.Sequence)

	events := h.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "SUBMITTED", events[0].FromStage)
	assert.Equal(t, "UNDER_SCRUTINY", events[0].ToStage)
}

func TestScenarioB_SentToAccountsOpensAccountsClearance(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	c := h.intake(t, "F-B")
	h.walkTo(t, c.ID, "OWO_REVIEW_BCA_HOUSING")
	h.review(t, c.ID, repository.SectionOWO, repository.ReviewStatusApproved)

	before, err := h.store.Clearance(ctx, c.ID, repository.SectionAccounts)
	require.NoError(t, err)
	require.Nil(t, before)

	_, err = h.execute(c.ID, "SENT_TO_ACCOUNTS", owo)
	require.NoError(t, err)

	all, err := h.store.Clearances(ctx, c.ID)
	require.NoError(t, err)
	var acc []*repository.Clearance
	for _, cl := range all {
		if cl.SectionCode == repository.SectionAccounts {
			acc = append(acc, cl)
		}
	}
	require.Len(t, acc, 1)
	assert.Equal(t, repository.ClearanceStatusPending, acc[0].StatusCode)
}

func TestScenarioC_AccountsClearRequiresVerifiedPayment(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	c := h.intake(t, "F-C")
	h.walkTo(t, c.ID, "SENT_TO_ACCOUNTS")
	h.breakdown(t, c.ID, false)

	before, err := h.engine.GetCase(ctx, c.ID)
	require.NoError(t, err)

	_, err = h.execute(c.ID, "ACCOUNTS_CLEAR", accounts)
	te, ok := workflow.AsTransitionError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, workflow.KindGuardRejected, te.Kind)
	assert.Equal(t, false, te.Metadata["payment_verified"])

	after, err := h.engine.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, before.CurrentStageID, after.CurrentStageID)
	assert.Equal(t, before.Version, after.Version)

	cl, err := h.store.Clearance(ctx, c.ID, repository.SectionAccounts)
	require.NoError(t, err)
	require.NotNil(t, cl)
	assert.Equal(t, repository.ClearanceStatusPending, cl.StatusCode)

	h.breakdown(t, c.ID, true)
	_, err = h.execute(c.ID, "ACCOUNTS_CLEAR", accounts)
	require.NoError(t, err)

	cl, err = h.store.Clearance(ctx, c.ID, repository.SectionAccounts)
	require.NoError(t, err)
	assert.Equal(t, repository.ClearanceStatusClear, cl.StatusCode)
	assert.NotNil(t, cl.ClearedAt)
}

func TestExecute_IsNotRepeatable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.intake(t, "F-IDEM")
	h.review(t, c.ID, repository.SectionScrutiny, repository.ReviewStatusRecorded)

	_, err := h.execute(c.ID, "UNDER_SCRUTINY", clerk)
	require.NoError(t, err)
	_, err = h.execute(c.ID, "UNDER_SCRUTINY", clerk)
	assert.True(t, workflow.IsKind(err, workflow.KindInvalidTransition), "got %v", err)

	history, err := h.engine.History(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestExecute_RoleGate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	c := h.intake(t, "F-ROLE")
	h.walkTo(t, c.ID, "OWO_REVIEW_BCA_HOUSING")
	h.review(t, c.ID, repository.SectionOWO, repository.ReviewStatusApproved)

	_, err := h.execute(c.ID, "SENT_TO_ACCOUNTS", clerk)
	te, ok := workflow.AsTransitionError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, workflow.KindUnauthorized, te.Kind)
	assert.Equal(t, workflow.ReasonInsufficientRole, te.Reason)

	cl, err := h.store.Clearance(ctx, c.ID, repository.SectionAccounts)
	require.NoError(t, err)
	assert.Nil(t, cl, "rejected transition must not apply side effects")

	items, err := h.engine.Available(ctx, c.ID, clerk)
	require.NoError(t, err)
	for _, it := range items {
		assert.False(t, it.Result.CanTransition, it.ToStage.Code)
		assert.Equal(t, workflow.ReasonInsufficientRole, it.Result.Reason)
	}
}

func TestExecute_Failures(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.intake(t, "F-ERR")

	tests := []struct {
		name   string
		caseID string
		to     string
		kind   workflow.Kind
	}{
		{"unknown case", "00000000-0000-0000-0000-000000000000", "UNDER_SCRUTINY", workflow.KindNotFound},
		{"unknown stage", c.ID, "NOWHERE", workflow.KindNotFound},
		{"no edge", c.ID, "CLOSED", workflow.KindInvalidTransition},
		{"guard rejects", c.ID, "UNDER_SCRUTINY", workflow.KindGuardRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.execute(tt.caseID, tt.to, clerk)
			assert.True(t, workflow.IsKind(err, tt.kind), "got %v", err)
		})
	}

	_, err := h.engine.Execute(context.Background(), workflow.ExecuteRequest{
		CaseID: c.ID, FromStage: "UNDER_SCRUTINY", ToStage: "SENT_FOR_CLEARANCES", Actor: clerk,
	})
	assert.True(t, workflow.IsKind(err, workflow.KindInvalidTransition), "stale from-stage: %v", err)

	assert.Equal(t, "SUBMITTED", h.stageOf(t, c.ID))
	assert.Empty(t, h.publisher.Events())
}

func TestPreview_OrderedAndSideEffectFree(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	c := h.intake(t, "F-PREV")
	h.walkTo(t, c.ID, "OWO_REVIEW_BCA_HOUSING")
	h.review(t, c.ID, repository.SectionOWO, repository.ReviewStatusApproved)

	before, err := h.engine.GetCase(ctx, c.ID)
	require.NoError(t, err)

	first, err := h.engine.Preview(ctx, "OWO_REVIEW_BCA_HOUSING", c.ID, owo)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "SENT_TO_ACCOUNTS", first[0].ToStage.Code)
	assert.Equal(t, "BCA_HOUSING_REVIEW", first[1].ToStage.Code)
	assert.True(t, first[0].Result.CanTransition)
	assert.True(t, first[1].Result.CanTransition)

	second, err := h.engine.Preview(ctx, "OWO_REVIEW_BCA_HOUSING", c.ID, owo)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("preview not deterministic (-first +second):\n%s", diff)
	}

	cl, err := h.store.Clearance(ctx, c.ID, repository.SectionAccounts)
	require.NoError(t, err)
	assert.Nil(t, cl)

	after, err := h.engine.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.CurrentStageID, after.CurrentStageID)
}

func TestPreview_ArbitraryStage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	c := h.intake(t, "F-ARB")

	items, err := h.engine.Preview(ctx, "UNDER_SCRUTINY", c.ID, clerk)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "SENT_FOR_CLEARANCES", items[0].ToStage.Code)
	assert.Equal(t, "ON_HOLD", items[1].ToStage.Code)
	assert.False(t, items[0].Result.CanTransition)
	assert.Equal(t, []string{"APPLICATION_FORM", "TRANSFER_DEED", "SELLER_CNIC", "BUYER_CNIC"},
		items[0].Result.Metadata["missing_documents"])

	terminal, err := h.engine.Preview(ctx, "CLOSED", c.ID, clerk)
	require.NoError(t, err)
	assert.Empty(t, terminal)

	_, err = h.engine.Preview(ctx, "NOWHERE", c.ID, clerk)
	assert.True(t, workflow.IsKind(err, workflow.KindNotFound))
}

func TestHistory_FullPipeline(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.intake(t, "F-FULL")
	h.walkTo(t, c.ID, "CLOSED")

	history, err := h.engine.History(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, history, len(happyPath)+1)

	final, err := h.engine.GetCase(context.Background(), c.ID)
	require.NoError(t, err)
	for i, rec := range history {
		assert.Equal(t, int64(i+1), rec.Sequence)
		if i > 0 {
			require.NotNil(t, rec.FromStageID)
			assert.Equal(t, history[i-1].ToStageID, *rec.FromStageID)
		}
	}
	assert.Equal(t, final.Version, history[len(history)-1].Sequence)
	assert.Equal(t, final.CurrentStageID, history[len(history)-1].ToStageID)

	items, err := h.engine.Available(context.Background(), c.ID, clerk)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSendBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.intake(t, "F-BACK")

	_, err := h.engine.SendBack(context.Background(), c.ID, clerk, "")
	assert.True(t, workflow.IsKind(err, workflow.KindInvalidTransition))

	h.walkTo(t, c.ID, "BCA_HOUSING_REVIEW")

	_, err = h.engine.SendBack(context.Background(), c.ID, clerk, "housing file incomplete")
	require.NoError(t, err)
	assert.Equal(t, "SENT_FOR_CLEARANCES", h.stageOf(t, c.ID))

	// Clearances are kept on the way back, so the forward edge passes again.
	_, err = h.engine.SendBack(context.Background(), c.ID, clerk, "")
	require.NoError(t, err)
	assert.Equal(t, "BCA_HOUSING_REVIEW", h.stageOf(t, c.ID))

	history, err := h.engine.History(context.Background(), c.ID)
	require.NoError(t, err)
	back := history[len(history)-2]
	require.NotNil(t, back.Remarks)
	assert.Equal(t, "housing file incomplete", *back.Remarks)
	assert.Equal(t, string(workflow.GuardNone), back.GuardName)
}

func TestReload_PicksUpNewEdges(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	c := h.intake(t, "F-RELOAD")

	_, err := h.execute(c.ID, "ON_HOLD", clerk)
	require.True(t, workflow.IsKind(err, workflow.KindInvalidTransition))

	role := "OWO"
	require.NoError(t, h.store.SeedTopology(ctx, nil, []repository.TransitionSpec{
		{FromCode: "SUBMITTED", ToCode: "ON_HOLD", GuardName: string(workflow.GuardNone), RequiredRole: &role, Position: 100},
	}))
	require.NoError(t, h.engine.Reload(ctx))

	_, err = h.execute(c.ID, "ON_HOLD", owo)
	require.NoError(t, err)
	assert.Equal(t, "ON_HOLD", h.stageOf(t, c.ID))
}
