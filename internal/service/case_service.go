package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/platform/logger"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow"
)

// RoleAdmin may reload the workflow configuration.
const RoleAdmin = "ADMIN"

// Workflow is the engine surface the service drives.
type Workflow interface {
	Intake(ctx context.Context, nc workflow.NewCase) (*repository.Case, error)
	GetCase(ctx context.Context, caseID string) (*repository.Case, error)
	Execute(ctx context.Context, req workflow.ExecuteRequest) (*repository.Case, error)
	SendBack(ctx context.Context, caseID string, actor workflow.Actor, remarks string) (*repository.Case, error)
	Preview(ctx context.Context, stageCode, caseID string, actor workflow.Actor) ([]workflow.PreviewItem, error)
	Available(ctx context.Context, caseID string, actor workflow.Actor) ([]workflow.PreviewItem, error)
	History(ctx context.Context, caseID string) ([]*repository.AuditRecord, error)
	Stages() ([]repository.Stage, error)
}

// CaseFileStore holds the collaborator-owned parts of a case file.
type CaseFileStore interface {
	RecordReview(ctx context.Context, rv *repository.Review) error
	RecordClearance(ctx context.Context, cl *repository.Clearance) error
	SaveAccountsBreakdown(ctx context.Context, b *repository.AccountsBreakdown) error
	AttachDocument(ctx context.Context, d *repository.Document) error
	UpdateCaseStatus(ctx context.Context, caseID, status string, postEntriesComplete bool) (*repository.Case, error)
}

// Reloader reseeds and reloads the workflow topology.
type Reloader interface {
	Sync(ctx context.Context) error
}

// CaseService handles plot-transfer case business logic
type CaseService struct {
	workflow Workflow
	store    CaseFileStore
	reloader Reloader
	log      *logger.Logger
	now      func() time.Time
}

// NewCaseService creates a new case service. reloader may be nil, in which
// case ReloadWorkflow is refused.
func NewCaseService(wf Workflow, store CaseFileStore, reloader Reloader, log *logger.Logger) *CaseService {
	return &CaseService{
		workflow: wf,
		store:    store,
		reloader: reloader,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateCaseRequest represents an intake request
type CreateCaseRequest struct {
	FileNo  string
	PlotNo  string
	Remarks string
	Actor   workflow.Actor
}

// TransitionRequest represents a request to move a case
type TransitionRequest struct {
	CaseID    string
	ToStage   string
	FromStage string
	Remarks   string
	Actor     workflow.Actor
}

// RecordReviewRequest represents a supervisory sign-off
type RecordReviewRequest struct {
	CaseID  string
	Section string
	Status  string
	Remarks *string
	Actor   workflow.Actor
}

// RecordClearanceRequest represents a section clearance decision
type RecordClearanceRequest struct {
	CaseID  string
	Section string
	Status  string
	Remarks *string
	Actor   workflow.Actor
}

// SaveAccountsRequest represents the fee schedule of a case
type SaveAccountsRequest struct {
	CaseID          string
	TransferFee     int64
	StampDuty       int64
	RegistrationFee int64
	ProcessingFee   int64
	OtherCharges    int64
	PaymentVerified bool
	ChallanNo       *string
	Actor           workflow.Actor
}

// AttachDocumentRequest represents an intake document reference
type AttachDocumentRequest struct {
	CaseID  string
	DocType string
	FileRef string
	Actor   workflow.Actor
}

// UpdateStatusRequest represents a collaborator status change
type UpdateStatusRequest struct {
	CaseID              string
	Status              string
	PostEntriesComplete bool
	Actor               workflow.Actor
}

// ── Engine-backed operations ──────────────────────────────────────────────────

// CreateCase opens a new case on the initial stage
func (s *CaseService) CreateCase(ctx context.Context, req *CreateCaseRequest) (*repository.Case, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.FileNo) == "" {
		return nil, errors.InvalidInput("file_no", "file number is required")
	}

	return s.workflow.Intake(ctx, workflow.NewCase{
		FileNo:    req.FileNo,
		PlotNo:    req.PlotNo,
		CreatedBy: req.Actor,
		Remarks:   strings.TrimSpace(req.Remarks),
	})
}

// GetCase retrieves a case by ID
func (s *CaseService) GetCase(ctx context.Context, caseID string) (*repository.Case, error) {
	return s.workflow.GetCase(ctx, caseID)
}

// Transition moves a case to the requested stage
func (s *CaseService) Transition(ctx context.Context, req *TransitionRequest) (*repository.Case, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	toStage := normalizeCode(req.ToStage)
	if toStage == "" {
		return nil, errors.InvalidInput("to_stage", "target stage is required")
	}

	return s.workflow.Execute(ctx, workflow.ExecuteRequest{
		CaseID:    req.CaseID,
		ToStage:   toStage,
		FromStage: normalizeCode(req.FromStage),
		Actor:     req.Actor,
		Remarks:   strings.TrimSpace(req.Remarks),
	})
}

// SendBack returns a case to the stage it came from
func (s *CaseService) SendBack(ctx context.Context, caseID string, actor workflow.Actor, remarks string) (*repository.Case, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.workflow.SendBack(ctx, caseID, actor, strings.TrimSpace(remarks))
}

// PreviewTransitions evaluates every edge out of fromStage without side
// effects. An empty fromStage previews the case's current stage.
func (s *CaseService) PreviewTransitions(ctx context.Context, caseID, fromStage string, actor workflow.Actor) ([]workflow.PreviewItem, error) {
	if from := normalizeCode(fromStage); from != "" {
		return s.workflow.Preview(ctx, from, caseID, actor)
	}
	return s.workflow.Available(ctx, caseID, actor)
}

// History returns the audit trail of a case
func (s *CaseService) History(ctx context.Context, caseID string) ([]*repository.AuditRecord, error) {
	return s.workflow.History(ctx, caseID)
}

// Stages lists the configured stages in pipeline order
func (s *CaseService) Stages() ([]repository.Stage, error) {
	return s.workflow.Stages()
}

// ReloadWorkflow reseeds and reloads the topology
func (s *CaseService) ReloadWorkflow(ctx context.Context, actor workflow.Actor) error {
	if actor.Role != RoleAdmin {
		return errors.New(errors.ErrCodeForbidden, "workflow reload requires role "+RoleAdmin)
	}
	if s.reloader == nil {
		return errors.New(errors.ErrCodeUnavailable, "workflow reload is not configured")
	}
	if err := s.reloader.Sync(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "workflow reload failed")
	}

	s.log.Info().Str("actor_id", actor.ID).Msg("Workflow reloaded")
	return nil
}

// ── Collaborator writes ───────────────────────────────────────────────────────

// RecordReview records or replaces a section's review
func (s *CaseService) RecordReview(ctx context.Context, req *RecordReviewRequest) (*repository.Review, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	section := normalizeCode(req.Section)
	if section == "" {
		return nil, errors.InvalidInput("section", "section is required")
	}
	status := normalizeCode(req.Status)
	switch status {
	case repository.ReviewStatusApproved, repository.ReviewStatusRejected, repository.ReviewStatusRecorded:
	default:
		return nil, errors.InvalidInput("status", "status must be APPROVED, REJECTED or RECORDED")
	}
	if _, err := s.workflow.GetCase(ctx, req.CaseID); err != nil {
		return nil, err
	}

	rv := &repository.Review{
		CaseID:      req.CaseID,
		SectionCode: section,
		Status:      status,
		ReviewerID:  req.Actor.ID,
		Remarks:     req.Remarks,
		ReviewedAt:  s.now(),
	}
	if err := s.store.RecordReview(ctx, rv); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", req.CaseID).
		Str("section", section).
		Str("status", status).
		Str("reviewer_id", req.Actor.ID).
		Msg("Review recorded")

	return rv, nil
}

// RecordClearance records a section's clearance decision
func (s *CaseService) RecordClearance(ctx context.Context, req *RecordClearanceRequest) (*repository.Clearance, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	section := normalizeCode(req.Section)
	if section == "" {
		return nil, errors.InvalidInput("section", "section is required")
	}
	status := normalizeCode(req.Status)
	switch status {
	case repository.ClearanceStatusPending, repository.ClearanceStatusClear, repository.ClearanceStatusObjection:
	default:
		return nil, errors.InvalidInput("status", "status must be PENDING, CLEAR or OBJECTION")
	}
	if status == repository.ClearanceStatusObjection && (req.Remarks == nil || strings.TrimSpace(*req.Remarks) == "") {
		return nil, errors.InvalidInput("remarks", "an objection must state its remarks")
	}
	if _, err := s.workflow.GetCase(ctx, req.CaseID); err != nil {
		return nil, err
	}

	cl := &repository.Clearance{
		CaseID:      req.CaseID,
		SectionCode: section,
		StatusCode:  status,
		Remarks:     req.Remarks,
	}
	if status == repository.ClearanceStatusClear {
		now := s.now()
		cl.ClearedAt = &now
	}
	if err := s.store.RecordClearance(ctx, cl); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", req.CaseID).
		Str("section", section).
		Str("status", status).
		Str("actor_id", req.Actor.ID).
		Msg("Clearance recorded")

	return cl, nil
}

// SaveAccounts stores the fee schedule of a case
func (s *CaseService) SaveAccounts(ctx context.Context, req *SaveAccountsRequest) (*repository.AccountsBreakdown, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	fees := map[string]int64{
		"transfer_fee":     req.TransferFee,
		"stamp_duty":       req.StampDuty,
		"registration_fee": req.RegistrationFee,
		"processing_fee":   req.ProcessingFee,
		"other_charges":    req.OtherCharges,
	}
	for field, amount := range fees {
		if amount < 0 {
			return nil, errors.InvalidInput(field, fmt.Sprintf("%s cannot be negative", field))
		}
	}
	if req.PaymentVerified && (req.ChallanNo == nil || strings.TrimSpace(*req.ChallanNo) == "") {
		return nil, errors.InvalidInput("challan_no", "verified payments require a challan number")
	}
	if _, err := s.workflow.GetCase(ctx, req.CaseID); err != nil {
		return nil, err
	}

	b := &repository.AccountsBreakdown{
		CaseID:          req.CaseID,
		TransferFee:     req.TransferFee,
		StampDuty:       req.StampDuty,
		RegistrationFee: req.RegistrationFee,
		ProcessingFee:   req.ProcessingFee,
		OtherCharges:    req.OtherCharges,
		PaymentVerified: req.PaymentVerified,
		ChallanNo:       req.ChallanNo,
	}
	if err := s.store.SaveAccountsBreakdown(ctx, b); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", req.CaseID).
		Int64("total_amount", b.TotalAmount).
		Bool("payment_verified", b.PaymentVerified).
		Str("actor_id", req.Actor.ID).
		Msg("Accounts breakdown saved")

	return b, nil
}

// AttachDocument records an intake document reference
func (s *CaseService) AttachDocument(ctx context.Context, req *AttachDocumentRequest) (*repository.Document, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	docType := normalizeCode(req.DocType)
	if docType == "" {
		return nil, errors.InvalidInput("doc_type", "document type is required")
	}
	if strings.TrimSpace(req.FileRef) == "" {
		return nil, errors.InvalidInput("file_ref", "file reference is required")
	}
	if _, err := s.workflow.GetCase(ctx, req.CaseID); err != nil {
		return nil, err
	}

	d := &repository.Document{
		CaseID:     req.CaseID,
		DocType:    docType,
		FileRef:    strings.TrimSpace(req.FileRef),
		UploadedBy: req.Actor.ID,
		UploadedAt: s.now(),
	}
	if err := s.store.AttachDocument(ctx, d); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", req.CaseID).
		Str("doc_type", docType).
		Str("document_id", d.ID).
		Msg("Document attached")

	return d, nil
}

// UpdateStatus sets the case status and post-entries flag
func (s *CaseService) UpdateStatus(ctx context.Context, req *UpdateStatusRequest) (*repository.Case, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	status := normalizeCode(req.Status)
	switch status {
	case repository.CaseStatusOpen, repository.CaseStatusApproved, repository.CaseStatusRejected:
	default:
		return nil, errors.InvalidInput("status", "status must be OPEN, APPROVED or REJECTED")
	}

	c, err := s.store.UpdateCaseStatus(ctx, req.CaseID, status, req.PostEntriesComplete)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", req.CaseID).
		Str("status", status).
		Bool("post_entries_complete", req.PostEntriesComplete).
		Str("actor_id", req.Actor.ID).
		Msg("Case status updated")

	return c, nil
}

func requireActor(a workflow.Actor) error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New(errors.ErrCodeUnauthorized, "acting user is required")
	}
	return nil
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
