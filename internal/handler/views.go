package handler

import (
	"time"

	"github.com/pesio-ai/be-plot-transfers/internal/repository"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow"
)

type stageView struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
}

type caseView struct {
	ID                  string    `json:"id"`
	FileNo              string    `json:"file_no"`
	PlotNo              string    `json:"plot_no"`
	CurrentStage        string    `json:"current_stage"`
	PreviousStage       *string   `json:"previous_stage,omitempty"`
	Status              string    `json:"status"`
	PostEntriesComplete bool      `json:"post_entries_complete"`
	Version             int64     `json:"version"`
	CreatedBy           string    `json:"created_by"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func newCaseView(c *repository.Case, codes map[string]string) caseView {
	v := caseView{
		ID:                  c.ID,
		FileNo:              c.FileNo,
		PlotNo:              c.PlotNo,
		CurrentStage:        stageCode(codes, c.CurrentStageID),
		Status:              c.Status,
		PostEntriesComplete: c.PostEntriesComplete,
		Version:             c.Version,
		CreatedBy:           c.CreatedBy,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
	if c.PreviousStageID != nil {
		prev := stageCode(codes, *c.PreviousStageID)
		v.PreviousStage = &prev
	}
	return v
}

type previewView struct {
	FromStage     string         `json:"from_stage"`
	ToStage       string         `json:"to_stage"`
	ToStageName   string         `json:"to_stage_name"`
	Guard         string         `json:"guard"`
	RequiredRole  *string        `json:"required_role,omitempty"`
	CanTransition bool           `json:"can_transition"`
	Reason        string         `json:"reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func newPreviewView(it workflow.PreviewItem) previewView {
	return previewView{
		FromStage:     it.FromStage.Code,
		ToStage:       it.ToStage.Code,
		ToStageName:   it.ToStage.Name,
		Guard:         it.Transition.GuardName,
		RequiredRole:  it.Transition.RequiredRole,
		CanTransition: it.Result.CanTransition,
		Reason:        it.Result.Reason,
		Metadata:      it.Result.Metadata,
	}
}

type auditView struct {
	Sequence  int64     `json:"sequence"`
	FromStage *string   `json:"from_stage,omitempty"`
	ToStage   string    `json:"to_stage"`
	Guard     string    `json:"guard"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role,omitempty"`
	Remarks   *string   `json:"remarks,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newAuditView(rec *repository.AuditRecord, codes map[string]string) auditView {
	v := auditView{
		Sequence:  rec.Sequence,
		ToStage:   stageCode(codes, rec.ToStageID),
		Guard:     rec.GuardName,
		ActorID:   rec.ActorID,
		ActorRole: rec.ActorRole,
		Remarks:   rec.Remarks,
		CreatedAt: rec.CreatedAt,
	}
	if rec.FromStageID != nil {
		from := stageCode(codes, *rec.FromStageID)
		v.FromStage = &from
	}
	return v
}

type reviewView struct {
	ID         string    `json:"id"`
	CaseID     string    `json:"case_id"`
	Section    string    `json:"section"`
	Status     string    `json:"status"`
	ReviewerID string    `json:"reviewer_id"`
	Remarks    *string   `json:"remarks,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

func newReviewView(rv *repository.Review) reviewView {
	return reviewView{
		ID:         rv.ID,
		CaseID:     rv.CaseID,
		Section:    rv.SectionCode,
		Status:     rv.Status,
		ReviewerID: rv.ReviewerID,
		Remarks:    rv.Remarks,
		ReviewedAt: rv.ReviewedAt,
	}
}

type clearanceView struct {
	ID        string     `json:"id"`
	CaseID    string     `json:"case_id"`
	Section   string     `json:"section"`
	Status    string     `json:"status"`
	Remarks   *string    `json:"remarks,omitempty"`
	ClearedAt *time.Time `json:"cleared_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func newClearanceView(cl *repository.Clearance) clearanceView {
	return clearanceView{
		ID:        cl.ID,
		CaseID:    cl.CaseID,
		Section:   cl.SectionCode,
		Status:    cl.StatusCode,
		Remarks:   cl.Remarks,
		ClearedAt: cl.ClearedAt,
		UpdatedAt: cl.UpdatedAt,
	}
}

type accountsView struct {
	CaseID          string    `json:"case_id"`
	TransferFee     int64     `json:"transfer_fee"`
	StampDuty       int64     `json:"stamp_duty"`
	RegistrationFee int64     `json:"registration_fee"`
	ProcessingFee   int64     `json:"processing_fee"`
	OtherCharges    int64     `json:"other_charges"`
	TotalAmount     int64     `json:"total_amount"`
	PaymentVerified bool      `json:"payment_verified"`
	ChallanNo       *string   `json:"challan_no,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newAccountsView(b *repository.AccountsBreakdown) accountsView {
	return accountsView{
		CaseID:          b.CaseID,
		TransferFee:     b.TransferFee,
		StampDuty:       b.StampDuty,
		RegistrationFee: b.RegistrationFee,
		ProcessingFee:   b.ProcessingFee,
		OtherCharges:    b.OtherCharges,
		TotalAmount:     b.TotalAmount,
		PaymentVerified: b.PaymentVerified,
		ChallanNo:       b.ChallanNo,
		UpdatedAt:       b.UpdatedAt,
	}
}

type documentView struct {
	ID         string    `json:"id"`
	CaseID     string    `json:"case_id"`
	DocType    string    `json:"doc_type"`
	FileRef    string    `json:"file_ref"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func newDocumentView(d *repository.Document) documentView {
	return documentView{
		ID:         d.ID,
		CaseID:     d.CaseID,
		DocType:    d.DocType,
		FileRef:    d.FileRef,
		UploadedBy: d.UploadedBy,
		UploadedAt: d.UploadedAt,
	}
}

// stageCode falls back to the raw ID for stages no longer in the topology.
func stageCode(codes map[string]string, id string) string {
	if code, ok := codes[id]; ok {
		return code
	}
	return id
}
