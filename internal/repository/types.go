package repository

import "time"

// ── Workflow configuration ───────────────────────────────────────────────────

// Stage is a named state a case occupies in the transfer pipeline.
type Stage struct {
	ID        string
	Code      string // unique, e.g. SUBMITTED
	Name      string
	SortOrder int // canonical pipeline position; not enforced as monotonic
	CreatedAt time.Time
}

// Transition is a directed, guarded edge between two stages.
type Transition struct {
	ID           string
	FromStageID  string
	ToStageID    string
	GuardName    string
	RequiredRole *string // nil = any role
	Position     int     // configuration insertion order
	CreatedAt    time.Time
}

// TransitionSpec describes an edge by stage codes, as written in seed files.
type TransitionSpec struct {
	FromCode     string
	ToCode       string
	GuardName    string
	RequiredRole *string
	Position     int
}

// Key identifies the edge independent of its guard and position.
func (s TransitionSpec) Key() string {
	return s.FromCode + "->" + s.ToCode
}

// SpecKeys indexes specs by Key.
func SpecKeys(specs []TransitionSpec) map[string]struct{} {
	keys := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		keys[s.Key()] = struct{}{}
	}
	return keys
}

// ── Case and related aggregates ──────────────────────────────────────────────

// Case statuses set by collaborator services.
const (
	CaseStatusOpen     = "OPEN"
	CaseStatusApproved = "APPROVED"
	CaseStatusRejected = "REJECTED"
)

// Case is a plot ownership-transfer application. Stage fields are owned by
// the workflow engine; everything else is maintained by collaborators.
type Case struct {
	ID                  string
	FileNo              string
	PlotNo              string
	CurrentStageID      string
	PreviousStageID     *string
	Status              string
	PostEntriesComplete bool
	Version             int64 // bumped on every stage change
	CreatedBy           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Clearance status codes.
const (
	ClearanceStatusPending   = "PENDING"
	ClearanceStatusClear     = "CLEAR"
	ClearanceStatusObjection = "OBJECTION"
)

// Section codes used by the seeded guard catalogue.
const (
	SectionScrutiny    = "SCRUTINY"
	SectionBCA         = "BCA"
	SectionHousing     = "HOUSING"
	SectionOWO         = "OWO"
	SectionAccounts    = "ACCOUNTS"
	SectionOWOAccounts = "OWO_ACCOUNTS"
	SectionApproval    = "APPROVAL"
)

// Clearance is a per-section approval record; (CaseID, SectionCode) is unique.
type Clearance struct {
	ID          string
	CaseID      string
	SectionCode string
	StatusCode  string // PENDING | CLEAR | OBJECTION
	Remarks     *string
	ClearedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Review statuses.
const (
	ReviewStatusApproved = "APPROVED"
	ReviewStatusRejected = "REJECTED"
	ReviewStatusRecorded = "RECORDED"
)

// Review is a supervisory sign-off; (CaseID, SectionCode) is unique.
type Review struct {
	ID          string
	CaseID      string
	SectionCode string
	Status      string // APPROVED | REJECTED | RECORDED
	ReviewerID  string
	Remarks     *string
	ReviewedAt  time.Time
}

// AccountsBreakdown is the itemised fee schedule for a case. Amounts are in
// minor currency units.
type AccountsBreakdown struct {
	ID              string
	CaseID          string
	TransferFee     int64
	StampDuty       int64
	RegistrationFee int64
	ProcessingFee   int64
	OtherCharges    int64
	TotalAmount     int64 // always recomputed from the items on save
	PaymentVerified bool
	ChallanNo       *string
	UpdatedAt       time.Time
}

// ComputeTotal recalculates TotalAmount from the itemised fees.
func (b *AccountsBreakdown) ComputeTotal() int64 {
	b.TotalAmount = b.TransferFee + b.StampDuty + b.RegistrationFee + b.ProcessingFee + b.OtherCharges
	return b.TotalAmount
}

// Document is a reference to an intake document held by the document service.
type Document struct {
	ID         string
	CaseID     string
	DocType    string
	FileRef    string
	UploadedBy string
	UploadedAt time.Time
}

// ── Audit ────────────────────────────────────────────────────────────────────

// AuditRecord is one immutable row per executed transition. Sequence equals
// the case version produced by the move, so ordering by Sequence matches the
// order of stage values readers observe.
type AuditRecord struct {
	ID          string
	CaseID      string
	FromStageID *string // nil for the intake record
	ToStageID   string
	GuardName   string
	ActorID     string
	ActorRole   string
	Remarks     *string
	Sequence    int64
	CreatedAt   time.Time
}
