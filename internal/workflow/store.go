package workflow

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// Reader gives guards typed read access to the aggregates they inspect.
// Single-row lookups return (nil, nil) when the row does not exist.
type Reader interface {
	Documents(ctx context.Context, caseID string) ([]*repository.Document, error)
	Clearances(ctx context.Context, caseID string) ([]*repository.Clearance, error)
	Clearance(ctx context.Context, caseID, sectionCode string) (*repository.Clearance, error)
	Review(ctx context.Context, caseID, sectionCode string) (*repository.Review, error)
	AccountsBreakdown(ctx context.Context, caseID string) (*repository.AccountsBreakdown, error)
}

// Writer is the mutation capability handed to guard consequences. Both
// operations are keyed by the (case, section) unique constraint.
type Writer interface {
	// EnsureClearance inserts a clearance with the given status unless one
	// already exists for the section. It reports whether a row was created.
	EnsureClearance(ctx context.Context, caseID, sectionCode, statusCode string) (bool, error)
	// SetClearanceStatus upserts the clearance status and cleared-at time.
	SetClearanceStatus(ctx context.Context, caseID, sectionCode, statusCode string, clearedAt *time.Time) error
}

// View is a read-only, lock-free snapshot used by the previewer.
type View interface {
	Reader
	// Case returns a coded NOT_FOUND error when the case does not exist.
	Case(ctx context.Context, caseID string) (*repository.Case, error)
	AuditTrail(ctx context.Context, caseID string) ([]*repository.AuditRecord, error)
}

// Tx is the transactional surface used by the executor.
type Tx interface {
	View
	Writer
	// LockCase loads the case and holds it exclusively until the transaction ends.
	LockCase(ctx context.Context, caseID string) (*repository.Case, error)
	CreateCase(ctx context.Context, c *repository.Case) error
	// MoveCase sets PreviousStageID to the current stage, CurrentStageID to
	// toStageID and bumps Version, provided the stored version still equals
	// c.Version. A version mismatch is a coded CONFLICT error.
	MoveCase(ctx context.Context, c *repository.Case, toStageID string) (*repository.Case, error)
	AppendAudit(ctx context.Context, rec *repository.AuditRecord) error
}

// TopologySource loads persisted stage and transition configuration.
// Transitions are returned in configuration order.
type TopologySource interface {
	LoadTopology(ctx context.Context) ([]*repository.Stage, []*repository.Transition, error)
}

// Store is the persistence boundary of the engine.
type Store interface {
	TopologySource
	View(ctx context.Context, fn func(View) error) error
	InTransaction(ctx context.Context, fn func(Tx) error) error
}
