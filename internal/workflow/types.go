// Package workflow implements the plot-transfer transition engine: a stage
// catalogue and transition graph loaded from configuration, a fixed catalogue
// of named guards, and the evaluator, executor and dry-run previewer built on
// top of them.
package workflow

import (
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// Actor is the authenticated user driving a request.
type Actor struct {
	ID   string
	Role string
}

// GuardResult is the outcome of evaluating one guard.
type GuardResult struct {
	CanTransition bool           `json:"can_transition"`
	Reason        string         `json:"reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Allow is the passing result.
func Allow() GuardResult {
	return GuardResult{CanTransition: true}
}

// Deny builds a failing result. Metadata may be nil.
func Deny(reason string, metadata map[string]any) GuardResult {
	return GuardResult{CanTransition: false, Reason: reason, Metadata: metadata}
}

// Evaluation is a GuardResult plus how it was reached.
type Evaluation struct {
	GuardResult
	Guard GuardName
	// Unauthorized is set when the role check failed and the guard body was
	// never invoked.
	Unauthorized bool
}

// PreviewItem is one candidate transition as reported by the dry-run previewer.
type PreviewItem struct {
	Transition repository.Transition
	FromStage  repository.Stage
	ToStage    repository.Stage
	Result     GuardResult
}

// ExecuteRequest asks the engine to move a case to a target stage.
type ExecuteRequest struct {
	CaseID  string
	ToStage string // stage code
	// FromStage optionally pins the expected current stage code; the request
	// fails as an invalid transition if the case has moved on.
	FromStage string
	Actor     Actor
	Remarks   string
}

// NewCase is the intake payload. The engine pins the stage fields.
type NewCase struct {
	FileNo    string
	PlotNo    string
	CreatedBy Actor
	Remarks   string
}
