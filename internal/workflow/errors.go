package workflow

import (
	"errors"
	"fmt"
)

// Configuration errors. These indicate bad seed data and are never treated as
// a business rejection.
var (
	ErrGuardNotFound   = errors.New("guard not found")
	ErrStageNotFound   = errors.New("stage not found")
	ErrInvalidTopology = errors.New("invalid workflow topology")
)

// Kind classifies a caller-visible transition failure.
type Kind string

const (
	KindInvalidTransition Kind = "InvalidTransition"
	KindGuardRejected     Kind = "GuardRejected"
	KindUnauthorized      Kind = "Unauthorized"
	KindNotFound          Kind = "NotFound"
)

// ReasonInsufficientRole is the fixed reason for role-gated rejections.
const ReasonInsufficientRole = "insufficient role"

// TransitionError is a structured, expected failure of Execute. It never
// wraps a persistence fault.
type TransitionError struct {
	Kind     Kind
	Reason   string
	Metadata map[string]any
	From     string // stage code, may be empty
	To       string // stage code, may be empty
}

func (e *TransitionError) Error() string {
	if e.From != "" || e.To != "" {
		return fmt.Sprintf("%s %s -> %s: %s", e.Kind, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// AsTransitionError extracts a *TransitionError from err's chain.
func AsTransitionError(err error) (*TransitionError, bool) {
	var te *TransitionError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsKind reports whether err is a TransitionError of the given kind.
func IsKind(err error, kind Kind) bool {
	te, ok := AsTransitionError(err)
	return ok && te.Kind == kind
}

func invalidTransition(from, to string) *TransitionError {
	return &TransitionError{
		Kind:   KindInvalidTransition,
		Reason: fmt.Sprintf("no transition configured from %s to %s", from, to),
		From:   from,
		To:     to,
	}
}

func notFound(what, id string) *TransitionError {
	return &TransitionError{
		Kind:   KindNotFound,
		Reason: fmt.Sprintf("%s not found: %s", what, id),
	}
}
