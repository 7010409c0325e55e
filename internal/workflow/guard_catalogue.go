package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// GuardName identifies a guard implementation. Transitions reference guards
// by this name in configuration.
type GuardName string

const (
	GuardIntakeComplete            GuardName = "GUARD_INTAKE_COMPLETE"
	GuardScrutinyComplete          GuardName = "GUARD_SCRUTINY_COMPLETE"
	GuardClearancesComplete        GuardName = "GUARD_CLEARANCES_COMPLETE"
	GuardBCAHousingReview          GuardName = "GUARD_BCA_HOUSING_REVIEW"
	GuardOWOReviewComplete         GuardName = "GUARD_OWO_REVIEW_COMPLETE"
	GuardSentToAccounts            GuardName = "GUARD_SENT_TO_ACCOUNTS"
	GuardAccountsClear             GuardName = "GUARD_ACCOUNTS_CLEAR"
	GuardAccountsReviewed          GuardName = "GUARD_ACCOUNTS_REVIEWED"
	GuardOWOAccountsReviewComplete GuardName = "GUARD_OWO_ACCOUNTS_REVIEW_COMPLETE"
	GuardApprovalComplete          GuardName = "GUARD_APPROVAL_COMPLETE"
	GuardStartPostEntries          GuardName = "GUARD_START_POST_ENTRIES"
	GuardCloseCase                 GuardName = "GUARD_CLOSE_CASE"
	GuardNone                      GuardName = "GUARD_NONE"
)

// KnownGuards lists every guard the catalogue must provide.
var KnownGuards = []GuardName{
	GuardIntakeComplete,
	GuardScrutinyComplete,
	GuardClearancesComplete,
	GuardBCAHousingReview,
	GuardOWOReviewComplete,
	GuardSentToAccounts,
	GuardAccountsClear,
	GuardAccountsReviewed,
	GuardOWOAccountsReviewComplete,
	GuardApprovalComplete,
	GuardStartPostEntries,
	GuardCloseCase,
	GuardNone,
}

// GuardContext is everything a guard may look at.
type GuardContext struct {
	Case  *repository.Case
	Actor Actor
	From  repository.Stage
	To    repository.Stage
	Now   time.Time
	Data  Reader
}

// Guard gates a transition. Check is the read-only predicate; Apply is the
// consequence of an approved transition and only ever runs in real mode after
// Check has allowed it.
type Guard interface {
	Name() GuardName
	Check(ctx context.Context, gc *GuardContext) (GuardResult, error)
	Apply(ctx context.Context, gc *GuardContext, w Writer) error
}

type guard struct {
	name   GuardName
	check  func(ctx context.Context, gc *GuardContext) (GuardResult, error)
	effect func(ctx context.Context, gc *GuardContext, w Writer) error
}

func (g *guard) Name() GuardName { return g.name }

func (g *guard) Check(ctx context.Context, gc *GuardContext) (GuardResult, error) {
	return g.check(ctx, gc)
}

func (g *guard) Apply(ctx context.Context, gc *GuardContext, w Writer) error {
	if g.effect == nil {
		return nil
	}
	return g.effect(ctx, gc, w)
}

// GuardOptions parameterise the built-in guards.
type GuardOptions struct {
	// IntakeDocuments are the document types GUARD_INTAKE_COMPLETE requires.
	IntakeDocuments []string
	// RequiredSections are the clearances GUARD_CLEARANCES_COMPLETE requires.
	RequiredSections []string
}

// DefaultGuardOptions returns the seeded document and section requirements.
func DefaultGuardOptions() GuardOptions {
	return GuardOptions{
		IntakeDocuments:  []string{"APPLICATION_FORM", "TRANSFER_DEED", "SELLER_CNIC", "BUYER_CNIC"},
		RequiredSections: []string{repository.SectionBCA, repository.SectionHousing},
	}
}

// GuardCatalogue is the closed registry of guard implementations.
type GuardCatalogue struct {
	guards map[GuardName]Guard
}

// NewGuardCatalogue registers every built-in guard. Empty option lists fall
// back to the defaults.
func NewGuardCatalogue(opts GuardOptions) *GuardCatalogue {
	def := DefaultGuardOptions()
	if len(opts.IntakeDocuments) == 0 {
		opts.IntakeDocuments = def.IntakeDocuments
	}
	if len(opts.RequiredSections) == 0 {
		opts.RequiredSections = def.RequiredSections
	}

	c := &GuardCatalogue{guards: make(map[GuardName]Guard, len(KnownGuards))}
	for _, g := range builtinGuards(opts) {
		c.guards[g.Name()] = g
	}
	for _, name := range KnownGuards {
		if _, ok := c.guards[name]; !ok {
			panic(fmt.Sprintf("workflow: guard %s has no implementation", name))
		}
	}
	return c
}

// Lookup resolves a guard by name.
func (c *GuardCatalogue) Lookup(name GuardName) (Guard, error) {
	g, ok := c.guards[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGuardNotFound, name)
	}
	return g, nil
}

// Names returns the registered guard names, sorted.
func (c *GuardCatalogue) Names() []GuardName {
	out := make([]GuardName, 0, len(c.guards))
	for name := range c.guards {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
