package workflow

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/logger"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// Evaluator runs the guard bound to a transition.
type Evaluator struct {
	guards *GuardCatalogue
	log    *logger.Logger
}

// NewEvaluator creates an evaluator over the given catalogue.
func NewEvaluator(guards *GuardCatalogue, log *logger.Logger) *Evaluator {
	return &Evaluator{guards: guards, log: log}
}

// Evaluate resolves and runs the transition's guard.
//
// Authorization precedes the business rule: when the transition requires a
// role the actor does not hold, the guard body is not invoked. In real mode
// (dryRun=false) the guard's consequence is applied through w, and only after
// the predicate allowed the transition. In dry-run mode w may be nil and is
// never touched.
func (e *Evaluator) Evaluate(ctx context.Context, t repository.Transition, gc *GuardContext, w Writer, dryRun bool) (Evaluation, error) {
	name := GuardName(t.GuardName)
	g, err := e.guards.Lookup(name)
	if err != nil {
		e.log.Error().
			Err(err).
			Str("transition_id", t.ID).
			Str("guard", t.GuardName).
			Msg("Transition references an unknown guard")
		return Evaluation{}, err
	}

	ev := Evaluation{Guard: name}
	if t.RequiredRole != nil && *t.RequiredRole != gc.Actor.Role {
		ev.GuardResult = Deny(ReasonInsufficientRole, nil)
		ev.Unauthorized = true
		guardEvaluationsTotal.WithLabelValues(string(name), modeLabel(dryRun), resultLabel(ev)).Inc()
		return ev, nil
	}

	res, err := g.Check(ctx, gc)
	if err != nil {
		return Evaluation{}, fmt.Errorf("guard %s: %w", name, err)
	}
	if !res.CanTransition && res.Reason == "" {
		res.Reason = fmt.Sprintf("%s rejected the transition", name)
	}
	ev.GuardResult = res
	guardEvaluationsTotal.WithLabelValues(string(name), modeLabel(dryRun), resultLabel(ev)).Inc()

	if dryRun || !res.CanTransition {
		return ev, nil
	}
	if err := g.Apply(ctx, gc, w); err != nil {
		return Evaluation{}, fmt.Errorf("guard %s side effect: %w", name, err)
	}
	return ev, nil
}
