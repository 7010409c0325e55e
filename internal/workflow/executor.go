package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// ── Execute ──────────────────────────────────────────────────────────────────

// Execute moves a case along the configured edge to req.ToStage.
//
// Everything happens in one store transaction holding the case exclusively:
// the edge is resolved from the locked case's current stage, the guard runs
// in real mode (its side effects join the transaction), and the stage change
// and audit record are written together. Any rejection or error rolls the
// whole transaction back.
//
// Expected failures are returned as *TransitionError. Persistence faults are
// coded errors; CONFLICT and UNAVAILABLE are safe to retry.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*repository.Case, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "workflow.Execute", trace.WithAttributes(
		attribute.String("case.id", req.CaseID),
		attribute.String("workflow.to_stage", req.ToStage),
		attribute.String("actor.role", req.Actor.Role),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ExecuteTimeout)
	defer cancel()

	snap, err := e.snapshot()
	if err != nil {
		return nil, e.finishExecute(span, start, req, "", "", err)
	}
	to, err := snap.Stages.Resolve(req.ToStage)
	if err != nil {
		return nil, e.finishExecute(span, start, req, "", unknownStageLabel, notFound("stage", req.ToStage))
	}

	var (
		from  repository.Stage
		moved *repository.Case
		ev    Evaluation
	)
	err = e.store.InTransaction(ctx, func(tx Tx) error {
		c, err := tx.LockCase(ctx, req.CaseID)
		if err != nil {
			return e.mapNotFound(err, "case", req.CaseID)
		}
		from, err = snap.Stages.ByID(c.CurrentStageID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "case is on a stage missing from the topology")
		}
		if req.FromStage != "" && req.FromStage != from.Code {
			return &TransitionError{
				Kind:   KindInvalidTransition,
				Reason: "case is no longer in stage " + req.FromStage,
				From:   from.Code,
				To:     to.Code,
			}
		}
		edge, ok := snap.Graph.Edge(from.ID, to.ID)
		if !ok {
			return invalidTransition(from.Code, to.Code)
		}

		gc := &GuardContext{Case: c, Actor: req.Actor, From: from, To: to, Now: e.now(), Data: tx}
		ev, err = e.evaluator.Evaluate(ctx, edge, gc, tx, false)
		if err != nil {
			return err
		}
		if !ev.CanTransition {
			kind := KindGuardRejected
			if ev.Unauthorized {
				kind = KindUnauthorized
			}
			return &TransitionError{Kind: kind, Reason: ev.Reason, Metadata: ev.Metadata, From: from.Code, To: to.Code}
		}

		moved, err = tx.MoveCase(ctx, c, to.ID)
		if err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &repository.AuditRecord{
			CaseID:      moved.ID,
			FromStageID: &from.ID,
			ToStageID:   to.ID,
			GuardName:   edge.GuardName,
			ActorID:     req.Actor.ID,
			ActorRole:   req.Actor.Role,
			Remarks:     optionalString(req.Remarks),
			Sequence:    moved.Version,
			CreatedAt:   gc.Now,
		})
	})
	if err != nil {
		return nil, e.finishExecute(span, start, req, from.Code, to.Code, e.classify(ctx, err))
	}

	transitionsTotal.WithLabelValues(from.Code, to.Code, outcomeSuccess).Inc()
	executeDuration.WithLabelValues(outcomeSuccess).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("workflow.from_stage", from.Code))

	e.log.Info().
		Str("case_id", moved.ID).
		Str("from_stage", from.Code).
		Str("to_stage", to.Code).
		Str("guard", string(ev.Guard)).
		Str("actor_id", req.Actor.ID).
		Int64("sequence", moved.Version).
		Msg("Transition executed")

	if e.publisher != nil {
		e.publisher.PublishTransition(context.WithoutCancel(ctx), TransitionEvent{
			CaseID:     moved.ID,
			FileNo:     moved.FileNo,
			FromStage:  from.Code,
			ToStage:    to.Code,
			Guard:      string(ev.Guard),
			ActorID:    req.Actor.ID,
			ActorRole:  req.Actor.Role,
			Remarks:    req.Remarks,
			Sequence:   moved.Version,
			OccurredAt: moved.UpdatedAt,
		})
	}
	return moved, nil
}

// classify turns deadline expiry into a retryable error and configuration
// faults into INTERNAL errors. Transition errors pass through untouched.
func (e *Engine) classify(ctx context.Context, err error) error {
	if _, ok := AsTransitionError(err); ok {
		return err
	}
	if errors.Is(err, ErrGuardNotFound) || errors.Is(err, ErrStageNotFound) {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "workflow configuration error")
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if !apperrors.IsRetryable(err) {
			return apperrors.Unavailable(err, "transition execution timed out")
		}
	}
	return err
}

// finishExecute records a failed attempt. from and to are resolved stage codes;
// the caller's raw target never becomes a metric label.
func (e *Engine) finishExecute(span trace.Span, start time.Time, req ExecuteRequest, from, to string, err error) error {
	outcome := outcomeError
	if te, ok := AsTransitionError(err); ok {
		switch te.Kind {
		case KindGuardRejected:
			outcome = outcomeRejected
		case KindUnauthorized:
			outcome = outcomeUnauthorize
		case KindInvalidTransition:
			outcome = outcomeInvalid
		case KindNotFound:
			outcome = outcomeNotFound
		}
		// Expected business outcomes are informational, not errors.
		e.log.Info().
			Str("case_id", req.CaseID).
			Str("from_stage", te.From).
			Str("to_stage", req.ToStage).
			Str("kind", string(te.Kind)).
			Str("reason", te.Reason).
			Str("actor_id", req.Actor.ID).
			Msg("Transition not applied")
		span.SetAttributes(attribute.String("workflow.outcome", string(te.Kind)))
	} else {
		ev := e.log.Error()
		if apperrors.IsRetryable(err) {
			ev = e.log.Warn()
		}
		ev.Err(err).
			Str("case_id", req.CaseID).
			Str("to_stage", req.ToStage).
			Str("code", string(apperrors.CodeOf(err))).
			Msg("Transition execution failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	transitionsTotal.WithLabelValues(stageLabel(from), stageLabel(to), outcome).Inc()
	executeDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return err
}

// ── Send back ────────────────────────────────────────────────────────────────

// SendBack executes the transition to the stage the case occupied before its
// latest move. The edge back must itself be configured.
func (e *Engine) SendBack(ctx context.Context, caseID string, actor Actor, remarks string) (*repository.Case, error) {
	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}

	var current, previous repository.Stage
	err = e.store.View(ctx, func(v View) error {
		c, err := v.Case(ctx, caseID)
		if err != nil {
			return err
		}
		if c.PreviousStageID == nil {
			return &TransitionError{Kind: KindInvalidTransition, Reason: "case has no previous stage"}
		}
		if current, err = snap.Stages.ByID(c.CurrentStageID); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "case is on a stage missing from the topology")
		}
		if previous, err = snap.Stages.ByID(*c.PreviousStageID); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "previous stage missing from the topology")
		}
		return nil
	})
	if err != nil {
		return nil, e.mapNotFound(err, "case", caseID)
	}

	return e.Execute(ctx, ExecuteRequest{
		CaseID:    caseID,
		FromStage: current.Code,
		ToStage:   previous.Code,
		Actor:     actor,
		Remarks:   remarks,
	})
}

// ── Intake ───────────────────────────────────────────────────────────────────

// Intake creates a case pinned to the initial stage and writes its opening
// audit record.
func (e *Engine) Intake(ctx context.Context, nc NewCase) (*repository.Case, error) {
	if strings.TrimSpace(nc.FileNo) == "" {
		return nil, apperrors.InvalidInput("file_no", "file number is required")
	}
	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	initial, err := snap.Stages.Resolve(e.cfg.InitialStage)
	if err != nil {
		e.log.Error().Err(err).Str("stage", e.cfg.InitialStage).Msg("Initial stage is not configured")
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "initial stage is not configured")
	}

	now := e.now()
	c := &repository.Case{
		FileNo:         strings.TrimSpace(nc.FileNo),
		PlotNo:         strings.TrimSpace(nc.PlotNo),
		CurrentStageID: initial.ID,
		Status:         repository.CaseStatusOpen,
		Version:        1,
		CreatedBy:      nc.CreatedBy.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = e.store.InTransaction(ctx, func(tx Tx) error {
		if err := tx.CreateCase(ctx, c); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &repository.AuditRecord{
			CaseID:    c.ID,
			ToStageID: initial.ID,
			GuardName: GuardNameIntake,
			ActorID:   nc.CreatedBy.ID,
			ActorRole: nc.CreatedBy.Role,
			Remarks:   optionalString(nc.Remarks),
			Sequence:  c.Version,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("case_id", c.ID).
		Str("file_no", c.FileNo).
		Str("stage", initial.Code).
		Msg("Case intake recorded")
	return c, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
