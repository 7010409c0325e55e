package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// Preview evaluates every edge leaving stageCode for the given case in
// dry-run mode and reports each outcome, in configuration order. It runs in a
// read-only view, takes no case lock and never writes. The stage need not be
// the case's current stage.
//
// Guard rejections and role denials are reported per item; only
// configuration and persistence faults abort the preview.
func (e *Engine) Preview(ctx context.Context, stageCode, caseID string, actor Actor) ([]PreviewItem, error) {
	start := time.Now()
	defer func() { previewDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := e.tracer.Start(ctx, "workflow.Preview", trace.WithAttributes(
		attribute.String("case.id", caseID),
		attribute.String("workflow.from_stage", stageCode),
	))
	defer span.End()

	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	from, err := snap.Stages.Resolve(stageCode)
	if err != nil {
		return nil, notFound("stage", stageCode)
	}

	var items []PreviewItem
	err = e.store.View(ctx, func(v View) error {
		c, err := v.Case(ctx, caseID)
		if err != nil {
			return err
		}
		items, err = e.previewFrom(ctx, snap, from, c, actor, v)
		return err
	})
	if err != nil {
		return nil, e.mapNotFound(err, "case", caseID)
	}
	return items, nil
}

// Available previews the edges leaving the case's current stage.
func (e *Engine) Available(ctx context.Context, caseID string, actor Actor) ([]PreviewItem, error) {
	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}

	var items []PreviewItem
	err = e.store.View(ctx, func(v View) error {
		c, err := v.Case(ctx, caseID)
		if err != nil {
			return err
		}
		from, err := snap.Stages.ByID(c.CurrentStageID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "case is on a stage missing from the topology")
		}
		items, err = e.previewFrom(ctx, snap, from, c, actor, v)
		return err
	})
	if err != nil {
		return nil, e.mapNotFound(err, "case", caseID)
	}
	return items, nil
}

func (e *Engine) previewFrom(ctx context.Context, snap *Snapshot, from repository.Stage, c *repository.Case, actor Actor, v View) ([]PreviewItem, error) {
	edges, err := snap.Graph.Outgoing(from.Code)
	if err != nil {
		return nil, err
	}

	now := e.now()
	items := make([]PreviewItem, 0, len(edges))
	for _, t := range edges {
		to, err := snap.Stages.ByID(t.ToStageID)
		if err != nil {
			return nil, err
		}
		// Each guard sees its own copy so no guard can leak changes into the next.
		caseCopy := *c
		gc := &GuardContext{Case: &caseCopy, Actor: actor, From: from, To: to, Now: now, Data: v}
		ev, err := e.evaluator.Evaluate(ctx, t, gc, nil, true)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeOf(err), "preview "+from.Code+" -> "+to.Code)
		}
		items = append(items, PreviewItem{Transition: t, FromStage: from, ToStage: to, Result: ev.GuardResult})
	}
	return items, nil
}
