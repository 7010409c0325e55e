package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	outcomeSuccess     = "success"
	outcomeRejected    = "rejected"
	outcomeInvalid     = "invalid"
	outcomeUnauthorize = "unauthorized"
	outcomeNotFound    = "not_found"
	outcomeError       = "error"
)

// unknownStageLabel stands in for target codes absent from the topology.
const unknownStageLabel = "unknown"

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plots_workflow_transitions_total",
		Help: "Executed transition attempts by from_stage, to_stage and outcome",
	}, []string{"from_stage", "to_stage", "outcome"})

	guardEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plots_workflow_guard_evaluations_total",
		Help: "Guard evaluations by guard, mode (dry_run or real) and result",
	}, []string{"guard", "mode", "result"})

	executeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plots_workflow_execute_duration_seconds",
		Help:    "Duration of transition execution by outcome",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"outcome"})

	previewDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "plots_workflow_preview_duration_seconds",
		Help:    "Duration of dry-run previews",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
)

func modeLabel(dryRun bool) string {
	if dryRun {
		return "dry_run"
	}
	return "real"
}

func resultLabel(ev Evaluation) string {
	switch {
	case ev.Unauthorized:
		return outcomeUnauthorize
	case ev.CanTransition:
		return "allowed"
	default:
		return "denied"
	}
}

func stageLabel(code string) string {
	if code == "" {
		return "none"
	}
	return code
}
