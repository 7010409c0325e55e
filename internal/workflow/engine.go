package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/platform/logger"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

const tracerName = "github.com/pesio-ai/be-plot-transfers/internal/workflow"

// GuardNameIntake is recorded on the opening audit record of a case.
const GuardNameIntake = "INTAKE"

// TransitionEvent is published after a transition commits.
type TransitionEvent struct {
	CaseID     string
	FileNo     string
	FromStage  string
	ToStage    string
	Guard      string
	ActorID    string
	ActorRole  string
	Remarks    string
	Sequence   int64
	OccurredAt time.Time
}

// Publisher receives committed transitions. Implementations must not block
// for long and must swallow their own failures.
type Publisher interface {
	PublishTransition(ctx context.Context, ev TransitionEvent)
}

// Config tunes the engine.
type Config struct {
	// InitialStage is the stage code new cases are pinned to.
	InitialStage string
	// ExecuteTimeout bounds one transition execution, lock wait included.
	ExecuteTimeout time.Duration
}

// Engine is the workflow transition engine.
type Engine struct {
	store     Store
	topology  *Topology
	evaluator *Evaluator
	publisher Publisher
	cfg       Config
	log       *logger.Logger
	now       func() time.Time
	tracer    trace.Tracer
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for guard contexts and audit rows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPublisher sets the post-commit event publisher.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// NewEngine wires the engine components together.
func NewEngine(store Store, topology *Topology, evaluator *Evaluator, cfg Config, log *logger.Logger, opts ...Option) *Engine {
	if cfg.InitialStage == "" {
		cfg.InitialStage = "SUBMITTED"
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = 10 * time.Second
	}
	e := &Engine{
		store:     store,
		topology:  topology,
		evaluator: evaluator,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stages lists the configured stages in pipeline order.
func (e *Engine) Stages() ([]repository.Stage, error) {
	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Stages.List(), nil
}

// Reload rebuilds the topology from persisted configuration.
func (e *Engine) Reload(ctx context.Context) error {
	return e.topology.Reload(ctx)
}

// GetCase returns a case by ID.
func (e *Engine) GetCase(ctx context.Context, caseID string) (*repository.Case, error) {
	var c *repository.Case
	err := e.store.View(ctx, func(v View) error {
		var err error
		c, err = v.Case(ctx, caseID)
		return err
	})
	if err != nil {
		return nil, e.mapNotFound(err, "case", caseID)
	}
	return c, nil
}

// History returns the audit trail of a case ordered by sequence.
func (e *Engine) History(ctx context.Context, caseID string) ([]*repository.AuditRecord, error) {
	var records []*repository.AuditRecord
	err := e.store.View(ctx, func(v View) error {
		if _, err := v.Case(ctx, caseID); err != nil {
			return err
		}
		var err error
		records, err = v.AuditTrail(ctx, caseID)
		return err
	})
	if err != nil {
		return nil, e.mapNotFound(err, "case", caseID)
	}
	return records, nil
}

func (e *Engine) snapshot() (*Snapshot, error) {
	snap, err := e.topology.Snapshot()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "workflow topology unavailable")
	}
	return snap, nil
}

func (e *Engine) mapNotFound(err error, what, id string) error {
	if apperrors.Is(err, apperrors.ErrCodeNotFound) {
		return notFound(what, id)
	}
	return err
}
