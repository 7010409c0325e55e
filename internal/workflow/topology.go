package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/logger"
)

// Snapshot is one immutable build of the configured topology. Requests hold
// a single snapshot for their whole lifetime.
type Snapshot struct {
	Stages *StageCatalogue
	Graph  *TransitionGraph
}

// Topology owns the current snapshot and rebuilds it from persisted
// configuration on explicit reload.
type Topology struct {
	source TopologySource
	guards *GuardCatalogue
	log    *logger.Logger

	mu      sync.RWMutex
	current *Snapshot
}

// NewTopology creates an empty topology; call Reload before use.
func NewTopology(source TopologySource, guards *GuardCatalogue, log *logger.Logger) *Topology {
	return &Topology{source: source, guards: guards, log: log}
}

// Reload rebuilds the snapshot from the source. On any validation failure the
// previous snapshot stays in place and the error is returned.
func (t *Topology) Reload(ctx context.Context) error {
	stages, transitions, err := t.source.LoadTopology(ctx)
	if err != nil {
		return fmt.Errorf("load topology: %w", err)
	}

	catalogue, err := NewStageCatalogue(stages)
	if err != nil {
		t.log.Error().Err(err).Msg("Workflow topology rejected")
		return err
	}
	graph, err := NewTransitionGraph(catalogue, transitions, t.guards)
	if err != nil {
		t.log.Error().Err(err).Msg("Workflow topology rejected")
		return err
	}

	t.mu.Lock()
	t.current = &Snapshot{Stages: catalogue, Graph: graph}
	t.mu.Unlock()

	t.log.Info().
		Int("stages", len(stages)).
		Int("transitions", len(transitions)).
		Msg("Workflow topology loaded")
	return nil
}

// Snapshot returns the current topology, or an error if none has been loaded.
func (t *Topology) Snapshot() (*Snapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return nil, fmt.Errorf("%w: topology not loaded", ErrInvalidTopology)
	}
	return t.current, nil
}
