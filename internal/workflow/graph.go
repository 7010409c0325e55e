package workflow

import (
	"fmt"
	"sort"

	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// TransitionGraph is the ordered set of guarded edges between stages.
// The graph may contain cycles (hold and send-back edges).
type TransitionGraph struct {
	stages   *StageCatalogue
	outgoing map[string][]repository.Transition // keyed by from-stage ID
	edges    map[edgeKey]repository.Transition
}

type edgeKey struct {
	from string
	to   string
}

// NewTransitionGraph validates and indexes transitions. Edges must reference
// known stages, be unique per (from, to), and name a registered guard.
// Outgoing lists keep configuration order (Position, then input order).
func NewTransitionGraph(stages *StageCatalogue, transitions []*repository.Transition, guards *GuardCatalogue) (*TransitionGraph, error) {
	sorted := make([]repository.Transition, 0, len(transitions))
	for _, t := range transitions {
		sorted = append(sorted, *t)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	g := &TransitionGraph{
		stages:   stages,
		outgoing: make(map[string][]repository.Transition),
		edges:    make(map[edgeKey]repository.Transition, len(sorted)),
	}
	for _, t := range sorted {
		from, err := stages.ByID(t.FromStageID)
		if err != nil {
			return nil, fmt.Errorf("%w: transition %s: from stage: %v", ErrInvalidTopology, t.ID, err)
		}
		to, err := stages.ByID(t.ToStageID)
		if err != nil {
			return nil, fmt.Errorf("%w: transition %s: to stage: %v", ErrInvalidTopology, t.ID, err)
		}
		if _, err := guards.Lookup(GuardName(t.GuardName)); err != nil {
			return nil, fmt.Errorf("%w: transition %s -> %s: %v", ErrInvalidTopology, from.Code, to.Code, err)
		}
		k := edgeKey{from: t.FromStageID, to: t.ToStageID}
		if _, dup := g.edges[k]; dup {
			return nil, fmt.Errorf("%w: duplicate transition %s -> %s", ErrInvalidTopology, from.Code, to.Code)
		}
		g.edges[k] = t
		g.outgoing[t.FromStageID] = append(g.outgoing[t.FromStageID], t)
	}
	return g, nil
}

// Outgoing returns the edges leaving the stage with the given code, in
// configuration order. A stage with no edges is terminal and yields an empty
// slice.
func (g *TransitionGraph) Outgoing(stageCode string) ([]repository.Transition, error) {
	s, err := g.stages.Resolve(stageCode)
	if err != nil {
		return nil, err
	}
	edges := g.outgoing[s.ID]
	out := make([]repository.Transition, len(edges))
	copy(out, edges)
	return out, nil
}

// Edge looks up the transition between two stage IDs.
func (g *TransitionGraph) Edge(fromStageID, toStageID string) (repository.Transition, bool) {
	t, ok := g.edges[edgeKey{from: fromStageID, to: toStageID}]
	return t, ok
}
