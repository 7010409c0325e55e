package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/logger"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

func stage(id, code string, order int) *repository.Stage {
	return &repository.Stage{ID: id, Code: code, Name: code, SortOrder: order}
}

func transition(id, from, to string, guard GuardName, pos int) *repository.Transition {
	return &repository.Transition{ID: id, FromStageID: from, ToStageID: to, GuardName: string(guard), Position: pos}
}

func TestStageCatalogue(t *testing.T) {
	t.Parallel()

	c, err := NewStageCatalogue([]*repository.Stage{
		stage("s-3", "CLOSED", 30),
		stage("s-1", "SUBMITTED", 10),
		stage("s-9", "ON_HOLD", 10),
	})
	require.NoError(t, err)

	got, err := c.Resolve("SUBMITTED")
	require.NoError(t, err)
	assert.Equal(t, "s-1", got.ID)

	_, err = c.Resolve("UNKNOWN")
	assert.ErrorIs(t, err, ErrStageNotFound)

	var codes []string
	for _, s := range c.List() {
		codes = append(codes, s.Code)
	}
	assert.Equal(t, []string{"ON_HOLD", "SUBMITTED", "CLOSED"}, codes)

	_, err = NewStageCatalogue([]*repository.Stage{stage("a", "X", 1), stage("b", "X", 2)})
	assert.ErrorIs(t, err, ErrInvalidTopology)
}

func TestTransitionGraph(t *testing.T) {
	t.Parallel()

	stages, err := NewStageCatalogue([]*repository.Stage{
		stage("s-1", "A", 1), stage("s-2", "B", 2), stage("s-3", "C", 3),
	})
	require.NoError(t, err)
	guards := NewGuardCatalogue(GuardOptions{})

	g, err := NewTransitionGraph(stages, []*repository.Transition{
		transition("t-3", "s-1", "s-3", GuardNone, 2),
		transition("t-1", "s-1", "s-2", GuardNone, 1),
		transition("t-2", "s-2", "s-1", GuardNone, 3), // cycles are allowed
	}, guards)
	require.NoError(t, err)

	out, err := g.Outgoing("A")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "t-1", out[0].ID)
	assert.Equal(t, "t-3", out[1].ID)

	terminal, err := g.Outgoing("C")
	require.NoError(t, err)
	assert.Empty(t, terminal)

	_, ok := g.Edge("s-2", "s-3")
	assert.False(t, ok)

	t.Run("rejects unknown guard", func(t *testing.T) {
		_, err := NewTransitionGraph(stages, []*repository.Transition{transition("t", "s-1", "s-2", "GUARD_NOPE", 1)}, guards)
		assert.ErrorIs(t, err, ErrInvalidTopology)
	})
	t.Run("rejects duplicate edge", func(t *testing.T) {
		_, err := NewTransitionGraph(stages, []*repository.Transition{
			transition("t-a", "s-1", "s-2", GuardNone, 1),
			transition("t-b", "s-1", "s-2", GuardNone, 2),
		}, guards)
		assert.ErrorIs(t, err, ErrInvalidTopology)
	})
	t.Run("rejects dangling stage", func(t *testing.T) {
		_, err := NewTransitionGraph(stages, []*repository.Transition{transition("t", "s-1", "s-404", GuardNone, 1)}, guards)
		assert.ErrorIs(t, err, ErrInvalidTopology)
	})
}

type staticSource struct {
	stages      []*repository.Stage
	transitions []*repository.Transition
	err         error
}

func (s *staticSource) LoadTopology(context.Context) ([]*repository.Stage, []*repository.Transition, error) {
	return s.stages, s.transitions, s.err
}

func TestTopology_ReloadKeepsPreviousSnapshotOnFailure(t *testing.T) {
	t.Parallel()

	src := &staticSource{
		stages:      []*repository.Stage{stage("s-1", "A", 1), stage("s-2", "B", 2)},
		transitions: []*repository.Transition{transition("t-1", "s-1", "s-2", GuardNone, 1)},
	}
	topo := NewTopology(src, NewGuardCatalogue(GuardOptions{}), logger.Nop())

	_, err := topo.Snapshot()
	require.ErrorIs(t, err, ErrInvalidTopology)

	require.NoError(t, topo.Reload(context.Background()))
	before, err := topo.Snapshot()
	require.NoError(t, err)

	src.transitions = append(src.transitions, transition("t-2", "s-2", "s-1", "GUARD_NOPE", 2))
	require.Error(t, topo.Reload(context.Background()))

	src.err = errors.New("db down")
	require.Error(t, topo.Reload(context.Background()))

	after, err := topo.Snapshot()
	require.NoError(t, err)
	assert.Same(t, before, after)
}
