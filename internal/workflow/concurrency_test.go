package workflow_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow"
)

// Concurrent executions of the same edge on one case: exactly one wins, every
// loser sees either the moved case or a retryable error, and exactly one
// audit record is added.
func TestConcurrentExecute_SingleWinner(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)

	h := newHarness(t)
	defer func() { _ = h.store.Close() }()

	c := h.intake(t, "F-RACE")
	h.review(t, c.ID, repository.SectionScrutiny, repository.ReviewStatusRecorded)

	const workers = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, workers)
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = h.execute(c.ID, "UNDER_SCRUTINY", clerk)
		}()
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case workflow.IsKind(err, workflow.KindInvalidTransition), apperrors.IsRetryable(err):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)

	history, err := h.engine.History(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, "UNDER_SCRUTINY", h.stageOf(t, c.ID))
	assert.Len(t, h.publisher.Events(), 1)
}
