package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_NilStaysNil(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Wrap(nil, ErrCodeInternal, "ignored"))
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("boom")
	wrapped := fmt.Errorf("outer: %w", Wrap(cause, ErrCodeConflict, "case moved"))

	assert.Equal(t, ErrCodeConflict, CodeOf(wrapped))
	assert.Equal(t, ErrCodeInternal, CodeOf(cause))
	assert.ErrorIs(t, wrapped, cause)
}

func TestNotFound_Details(t *testing.T) {
	t.Parallel()

	err := NotFound("case", "c-1")
	require.Equal(t, ErrCodeNotFound, err.Code)
	assert.Equal(t, "case not found: c-1", err.Error())
	assert.Equal(t, "case", err.Details["resource"])
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"conflict", Conflict("version changed"), true},
		{"unavailable", Unavailable(context.DeadlineExceeded, "lock timeout"), true},
		{"not found", NotFound("case", "x"), false},
		{"plain", stderrors.New("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
