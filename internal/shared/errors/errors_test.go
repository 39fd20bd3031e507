package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "foreman/internal/shared/errors"
)

func TestNotFoundIsClassifiedAndMessaged(t *testing.T) {
	err := coreerrors.NotFound("run", "r-1")
	require.True(t, stderrors.Is(err, coreerrors.ErrNotFound))
	require.Equal(t, coreerrors.KindNotFound, coreerrors.KindOf(err))
	require.Contains(t, err.Error(), "r-1")
}

func TestInvalidTransitionMessage(t *testing.T) {
	err := coreerrors.InvalidTransition("completed", "running")
	require.True(t, stderrors.Is(err, coreerrors.ErrInvalidTransition))
	require.Equal(t, coreerrors.KindInvalidTransition, coreerrors.KindOf(err))
	require.Contains(t, err.Error(), "completed")
	require.Contains(t, err.Error(), "running")
}

func TestInternalPreservesCauseButHidesItFromMessage(t *testing.T) {
	cause := stderrors.New("pool exhausted")
	err := coreerrors.Internal(cause, "create_run")
	require.True(t, stderrors.Is(err, coreerrors.ErrInternal))
	require.Equal(t, coreerrors.KindInternal, coreerrors.KindOf(err))
	require.Equal(t, cause, stderrors.Unwrap(err))
	require.NotContains(t, err.Error(), "pool exhausted")
}

func TestKindOfDefaultsToInternalForUnrecognizedErrors(t *testing.T) {
	require.Equal(t, coreerrors.KindInternal, coreerrors.KindOf(stderrors.New("boom")))
}

func TestKindOfNilIsEmpty(t *testing.T) {
	require.Equal(t, coreerrors.Kind(""), coreerrors.KindOf(nil))
}

func TestValidationAndConflict(t *testing.T) {
	v := coreerrors.Validation("input_data is required")
	require.True(t, stderrors.Is(v, coreerrors.ErrValidation))
	require.Equal(t, "input_data is required", v.Error())

	c := coreerrors.Conflict("task %s already terminal", "t-1")
	require.True(t, stderrors.Is(c, coreerrors.ErrConflict))
	require.Contains(t, c.Error(), "t-1")
}
