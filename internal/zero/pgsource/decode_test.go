package pgsource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoerceNumericAndBoolean(t *testing.T) {
	require.Equal(t, true, coerce("t"))
	require.Equal(t, false, coerce("f"))
	require.Equal(t, 42.0, coerce("42"))
	require.Equal(t, "hello", coerce("hello"))
}

func TestStreamStateTransitions(t *testing.T) {
	var s stateBox
	require.Equal(t, StateIdle, s.Load())
	require.True(t, s.CAS(StateIdle, StateStarting))
	require.False(t, s.CAS(StateIdle, StateStarting))
	s.Store(StateStreaming)
	require.Equal(t, StateStreaming, s.Load())
}
