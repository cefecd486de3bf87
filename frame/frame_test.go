package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindCall:      "call",
		KindLine:      "line",
		KindReturn:    "return",
		KindException: "exception",
		Kind(99):      "unknown",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}

func TestInfoAtomicWrappers(t *testing.T) {
	info := newInfo()

	assert.Equal(t, StateRun, info.State.Load())
	info.State.Store(StateSuspend)
	assert.Equal(t, StateSuspend, info.State.Load())
	assert.True(t, info.State.CAS(StateSuspend, StateRun))
	assert.Equal(t, StateRun, info.State.Load())
	assert.False(t, info.State.CAS(StateSuspend, StateRun))

	info.StepCmd.Store(7)
	assert.Equal(t, int32(7), info.StepCmd.Load())

	assert.Equal(t, SuspendReasonNone, info.SuspendReasonField.Load())
	info.SuspendReasonField.Store(SuspendReasonBreakpoint)
	assert.Equal(t, SuspendReasonBreakpoint, info.SuspendReasonField.Load())
}

func TestNewInfoHasShadowMap(t *testing.T) {
	info := newInfo()
	require := assert.New(t)
	require.NotNil(info.Shadow)
	info.Shadow["__exception__"] = 42
	require.Equal(42, info.Shadow["__exception__"])
}
