package api

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracewire/dbgcore/breakpoint"
	"github.com/tracewire/dbgcore/frame"
	"github.com/tracewire/dbgcore/step"
	"github.com/tracewire/dbgcore/suspend"
)

type mapVars map[string]any

func (m mapVars) Get(name string) (any, bool) { v, ok := m[name]; return v, ok }
func (m mapVars) Set(name string, v any)       { m[name] = v }
func (m mapVars) Names() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

type stubFrame struct {
	locals mapVars
}

func (f *stubFrame) Handle() frame.Handle        { return 1 }
func (f *stubFrame) File() string                { return "a.js" }
func (f *stubFrame) Line() int                   { return 1 }
func (f *stubFrame) FirstLine() int              { return 1 }
func (f *stubFrame) FunctionName() string        { return "<module>" }
func (f *stubFrame) Parent() (frame.Frame, bool) { return nil, false }
func (f *stubFrame) Locals() frame.VarView       { return f.locals }
func (f *stubFrame) Globals() frame.VarView      { return mapVars{} }
func (f *stubFrame) IsGenerator() bool           { return false }

func TestRequestStepRejectsTaskletFrame(t *testing.T) {
	var errBuf bytes.Buffer
	d := New(&errBuf, nil)

	err := d.RequestStep("__frame__:5", step.Into, 0)
	assert.Error(t, err)
	assert.Contains(t, errBuf.String(), "cannot step a tasklet frame")
}

func TestRequestStepArmsStepCommandAndResumes(t *testing.T) {
	d := New(nil, nil)
	threadID := "t1"
	info := d.Registry.InfoFor(threadID)

	done := make(chan suspend.ResumeReason, 1)
	go func() { done <- d.Suspend(context.Background(), threadID, info, frame.SuspendReasonBreakpoint, "") }()
	time.Sleep(5 * time.Millisecond)

	err := d.RequestStep(threadID, step.Over, 7)
	require.NoError(t, err)
	assert.Equal(t, step.Over, step.Load(info))
	assert.Equal(t, frame.Handle(7), info.StepStopFrame)

	select {
	case r := <-done:
		assert.Equal(t, suspend.ResumeStep, r)
	case <-time.After(time.Second):
		t.Fatal("expected a resume signal")
	}
}

func TestRequestSetNextRejectsTaskletFrame(t *testing.T) {
	var errBuf bytes.Buffer
	d := New(&errBuf, nil)
	err := d.RequestSetNext("__frame__:5", 10, "foo")
	assert.Error(t, err)
	assert.Contains(t, errBuf.String(), "cannot set next statement")
}

func TestSendErrorMessageWritesToErrorChannel(t *testing.T) {
	var errBuf bytes.Buffer
	d := New(&errBuf, nil)
	d.SendErrorMessage("boom")
	assert.Equal(t, "boom\n", errBuf.String())
}

func TestAddRemoveBreakpointRoundTrip(t *testing.T) {
	d := New(nil, nil)
	bp := &breakpoint.Line{File: "a.js", Line: 10}
	status := d.AddBreakpoint(bp)
	require.Equal(t, breakpoint.StatusOK, status)

	assert.True(t, d.RemoveBreakpoint("a.js", bp.ID))
	assert.False(t, d.RemoveBreakpoint("a.js", bp.ID))
}

// driveSuspendLoop starts threadID's suspend loop in the background so
// postEval-backed requests (which post work onto the suspended thread's
// own goroutine) have somewhere to run, and stops it once the test ends.
func driveSuspendLoop(t *testing.T, d *Debugger, threadID string) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	info := d.Registry.InfoFor(threadID)
	go d.Suspend(ctx, threadID, info, frame.SuspendReasonUser, "")
	time.Sleep(5 * time.Millisecond)
	return cancel
}

func TestRequestEvalRunsOnSuspendedThreadGoroutine(t *testing.T) {
	d := New(nil, nil)
	threadID := "t1"
	cancel := driveSuspendLoop(t, d, threadID)
	defer cancel()

	f := &stubFrame{locals: mapVars{"x": 42}}
	out, err := d.RequestEval(context.Background(), threadID, f, "x", false)
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestRequestConsoleExecDelegatesToRequestEval(t *testing.T) {
	d := New(nil, nil)
	threadID := "t1"
	cancel := driveSuspendLoop(t, d, threadID)
	defer cancel()

	f := &stubFrame{locals: mapVars{"y": "hi"}}
	out, err := d.RequestConsoleExec(context.Background(), threadID, f, "y")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestRequestCompletionsRunsOnSuspendedThreadGoroutine(t *testing.T) {
	d := New(nil, nil)
	threadID := "t1"
	cancel := driveSuspendLoop(t, d, threadID)
	defer cancel()

	f := &stubFrame{locals: mapVars{"foo": 1, "foobar": 2, "baz": 3}}
	out, err := d.RequestCompletions(context.Background(), threadID, f, "foo")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"foo", "foobar"}, out)
}

func TestRequestEvalNoEvaluatorErrors(t *testing.T) {
	d := New(nil, nil)
	d.Eval = nil
	_, err := d.RequestEval(context.Background(), "t1", &stubFrame{locals: mapVars{}}, "x", false)
	assert.Error(t, err)
}

func TestNotifyDisconnectResumesEveryThread(t *testing.T) {
	d := New(nil, nil)
	info := d.Registry.InfoFor("t1")

	done := make(chan suspend.ResumeReason, 1)
	go func() { done <- d.Suspend(context.Background(), "t1", info, frame.SuspendReasonUser, "") }()
	time.Sleep(5 * time.Millisecond)

	d.NotifyDisconnect()

	select {
	case r := <-done:
		assert.Equal(t, suspend.ResumeDisconnect, r)
	case <-time.After(time.Second):
		t.Fatal("expected a disconnect resume signal")
	}
}

func TestSuspendPolicyAllMarksSiblingThreadsSuspended(t *testing.T) {
	d := New(nil, nil)
	sibling := d.Registry.InfoFor("t2")
	require.Equal(t, frame.StateRun, sibling.State.Load())

	info := d.Registry.InfoFor("t1")
	done := make(chan suspend.ResumeReason, 1)
	go func() { done <- d.Suspend(context.Background(), "t1", info, frame.SuspendReasonBreakpoint, "") }()
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, frame.StateSuspend, sibling.State.Load())

	d.RequestContinue("t1")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected a resume signal")
	}
	assert.Equal(t, frame.StateRun, sibling.State.Load())
}

func TestSteppingResumesAllThreadsWakesSuspendedSiblings(t *testing.T) {
	d := New(nil, nil)
	d.SetSteppingResumesAllThreads(true)

	info1 := d.Registry.InfoFor("t1")
	info2 := d.Registry.InfoFor("t2")

	done1 := make(chan suspend.ResumeReason, 1)
	done2 := make(chan suspend.ResumeReason, 1)
	go func() { done1 <- d.Suspend(context.Background(), "t1", info1, frame.SuspendReasonBreakpoint, "") }()
	go func() { done2 <- d.Suspend(context.Background(), "t2", info2, frame.SuspendReasonBreakpoint, "") }()
	time.Sleep(5 * time.Millisecond)

	d.RequestContinue("t1")

	select {
	case r := <-done1:
		assert.Equal(t, suspend.ResumeContinue, r)
	case <-time.After(time.Second):
		t.Fatal("expected t1 to resume")
	}
	select {
	case r := <-done2:
		assert.Equal(t, suspend.ResumeContinue, r)
	case <-time.After(time.Second):
		t.Fatal("expected t2 to resume via SteppingResumesAllThreads")
	}
}
