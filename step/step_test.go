package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracewire/dbgcore/frame"
)

type stubFrame struct {
	handle   frame.Handle
	file     string
	funcName string
	parent   *stubFrame
}

func (f *stubFrame) Handle() frame.Handle { return f.handle }
func (f *stubFrame) File() string         { return f.file }
func (f *stubFrame) Line() int            { return 1 }
func (f *stubFrame) FirstLine() int       { return 1 }
func (f *stubFrame) FunctionName() string { return f.funcName }
func (f *stubFrame) Parent() (frame.Frame, bool) {
	if f.parent == nil {
		return nil, false
	}
	return f.parent, true
}
func (f *stubFrame) Locals() frame.VarView  { return nil }
func (f *stubFrame) Globals() frame.VarView { return nil }
func (f *stubFrame) IsGenerator() bool      { return false }

type alwaysMyCode struct{ v bool }

func (a alwaysMyCode) AppliesTo(file string, forceCheckProjectScope bool) bool { return a.v }

func newInfoForTest() *frame.Info { return &frame.Info{Shadow: make(map[string]any)} }

func TestLoadStoreRoundTrip(t *testing.T) {
	info := newInfoForTest()
	assert.Equal(t, None, Load(info))
	Store(info, Into)
	assert.Equal(t, Into, Load(info))
}

func TestShouldStopNoneCommandNeverStops(t *testing.T) {
	e := NewEngine(nil)
	info := newInfoForTest()
	f := &stubFrame{handle: 1, file: "a.js"}
	assert.False(t, e.ShouldStop(info, frame.KindLine, f, 1))
}

func TestShouldStopStopOnEntry(t *testing.T) {
	e := NewEngine(nil)
	info := newInfoForTest()
	Store(info, StopOnEntry)
	f := &stubFrame{handle: 1, file: "a.js"}

	assert.False(t, e.ShouldStop(info, frame.KindReturn, f, 1))
	assert.Equal(t, StopOnEntry, Load(info)) // unchanged, still armed

	assert.True(t, e.ShouldStop(info, frame.KindCall, f, 1))
	assert.Equal(t, None, Load(info))
}

func TestShouldStopIntoStopsOnAnyLine(t *testing.T) {
	e := NewEngine(nil)
	info := newInfoForTest()
	Store(info, Into)
	f := &stubFrame{handle: 5, file: "a.js"}

	assert.False(t, e.ShouldStop(info, frame.KindCall, f, 5))
	assert.True(t, e.ShouldStop(info, frame.KindLine, f, 5))
	assert.Equal(t, None, Load(info))
}

func TestShouldStopIntoMyCodeRespectsFilter(t *testing.T) {
	info := newInfoForTest()
	Store(info, IntoMyCode)
	f := &stubFrame{handle: 1, file: "vendor.js"}

	notMyCode := NewEngine(alwaysMyCode{false})
	assert.False(t, notMyCode.ShouldStop(info, frame.KindLine, f, 1))
	assert.Equal(t, IntoMyCode, Load(info))

	myCode := NewEngine(alwaysMyCode{true})
	assert.True(t, myCode.ShouldStop(info, frame.KindLine, f, 1))
}

func TestShouldStopOverStopsAtSameFrameLine(t *testing.T) {
	e := NewEngine(nil)
	info := newInfoForTest()
	info.StepStopFrame = 10
	Store(info, Over)

	f := &stubFrame{handle: 10, file: "a.js"}
	// A call/line event at a deeper (called-into) frame never stops.
	deeper := &stubFrame{handle: 11, file: "a.js"}
	assert.False(t, e.ShouldStop(info, frame.KindLine, deeper, 11))
	assert.Equal(t, Over, Load(info))

	assert.True(t, e.ShouldStop(info, frame.KindLine, f, 10))
	assert.Equal(t, None, Load(info))
}

func TestShouldStopOverAscendsStopFrameOnReturn(t *testing.T) {
	e := NewEngine(nil)
	info := newInfoForTest()
	parent := &stubFrame{handle: 20, file: "a.js"}
	callee := &stubFrame{handle: 21, file: "a.js", parent: parent}
	info.StepStopFrame = 21
	Store(info, Over)

	assert.False(t, e.ShouldStop(info, frame.KindReturn, callee, 21))
	assert.Equal(t, frame.Handle(20), info.StepStopFrame)
	assert.Equal(t, Over, Load(info)) // still armed, waiting on the caller's line
}

func TestShouldStopOverMyCodeRequiresMyCode(t *testing.T) {
	info := newInfoForTest()
	info.StepStopFrame = 1
	Store(info, OverMyCode)
	f := &stubFrame{handle: 1, file: "vendor.js"}

	notMyCode := NewEngine(alwaysMyCode{false})
	assert.False(t, notMyCode.ShouldStop(info, frame.KindLine, f, 1))

	myCode := NewEngine(alwaysMyCode{true})
	assert.True(t, myCode.ShouldStop(info, frame.KindLine, f, 1))
}

func TestShouldStopReturnOnlyAtStopFrame(t *testing.T) {
	e := NewEngine(nil)
	info := newInfoForTest()
	info.StepStopFrame = 7
	Store(info, Return)
	f := &stubFrame{handle: 7, file: "a.js"}

	assert.False(t, e.ShouldStop(info, frame.KindLine, f, 7))
	assert.False(t, e.ShouldStop(info, frame.KindReturn, f, 8))
	assert.True(t, e.ShouldStop(info, frame.KindReturn, f, 7))
	assert.Equal(t, None, Load(info))
}

func TestShouldStopReturnMyCodeRequiresMyCode(t *testing.T) {
	info := newInfoForTest()
	info.StepStopFrame = 1
	Store(info, ReturnMyCode)
	f := &stubFrame{handle: 1, file: "vendor.js"}

	notMyCode := NewEngine(alwaysMyCode{false})
	assert.False(t, notMyCode.ShouldStop(info, frame.KindReturn, f, 1))

	myCode := NewEngine(alwaysMyCode{true})
	assert.True(t, myCode.ShouldStop(info, frame.KindReturn, f, 1))
}

func TestShouldStopSmartIntoMatchesFuncName(t *testing.T) {
	e := NewEngine(nil)
	info := newInfoForTest()
	info.SmartStepFuncName = "target"
	Store(info, SmartInto)

	wrongName := &stubFrame{handle: 1, file: "a.js", funcName: "other"}
	assert.False(t, e.ShouldStop(info, frame.KindLine, wrongName, 1))
	assert.Equal(t, SmartInto, Load(info))

	rightName := &stubFrame{handle: 2, file: "a.js", funcName: "target"}
	assert.True(t, e.ShouldStop(info, frame.KindLine, rightName, 2))
	assert.Equal(t, None, Load(info))
}

func TestShouldStopSmartIntoMatchesStopFrameWhenSet(t *testing.T) {
	e := NewEngine(nil)
	info := newInfoForTest()
	info.SmartStepStopFrame = 3
	Store(info, SmartInto)

	f := &stubFrame{handle: 4, file: "a.js"}
	assert.False(t, e.ShouldStop(info, frame.KindCall, f, 4))

	match := &stubFrame{handle: 3, file: "a.js"}
	assert.True(t, e.ShouldStop(info, frame.KindCall, match, 3))
}

func TestIsBootstrapFrame(t *testing.T) {
	require.True(t, IsBootstrapFrame(&stubFrame{file: "dbgcore/cmd/dbgd", funcName: "run"}))
	require.False(t, IsBootstrapFrame(&stubFrame{file: "app.js", funcName: "run"}))
}

func TestShouldStopIntoStopsOnReturnWhenParentExists(t *testing.T) {
	e := NewEngine(nil)
	info := newInfoForTest()
	Store(info, Into)

	parent := &stubFrame{handle: 1, file: "a.js"}
	callee := &stubFrame{handle: 2, file: "a.js", parent: parent}
	assert.True(t, e.ShouldStop(info, frame.KindReturn, callee, 2))
	assert.Equal(t, None, Load(info))
}

func TestShouldStopIntoNeverStopsOnReturnWithNoParent(t *testing.T) {
	e := NewEngine(nil)
	info := newInfoForTest()
	Store(info, Into)

	root := &stubFrame{handle: 1, file: "a.js"}
	assert.False(t, e.ShouldStop(info, frame.KindReturn, root, 1))
	assert.Equal(t, Into, Load(info))
}

func TestShouldStopIntoNeverStopsOnReturnIntoBootstrapFrame(t *testing.T) {
	e := NewEngine(nil)
	info := newInfoForTest()
	Store(info, Into)

	bootstrap := &stubFrame{file: "dbgcore/cmd/dbgd", funcName: "run"}
	callee := &stubFrame{handle: 2, file: "a.js", parent: bootstrap}
	assert.False(t, e.ShouldStop(info, frame.KindReturn, callee, 2))
	assert.Equal(t, Into, Load(info))
}

func TestShouldStopIntoMyCodeStopsOnReturnOnlyWhenMyCode(t *testing.T) {
	info := newInfoForTest()
	Store(info, IntoMyCode)
	parent := &stubFrame{handle: 1, file: "a.js"}
	callee := &stubFrame{handle: 2, file: "vendor.js", parent: parent}

	notMyCode := NewEngine(alwaysMyCode{false})
	assert.False(t, notMyCode.ShouldStop(info, frame.KindReturn, callee, 2))
	assert.Equal(t, IntoMyCode, Load(info))

	myCode := NewEngine(alwaysMyCode{true})
	assert.True(t, myCode.ShouldStop(info, frame.KindReturn, callee, 2))
	assert.Equal(t, None, Load(info))
}

func TestAscendOnReturnSkipsBootstrapFrame(t *testing.T) {
	caller := &stubFrame{handle: 1, file: "app.js"}
	bootstrap := &stubFrame{file: "dbgcore/cmd/dbgd", funcName: "run", parent: caller}
	callee := &stubFrame{handle: 2, file: "app.js", parent: bootstrap}

	got, ok := AscendOnReturn(callee)
	require.True(t, ok)
	assert.Same(t, caller, got)
}

func TestAscendOnReturnReportsNoUserFrameAbove(t *testing.T) {
	root := &stubFrame{handle: 1, file: "app.js"}
	_, ok := AscendOnReturn(root)
	assert.False(t, ok)
}
