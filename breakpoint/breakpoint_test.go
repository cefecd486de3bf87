package breakpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	missing, excluded map[string]bool
}

func (f fakeChecker) Exists(file string) bool  { return !f.missing[file] }
func (f fakeChecker) Excluded(file string) bool { return f.excluded[file] }

func TestAddAssignsIDAndConsolidates(t *testing.T) {
	s := NewStore()
	bp := &Line{File: "a.js", Line: 10}
	status := s.Add(bp, nil)
	require.Equal(t, StatusOK, status)
	assert.NotZero(t, bp.ID)

	got, ok := s.AtLine("a.js", 10, "<module>")
	require.True(t, ok)
	assert.Same(t, bp, got)
	assert.True(t, s.HasBreakpoints("a.js"))
}

func TestAddRejectsInvalidLine(t *testing.T) {
	s := NewStore()
	status := s.Add(&Line{File: "a.js", Line: 0}, nil)
	assert.Equal(t, StatusLineInvalid, status)
}

func TestAddHonorsFileChecker(t *testing.T) {
	s := NewStore()
	checker := fakeChecker{
		missing:  map[string]bool{"missing.js": true},
		excluded: map[string]bool{"vendor.js": true},
	}
	assert.Equal(t, StatusFileNotFound, s.Add(&Line{File: "missing.js", Line: 1}, checker))
	assert.Equal(t, StatusFileExcluded, s.Add(&Line{File: "vendor.js", Line: 1}, checker))
	assert.Equal(t, StatusOK, s.Add(&Line{File: "ok.js", Line: 1}, checker))
}

func TestConsolidateLastAddedWins(t *testing.T) {
	s := NewStore()
	first := &Line{File: "a.js", Line: 5}
	second := &Line{File: "a.js", Line: 5}
	require.Equal(t, StatusOK, s.Add(first, nil))
	require.Equal(t, StatusOK, s.Add(second, nil))

	got, ok := s.AtLine("a.js", 5, "<module>")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRemoveAndRemoveAll(t *testing.T) {
	s := NewStore()
	bp := &Line{File: "a.js", Line: 1}
	s.Add(bp, nil)
	assert.True(t, s.Remove("a.js", bp.ID))
	assert.False(t, s.HasBreakpoints("a.js"))
	assert.False(t, s.Remove("a.js", bp.ID))

	s.Add(&Line{File: "a.js", Line: 1}, nil)
	s.Add(&Line{File: "b.js", Line: 1}, nil)
	s.RemoveAll("a.js")
	assert.False(t, s.HasBreakpoints("a.js"))
	assert.True(t, s.HasBreakpoints("b.js"))

	s.RemoveAll("")
	assert.False(t, s.HasBreakpoints("b.js"))
}

func TestEpochBumpsOnEveryMutation(t *testing.T) {
	s := NewStore()
	e0 := s.Epoch()
	s.Add(&Line{File: "a.js", Line: 1}, nil)
	assert.Greater(t, s.Epoch(), e0)
}

func TestOnChangedFanOut(t *testing.T) {
	s := NewStore()
	var calls int
	s.OnChanged(func() { calls++ })
	s.OnChanged(func() { calls++ })
	s.Add(&Line{File: "a.js", Line: 1}, nil)
	assert.Equal(t, 2, calls)
}

func TestExceptionBreakpointsWildcardFallback(t *testing.T) {
	s := NewStore()
	s.AddException(&Exception{QualifiedName: "*", NotifyOnUnhandled: true})

	e, ok := s.Uncaught("SomeCustomError")
	require.True(t, ok)
	assert.Equal(t, "*", e.QualifiedName)

	_, ok = s.Caught("SomeCustomError")
	assert.False(t, ok)
}

func TestExceptionBreakpointsExactBeatsWildcard(t *testing.T) {
	s := NewStore()
	s.AddException(&Exception{QualifiedName: "*", NotifyOnUnhandled: true})
	s.AddException(&Exception{QualifiedName: "TypeError", NotifyOnUnhandled: true})

	e, ok := s.Uncaught("TypeError")
	require.True(t, ok)
	assert.Equal(t, "TypeError", e.QualifiedName)
}

func TestIgnoreSystemExitCodes(t *testing.T) {
	s := NewStore()
	assert.False(t, s.IsIgnoredSystemExitCode(0))
	s.SetIgnoreSystemExitCodes([]int{0, 1})
	assert.True(t, s.IsIgnoredSystemExitCode(0))
	assert.True(t, s.IsIgnoredSystemExitCode(1))
	assert.False(t, s.IsIgnoredSystemExitCode(2))
}

type fakeKindHandler struct {
	kind      string
	added     map[string]any
	removedID string
}

func (h *fakeKindHandler) Kind() string { return h.kind }
func (h *fakeKindHandler) Add(args map[string]any) (string, error) {
	h.added = args
	return "", nil
}
func (h *fakeKindHandler) Remove(id string) error {
	h.removedID = id
	return nil
}
func (h *fakeKindHandler) Matches(file string, line int) (string, bool) { return "", false }

func TestPluginBreakpointLifecycle(t *testing.T) {
	s := NewStore()
	h := &fakeKindHandler{kind: "logpoint"}
	s.RegisterKind(h)

	id, err := s.AddPlugin("logpoint", map[string]any{"expr": "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, id) // uuid fallback since handler returned ""

	require.NoError(t, s.RemovePlugin("logpoint", id))
	assert.Equal(t, id, h.removedID)

	_, err = s.AddPlugin("unknown-kind", nil)
	assert.Error(t, err)
}

func TestAtLineFuncNameScopeNoneMatchesAnyFrame(t *testing.T) {
	s := NewStore()
	bp := &Line{File: "a.js", Line: 10, FuncName: "None"}
	require.Equal(t, StatusOK, s.Add(bp, nil))

	got, ok := s.AtLine("a.js", 10, "handler")
	require.True(t, ok)
	assert.Same(t, bp, got)
}

func TestAtLineFuncNameScopeEmptyMatchesModuleOnly(t *testing.T) {
	s := NewStore()
	bp := &Line{File: "a.js", Line: 10, FuncName: ""}
	require.Equal(t, StatusOK, s.Add(bp, nil))

	_, ok := s.AtLine("a.js", 10, "handler")
	assert.False(t, ok)

	got, ok := s.AtLine("a.js", 10, "<module>")
	require.True(t, ok)
	assert.Same(t, bp, got)
}

func TestAtLineFuncNameScopeQualifiedNameMustMatchExactly(t *testing.T) {
	s := NewStore()
	bp := &Line{File: "a.js", Line: 10, FuncName: "Widget.handler"}
	require.Equal(t, StatusOK, s.Add(bp, nil))

	_, ok := s.AtLine("a.js", 10, "handler")
	assert.False(t, ok)

	got, ok := s.AtLine("a.js", 10, "Widget.handler")
	require.True(t, ok)
	assert.Same(t, bp, got)
}

func TestCounter(t *testing.T) {
	var c Counter
	assert.Equal(t, int64(0), c.Load())
	assert.Equal(t, int64(1), c.Incr())
	assert.Equal(t, int64(2), c.Incr())
	c.Reset()
	assert.Equal(t, int64(0), c.Load())
}
