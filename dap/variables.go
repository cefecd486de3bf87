package dap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/go-dap"

	"github.com/tracewire/dbgcore/frame"
)

// scopeKind distinguishes a frame's locals scope from its globals scope.
type scopeKind int

const (
	scopeLocals scopeKind = iota
	scopeGlobals
)

type scopeRef struct {
	f    frame.Frame
	kind scopeKind
}

// variableReferences lazily mints DAP VariablesReference integers for
// scopes on demand, backed by frame.VarView. Nested values are not given
// references of their own, so they are not expandable.
type variableReferences struct {
	mu       sync.Mutex
	next     int
	scopes   map[int]scopeRef
	children map[int][]dap.Variable
}

func newVariableReferences() *variableReferences {
	return &variableReferences{
		next:     1,
		scopes:   make(map[int]scopeRef),
		children: make(map[int][]dap.Variable),
	}
}

func (v *variableReferences) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.next = 1
	v.scopes = make(map[int]scopeRef)
	v.children = make(map[int][]dap.Variable)
}

func (v *variableReferences) refFor(s scopeRef) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	ref := v.next
	v.next++
	v.scopes[ref] = s
	return ref
}

func (v *variableReferences) resolve(ref int) []dap.Variable {
	v.mu.Lock()
	s, ok := v.scopes[ref]
	v.mu.Unlock()
	if !ok {
		v.mu.Lock()
		vars := v.children[ref]
		v.mu.Unlock()
		return vars
	}

	var view frame.VarView
	switch s.kind {
	case scopeLocals:
		view = s.f.Locals()
	default:
		view = s.f.Globals()
	}

	names := view.Names()
	sort.Strings(names)
	out := make([]dap.Variable, 0, len(names))
	for _, name := range names {
		val, _ := view.Get(name)
		out = append(out, dap.Variable{
			Name:  name,
			Value: brief(val),
			Type:  fmt.Sprintf("%T", val),
		})
	}
	return out
}

// brief renders a value the way a variables pane expects: short, one
// line, never the full recursive structure.
func brief(v any) string {
	if v == nil {
		return "<nil>"
	}
	s := fmt.Sprintf("%v", v)
	const maxLen = 256
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
