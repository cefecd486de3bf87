package dap

import (
	"github.com/google/go-dap"
	"github.com/pkg/errors"

	"github.com/tracewire/dbgcore/api"
	"github.com/tracewire/dbgcore/frame"
	"github.com/tracewire/dbgcore/step"
)

// thread is the DAP-facing view of one debugged thread: a thin wrapper
// over frame.Info/frame.Registry and api.Debugger's stepping operations.
type thread struct {
	id      int
	coreID  string
	name    string
	dbg     *api.Debugger
	adapter *Adapter

	variables *variableReferences
}

func (t *thread) info() *frame.Info { return t.dbg.Registry.InfoFor(t.coreID) }

func (t *thread) Continue() {
	t.variables.Reset()
	t.dbg.RequestContinue(t.coreID)
}

func (t *thread) Next() error {
	t.variables.Reset()
	info := t.info()
	return t.dbg.RequestStep(t.coreID, step.OverMyCode, info.CurrentFrame.Handle())
}

func (t *thread) StepIn() error {
	t.variables.Reset()
	return t.dbg.RequestStep(t.coreID, step.IntoMyCode, 0)
}

func (t *thread) StepOut() error {
	t.variables.Reset()
	info := t.info()
	parent, ok := info.CurrentFrame.Parent()
	if !ok {
		return errors.New("dap: cannot step out of the outermost frame")
	}
	return t.dbg.RequestStep(t.coreID, step.ReturnMyCode, parent.Handle())
}

// hasFrame reports whether frameID (a DAP VariablesReference-style frame
// handle, not the raw frame.Handle) belongs to this thread's current
// stack. Evaluate resolves frame ids through threadByFrameID instead.
func (t *thread) hasFrame(frameID int) bool {
	f := t.info().CurrentFrame
	for f != nil {
		if int(f.Handle())|(t.id<<24) == frameID {
			return true
		}
		var ok bool
		f, ok = f.Parent()
		if !ok {
			break
		}
	}
	return false
}

func (t *thread) StackTrace() []dap.StackFrame {
	var frames []dap.StackFrame
	f := t.info().CurrentFrame
	for f != nil {
		frames = append(frames, dap.StackFrame{
			Id:     (t.id << 24) | int(f.Handle()),
			Name:   f.FunctionName(),
			Source: &dap.Source{Name: basename(f.File()), Path: f.File()},
			Line:   f.Line(),
			Column: 1,
		})
		var ok bool
		f, ok = f.Parent()
		if !ok {
			break
		}
	}
	if frames == nil {
		frames = []dap.StackFrame{}
	}
	return frames
}

func (t *thread) Scopes(frameID int) []dap.Scope {
	f := t.frameByID(frameID)
	if f == nil {
		return nil
	}
	localsRef := t.variables.refFor(scopeRef{f, scopeLocals})
	globalsRef := t.variables.refFor(scopeRef{f, scopeGlobals})
	return []dap.Scope{
		{Name: "Locals", VariablesReference: localsRef, Expensive: false},
		{Name: "Globals", VariablesReference: globalsRef, Expensive: true},
	}
}

func (t *thread) Variables(ref int) []dap.Variable {
	return t.variables.resolve(ref)
}

func (t *thread) frameByID(frameID int) frame.Frame {
	target := frameID & ((1 << 24) - 1)
	f := t.info().CurrentFrame
	for f != nil {
		if int(f.Handle()) == target {
			return f
		}
		var ok bool
		f, ok = f.Parent()
		if !ok {
			break
		}
	}
	return nil
}

func basename(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}
