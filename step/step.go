// Package step implements the step engine: the command enum and the
// decision table that tells the dispatcher whether the current event
// satisfies the thread's outstanding step request.
package step

import "github.com/tracewire/dbgcore/frame"

// Cmd is a step command, stored in frame.Info.StepCmd as a plain int32 so
// the frame package does not need to import step.
type Cmd int32

const (
	None Cmd = iota
	Into
	IntoMyCode
	Over
	OverMyCode
	Return
	ReturnMyCode
	SmartInto
	StopOnEntry
)

func Load(info *frame.Info) Cmd { return Cmd(info.StepCmd.Load()) }
func Store(info *frame.Info, c Cmd) {
	info.StepCmd.Store(int32(c))
}

// MyCodeFilter is the subset of filter.Config the engine needs, kept
// narrow so step does not import filter's full surface.
type MyCodeFilter interface {
	AppliesTo(file string, forceCheckProjectScope bool) bool
}

// Engine evaluates the step-command decision table against a live event.
type Engine struct {
	filters MyCodeFilter
}

func NewEngine(filters MyCodeFilter) *Engine {
	return &Engine{filters: filters}
}

// ShouldStop reports whether the current trace event satisfies the
// thread's outstanding step command. cur is the frame handle the event was
// reported on.
func (e *Engine) ShouldStop(info *frame.Info, ev frame.Kind, f frame.Frame, cur frame.Handle) bool {
	cmd := Load(info)
	if cmd == None {
		return false
	}

	myCode := func() bool {
		return e.filters == nil || e.filters.AppliesTo(f.File(), true)
	}

	switch cmd {
	case StopOnEntry:
		if ev == frame.KindLine || ev == frame.KindCall {
			Store(info, None)
			return true
		}
		return false

	case Into:
		switch ev {
		case frame.KindLine:
			Store(info, None)
			return true
		case frame.KindReturn:
			if parent, ok := f.Parent(); ok && !IsBootstrapFrame(parent) {
				Store(info, None)
				return true
			}
			return false
		default:
			return false
		}

	case IntoMyCode:
		switch ev {
		case frame.KindLine:
			if myCode() {
				Store(info, None)
				return true
			}
			return false
		case frame.KindReturn:
			if parent, ok := f.Parent(); ok && !IsBootstrapFrame(parent) && myCode() {
				Store(info, None)
				return true
			}
			return false
		default:
			return false
		}

	case Over, OverMyCode:
		stopFrame := frame.Handle(info.StepStopFrame)
		if ev == frame.KindReturn {
			if cur == stopFrame {
				// ascend: the stepped-over call just returned, the next
				// line event in the caller should stop.
				if parent, ok := f.Parent(); ok {
					info.StepStopFrame = parent.Handle()
				}
			}
			return false
		}
		if ev != frame.KindLine {
			return false
		}
		if cur != stopFrame {
			return false
		}
		if cmd == OverMyCode && !myCode() {
			return false
		}
		Store(info, None)
		return true

	case Return, ReturnMyCode:
		stopFrame := frame.Handle(info.StepStopFrame)
		if ev != frame.KindReturn {
			return false
		}
		if cur != stopFrame {
			return false
		}
		if cmd == ReturnMyCode && !myCode() {
			return false
		}
		Store(info, None)
		return true

	case SmartInto:
		if ev != frame.KindLine && ev != frame.KindCall {
			return false
		}
		if info.SmartStepFuncName != "" && f.FunctionName() != info.SmartStepFuncName {
			return false
		}
		stopFrame := frame.Handle(info.SmartStepStopFrame)
		if stopFrame != 0 && cur != stopFrame {
			return false
		}
		Store(info, None)
		return true

	default:
		return false
	}
}

// IsBootstrapFrame reports whether f is one of the debugger's own entry
// frames, which step-return ascent must skip over rather than stop in.
func IsBootstrapFrame(f frame.Frame) bool {
	return f.File() == "dbgcore/cmd/dbgd" && f.FunctionName() == "run"
}

// AscendOnReturn climbs from f toward its caller so a stop decided on a
// return event lands the user on the caller's line rather than inside the
// frame that just exited, skipping over any bootstrap frame in between. ok
// is false when no user frame remains above f, meaning the stop should be
// dropped entirely and the thread left running.
func AscendOnReturn(f frame.Frame) (parent frame.Frame, ok bool) {
	cur := f
	for {
		p, has := cur.Parent()
		if !has {
			return nil, false
		}
		if IsBootstrapFrame(p) {
			cur = p
			continue
		}
		return p, true
	}
}
