// Package except implements the exception-break engine: first-raise-only
// semantics, same-context skip, library-ignore, and the @IgnoreException
// line-marker cache.
package except

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tracewire/dbgcore/breakpoint"
	"github.com/tracewire/dbgcore/evalhost"
	"github.com/tracewire/dbgcore/filter"
	"github.com/tracewire/dbgcore/frame"
)

// Engine decides whether an exception event should suspend the thread.
type Engine struct {
	store    *breakpoint.Store
	filters  *filter.Config
	eval     evalhost.Evaluator
	ignoreLn *IgnoreLineCache

	// raised tracks, per thread, the frame handle an exception was most
	// recently observed at, so a re-raise seen again at an outer frame during
	// unwind is recognized as "the same exception" (was_just_raised).
	raised map[string]raisedAt
}

type raisedAt struct {
	handle   frame.Handle
	value    any
	observed int
}

func NewEngine(store *breakpoint.Store, filters *filter.Config, eval evalhost.Evaluator) *Engine {
	return &Engine{
		store:    store,
		filters:  filters,
		eval:     eval,
		ignoreLn: NewIgnoreLineCache(),
		raised:   make(map[string]raisedAt),
	}
}

// Result is the outcome of ShouldStop.
type Result struct {
	Stop   bool
	Reason string
	LogMsg string // rendered LogExpression, if any and Stop
}

// ShouldStop runs the full exception-break decision for one raised
// exception observed at f: suspend state, traceback linkage, breakpoint
// lookup, ignored exit codes, condition, library filter, ignore-line
// marker, and first-raise-only gating, in that order.
func (e *Engine) ShouldStop(ctx context.Context, threadID string, info *frame.Info, f frame.Frame, exc *frame.ExceptionArg) Result {
	// 1. already suspended: never re-enter.
	if info.State.Load() == frame.StateSuspend {
		return Result{}
	}

	// 2. unlinked traceback: the exception hasn't unwound into any frame
	// yet, nothing to report against.
	if exc.Traceback == nil {
		return Result{}
	}

	qualifiedName := exc.Type

	wasJustRaised, oneFrameUp := e.observeRaise(threadID, f, exc)

	bp, handled := e.store.Caught(qualifiedName)
	if !handled {
		bp, handled = e.store.Uncaught(qualifiedName)
	}
	if !handled {
		return Result{}
	}

	// 4. ignored SystemExit-style codes.
	if code, ok := systemExitCode(exc.Value); ok && qualifiedName == "SystemExit" {
		if e.store.IsIgnoredSystemExitCode(code) {
			return Result{}
		}
	}

	// 5. user condition.
	if bp.Condition != "" && e.eval != nil {
		ok, err := e.eval.EvalCondition(ctx, f, bp.Condition)
		if err != nil {
			return Result{} // condition errors never stop the debuggee
		}
		if !ok {
			return Result{}
		}
	}

	// 6. library filter.
	if bp.IgnoreLibraries && e.filters != nil && e.filters.IsLibrary(f.File()) {
		return Result{}
	}

	// 7. @IgnoreException marker on the raising line.
	if e.ignoreLn.Marked(f.File(), f.Line()) {
		return Result{}
	}

	// 9. same-context-skip: never stop in the frame the exception was
	// raised in.
	if bp.SameContextSkip && wasJustRaised {
		return Result{}
	}

	// 10. first-raise-only: with same-context-skip, the stop moves to the
	// frame one level up from the raise site; without it, the raise site
	// itself is the stop.
	if bp.NotifyOnFirstRaiseOnly {
		if bp.SameContextSkip {
			if !oneFrameUp {
				return Result{}
			}
		} else if !wasJustRaised {
			return Result{}
		}
	}

	msg := ""
	if bp.LogExpression != "" && e.eval != nil {
		rendered, err := e.eval.EvalLog(ctx, f, bp.LogExpression)
		if err == nil {
			msg = rendered
		}
	}

	info.Shadow["__exception__"] = exc

	return Result{Stop: true, Reason: "exception " + qualifiedName, LogMsg: msg}
}

// observeRaise records, per thread, how many times a given exception
// type+value pair has been observed across unwinding frames. justRaised is
// true on the first observation (this frame is the raise site); oneUp is
// true on the second (this frame is the raise site's immediate caller).
func (e *Engine) observeRaise(threadID string, f frame.Frame, exc *frame.ExceptionArg) (justRaised, oneUp bool) {
	prev, ok := e.raised[threadID]
	if ok && prev.value == exc.Value {
		prev.observed++
		prev.handle = f.Handle()
		e.raised[threadID] = prev
		return false, prev.observed == 2
	}
	e.raised[threadID] = raisedAt{handle: f.Handle(), value: exc.Value, observed: 1}
	return true, false
}

// ForgetThread drops raise-tracking state for a thread that has finished
// unwinding or terminated.
func (e *Engine) ForgetThread(threadID string) {
	delete(e.raised, threadID)
}

func systemExitCode(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

var errNoEvaluator = errors.New("except: no evaluator configured")
