// Package dispatch implements the per-frame trace dispatcher: the hot-path
// orchestrator that every call/line/return/exception event from a host
// runtime passes through, deciding in one pass whether the thread should
// suspend before returning a Tracer back to the runtime.
package dispatch

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/tracewire/dbgcore/breakpoint"
	"github.com/tracewire/dbgcore/evalhost"
	"github.com/tracewire/dbgcore/except"
	"github.com/tracewire/dbgcore/filter"
	"github.com/tracewire/dbgcore/frame"
	"github.com/tracewire/dbgcore/skipcache"
	"github.com/tracewire/dbgcore/step"
	"github.com/tracewire/dbgcore/suspend"
)

// Suspender is the narrow slice of suspend.Queue/suspend.Suspend the
// dispatcher needs; kept as an interface so tests can stub it.
type Suspender interface {
	Suspend(ctx context.Context, threadID string, info *frame.Info, reason frame.SuspendReason, msg string) suspend.ResumeReason
	// Log reports a logpoint's rendered message without suspending.
	Log(threadID string, msg string)
}

// Dispatcher is the frame dispatcher. One instance is shared by every
// traced thread; per-thread state lives in frame.Registry and the
// per-thread skipcache.Cache the dispatcher keeps internally.
type Dispatcher struct {
	registry *frame.Registry
	store    *breakpoint.Store
	filters  *filter.Config
	steps    *step.Engine
	exc      *except.Engine
	eval     evalhost.Evaluator
	susp     Suspender

	done bool

	caches map[string]*skipcache.Cache
}

func New(registry *frame.Registry, store *breakpoint.Store, filters *filter.Config, steps *step.Engine, exc *except.Engine, eval evalhost.Evaluator, susp Suspender) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		store:    store,
		filters:  filters,
		steps:    steps,
		exc:      exc,
		eval:     eval,
		susp:     susp,
		caches:   make(map[string]*skipcache.Cache),
	}
}

// Finish stops all future dispatch calls from doing anything but returning
// TracerNone, used when the debug session is tearing down.
func (d *Dispatcher) Finish() { d.done = true }

func (d *Dispatcher) cacheFor(threadID string) *skipcache.Cache {
	c, ok := d.caches[threadID]
	if !ok {
		c = skipcache.New()
		d.caches[threadID] = c
	}
	return c
}

// Dispatch runs the full per-event stop decision for one call/line/return/
// exception notification. ctx is used only for evaluator calls and for the
// suspension wait; it is never required to be cancellable for Dispatch to
// return (only Suspend's internal wait blocks on it).
func (d *Dispatcher) Dispatch(ctx context.Context, threadID string, f frame.Frame, ev frame.Kind, arg any) (next frame.Tracer) {
	// 1. global teardown check.
	if d.done {
		return frame.TracerNone
	}

	info := d.registry.InfoFor(threadID)

	// 2. re-entrancy guard: a condition/log evaluation that itself runs
	// host code must not recursively dispatch.
	if info.IsTracing {
		return frame.TracerNone
	}
	info.IsTracing = true
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("thread", threadID).Errorf("dispatch: recovered panic: %v", r)
			next = frame.TracerNone
		}
		info.IsTracing = false
	}()

	cache := d.cacheFor(threadID)
	cache.Validate(d.store.Epoch())

	// 3. exception events are delegated to the exception engine first;
	// they bypass the breakpoint/step machinery entirely.
	if ev == frame.KindException {
		excArg, _ := arg.(*frame.ExceptionArg)
		if excArg != nil {
			res := d.exc.ShouldStop(ctx, threadID, info, f, excArg)
			if res.Stop {
				info.CurrentFrame = f
				d.susp.Suspend(ctx, threadID, info, frame.SuspendReasonException, res.Reason)
			}
		}
		if f.Handle() != 0 {
			cache.ForgetFrame(f.Handle())
		}
		return frame.TracerSelf
	}

	// 4. a generator's implicit return-via-exception must never be treated
	// as a stoppable return.
	if ev == frame.KindReturn && f.IsGenerator() {
		if excArg, ok := arg.(*frame.ExceptionArg); ok && excArg != nil {
			cache.ForgetFrame(f.Handle())
			return frame.TracerNone
		}
	}

	// 5. module/lambda call suppression: never stop on the synthetic call
	// event for a module body or an anonymous function wrapper.
	if ev == frame.KindCall {
		name := f.FunctionName()
		if name == "<module>" || name == "<lambda>" {
			return frame.TracerSelf
		}
	}

	stop := false
	reason := frame.SuspendReasonNone
	msg := ""

	// 6. step engine takes priority when a step command is outstanding.
	if step.Load(info) != step.None {
		if d.steps.ShouldStop(info, ev, f, f.Handle()) {
			stop = true
			reason = frame.SuspendReasonStep
		}
	}

	// 7-10. breakpoint check on line events, honoring the skip cache.
	if !stop && ev == frame.KindLine {
		verdict := cache.Line(f, f.Line())
		switch verdict {
		case skipcache.CanSkip, skipcache.CannotSkipNoBreakpoints:
			// nothing to do, already resolved.
		default:
			if !d.store.HasBreakpoints(f.File()) {
				cache.SetLine(f, f.Line(), skipcache.CannotSkipNoBreakpoints)
			} else if bp, ok := d.store.AtLine(f.File(), f.Line(), f.FunctionName()); ok {
				if d.breakpointFires(ctx, bp, f) {
					if bp.IsLogpoint {
						d.susp.Log(threadID, d.renderLog(ctx, bp, f))
					} else {
						stop = true
						reason = frame.SuspendReasonBreakpoint
					}
				}
				cache.SetLine(f, f.Line(), skipcache.CannotSkip)
			} else {
				cache.SetLine(f, f.Line(), skipcache.CanSkip)
			}
		}
	}

	// 11. return values are not captured, here or in hostbridge; dispatch
	// only decides whether to stop.

	if stop {
		stopFrame := f
		if ev == frame.KindReturn {
			ascended, ok := step.AscendOnReturn(f)
			if !ok {
				// no user frame remains above the one that just returned:
				// nothing to show the client, leave the thread running.
				stop = false
			}
			stopFrame = ascended
		}
		if stop {
			info.CurrentFrame = stopFrame
			d.susp.Suspend(ctx, threadID, info, reason, msg)
		}
	}

	// 13. retire frame bookkeeping on return.
	if ev == frame.KindReturn {
		cache.ForgetFrame(f.Handle())
	}

	return frame.TracerSelf
}

func (d *Dispatcher) breakpointFires(ctx context.Context, bp *breakpoint.Line, f frame.Frame) bool {
	if bp.Condition != "" && d.eval != nil {
		ok, err := d.eval.EvalCondition(ctx, f, bp.Condition)
		if err != nil || !ok {
			return false
		}
	}
	hit := bp.HitCount.Incr()
	if bp.HitCondition != "" {
		parsed, err := breakpoint.ParseHitCondition(bp.HitCondition)
		if err == nil {
			if stop, handled := parsed.Satisfied(hit); handled {
				if !stop {
					return false
				}
			} else if d.eval != nil {
				ok, err := d.eval.EvalHitCondition(ctx, parsed.Expression, hit)
				if err != nil || !ok {
					return false
				}
			}
		}
	}
	return true
}

func (d *Dispatcher) renderLog(ctx context.Context, bp *breakpoint.Line, f frame.Frame) string {
	if bp.LogExpression == "" || d.eval == nil {
		return ""
	}
	msg, err := d.eval.EvalLog(ctx, f, bp.LogExpression)
	if err != nil {
		return ""
	}
	return msg
}
