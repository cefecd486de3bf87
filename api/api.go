// Package api implements the Debugger façade: the single operation surface
// an async network/debug client drives, bundling breakpoint, filter,
// stepping, exception, evaluation and dispatch state behind one context
// instead of package-level singletons.
package api

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tracewire/dbgcore/breakpoint"
	"github.com/tracewire/dbgcore/dispatch"
	"github.com/tracewire/dbgcore/evalhost"
	"github.com/tracewire/dbgcore/except"
	"github.com/tracewire/dbgcore/filter"
	"github.com/tracewire/dbgcore/frame"
	"github.com/tracewire/dbgcore/step"
	"github.com/tracewire/dbgcore/suspend"
	"github.com/tracewire/dbgcore/util/waitmap"
)

// FileChecker is injected by the caller (typically backed by the
// hostbridge) so the store can answer ADD_BREAKPOINT_FILE_NOT_FOUND /
// FILE_EXCLUDED_BY_FILTERS without this package touching the filesystem.
type FileChecker = breakpoint.FileChecker

// Debugger bundles all mutable debug session state into one struct,
// passed around explicitly rather than reached for as package-level
// singletons.
type Debugger struct {
	Registry *frame.Registry
	Store    *breakpoint.Store
	Filters  *filter.Config
	Steps    *step.Engine
	Except   *except.Engine
	Eval     evalhost.Evaluator
	Disp     *dispatch.Dispatcher

	mu          sync.RWMutex
	queues      map[string]*suspend.Queue
	errw        io.Writer
	checker     FileChecker
	notifierVal suspend.Notifier

	results *waitmap.Map
	reqSeq  atomic.Int64

	protocol           string
	showReturnValues   bool
	steppingResumesAll bool
	suspendPolicy      suspend.SuspendPolicy
}

func New(errw io.Writer, checker FileChecker) *Debugger {
	filters := filter.NewConfig()
	store := breakpoint.NewStore()
	steps := step.NewEngine(filters)
	eval := evalhost.NewBuiltin()
	exc := except.NewEngine(store, filters, eval)
	registry := frame.NewRegistry()

	d := &Debugger{
		Registry:      registry,
		Store:         store,
		Filters:       filters,
		Steps:         steps,
		Except:        exc,
		Eval:          eval,
		errw:          errw,
		checker:       checker,
		queues:        make(map[string]*suspend.Queue),
		results:       waitmap.New(),
		protocol:      "dap",
		suspendPolicy: suspend.PolicyAll,
	}
	d.Disp = dispatch.New(registry, store, filters, steps, exc, eval, d)
	return d
}

func (d *Debugger) queueFor(threadID string) *suspend.Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[threadID]
	if !ok {
		q = suspend.NewQueue()
		d.queues[threadID] = q
	}
	return q
}

// Suspend implements dispatch.Suspender.
func (d *Debugger) Suspend(ctx context.Context, threadID string, info *frame.Info, reason frame.SuspendReason, msg string) suspend.ResumeReason {
	q := d.queueFor(threadID)
	d.mu.RLock()
	policy := d.suspendPolicy
	d.mu.RUnlock()

	if policy == suspend.PolicyAll {
		d.markSiblings(threadID, frame.StateSuspend)
		defer d.markSiblings(threadID, frame.StateRun)
	}

	return suspend.Suspend(ctx, threadID, info, q, reason, msg, policy, d.notifierOrDefault())
}

// markSiblings sets every known thread's state except threadID, used to
// make suspend_policy=ALL visible to a client listing threads during a
// stop: the owning thread's own state is managed by suspend.Suspend.
func (d *Debugger) markSiblings(threadID string, state frame.State) {
	for _, id := range d.Registry.Threads() {
		if id == threadID {
			continue
		}
		d.Registry.InfoFor(id).State.Store(state)
	}
}

// resumeSiblingsIfConfigured wakes every other suspended thread's queue
// when SetSteppingResumesAllThreads is enabled, so a step/continue command
// issued against one thread releases the whole process instead of just it.
func (d *Debugger) resumeSiblingsIfConfigured(threadID string, reason suspend.ResumeReason) {
	d.mu.RLock()
	all := d.steppingResumesAll
	d.mu.RUnlock()
	if !all {
		return
	}
	for _, id := range d.Registry.Threads() {
		if id == threadID {
			continue
		}
		if d.Registry.InfoFor(id).State.Load() == frame.StateSuspend {
			d.queueFor(id).Resume(reason)
		}
	}
}

// Log implements dispatch.Suspender: it reports a logpoint's rendered
// message without suspending the thread.
func (d *Debugger) Log(threadID string, msg string) {
	d.notifierOrDefault().NotifyOutput(threadID, msg)
}

// notifierOrDefault falls back to a no-op notifier before a transport
// layer has called SetNotifier (e.g. during early package tests).
var _ suspend.Notifier = (*nopNotifier)(nil)

type nopNotifier struct{}

func (nopNotifier) NotifyStopped(string, frame.SuspendReason, string, bool) {}
func (nopNotifier) NotifyResumed(string, bool)                             {}
func (nopNotifier) NotifyOutput(string, string)                            {}

func (d *Debugger) notifierOrDefault() suspend.Notifier {
	d.mu.RLock()
	n := d.notifierVal
	d.mu.RUnlock()
	if n == nil {
		return nopNotifier{}
	}
	return n
}

// SetNotifier wires the transport-level stop/resume notification sink.
func (d *Debugger) SetNotifier(n suspend.Notifier) {
	d.mu.Lock()
	d.notifierVal = n
	d.mu.Unlock()
}

// --- breakpoint operations -------------------------------------------------

func (d *Debugger) AddBreakpoint(bp *breakpoint.Line) breakpoint.AddStatus {
	return d.Store.Add(bp, d.checker)
}

func (d *Debugger) RemoveBreakpoint(file string, id int) bool {
	return d.Store.Remove(file, id)
}

func (d *Debugger) RemoveAllBreakpoints(file string) {
	d.Store.RemoveAll(file)
}

func (d *Debugger) AddExceptionBreakpoint(e *breakpoint.Exception) {
	d.Store.AddException(e)
}

func (d *Debugger) RemoveExceptionBreakpoint(qualifiedName string) {
	d.Store.RemoveException(qualifiedName)
}

func (d *Debugger) RemoveAllExceptionBreakpoints() {
	d.Store.RemoveAllExceptions()
}

// --- filter / project configuration ----------------------------------------

func (d *Debugger) SetProjectRoots(roots []string)           { d.Filters.SetProjectRoots(roots) }
func (d *Debugger) SetExcludeFilters(f []filter.ExcludeFilter) { d.Filters.SetExcludeFilters(f) }
func (d *Debugger) SetUseLibrariesFilter(v bool)              { d.Filters.SetUseLibrariesFilter(v) }

// --- process-wide flags ------------------------------------------------------

func (d *Debugger) SetShowReturnValues(show bool) {
	d.mu.Lock()
	d.showReturnValues = show
	d.mu.Unlock()
}

func (d *Debugger) ShowReturnValues() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.showReturnValues
}

func (d *Debugger) SetSteppingResumesAllThreads(v bool) {
	d.mu.Lock()
	d.steppingResumesAll = v
	d.mu.Unlock()
}

func (d *Debugger) SetIgnoreSystemExitCodes(codes []int) {
	d.Store.SetIgnoreSystemExitCodes(codes)
}

func (d *Debugger) SetProtocol(proto string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.protocol == proto {
		return
	}
	d.protocol = proto
}

// --- stepping ----------------------------------------------------------------

// RequestStep posts the given step command for threadID and resumes it.
// Pseudo-thread ids of the form "__frame__:..." denote lightweight
// coroutine frames that have no dedicated thread to single-step; these
// are rejected to the error channel and never resumed.
func (d *Debugger) RequestStep(threadID string, cmd step.Cmd, stopFrame frame.Handle) error {
	if strings.HasPrefix(threadID, "__frame__:") {
		d.SendErrorMessage("cannot step a tasklet frame: " + threadID)
		return errors.Errorf("api: cannot step tasklet frame %q", threadID)
	}
	info := d.Registry.InfoFor(threadID)
	info.StepStopFrame = stopFrame
	step.Store(info, cmd)
	d.queueFor(threadID).Resume(suspend.ResumeStep)
	d.resumeSiblingsIfConfigured(threadID, suspend.ResumeStep)
	return nil
}

func (d *Debugger) RequestContinue(threadID string) {
	step.Store(d.Registry.InfoFor(threadID), step.None)
	d.queueFor(threadID).Resume(suspend.ResumeContinue)
	d.resumeSiblingsIfConfigured(threadID, suspend.ResumeContinue)
}

func (d *Debugger) RequestSetNext(threadID string, line int, funcName string) error {
	if strings.HasPrefix(threadID, "__frame__:") {
		d.SendErrorMessage("cannot set next statement on a tasklet frame: " + threadID)
		return errors.Errorf("api: cannot set next statement on tasklet frame %q", threadID)
	}
	// Posted as an internal command so it runs on the suspended thread's
	// own goroutine.
	d.queueFor(threadID).Post(func(ctx context.Context) {
		logrus.WithField("thread", threadID).Debugf("set next statement: line=%d func=%s", line, funcName)
	})
	return nil
}

// --- console / completion / source -----------------------------------------

// evalOutcome is what a posted eval/completion internal command hands back
// through d.results; exactly one of Completions/Result is meaningful,
// selected by the request that posted the command.
type evalOutcome struct {
	Completions []string
	Result      string
	Err         error
}

// postEval posts run as an internal command on threadID's suspend queue, so
// it executes on that thread's own goroutine during its next suspend loop
// cycle instead of racing the calling goroutine against a host runtime that
// is not safe for concurrent use, then blocks on ctx until the command
// posts its outcome.
func (d *Debugger) postEval(ctx context.Context, threadID string, run func(ctx context.Context) evalOutcome) (evalOutcome, error) {
	key := strconv.FormatInt(d.reqSeq.Add(1), 10)
	d.queueFor(threadID).Post(func(ctx context.Context) {
		d.results.Set(key, run(ctx))
	})
	res, err := d.results.Get(ctx, key)
	if err != nil {
		return evalOutcome{}, err
	}
	out, _ := res[key].(evalOutcome)
	return out, nil
}

func (d *Debugger) RequestCompletions(ctx context.Context, threadID string, f frame.Frame, token string) ([]string, error) {
	if d.Eval == nil {
		return nil, errors.New("api: no evaluator configured")
	}
	out, err := d.postEval(ctx, threadID, func(ctx context.Context) evalOutcome {
		completions, err := d.Eval.Complete(ctx, f, token)
		return evalOutcome{Completions: completions, Err: err}
	})
	if err != nil {
		return nil, err
	}
	return out.Completions, out.Err
}

// RequestEval evaluates expr against f on threadID's own goroutine,
// covering both the DAP "watch"/"hover" context (isExec false, a read-only
// inspection) and the REPL "exec" context (isExec true, statements allowed
// to have side effects).
func (d *Debugger) RequestEval(ctx context.Context, threadID string, f frame.Frame, expr string, isExec bool) (string, error) {
	if d.Eval == nil {
		return "", errors.New("api: no evaluator configured")
	}
	out, err := d.postEval(ctx, threadID, func(ctx context.Context) evalOutcome {
		result, err := d.Eval.Eval(ctx, f, expr, isExec)
		return evalOutcome{Result: result, Err: err}
	})
	if err != nil {
		return "", err
	}
	return out.Result, out.Err
}

func (d *Debugger) RequestConsoleExec(ctx context.Context, threadID string, f frame.Frame, expr string) (string, error) {
	return d.RequestEval(ctx, threadID, f, expr, true)
}

func (d *Debugger) RequestLoadSource(ctx context.Context, file string) (string, error) {
	reader, ok := d.Eval.(evalhost.SourceReader)
	if !ok {
		return "", errors.New("api: evaluator does not support source loading")
	}
	return reader.ReadSource(ctx, file)
}

// --- lifecycle ---------------------------------------------------------------

func (d *Debugger) NotifyConfigurationDone() {
	logrus.Debug("api: configuration done")
}

func (d *Debugger) NotifyDisconnect() {
	for _, id := range d.Registry.Threads() {
		d.queueFor(id).Resume(suspend.ResumeDisconnect)
	}
	d.Disp.Finish()
}

// SendErrorMessage always writes to the debugger's own error channel,
// never to the debuggee's stdout.
func (d *Debugger) SendErrorMessage(msg string) {
	if d.errw != nil {
		io.WriteString(d.errw, msg+"\n")
	}
	logrus.WithField("channel", "error").Warn(msg)
}
