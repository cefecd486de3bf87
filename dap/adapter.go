// Package dap implements the Debug Adapter Protocol transport for the
// debugger core: request dispatch over a Server/Handler/Conn, a thread
// registry, an id pool, and breakpoint/source maps, all wired onto
// api.Debugger.
package dap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tracewire/dbgcore/api"
	"github.com/tracewire/dbgcore/breakpoint"
	"github.com/tracewire/dbgcore/frame"
)

// LaunchConfig is the JSON body of a launch request.
type LaunchConfig struct {
	Program      string   `json:"program"`
	ProjectRoots []string `json:"projectRoots"`
	StopOnEntry  bool     `json:"stopOnEntry"`
	ShowReturn   bool     `json:"showReturnValues"`
}

// Adapter bridges the wire protocol to api.Debugger: it owns the DAP
// integer thread-id <-> core string-thread-id mapping, the
// breakpoint/source maps, and forwards every DAP request to the
// corresponding Debugger operation.
type Adapter struct {
	srv *Server
	eg  *errgroup.Group
	dbg *api.Debugger

	initialized   chan struct{}
	launched      chan launchResult
	configuration chan struct{}

	threadsMu sync.RWMutex
	threads   map[int]*thread    // dap thread id -> thread
	byCoreID  map[string]*thread // core thread id -> thread
	nextID    int

	breakpointMap *breakpointMap
	sourceMap     *sourceMap
	idPool        *idPool
}

type launchResult struct {
	Config LaunchConfig
	Err    error
}

// NewAdapter wires a fresh Adapter around dbg.
func NewAdapter(dbg *api.Debugger) *Adapter {
	d := &Adapter{
		dbg:           dbg,
		initialized:   make(chan struct{}),
		launched:      make(chan launchResult, 1),
		configuration: make(chan struct{}),
		threads:       make(map[int]*thread),
		byCoreID:      make(map[string]*thread),
		nextID:        1,
		breakpointMap: newBreakpointMap(),
		sourceMap:     new(sourceMap),
		idPool:        new(idPool),
	}
	d.srv = NewServer(d.dapHandler())
	dbg.SetNotifier(d)
	return d
}

// Start serves conn until the client disconnects or ctx is canceled,
// returning once a Launch request has been fully processed.
func (d *Adapter) Start(ctx context.Context, conn Conn) (LaunchConfig, error) {
	d.eg, _ = errgroup.WithContext(ctx)
	d.eg.Go(func() error {
		return d.srv.Serve(ctx, conn)
	})

	<-d.initialized

	res, ok := <-d.launched
	if !ok {
		res.Err = context.Canceled
	}
	return res.Config, res.Err
}

// WaitConfigured blocks until the client has sent ConfigurationDone (so
// its initial SetBreakpoints/SetExceptionBreakpoints requests have
// landed in the breakpoint store), or ctx is canceled first. A caller
// that starts running the debuggee before this returns risks racing
// past breakpoints the client meant to have armed from the start.
func (d *Adapter) WaitConfigured(ctx context.Context) error {
	select {
	case <-d.configuration:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Adapter) Stop() error {
	if d.eg == nil {
		return nil
	}
	d.srv.Go(func(c Context) {
		c.C() <- &dap.TerminatedEvent{Event: dap.Event{Event: "terminated"}}
	})
	d.srv.Stop()
	err := d.eg.Wait()
	d.eg = nil
	return err
}

func (d *Adapter) Initialize(c Context, req *dap.InitializeRequest, resp *dap.InitializeResponse) error {
	close(d.initialized)
	resp.Body.SupportsConfigurationDoneRequest = true
	resp.Body.SupportsConditionalBreakpoints = true
	resp.Body.SupportsHitConditionalBreakpoints = true
	resp.Body.SupportsLogPoints = true
	resp.Body.SupportsSetExpression = false
	resp.Body.SupportsCompletionsRequest = true
	resp.Body.SupportsExceptionOptions = true
	resp.Body.SupportsLoadedSourcesRequest = true
	return nil
}

func (d *Adapter) Launch(c Context, req *dap.LaunchRequest, resp *dap.LaunchResponse) error {
	defer close(d.launched)

	var cfg LaunchConfig
	if err := json.Unmarshal(req.Arguments, &cfg); err != nil {
		d.launched <- launchResult{Err: err}
		return err
	}

	d.dbg.SetProjectRoots(cfg.ProjectRoots)
	d.dbg.SetShowReturnValues(cfg.ShowReturn)
	// cfg.StopOnEntry is armed by the caller once it registers the
	// hostbridge's first thread, after Start returns this config.

	c.Go(func(c Context) {
		c.C() <- &dap.InitializedEvent{Event: dap.Event{Event: "initialized"}}
		select {
		case <-c.Done():
			return
		case <-d.configuration:
		}
	})

	d.launched <- launchResult{Config: cfg}
	return nil
}

func (d *Adapter) ConfigurationDone(c Context, req *dap.ConfigurationDoneRequest, resp *dap.ConfigurationDoneResponse) error {
	d.dbg.NotifyConfigurationDone()
	select {
	case d.configuration <- struct{}{}:
	default:
	}
	close(d.configuration)
	return nil
}

func (d *Adapter) Disconnect(c Context, req *dap.DisconnectRequest, resp *dap.DisconnectResponse) error {
	d.dbg.NotifyDisconnect()
	return nil
}

// RegisterThread registers a new core thread id with the adapter, emitting
// a DAP "started" ThreadEvent, and returns the thin dap-facing thread.
func (d *Adapter) RegisterThread(c Context, coreID, name string) *thread {
	d.threadsMu.Lock()
	id := d.nextID
	d.nextID++
	t := &thread{id: id, coreID: coreID, name: name, dbg: d.dbg, adapter: d, variables: newVariableReferences()}
	d.threads[id] = t
	d.byCoreID[coreID] = t
	d.threadsMu.Unlock()

	c.C() <- &dap.ThreadEvent{
		Event: dap.Event{Event: "thread"},
		Body:  dap.ThreadEventBody{Reason: "started", ThreadId: id},
	}
	return t
}

// RegisterMainThread schedules RegisterThread on the server's own
// goroutine pool, for callers (cmd/dbgd) that attach a hostbridge thread
// before any DAP request has given them a Context of their own.
func (d *Adapter) RegisterMainThread(coreID, name string) {
	d.srv.Go(func(c Context) {
		d.RegisterThread(c, coreID, name)
	})
}

func (d *Adapter) UnregisterThread(c Context, coreID string) {
	d.threadsMu.Lock()
	t, ok := d.byCoreID[coreID]
	if ok {
		delete(d.threads, t.id)
		delete(d.byCoreID, coreID)
		t.variables.Reset()
	}
	d.threadsMu.Unlock()
	if !ok {
		return
	}
	c.C() <- &dap.ThreadEvent{
		Event: dap.Event{Event: "thread"},
		Body:  dap.ThreadEventBody{Reason: "exited", ThreadId: t.id},
	}
}

func (d *Adapter) threadByDAPID(id int) *thread {
	d.threadsMu.RLock()
	defer d.threadsMu.RUnlock()
	return d.threads[id]
}

func (d *Adapter) threadByCoreID(id string) *thread {
	d.threadsMu.RLock()
	defer d.threadsMu.RUnlock()
	return d.byCoreID[id]
}

func (d *Adapter) threadByFrameID(frameID int) *thread {
	tid := frameID >> 24
	return d.threadByDAPID(tid)
}

// --- suspend.Notifier --------------------------------------------------------

func (d *Adapter) NotifyStopped(coreID string, reason frame.SuspendReason, msg string, allThreads bool) {
	t := d.threadByCoreID(coreID)
	if t == nil {
		return
	}
	d.srv.Go(func(c Context) {
		c.C() <- &dap.StoppedEvent{
			Event: dap.Event{Event: "stopped"},
			Body: dap.StoppedEventBody{
				Reason:            stopReasonString(reason),
				Description:       msg,
				ThreadId:          t.id,
				AllThreadsStopped: allThreads,
			},
		}
	})
}

func (d *Adapter) NotifyResumed(coreID string, allThreads bool) {
	t := d.threadByCoreID(coreID)
	if t == nil {
		return
	}
	d.srv.Go(func(c Context) {
		c.C() <- &dap.ContinuedEvent{
			Event: dap.Event{Event: "continued"},
			Body:  dap.ContinuedEventBody{ThreadId: t.id, AllThreadsContinued: allThreads},
		}
	})
}

// NotifyOutput emits a logpoint's rendered message as console output,
// without any accompanying stop/continue.
func (d *Adapter) NotifyOutput(coreID string, msg string) {
	d.srv.Go(func(c Context) {
		c.C() <- &dap.OutputEvent{
			Event: dap.Event{Event: "output"},
			Body:  dap.OutputEventBody{Category: "console", Output: msg + "\n"},
		}
	})
}

func stopReasonString(r frame.SuspendReason) string {
	switch r {
	case frame.SuspendReasonBreakpoint:
		return "breakpoint"
	case frame.SuspendReasonStep:
		return "step"
	case frame.SuspendReasonException:
		return "exception"
	default:
		return "pause"
	}
}

// --- request handlers that delegate straight to a thread -------------------

func (d *Adapter) Continue(c Context, req *dap.ContinueRequest, resp *dap.ContinueResponse) error {
	t := d.threadByDAPID(req.Arguments.ThreadId)
	if t == nil {
		return errors.Errorf("dap: no such thread: %d", req.Arguments.ThreadId)
	}
	t.Continue()
	return nil
}

func (d *Adapter) Next(c Context, req *dap.NextRequest, resp *dap.NextResponse) error {
	t := d.threadByDAPID(req.Arguments.ThreadId)
	if t == nil {
		return errors.Errorf("dap: no such thread: %d", req.Arguments.ThreadId)
	}
	return t.Next()
}

func (d *Adapter) StepIn(c Context, req *dap.StepInRequest, resp *dap.StepInResponse) error {
	t := d.threadByDAPID(req.Arguments.ThreadId)
	if t == nil {
		return errors.Errorf("dap: no such thread: %d", req.Arguments.ThreadId)
	}
	return t.StepIn()
}

func (d *Adapter) StepOut(c Context, req *dap.StepOutRequest, resp *dap.StepOutResponse) error {
	t := d.threadByDAPID(req.Arguments.ThreadId)
	if t == nil {
		return errors.Errorf("dap: no such thread: %d", req.Arguments.ThreadId)
	}
	return t.StepOut()
}

func (d *Adapter) Pause(c Context, req *dap.PauseRequest, resp *dap.PauseResponse) error {
	// No host interrupt hook is wired in, so a pause request always fails.
	return errors.New("dap: pause is not supported by the attached host bridge")
}

func (d *Adapter) Threads(c Context, req *dap.ThreadsRequest, resp *dap.ThreadsResponse) error {
	d.threadsMu.RLock()
	defer d.threadsMu.RUnlock()
	resp.Body.Threads = []dap.Thread{}
	for _, t := range d.threads {
		resp.Body.Threads = append(resp.Body.Threads, dap.Thread{Id: t.id, Name: t.name})
	}
	return nil
}

func (d *Adapter) StackTrace(c Context, req *dap.StackTraceRequest, resp *dap.StackTraceResponse) error {
	t := d.threadByDAPID(req.Arguments.ThreadId)
	if t == nil {
		return errors.Errorf("dap: no such thread: %d", req.Arguments.ThreadId)
	}
	resp.Body.StackFrames = t.StackTrace()
	return nil
}

func (d *Adapter) Scopes(c Context, req *dap.ScopesRequest, resp *dap.ScopesResponse) error {
	t := d.threadByFrameID(req.Arguments.FrameId)
	if t == nil {
		return errors.Errorf("dap: no such frame id: %d", req.Arguments.FrameId)
	}
	resp.Body.Scopes = t.Scopes(req.Arguments.FrameId)
	for i, s := range resp.Body.Scopes {
		resp.Body.Scopes[i].VariablesReference = (t.id << 24) | s.VariablesReference
	}
	return nil
}

func (d *Adapter) Variables(c Context, req *dap.VariablesRequest, resp *dap.VariablesResponse) error {
	tid := req.Arguments.VariablesReference >> 24
	t := d.threadByDAPID(tid)
	if t == nil {
		return errors.Errorf("dap: no such thread: %d", tid)
	}
	varRef := req.Arguments.VariablesReference & ((1 << 24) - 1)
	resp.Body.Variables = t.Variables(varRef)
	for i, v := range resp.Body.Variables {
		if v.VariablesReference > 0 {
			resp.Body.Variables[i].VariablesReference = (tid << 24) | v.VariablesReference
		}
	}
	return nil
}

func (d *Adapter) SetBreakpoints(c Context, req *dap.SetBreakpointsRequest, resp *dap.SetBreakpointsResponse) error {
	resp.Body.Breakpoints = d.breakpointMap.Set(d.dbg, req.Arguments.Source.Path, req.Arguments.Breakpoints)
	return nil
}

func (d *Adapter) SetExceptionBreakpoints(c Context, req *dap.SetExceptionBreakpointsRequest, resp *dap.SetExceptionBreakpointsResponse) error {
	d.dbg.RemoveAllExceptionBreakpoints()
	for _, filterID := range req.Arguments.Filters {
		d.dbg.AddExceptionBreakpoint(&breakpoint.Exception{
			QualifiedName:          "*",
			NotifyOnHandled:        filterID == "caught",
			NotifyOnUnhandled:      filterID == "uncaught",
			NotifyOnFirstRaiseOnly: true,
		})
	}
	for _, fo := range req.Arguments.ExceptionOptions {
		for _, p := range fo.Path {
			d.dbg.AddExceptionBreakpoint(&breakpoint.Exception{
				QualifiedName:      p.Names[len(p.Names)-1],
				NotifyOnHandled:    fo.BreakMode == "always" || fo.BreakMode == "userUnhandled",
				NotifyOnUnhandled:  fo.BreakMode == "unhandled" || fo.BreakMode == "always",
			})
		}
	}
	return nil
}

func (d *Adapter) Source(c Context, req *dap.SourceRequest, resp *dap.SourceResponse) error {
	dt, ok := d.sourceMap.Get(req.Arguments.Source.Path)
	if !ok {
		return errors.Errorf("dap: file not found: %s", req.Arguments.Source.Path)
	}
	resp.Body.Content = string(dt)
	return nil
}

// PutSource registers the contents of a loaded source file, emitting a
// LoadedSourceEvent the first time it is seen or when it changes.
func (d *Adapter) PutSource(c Context, fname string, dt []byte) {
	d.sourceMap.Put(c, fname, dt)
}

func (d *Adapter) Out() io.Writer { return &adapterWriter{d} }

type adapterWriter struct{ *Adapter }

func (w *adapterWriter) Write(p []byte) (int, error) {
	started := w.srv.Go(func(c Context) {
		<-w.initialized
		c.C() <- &dap.OutputEvent{
			Event: dap.Event{Event: "output"},
			Body:  dap.OutputEventBody{Category: "stdout", Output: string(p)},
		}
	})
	if !started {
		return 0, io.ErrClosedPipe
	}
	return len(p), nil
}

func (d *Adapter) dapHandler() Handler {
	return Handler{
		Initialize:              d.Initialize,
		Launch:                  d.Launch,
		Continue:                d.Continue,
		Next:                    d.Next,
		StepIn:                  d.StepIn,
		StepOut:                 d.StepOut,
		SetBreakpoints:          d.SetBreakpoints,
		SetExceptionBreakpoints: d.SetExceptionBreakpoints,
		ConfigurationDone:       d.ConfigurationDone,
		Disconnect:              d.Disconnect,
		Pause:                   d.Pause,
		Threads:                 d.Threads,
		StackTrace:              d.StackTrace,
		Scopes:                  d.Scopes,
		Variables:               d.Variables,
		Evaluate:                d.Evaluate,
		Source:                  d.Source,
	}
}

type idPool struct{ next atomic.Int64 }

func (p *idPool) Get() int64 { return p.next.Add(1) }

type sourceMap struct{ m sync.Map }

func (s *sourceMap) Put(c Context, fname string, dt []byte) {
	for {
		old, loaded := s.m.LoadOrStore(fname, dt)
		if !loaded {
			c.C() <- &dap.LoadedSourceEvent{
				Event: dap.Event{Event: "loadedSource"},
				Body: dap.LoadedSourceEventBody{
					Reason: "new",
					Source: dap.Source{Name: path.Base(fname), Path: fname},
				},
			}
			return
		}
		if bytes.Equal(old.([]byte), dt) {
			return
		}
		if s.m.CompareAndSwap(fname, old, dt) {
			c.C() <- &dap.LoadedSourceEvent{
				Event: dap.Event{Event: "loadedSource"},
				Body: dap.LoadedSourceEventBody{
					Reason: "changed",
					Source: dap.Source{Name: path.Base(fname), Path: fname},
				},
			}
			return
		}
	}
}

func (s *sourceMap) Get(fname string) ([]byte, bool) {
	v, ok := s.m.Load(fname)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// breakpointMap maps DAP SetBreakpoints requests onto api.Debugger's
// breakpoint store, keeping stable dap.Breakpoint ids across successive
// SetBreakpoints calls for the same file.
type breakpointMap struct {
	mu     sync.Mutex
	byPath map[string][]dap.Breakpoint
	coreID map[string]map[int]int // file -> line -> core breakpoint id
}

func newBreakpointMap() *breakpointMap {
	return &breakpointMap{
		byPath: make(map[string][]dap.Breakpoint),
		coreID: make(map[string]map[int]int),
	}
}

func (b *breakpointMap) Set(dbg *api.Debugger, fname string, sbps []dap.SourceBreakpoint) []dap.Breakpoint {
	b.mu.Lock()
	defer b.mu.Unlock()

	dbg.RemoveAllBreakpoints(fname)
	if b.coreID[fname] == nil {
		b.coreID[fname] = make(map[int]int)
	}

	out := make([]dap.Breakpoint, 0, len(sbps))
	for _, sbp := range sbps {
		bp := &breakpoint.Line{
			ID:            b.coreID[fname][sbp.Line],
			File:          fname,
			Line:          sbp.Line,
			FuncName:      "None",
			Condition:     sbp.Condition,
			HitCondition:  sbp.HitCondition,
			LogExpression: sbp.LogMessage,
			IsLogpoint:    sbp.LogMessage != "",
			SuspendPolicy: breakpoint.SuspendPolicyAll,
		}
		status := dbg.AddBreakpoint(bp)
		b.coreID[fname][sbp.Line] = bp.ID

		out = append(out, dap.Breakpoint{
			Id:       bp.ID,
			Verified: status == breakpoint.StatusOK,
			Line:     sbp.Line,
			Source:   &dap.Source{Path: fname},
			Message:  statusMessage(status),
		})
	}
	b.byPath[fname] = out
	return out
}

func statusMessage(s breakpoint.AddStatus) string {
	switch s {
	case breakpoint.StatusFileNotFound:
		return "file not found"
	case breakpoint.StatusFileExcluded:
		return "file excluded by filters"
	case breakpoint.StatusLineInvalid:
		return "invalid line"
	default:
		return ""
	}
}

