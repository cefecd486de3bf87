// Package goja attaches the dispatcher to a real github.com/dop251/goja
// JavaScript runtime. Upstream goja exposes no line-event hook, only
// Runtime.CaptureCallStack for frame identity, so this bridge instruments
// source text with calls into a registered trace function instead: the
// "cooperative instrumentation" technique an embedder reaches for whenever
// the host interpreter offers no native tracing hook.
package goja

import (
	"bufio"
	"context"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/pkg/errors"

	"github.com/tracewire/dbgcore/frame"
)

// DispatchFunc is the shape dispatch.Dispatcher.Dispatch exposes; the
// bridge depends on this function type rather than the dispatch package
// directly so it can be unit tested without a full Dispatcher.
type DispatchFunc func(ctx context.Context, threadID string, f frame.Frame, ev frame.Kind, arg any) frame.Tracer

// Bridge wires one goja.Runtime's instrumented scripts to a dispatcher.
type Bridge struct {
	rt       *goja.Runtime
	dispatch DispatchFunc
	registry *frame.Registry
	threadID string

	mu    sync.Mutex
	stack []*goFrame
}

// New creates a Bridge over rt. threadID identifies the single goja
// goroutine to the rest of the debugger core (goja runtimes are not safe
// for concurrent use, so one bridge models exactly one thread).
func New(rt *goja.Runtime, registry *frame.Registry, threadID string, dispatch DispatchFunc) *Bridge {
	b := &Bridge{rt: rt, dispatch: dispatch, registry: registry, threadID: threadID}
	rt.Set("__dbg_line__", b.onLine)
	rt.Set("__dbg_call__", b.onCall)
	rt.Set("__dbg_return__", b.onReturn)
	return b
}

// Compile instruments src with trace calls at each executable line and
// compiles the result. The instrumentation is line-based rather than a
// full AST rewrite: it is sufficient for statement-per-line scripts,
// trading per-expression granularity for one event per source line.
func (b *Bridge) Compile(filename, src string) (*goja.Program, error) {
	instrumented := instrument(filename, src)
	prog, err := goja.Compile(filename, instrumented, false)
	if err != nil {
		return nil, errors.Wrapf(err, "hostbridge/goja: compile %s", filename)
	}
	return prog, nil
}

func instrument(filename, src string) string {
	var out strings.Builder
	out.WriteString("__dbg_call__(\"" + filename + "\");\n")
	scanner := bufio.NewScanner(strings.NewReader(src))
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		trimmed := strings.TrimSpace(text)
		if trimmed != "" && !strings.HasSuffix(trimmed, "{") && !strings.HasSuffix(trimmed, "}") {
			out.WriteString("__dbg_line__(")
			out.WriteString(itoa(line))
			out.WriteString(");\n")
		}
		out.WriteString(text)
		out.WriteString("\n")
	}
	out.WriteString("__dbg_return__();\n")
	return out.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (b *Bridge) onCall(filename string) {
	b.mu.Lock()
	f := &goFrame{bridge: b, file: filename, handle: b.registry.NextHandle()}
	if len(b.stack) > 0 {
		f.parent = b.stack[len(b.stack)-1]
	}
	b.stack = append(b.stack, f)
	b.mu.Unlock()

	b.dispatch(context.Background(), b.threadID, f, frame.KindCall, nil)
}

func (b *Bridge) onLine(line int) {
	b.mu.Lock()
	var f *goFrame
	if len(b.stack) > 0 {
		f = b.stack[len(b.stack)-1]
		f.line = line
	}
	b.mu.Unlock()
	if f == nil {
		return
	}
	b.dispatch(context.Background(), b.threadID, f, frame.KindLine, nil)
}

func (b *Bridge) onReturn() {
	b.mu.Lock()
	var f *goFrame
	if n := len(b.stack); n > 0 {
		f = b.stack[n-1]
		b.stack = b.stack[:n-1]
	}
	b.mu.Unlock()
	if f == nil {
		return
	}
	b.dispatch(context.Background(), b.threadID, f, frame.KindReturn, nil)
}

// goFrame is the hostbridge's frame.Frame implementation over goja.
type goFrame struct {
	bridge *Bridge
	handle frame.Handle
	file   string
	line   int
	parent *goFrame
}

func (f *goFrame) Handle() frame.Handle   { return f.handle }
func (f *goFrame) File() string           { return f.file }
func (f *goFrame) Line() int              { return f.line }
func (f *goFrame) FirstLine() int         { return 1 }
func (f *goFrame) FunctionName() string   { return "<module>" }
func (f *goFrame) IsGenerator() bool      { return false }

func (f *goFrame) Parent() (frame.Frame, bool) {
	if f.parent == nil {
		return nil, false
	}
	return f.parent, true
}

func (f *goFrame) Locals() frame.VarView  { return emptyVars{} }
func (f *goFrame) Globals() frame.VarView { return globalVars{rt: f.bridge.rt} }

// emptyVars is returned for Locals until real scope introspection is
// wired; goja's public API exposes the global object but not per-frame
// lexical scopes, so locals are not yet observable through this bridge.
type emptyVars struct{}

func (emptyVars) Get(string) (any, bool) { return nil, false }
func (emptyVars) Set(string, any)        {}
func (emptyVars) Names() []string        { return nil }

type globalVars struct{ rt *goja.Runtime }

func (g globalVars) Get(name string) (any, bool) {
	v := g.rt.GlobalObject().Get(name)
	if v == nil {
		return nil, false
	}
	return v.Export(), true
}

func (g globalVars) Set(name string, v any) {
	g.rt.GlobalObject().Set(name, v)
}

func (g globalVars) Names() []string {
	return g.rt.GlobalObject().Keys()
}
