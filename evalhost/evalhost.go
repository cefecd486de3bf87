// Package evalhost defines the narrow interfaces the debugger core needs
// from an external expression/variable evaluator and source reader. The
// core (dispatch, step, except, api) depends only on these interfaces,
// never on a concrete host runtime; hostbridge/goja supplies one concrete
// implementation, builtin.go a hermetic one for tests.
package evalhost

import (
	"context"

	"github.com/tracewire/dbgcore/frame"
)

// Evaluator evaluates host-language expressions against a stopped frame:
// breakpoint conditions, log expressions, hit-condition expressions, and
// one-shot/console evaluate requests.
type Evaluator interface {
	EvalCondition(ctx context.Context, f frame.Frame, expr string) (bool, error)
	EvalLog(ctx context.Context, f frame.Frame, expr string) (string, error)
	EvalHitCondition(ctx context.Context, expr string, hitCount int64) (bool, error)
	Eval(ctx context.Context, f frame.Frame, expr string, isExec bool) (string, error)
	Describe(ctx context.Context, f frame.Frame, expr string) (string, error)
	Complete(ctx context.Context, f frame.Frame, expr string) ([]string, error)
}

// SourceReader loads a source file's text, used by api.Debugger's
// RequestLoadSource when a hostbridge exposes virtual (in-memory) sources
// instead of real files.
type SourceReader interface {
	ReadSource(ctx context.Context, file string) (string, error)
}
