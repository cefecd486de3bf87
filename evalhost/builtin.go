package evalhost

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tracewire/dbgcore/frame"
)

// Builtin is a hermetic Evaluator used by package tests and as a fallback
// when no hostbridge is attached. It understands bare variable lookups and
// a small set of literal comparisons (==, !=) against frame locals; it
// does not attempt to be a general expression language, that job belongs
// to a real host runtime bridge.
type Builtin struct{}

func NewBuiltin() *Builtin { return &Builtin{} }

func (b *Builtin) EvalCondition(_ context.Context, f frame.Frame, expr string) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	if lhs, rhs, ok := strings.Cut(expr, "=="); ok {
		return b.compare(f, lhs, rhs, true)
	}
	if lhs, rhs, ok := strings.Cut(expr, "!="); ok {
		return b.compare(f, lhs, rhs, false)
	}
	v, ok := b.lookup(f, expr)
	if !ok {
		return false, errors.Errorf("evalhost: undefined %q", expr)
	}
	return truthy(v), nil
}

func (b *Builtin) compare(f frame.Frame, lhs, rhs string, wantEqual bool) (bool, error) {
	lv, lok := b.lookup(f, strings.TrimSpace(lhs))
	if !lok {
		return false, errors.Errorf("evalhost: undefined %q", lhs)
	}
	rhs = strings.TrimSpace(rhs)
	rv, rok := b.lookup(f, rhs)
	if !rok {
		rv = literal(rhs)
	}
	eq := fmt.Sprint(lv) == fmt.Sprint(rv)
	return eq == wantEqual, nil
}

func (b *Builtin) EvalLog(_ context.Context, f frame.Frame, expr string) (string, error) {
	v, ok := b.lookup(f, strings.TrimSpace(expr))
	if !ok {
		return expr, nil
	}
	return fmt.Sprint(v), nil
}

func (b *Builtin) EvalHitCondition(_ context.Context, expr string, hitCount int64) (bool, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(expr), 10, 64)
	if err != nil {
		return false, errors.Wrapf(err, "evalhost: hit condition %q", expr)
	}
	return hitCount >= n, nil
}

func (b *Builtin) Eval(_ context.Context, f frame.Frame, expr string, _ bool) (string, error) {
	v, ok := b.lookup(f, strings.TrimSpace(expr))
	if !ok {
		return "", errors.Errorf("evalhost: undefined %q", expr)
	}
	return fmt.Sprint(v), nil
}

func (b *Builtin) Describe(ctx context.Context, f frame.Frame, expr string) (string, error) {
	return b.Eval(ctx, f, expr, false)
}

func (b *Builtin) Complete(_ context.Context, f frame.Frame, prefix string) ([]string, error) {
	var out []string
	for _, name := range f.Locals().Names() {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (b *Builtin) lookup(f frame.Frame, name string) (any, bool) {
	if v, ok := f.Locals().Get(name); ok {
		return v, true
	}
	return f.Globals().Get(name)
}

func literal(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if fv, err := strconv.ParseFloat(s, 64); err == nil {
		return fv
	}
	return strings.Trim(s, `"'`)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}
