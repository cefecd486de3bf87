package breakpoint

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// HitOp is one of the three comparison forms a HitCondition string can
// take, grounded on the DBGp hit-condition operators (>=, ==, %).
type HitOp int

const (
	HitOpNone HitOp = iota
	HitOpGE
	HitOpEQ
	HitOpMod
)

// ParsedHitCondition is a parsed form of Line.HitCondition, or a free-form
// expression to be handed to an evalhost.Evaluator when it does not match
// one of the three built-in operators.
type ParsedHitCondition struct {
	Op         HitOp
	N          int64
	Expression string // only set when Op == HitOpNone and expr is non-empty
}

// ParseHitCondition parses a breakpoint hit condition: a bare number
// defaults to >=, a leading operator selects the comparison, and anything
// else is treated as a free-form boolean expression evaluated against the
// running hit count.
func ParseHitCondition(s string) (ParsedHitCondition, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ParsedHitCondition{}, nil
	}

	switch {
	case strings.HasPrefix(s, ">="):
		n, err := parseInt(s[2:])
		return ParsedHitCondition{Op: HitOpGE, N: n}, err
	case strings.HasPrefix(s, "=="):
		n, err := parseInt(s[2:])
		return ParsedHitCondition{Op: HitOpEQ, N: n}, err
	case strings.HasPrefix(s, "%"):
		n, err := parseInt(s[1:])
		return ParsedHitCondition{Op: HitOpMod, N: n}, err
	}

	if n, err := parseInt(s); err == nil {
		return ParsedHitCondition{Op: HitOpGE, N: n}, nil
	}
	return ParsedHitCondition{Expression: s}, nil
}

func parseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "breakpoint: invalid hit condition operand %q", s)
	}
	return n, nil
}

// Satisfied evaluates the built-in operator forms against hitCount. It
// returns false, false when Op == HitOpNone (free-form expression: the
// caller must fall back to an evalhost.Evaluator).
func (p ParsedHitCondition) Satisfied(hitCount int64) (stop bool, handled bool) {
	switch p.Op {
	case HitOpGE:
		return hitCount >= p.N, true
	case HitOpEQ:
		return hitCount == p.N, true
	case HitOpMod:
		if p.N == 0 {
			return false, true
		}
		return hitCount%p.N == 0, true
	default:
		return false, false
	}
}
