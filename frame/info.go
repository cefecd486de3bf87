package frame

import "sync/atomic"

// State is the run/suspend state of a thread.
type State int32

const (
	StateRun State = iota
	StateSuspend
)

// SuspendReason records why a thread last suspended.
type SuspendReason int32

const (
	SuspendReasonNone SuspendReason = iota
	SuspendReasonBreakpoint
	SuspendReasonStep
	SuspendReasonException
	SuspendReasonUser
)

// Info is the per-thread debug state shared between the dispatcher
// goroutine (which owns most reads) and the api.Debugger goroutine (which
// performs the writes that steer stepping and suspension). Every field the
// API goroutine writes and the dispatcher goroutine reads without a lock is
// a single-word atomic; everything else belongs exclusively to the
// dispatcher goroutine for that thread.
type Info struct {
	State State32
	// StepCmd is interpreted by package step; frame does not know the
	// enum so the two packages don't import each other.
	StepCmd            Int32
	OriginalStepCmd     int32
	StepStopFrame       Handle
	SmartStepStopFrame  Handle
	SmartStepFuncName   string
	SuspendReasonField  SuspendReason32
	SuspendMessage      string

	// IsTracing is the dispatcher's re-entrancy guard. Owned exclusively
	// by the dispatcher goroutine for this thread; never touched by the
	// API goroutine.
	IsTracing bool

	// CurrentFrame is the innermost frame the thread is stopped at. It is
	// written by the dispatcher goroutine immediately before a suspend
	// decision and is only read by other goroutines while that same
	// dispatcher goroutine is blocked inside suspend loop, so the
	// suspend.Queue channel handoff that wakes it back up is what makes
	// this field's prior write visible; it is not safe to read while the
	// thread is running.
	CurrentFrame Frame

	// Shadow holds synthesized variables (e.g. __exception__) attached by
	// the exception engine for the duration of a stop.
	Shadow map[string]any
}

func newInfo() *Info {
	return &Info{Shadow: make(map[string]any)}
}

// State32 is a small atomic wrapper so call sites read State, not int32.
type State32 struct{ v atomic.Int32 }

func (s *State32) Load() State      { return State(s.v.Load()) }
func (s *State32) Store(v State)    { s.v.Store(int32(v)) }
func (s *State32) CAS(old, new State) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}

// Int32 is a small atomic wrapper used for the step command, which is
// owned by package step's enum.
type Int32 struct{ v atomic.Int32 }

func (s *Int32) Load() int32   { return s.v.Load() }
func (s *Int32) Store(v int32) { s.v.Store(v) }

// SuspendReason32 mirrors Int32 but typed to SuspendReason for readability
// at call sites.
type SuspendReason32 struct{ v atomic.Int32 }

func (s *SuspendReason32) Load() SuspendReason   { return SuspendReason(s.v.Load()) }
func (s *SuspendReason32) Store(v SuspendReason) { s.v.Store(int32(v)) }
