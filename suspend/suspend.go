// Package suspend implements the suspension protocol: the blocking loop a
// thread enters on a stop decision, and the per-thread FIFO of internal
// commands the api.Debugger goroutine posts to steer it.
package suspend

import (
	"context"
	"sync"

	"github.com/tracewire/dbgcore/frame"
)

// ResumeReason is why Suspend returned.
type ResumeReason int

const (
	ResumeContinue ResumeReason = iota
	ResumeStep
	ResumeDisconnect
)

// SuspendPolicy mirrors breakpoint.SuspendPolicy without importing that
// package (suspend sits below breakpoint in the dependency graph).
type SuspendPolicy string

const (
	PolicyNone SuspendPolicy = "NONE"
	PolicyAll  SuspendPolicy = "ALL"
)

// Notifier is how Suspend reports a stop/resume/log message to the
// outside world (the dap.Adapter), without suspend importing the wire
// protocol.
type Notifier interface {
	NotifyStopped(threadID string, reason frame.SuspendReason, msg string, allThreads bool)
	NotifyResumed(threadID string, allThreads bool)
	NotifyOutput(threadID string, msg string)
}

// InternalCommand is a unit of work posted by api.Debugger and run on the
// suspended thread's own goroutine inside its suspend loop, in FIFO order,
// during that thread's next suspend cycle.
type InternalCommand func(ctx context.Context)

// Queue is a single thread's FIFO of pending internal commands plus the
// resume signal suspend loop blocks on.
type Queue struct {
	mu      sync.Mutex
	pending []InternalCommand
	wake    chan struct{}
	resume  chan ResumeReason
}

func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1), resume: make(chan ResumeReason, 1)}
}

// Post appends an internal command, waking up a blocked suspend loop if
// one is waiting. Commands are never run on the poster's goroutine.
func (q *Queue) Post(cmd InternalCommand) {
	q.mu.Lock()
	q.pending = append(q.pending, cmd)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Resume wakes a blocked suspend loop with a resume decision, draining it
// out of the suspend loop entirely.
func (q *Queue) Resume(reason ResumeReason) {
	select {
	case q.resume <- reason:
	default:
	}
}

func (q *Queue) drain() []InternalCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmds := q.pending
	q.pending = nil
	return cmds
}

// Policy carries the policy knobs api.Debugger configures globally.
type Policy struct {
	SteppingResumesAllThreads bool
}

// Suspend implements the suspension protocol: record suspend state and
// reason, notify, enter suspend loop, drain internal commands FIFO until a
// resume signal arrives, then clear suspend state and notify resume.
func Suspend(ctx context.Context, threadID string, info *frame.Info, q *Queue, reason frame.SuspendReason, msg string, policy SuspendPolicy, notify Notifier) ResumeReason {
	allThreads := policy == PolicyAll

	info.State.Store(frame.StateSuspend)
	info.SuspendReasonField.Store(reason)
	info.SuspendMessage = msg
	if notify != nil {
		notify.NotifyStopped(threadID, reason, msg, allThreads)
	}

	var resumeReason ResumeReason
wait:
	for {
		select {
		case <-ctx.Done():
			resumeReason = ResumeDisconnect
			break wait
		case r := <-q.resume:
			resumeReason = r
			break wait
		case <-q.wake:
			for _, cmd := range q.drain() {
				cmd(ctx)
			}
			// an internal command may itself have posted a resume; check
			// without blocking before looping back to wait again.
			select {
			case r := <-q.resume:
				resumeReason = r
				break wait
			default:
			}
		}
	}

	info.State.Store(frame.StateRun)
	info.SuspendReasonField.Store(frame.SuspendReasonNone)
	info.SuspendMessage = ""
	delete(info.Shadow, "__exception__")
	if notify != nil {
		notify.NotifyResumed(threadID, allThreads)
	}
	return resumeReason
}
