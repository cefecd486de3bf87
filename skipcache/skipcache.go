// Package skipcache memoizes "can this frame/line possibly stop" decisions
// within a single thread's dispatcher goroutine. A Cache is owned by one
// thread, never shared across threads, and requires no locking.
package skipcache

import "github.com/tracewire/dbgcore/frame"

// Verdict is the memoized outcome for a frame or line.
type Verdict int8

const (
	Unknown Verdict = iota
	CanSkip
	CannotSkip
	CannotSkipNoBreakpoints // frame has no breakpoints at all, stronger than CanSkip
)

type frameKey struct {
	h    frame.Handle
	file string
}

type lineKey struct {
	frameKey
	line int
}

// Cache holds the per-frame and per-line memoization tables for one
// thread, plus the breakpoint-store epoch it was last validated against.
type Cache struct {
	epoch int64

	frames map[frameKey]Verdict
	lines  map[lineKey]Verdict
}

func New() *Cache {
	return &Cache{
		frames: make(map[frameKey]Verdict),
		lines:  make(map[lineKey]Verdict),
	}
}

// Validate invalidates the cache if currentEpoch has advanced past the
// epoch the cache was built against (breakpoints changed since).
func (c *Cache) Validate(currentEpoch int64) {
	if currentEpoch == c.epoch {
		return
	}
	c.epoch = currentEpoch
	clear(c.frames)
	clear(c.lines)
}

func (c *Cache) Frame(f frame.Frame) Verdict {
	return c.frames[frameKey{f.Handle(), f.File()}]
}

func (c *Cache) SetFrame(f frame.Frame, v Verdict) {
	c.frames[frameKey{f.Handle(), f.File()}] = v
}

func (c *Cache) Line(f frame.Frame, line int) Verdict {
	return c.lines[lineKey{frameKey{f.Handle(), f.File()}, line}]
}

func (c *Cache) SetLine(f frame.Frame, line int, v Verdict) {
	c.lines[lineKey{frameKey{f.Handle(), f.File()}, line}] = v
}

// ForgetFrame drops all memoized entries for a retired frame handle, called
// when dispatch observes a KindReturn event.
func (c *Cache) ForgetFrame(h frame.Handle) {
	for k := range c.frames {
		if k.h == h {
			delete(c.frames, k)
		}
	}
	for k := range c.lines {
		if k.h == h {
			delete(c.lines, k)
		}
	}
}
