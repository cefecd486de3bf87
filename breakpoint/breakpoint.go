// Package breakpoint implements the breakpoint store: line and exception
// breakpoints, consolidation into a fast per-line index, and a plugin
// registry for breakpoint kinds beyond plain lines.
package breakpoint

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SuspendPolicy selects whether hitting a breakpoint suspends only the
// owning thread or every known thread.
type SuspendPolicy string

const (
	SuspendPolicyNone SuspendPolicy = "NONE"
	SuspendPolicyAll  SuspendPolicy = "ALL"
)

// AddStatus is the outcome of Store.Add.
type AddStatus int

const (
	StatusOK AddStatus = iota
	StatusFileNotFound
	StatusFileExcluded
	StatusLineInvalid
)

// Line is a line breakpoint.
type Line struct {
	ID            int
	File          string
	Line          int
	FuncName      string
	Condition     string
	LogExpression string
	HitCondition  string
	SuspendPolicy SuspendPolicy
	IsLogpoint    bool

	HitCount Counter
}

// Exception is an exception breakpoint, keyed by qualified exception name.
type Exception struct {
	QualifiedName          string
	Condition              string
	LogExpression          string
	NotifyOnHandled        bool
	NotifyOnUnhandled      bool
	NotifyOnFirstRaiseOnly bool
	IgnoreLibraries        bool
	// SameContextSkip, when set, never stops at the frame the exception
	// was raised in, pushing a notify_on_first_raise_only stop to the
	// caller one frame up instead.
	SameContextSkip bool
}

// KindHandler lets a caller register a breakpoint kind beyond the built-in
// line/exception ones, e.g. a "conditional watch" or framework-specific
// breakpoint type.
type KindHandler interface {
	Kind() string
	Add(args map[string]any) (id string, err error)
	Remove(id string) error
	Matches(file string, line int) (id string, ok bool)
}

// Store is the authoritative breakpoint table. The line index is rebuilt
// on every mutation under consolidate and swapped behind a narrow mutex so
// concurrent dispatcher reads always observe one complete version.
type Store struct {
	mu sync.RWMutex

	byFile map[string]map[int]*Line // file -> id -> Line
	lineIx map[string]map[int]*Line // file -> line -> Line (derived)

	caught          map[string]*Exception
	uncaught        map[string]*Exception
	ignoreSysExit   map[int]struct{}

	kinds map[string]KindHandler

	epoch atomic.Int64
	onChg []func()

	nextID atomic.Int64
}

func NewStore() *Store {
	return &Store{
		byFile:        make(map[string]map[int]*Line),
		lineIx:        make(map[string]map[int]*Line),
		caught:        make(map[string]*Exception),
		uncaught:      make(map[string]*Exception),
		ignoreSysExit: make(map[int]struct{}),
		kinds:         make(map[string]KindHandler),
	}
}

// Epoch returns a snapshot counter bumped on every mutation; skipcache
// compares against this to know when to invalidate.
func (s *Store) Epoch() int64 { return s.epoch.Load() }

// OnChanged registers a callback invoked (synchronously, from the mutating
// goroutine) after every successful mutation.
func (s *Store) OnChanged(fn func()) {
	s.mu.Lock()
	s.onChg = append(s.onChg, fn)
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.epoch.Add(1)
	for _, fn := range s.onChg {
		fn()
	}
}

// FileChecker's Exists and Excluded are injected by the caller (api.Debugger)
// since the store has no filesystem or filter dependency of its own.
type FileChecker interface {
	Exists(file string) bool
	Excluded(file string) bool
}

// Add inserts or replaces a line breakpoint, consolidates the line index
// for that file, and bumps the epoch. checker may be nil, in which case
// existence/exclusion checks are skipped (used by tests).
func (s *Store) Add(bp *Line, checker FileChecker) AddStatus {
	if checker != nil {
		if !checker.Exists(bp.File) {
			return StatusFileNotFound
		}
		if checker.Excluded(bp.File) {
			return StatusFileExcluded
		}
	}
	if bp.Line <= 0 {
		return StatusLineInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if bp.ID == 0 {
		bp.ID = int(s.nextID.Add(1))
	}
	if s.byFile[bp.File] == nil {
		s.byFile[bp.File] = make(map[int]*Line)
	}
	s.byFile[bp.File][bp.ID] = bp
	s.consolidateLocked(bp.File)
	s.notify()
	return StatusOK
}

// Remove deletes the breakpoint with id in file.
func (s *Store) Remove(file string, id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.byFile[file]
	if m == nil {
		return false
	}
	if _, ok := m[id]; !ok {
		return false
	}
	delete(m, id)
	s.consolidateLocked(file)
	s.notify()
	return true
}

// RemoveAll clears every line breakpoint in file, or in every file when
// file == "".
func (s *Store) RemoveAll(file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if file == "" {
		s.byFile = make(map[string]map[int]*Line)
		s.lineIx = make(map[string]map[int]*Line)
	} else {
		delete(s.byFile, file)
		delete(s.lineIx, file)
	}
	s.notify()
}

// consolidateLocked rebuilds the per-line derived index for file: on a
// line collision the breakpoint with the larger id (last added) wins.
func (s *Store) consolidateLocked(file string) {
	byID := s.byFile[file]
	ix := make(map[int]*Line, len(byID))
	for _, bp := range byID {
		if cur, ok := ix[bp.Line]; !ok || bp.ID > cur.ID {
			ix[bp.Line] = bp
		}
	}
	if len(ix) == 0 {
		delete(s.lineIx, file)
		return
	}
	s.lineIx[file] = ix
}

// AtLine returns the consolidated breakpoint at (file, line) whose
// func_name scope matches funcName, if any. funcName is the enclosing
// frame's function name; scope "None" matches any frame, "" matches only
// the module top level (func_name "<module>"), anything else must equal
// funcName exactly (a dotted qualified name).
func (s *Store) AtLine(file string, line int, funcName string) (*Line, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.lineIx[file]
	if m == nil {
		return nil, false
	}
	bp, ok := m[line]
	if !ok || !funcNameMatches(bp.FuncName, funcName) {
		return nil, false
	}
	return bp, true
}

// funcNameMatches implements the func_name scope rule for a line
// breakpoint: "None" matches any frame, "" matches only the module top
// level, anything else must equal the frame's function name exactly.
func funcNameMatches(scope, funcName string) bool {
	switch scope {
	case "None":
		return true
	case "":
		return funcName == "<module>"
	default:
		return scope == funcName
	}
}

// HasBreakpoints reports whether file has any consolidated breakpoint,
// used by dispatch's fast "no breakpoints at all" skip.
func (s *Store) HasBreakpoints(file string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lineIx[file]) > 0
}

// AddException registers a breakpoint on an exception qualified name,
// caught or uncaught depending on the Notify* fields.
func (s *Store) AddException(e *Exception) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.NotifyOnHandled {
		s.caught[e.QualifiedName] = e
	}
	if e.NotifyOnUnhandled {
		s.uncaught[e.QualifiedName] = e
	}
	s.notify()
}

func (s *Store) RemoveException(qualifiedName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.caught, qualifiedName)
	delete(s.uncaught, qualifiedName)
	s.notify()
}

func (s *Store) RemoveAllExceptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caught = make(map[string]*Exception)
	s.uncaught = make(map[string]*Exception)
	s.notify()
}

// Caught looks up a caught-exception breakpoint by qualified name, falling
// back to the wildcard "*" entry used for "break on any exception".
func (s *Store) Caught(qualifiedName string) (*Exception, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.caught[qualifiedName]; ok {
		return e, true
	}
	e, ok := s.caught["*"]
	return e, ok
}

func (s *Store) Uncaught(qualifiedName string) (*Exception, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.uncaught[qualifiedName]; ok {
		return e, true
	}
	e, ok := s.uncaught["*"]
	return e, ok
}

// SetIgnoreSystemExitCodes configures the codes except.Engine should treat
// as non-stopping process-exit requests.
func (s *Store) SetIgnoreSystemExitCodes(codes []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreSysExit = make(map[int]struct{}, len(codes))
	for _, c := range codes {
		s.ignoreSysExit[c] = struct{}{}
	}
}

func (s *Store) IsIgnoredSystemExitCode(code int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ignoreSysExit[code]
	return ok
}

// RegisterKind adds a plugin breakpoint kind handler.
func (s *Store) RegisterKind(h KindHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds[h.Kind()] = h
}

// AddPlugin adds a breakpoint of a registered plugin kind, returning a
// fresh instance id when the caller does not supply one.
func (s *Store) AddPlugin(kind string, args map[string]any) (string, error) {
	s.mu.RLock()
	h, ok := s.kinds[kind]
	s.mu.RUnlock()
	if !ok {
		return "", errors.Errorf("breakpoint: unsupported plugin kind %q", kind)
	}
	id, err := h.Add(args)
	if err != nil {
		return "", errors.Wrapf(err, "breakpoint: add %s", kind)
	}
	if id == "" {
		id = uuid.NewString()
	}
	s.notify()
	return id, nil
}

func (s *Store) RemovePlugin(kind, id string) error {
	s.mu.RLock()
	h, ok := s.kinds[kind]
	s.mu.RUnlock()
	if !ok {
		return errors.Errorf("breakpoint: unsupported plugin kind %q", kind)
	}
	if err := h.Remove(id); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Counter is a small atomic hit counter, checked against HitCondition.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Incr() int64  { return c.v.Add(1) }
func (c *Counter) Load() int64  { return c.v.Load() }
func (c *Counter) Reset()       { c.v.Store(0) }

func (e ExcludedErr) Error() string { return fmt.Sprintf("breakpoint: %s is excluded", e.File) }

// ExcludedErr is returned by a FileChecker implementation's caller when a
// file is present but filtered out; kept here so callers share one type.
type ExcludedErr struct{ File string }
