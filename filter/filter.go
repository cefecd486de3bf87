// Package filter implements the project-root / exclude-filter / dont-trace
// predicates external to the dispatcher's hot path. Nothing here touches
// frames; it classifies file paths.
package filter

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// ExcludeFilter is a single rule: a filepath.Match glob when IsPath is set,
// otherwise a regular expression matched against the file. Include=false means "treat
// matching files as library code"; Include=true means "treat matching
// files as project code even if outside every project root" (the list can
// whitelist as well as blacklist).
type ExcludeFilter struct {
	Pattern string
	IsPath  bool
	Include bool
}

// StartEndPattern marks a (start, end) substring pair; lines between a
// start and matching end marker are treated as untraceable regardless of
// breakpoints ("don't trace" regions, e.g. generated code blocks).
type StartEndPattern struct {
	Start string
	End   string
}

// Config holds the filter state mutated by api.Debugger and consulted by
// step on every _MY_CODE decision and by except's library filter.
type Config struct {
	mu sync.RWMutex

	projectRoots       []string
	excludeFilters     []ExcludeFilter
	useLibrariesFilter bool
	dontTrace          []StartEndPattern

	globCache map[string]*regexp.Regexp
}

func NewConfig() *Config {
	return &Config{globCache: make(map[string]*regexp.Regexp)}
}

func (c *Config) SetProjectRoots(roots []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projectRoots = append([]string(nil), roots...)
}

func (c *Config) SetExcludeFilters(filters []ExcludeFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.excludeFilters = append([]ExcludeFilter(nil), filters...)
}

func (c *Config) SetUseLibrariesFilter(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.useLibrariesFilter = v
}

func (c *Config) SetDontTracePatterns(patterns []StartEndPattern) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dontTrace = append([]StartEndPattern(nil), patterns...)
}

// InProject reports whether file lies under one of the configured project
// roots. An empty root list means "everything is project code", the
// default of tracing everything until roots are configured.
func (c *Config) InProject(file string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.projectRoots) == 0 {
		return true
	}
	for _, root := range c.projectRoots {
		if within(root, file) {
			return true
		}
	}
	return false
}

// IsLibrary applies the exclude filter list: a file is library code if it
// matches an Include=false filter and is not overridden by a later
// Include=true filter over the same path, or if UseLibrariesFilter is set
// and the file falls outside every project root.
func (c *Config) IsLibrary(file string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	verdict := false
	for _, f := range c.excludeFilters {
		if c.matchLocked(f, file) {
			verdict = !f.Include
		}
	}
	if verdict {
		return true
	}
	if c.useLibrariesFilter && len(c.projectRoots) > 0 {
		for _, root := range c.projectRoots {
			if within(root, file) {
				return false
			}
		}
		return true
	}
	return false
}

func (c *Config) matchLocked(f ExcludeFilter, file string) bool {
	if f.IsPath {
		ok, _ := filepath.Match(f.Pattern, file)
		return ok
	}
	re, ok := c.globCache[f.Pattern]
	if !ok {
		re, _ = regexp.Compile(f.Pattern)
		c.globCache[f.Pattern] = re
	}
	if re == nil {
		return false
	}
	return re.MatchString(file)
}

// AppliesTo is the "my code" predicate used by step: a file is "my code"
// when it is inside the project and not excluded as a library.
// forceCheckProjectScope additionally requires the file to be under a
// project root; a file the exclude filters mark as library is rejected
// either way.
func (c *Config) AppliesTo(file string, forceCheckProjectScope bool) bool {
	if c.IsLibrary(file) {
		return false
	}
	if forceCheckProjectScope {
		return c.InProject(file)
	}
	return true
}

// DontTrace reports whether line lies within a configured start/end
// untraceable region for the given source text. content is the full file
// body; callers are expected to cache it themselves.
func (c *Config) DontTrace(content string, line int) bool {
	c.mu.RLock()
	patterns := c.dontTrace
	c.mu.RUnlock()
	if len(patterns) == 0 {
		return false
	}
	lines := strings.Split(content, "\n")
	if line < 1 || line > len(lines) {
		return false
	}
	for _, p := range patterns {
		inRegion := false
		for i := 0; i < line && i < len(lines); i++ {
			if strings.Contains(lines[i], p.Start) {
				inRegion = true
			}
			if inRegion && strings.Contains(lines[i], p.End) {
				inRegion = false
			}
		}
		if inRegion {
			return true
		}
	}
	return false
}

func within(root, file string) bool {
	root = filepath.Clean(root)
	file = filepath.Clean(file)
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
