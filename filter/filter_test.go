package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInProjectDefaultsToEverything(t *testing.T) {
	c := NewConfig()
	assert.True(t, c.InProject("/any/file.js"))

	c.SetProjectRoots([]string{"/app"})
	assert.True(t, c.InProject("/app/main.js"))
	assert.True(t, c.InProject("/app/lib/helper.js"))
	assert.False(t, c.InProject("/usr/lib/node_modules/foo.js"))
}

func TestIsLibraryExcludeFilters(t *testing.T) {
	c := NewConfig()
	c.SetExcludeFilters([]ExcludeFilter{
		{Pattern: `node_modules`, Include: false},
	})
	assert.True(t, c.IsLibrary("/app/node_modules/foo.js"))
	assert.False(t, c.IsLibrary("/app/main.js"))
}

func TestIsLibraryLaterIncludeOverridesEarlierExclude(t *testing.T) {
	c := NewConfig()
	c.SetExcludeFilters([]ExcludeFilter{
		{Pattern: `vendor`, Include: false},
		{Pattern: `vendor/keep`, Include: true},
	})
	assert.True(t, c.IsLibrary("/app/vendor/other.js"))
	assert.False(t, c.IsLibrary("/app/vendor/keep.js"))
}

func TestIsLibraryUseLibrariesFilterOutsideRoots(t *testing.T) {
	c := NewConfig()
	c.SetProjectRoots([]string{"/app"})
	c.SetUseLibrariesFilter(true)
	assert.True(t, c.IsLibrary("/usr/lib/foo.js"))
	assert.False(t, c.IsLibrary("/app/main.js"))
}

func TestAppliesToMyCode(t *testing.T) {
	c := NewConfig()
	c.SetProjectRoots([]string{"/app"})
	c.SetExcludeFilters([]ExcludeFilter{{Pattern: `node_modules`, Include: false}})

	assert.True(t, c.AppliesTo("/app/main.js", false))
	assert.False(t, c.AppliesTo("/app/node_modules/foo.js", false))

	// forceCheckProjectScope also demands project membership.
	assert.False(t, c.AppliesTo("/other/main.js", true))
	assert.True(t, c.AppliesTo("/app/main.js", true))
}

func TestDontTraceRegion(t *testing.T) {
	c := NewConfig()
	c.SetDontTracePatterns([]StartEndPattern{
		{Start: "// dbg:off", End: "// dbg:on"},
	})
	content := "line1\n// dbg:off\nline3\nline4\n// dbg:on\nline6\n"

	assert.False(t, c.DontTrace(content, 1))
	assert.True(t, c.DontTrace(content, 3))
	assert.True(t, c.DontTrace(content, 4))
	assert.False(t, c.DontTrace(content, 6))
}

func TestDontTraceNoPatterns(t *testing.T) {
	c := NewConfig()
	assert.False(t, c.DontTrace("anything\n", 1))
}
