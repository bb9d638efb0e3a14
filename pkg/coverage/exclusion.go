package coverage

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExclusions lists generated and framework code that never counts
// toward line coverage: DI graphs, UI entry points, themes, navigation,
// database and mapper classes, and synthetic inner classes.
var DefaultExclusions = []string{
	"**/*ScreenKt.class",
	"**/*Activity**",
	"**/*ActivityKt*",
	"**/*Fragmnt.class",
	"**/*FragmentKt*",
	"**/dagger/**",
	"**/hilt/**",
	"**/generated/**",
	"**/*_HiltComponents*",
	"**/*Dagger*",
	"**/*Hilt*",
	"**/*$*",
	"**/*_Factory*",
	"**/*_Impl*",
	"**/*_MembersInjector*",
	"**/*_Module*",
	"**/*_Subcomponent*",
	"**/*_Component*",
	"**/theme/**",
	"**/di/**",
	"**/components/**",
	"**/navigation/**",
	"**AppDatabase**",
	"**/data/mapper/**",
}

// Glob is an Ant-style path pattern matched against slash-separated paths
// relative to the build directory. As in Gradle file trees, ** is special
// only as a whole path segment:
//
//	**/   zero or more leading directories
//	/**   everything below the directory
//	*     any run of characters within one path segment
//	?     one character within one path segment
//
// so **AppDatabase** behaves like *AppDatabase* and matches top-level
// entries only.
type Glob struct {
	pattern string
}

// ParseGlob validates pattern.
func ParseGlob(pattern string) (Glob, error) {
	if strings.TrimSpace(pattern) == "" {
		return Glob{}, Configf("empty glob pattern")
	}
	if !doublestar.ValidatePattern(pattern) {
		return Glob{}, Configf("invalid glob pattern %q", pattern)
	}
	return Glob{pattern: pattern}, nil
}

// Match reports whether the slash-separated path matches.
func (g Glob) Match(path string) bool {
	if g.pattern == "" {
		return false
	}
	ok, err := doublestar.Match(g.pattern, strings.TrimPrefix(path, "./"))
	return err == nil && ok
}

func (g Glob) String() string { return g.pattern }

// ExclusionSet is an ordered, immutable list of globs. It is safe for
// concurrent use.
type ExclusionSet struct {
	globs []Glob
}

// NewExclusionSet compiles patterns in order.
func NewExclusionSet(patterns []string) (ExclusionSet, error) {
	globs := make([]Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := ParseGlob(p)
		if err != nil {
			return ExclusionSet{}, err
		}
		globs = append(globs, g)
	}
	return ExclusionSet{globs: globs}, nil
}

// DefaultExclusionSet compiles DefaultExclusions.
func DefaultExclusionSet() ExclusionSet {
	set, err := NewExclusionSet(DefaultExclusions)
	if err != nil {
		panic(err)
	}
	return set
}

// Excludes reports whether path matches any pattern.
func (s ExclusionSet) Excludes(path string) bool {
	for _, g := range s.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Patterns returns a copy of the source patterns.
func (s ExclusionSet) Patterns() []string {
	out := make([]string, len(s.globs))
	for i, g := range s.globs {
		out[i] = g.pattern
	}
	return out
}

// Len returns the number of patterns.
func (s ExclusionSet) Len() int { return len(s.globs) }

// Filter returns the paths not excluded, preserving order.
func (s ExclusionSet) Filter(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !s.Excludes(p) {
			out = append(out, p)
		}
	}
	return out
}
