package coverage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Inputs is the exact class/trace selection behind one report. A report and
// the verification of that report share one Inputs value.
type Inputs struct {
	Task          string   // task reporting on these inputs, for error context
	BuildDir      string   // root the globs are relative to
	Includes      []string // class directory globs
	Exclusions    ExclusionSet
	ExecutionData string   // absolute path of the execution-trace file
	SourceDirs    []string // absolute source roots for HTML rendering
}

// Select walks buildDir and returns the slash-separated relative paths
// matching any include glob and no exclusion, sorted. A missing build
// directory is a *ReportGenerationError.
func Select(task, buildDir string, includes []string, exclusions ExclusionSet) ([]string, error) {
	info, err := os.Stat(buildDir)
	if err != nil {
		return nil, &ReportGenerationError{Task: task, Path: buildDir, Err: err}
	}
	if !info.IsDir() {
		return nil, &ReportGenerationError{Task: task, Path: buildDir, Err: errors.New("not a directory")}
	}

	globs := make([]Glob, 0, len(includes))
	for _, p := range includes {
		g, err := ParseGlob(p)
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}

	var out []string
	err = filepath.WalkDir(buildDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(buildDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !matchAny(globs, rel) || exclusions.Excludes(rel) {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, &ReportGenerationError{Task: task, Path: buildDir, Err: err}
	}
	sort.Strings(out)
	return out, nil
}

func matchAny(globs []Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}
