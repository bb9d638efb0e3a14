package coverage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/dkoosis/covgate/pkg/classfile"
	"github.com/dkoosis/covgate/pkg/trace"
)

// Line is one executable source line of a class.
type Line struct {
	Number int   `json:"nr"`
	Hits   int64 `json:"hits"`
}

// Covered reports whether the line executed at least once.
func (l Line) Covered() bool { return l.Hits > 0 }

// ClassCoverage is the line coverage of one class.
type ClassCoverage struct {
	Name       string  `json:"name"`
	SourceFile string  `json:"sourceFile,omitempty"`
	Path       string  `json:"path"` // relative to the build dir
	Lines      []Line  `json:"lines"`
	Counter    Counter `json:"counter"`
}

// PackageCoverage groups classes by internal package name.
type PackageCoverage struct {
	Name    string          `json:"name"`
	Classes []ClassCoverage `json:"classes"`
	Counter Counter         `json:"counter"`
}

// Bundle is the coverage report for one variant.
type Bundle struct {
	Name     string            `json:"name"`
	Sessions []trace.Session   `json:"sessions,omitempty"`
	Packages []PackageCoverage `json:"packages"`
	Counter  Counter           `json:"counter"`
}

// Classes returns the number of classes in the bundle.
func (b *Bundle) Classes() int {
	n := 0
	for _, p := range b.Packages {
		n += len(p.Classes)
	}
	return n
}

// Analyze computes line coverage for in. The execution trace must exist: a
// missing trace is a *ReportGenerationError rather than an empty report.
func Analyze(ctx context.Context, name string, in Inputs) (*Bundle, error) {
	tr, err := trace.ReadFile(in.ExecutionData)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ReportGenerationError{Task: in.Task, Path: in.ExecutionData, Err: errors.New("execution trace not found; did the test task produce coverage output?")}
		}
		return nil, &ReportGenerationError{Task: in.Task, Path: in.ExecutionData, Err: err}
	}

	paths, err := Select(in.Task, in.BuildDir, in.Includes, in.Exclusions)
	if err != nil {
		return nil, err
	}

	byPkg := make(map[string]*PackageCoverage)
	b := &Bundle{Name: name, Sessions: tr.Sessions}
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cls, err := classfile.ParseFile(filepath.Join(in.BuildDir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, &ReportGenerationError{Task: in.Task, Path: rel, Err: err}
		}
		cc := ClassCoverage{Name: cls.Name, SourceFile: cls.SourceFile, Path: rel}
		for _, n := range cls.Lines {
			l := Line{Number: n, Hits: tr.Hits(cls.Name, n)}
			cc.Lines = append(cc.Lines, l)
			if l.Covered() {
				cc.Counter.Covered++
			} else {
				cc.Counter.Missed++
			}
		}
		pkg, ok := byPkg[cls.Package()]
		if !ok {
			pkg = &PackageCoverage{Name: cls.Package()}
			byPkg[cls.Package()] = pkg
		}
		pkg.Classes = append(pkg.Classes, cc)
		pkg.Counter = pkg.Counter.Add(cc.Counter)
		b.Counter = b.Counter.Add(cc.Counter)
	}

	names := make([]string, 0, len(byPkg))
	for n := range byPkg {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		pkg := byPkg[n]
		sort.Slice(pkg.Classes, func(i, j int) bool { return pkg.Classes[i].Name < pkg.Classes[j].Name })
		b.Packages = append(b.Packages, *pkg)
	}
	return b, nil
}

// Verify analyzes in and checks the result against rule. It returns the
// bundle it measured even when the rule fails.
func Verify(ctx context.Context, name string, in Inputs, rule Rule) (*Bundle, error) {
	b, err := Analyze(ctx, name, in)
	if err != nil {
		return nil, err
	}
	if err := rule.Check(in.Task, b.Counter); err != nil {
		return b, fmt.Errorf("verify %s: %w", name, err)
	}
	return b, nil
}
