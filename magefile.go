//go:build mage

// Build, test and lint targets for covgate. Run `mage -l` for the list.
package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"

	"github.com/dkoosis/covgate/internal/magetasks"
)

// Default builds bin/covgate.
var Default = Build

// Aliases for the targets run most often.
var Aliases = map[string]interface{}{
	"b":  Build,
	"i":  Install,
	"ci": CI,
}

func init() {
	if err := magetasks.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "mage: %v\n", err)
		os.Exit(1)
	}
}

// Build compiles bin/covgate with version, commit and build date stamped in.
func Build() error { return magetasks.BuildAll() }

// Install puts covgate in GOBIN.
func Install() error { return magetasks.Install() }

// Clean removes bin/, the coverage profile and the Go build cache.
func Clean() error { return magetasks.Clean() }

// QA is the pre-push gate: gofmt, vet, tests, build and a smoke run.
func QA() error { return magetasks.QA() }

// CI runs QA plus the race detector and every installed linter.
func CI() {
	mg.SerialDeps(QA, magetasks.TestRace, magetasks.LintAll)
}

type Lint mg.Namespace

// All runs gofmt, vet, staticcheck and golangci-lint, skipping the optional
// linters that are not installed.
func (Lint) All() error { return magetasks.LintAll() }

// Format fails when gofmt would rewrite a file.
func (Lint) Format() error { return magetasks.LintFormat() }

func (Lint) Vet() error { return magetasks.LintVet() }

func (Lint) Staticcheck() error { return magetasks.LintStaticcheck() }

func (Lint) Golangci() error { return magetasks.LintGolangci() }

// Fix applies golangci-lint auto-fixes.
func (Lint) Fix() error { return magetasks.LintGolangciFix() }

type Test mg.Namespace

func (Test) All() error { return magetasks.TestAll() }

// Coverage writes coverage.out and prints the per-function summary.
func (Test) Coverage() error { return magetasks.TestCoverage() }

func (Test) Race() error { return magetasks.TestRace() }
