package magetasks

import (
	"errors"
	"fmt"
	"strings"

	"github.com/magefile/mage/sh"
)

const golangciDisabled = "--disable=exhaustruct,varnamelen,ireturn,wrapcheck,nlreturn,gochecknoglobals,mnd,depguard,tagalign"

// LintAll runs all linters. Optional linters that are not installed are
// reported and skipped.
func LintAll() error {
	var errs []error
	for _, lint := range []func() error{LintFormat, LintVet, LintStaticcheck, LintGolangci} {
		if err := lint(); err != nil && !errors.Is(err, ErrToolMissing) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	PrintSuccess("All linters passed")
	return nil
}

// LintFormat fails when gofmt would change any file.
func LintFormat() error {
	out, err := sh.Output("gofmt", "-l", "cmd", "internal", "pkg")
	if err != nil {
		return fmt.Errorf("gofmt: %w", err)
	}
	if files := unformatted(out); len(files) > 0 {
		return fmt.Errorf("files need formatting: %s", strings.Join(files, ", "))
	}
	return nil
}

func unformatted(gofmtOutput string) []string {
	var files []string
	for _, line := range strings.Split(gofmtOutput, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files
}

// LintVet runs go vet.
func LintVet() error {
	return sh.RunV("go", "vet", "./...")
}

// LintStaticcheck runs staticcheck.
func LintStaticcheck() error {
	return Staticcheck.Run("./...")
}

// LintGolangci runs golangci-lint.
func LintGolangci() error {
	return golangci()
}

// LintGolangciFix runs golangci-lint with auto-fixes.
func LintGolangciFix() error {
	return golangci("--fix")
}

func golangci(extra ...string) error {
	args := append([]string{"run"}, extra...)
	args = append(args, golangciDisabled, "--timeout=5m", "./...")
	return GolangciLint.Run(args...)
}
