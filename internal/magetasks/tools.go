package magetasks

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/magefile/mage/sh"
)

// ErrToolMissing marks an optional tool that is not on PATH.
var ErrToolMissing = errors.New("tool not installed")

// Tool is an external program a task shells out to.
type Tool struct {
	Name    string
	Install string // go install target printed when the tool is missing
}

// Optional linters.
var (
	Staticcheck  = Tool{Name: "staticcheck", Install: "honnef.co/go/tools/cmd/staticcheck@latest"}
	GolangciLint = Tool{Name: "golangci-lint", Install: "github.com/golangci/golangci-lint/cmd/golangci-lint@latest"}
)

// Check returns an ErrToolMissing error with an install hint when t is not
// on PATH.
func (t Tool) Check() error {
	if _, err := exec.LookPath(t.Name); err != nil {
		return fmt.Errorf("%s: %w (install: go install %s)", t.Name, ErrToolMissing, t.Install)
	}
	return nil
}

// Run runs t with args, streaming its output. A tool that ran and exited
// non-zero is reported with its exit status.
func (t Tool) Run(args ...string) error {
	if err := t.Check(); err != nil {
		PrintWarning(err.Error())
		return err
	}
	err := sh.RunV(t.Name, args...)
	switch {
	case err == nil:
		return nil
	case !sh.CmdRan(err):
		return fmt.Errorf("%s did not start: %w", t.Name, err)
	default:
		return fmt.Errorf("%s failed with exit status %d: %w", t.Name, sh.ExitStatus(err), err)
	}
}
