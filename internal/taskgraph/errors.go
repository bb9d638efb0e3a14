package taskgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph = errors.New("invalid task graph")
	ErrUnknownTask  = errors.New("unknown task")
)

// GraphError wraps registration failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func unknownf(format string, args ...any) error {
	return &GraphError{Kind: ErrUnknownTask, Msg: fmt.Sprintf(format, args...)}
}

// RunError collapses the failures of one Run into one error value. It
// unwraps to every task error so errors.Is and errors.As see through it.
type RunError struct {
	failed []string
	errs   []error
}

func (e *RunError) Error() string {
	if len(e.failed) == 0 {
		return ""
	}
	return fmt.Sprintf("%d task(s) failed: %s", len(e.failed), strings.Join(e.failed, ", "))
}

// Failed returns the names of failed tasks in completion order.
func (e *RunError) Failed() []string { return append([]string(nil), e.failed...) }

func (e *RunError) Unwrap() []error { return append([]error(nil), e.errs...) }
