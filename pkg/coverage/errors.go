package coverage

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks structurally invalid input found while
	// enumerating variants or registering tasks.
	ErrConfiguration = errors.New("configuration error")

	// ErrReportGeneration marks a missing or unreadable report input.
	ErrReportGeneration = errors.New("report generation error")

	// ErrCoverageThreshold marks a measured ratio below the rule minimum.
	ErrCoverageThreshold = errors.New("coverage threshold not met")
)

// ConfigurationError is fatal: configuration must not proceed.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrConfiguration, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Msg)
}

func (e *ConfigurationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfiguration, e.Err}
	}
	return []error{ErrConfiguration}
}

// Configf builds a ConfigurationError from a format string.
func Configf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// ReportGenerationError is fatal to one variant's pipeline only.
type ReportGenerationError struct {
	Task string
	Path string
	Err  error
}

func (e *ReportGenerationError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", ErrReportGeneration, e.Task)
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReportGenerationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrReportGeneration, e.Err}
	}
	return []error{ErrReportGeneration}
}

// CoverageThresholdError reports a rule violation with both values.
type CoverageThresholdError struct {
	Task     string
	Measured string
	Minimum  string
	Counter  Counter
}

func (e *CoverageThresholdError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: lines covered ratio is %s, but expected minimum is %s (%d of %d lines covered)",
		ErrCoverageThreshold, e.Task, e.Measured, e.Minimum, e.Counter.Covered, e.Counter.Total())
}

func (e *CoverageThresholdError) Unwrap() error { return ErrCoverageThreshold }
