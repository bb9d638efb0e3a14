package orchestrator

import "fmt"

// Stage is the lifecycle position of one variant's coverage pipeline.
type Stage int

const (
	StageUnregistered Stage = iota
	StageRegistered
	StageTestsRun
	StageReportGenerated
	StageVerifiedPass
	StageVerifiedFail
)

var stageNames = [...]string{
	StageUnregistered:    "UNREGISTERED",
	StageRegistered:      "REGISTERED",
	StageTestsRun:        "TESTS_RUN",
	StageReportGenerated: "REPORT_GENERATED",
	StageVerifiedPass:    "VERIFIED_PASS",
	StageVerifiedFail:    "VERIFIED_FAIL",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// MarshalText renders the stage name in JSON output.
func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Verified reports whether verification reached a verdict.
func (s Stage) Verified() bool { return s == StageVerifiedPass || s == StageVerifiedFail }

// canTransition validates one step. Any stage past registration may restart
// at TestsRun, which is how a rerun recomputes from scratch.
func canTransition(from, to Stage) bool {
	switch to {
	case StageRegistered:
		return from == StageUnregistered
	case StageTestsRun:
		return from >= StageRegistered
	case StageReportGenerated:
		return from == StageTestsRun
	case StageVerifiedPass, StageVerifiedFail:
		return from == StageReportGenerated
	default:
		return false
	}
}
