package render

import (
	"fmt"
	"strings"

	"github.com/dkoosis/covgate/internal/taskgraph"
	"github.com/dkoosis/covgate/pkg/variant"
)

// LLM renders terse plain text optimized for model consumption: no color, no
// alignment padding, failures first.
type LLM struct{}

// NewLLM creates an LLM renderer.
func NewLLM() *LLM {
	return &LLM{}
}

// Render formats a run result.
func (l *LLM) Render(r Report) string {
	var sb strings.Builder
	tally := r.Tally()
	sb.WriteString(fmt.Sprintf("COVERAGE: %d/%d variants pass (min %s)", tally.Pass, len(r.Outcomes), r.Minimum))
	if tally.Fail > 0 {
		sb.WriteString(fmt.Sprintf(", %d fail", tally.Fail))
	}
	if tally.Error > 0 {
		sb.WriteString(fmt.Sprintf(", %d error", tally.Error))
	}
	if tally.Pending > 0 {
		sb.WriteString(fmt.Sprintf(", %d not run", tally.Pending))
	}
	sb.WriteString("\n")

	for _, o := range sorted(r.Outcomes) {
		switch Status(o) {
		case StatusPass:
			sb.WriteString(fmt.Sprintf("PASS %s %s (%d/%d lines)\n", o.Paths.Name, o.Measured, o.Counter.Covered, o.Counter.Total()))
		case StatusFail:
			sb.WriteString(fmt.Sprintf("FAIL %s %s < %s (%d/%d lines) %s\n", o.Paths.Name, o.Measured, o.Minimum,
				o.Counter.Covered, o.Counter.Total(), o.Paths.VerificationTaskName))
		case StatusError:
			sb.WriteString(fmt.Sprintf("ERR  %s %s\n", o.Paths.Name, failedTask(o)))
			lines := strings.Split(errorText(o), "\n")
			limit := min(len(lines), 3)
			for _, line := range lines[:limit] {
				sb.WriteString("  " + line + "\n")
			}
			if len(lines) > 3 {
				sb.WriteString(fmt.Sprintf("  ... (%d more lines)\n", len(lines)-3))
			}
		default:
			sb.WriteString(fmt.Sprintf("SKIP %s\n", o.Paths.Name))
		}
	}
	return sb.String()
}

// Variants lists one variant per line.
func (l *LLM) Variants(vs []variant.Derived) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("VARIANTS: %d\n", len(vs)))
	for _, d := range vs {
		sb.WriteString(fmt.Sprintf("%s test=%s report=%s verify=%s exec=%s\n", d.Paths.Name,
			d.Paths.TestTaskName, d.Paths.ReportTaskName, d.Paths.VerificationTaskName, d.Paths.ExecutionDataPath))
	}
	return sb.String()
}

// Tasks lists one task per line.
func (l *LLM) Tasks(ts []taskgraph.TaskInfo) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("TASKS: %d\n", len(ts)))
	for _, ti := range ts {
		sb.WriteString(ti.Name)
		if ti.Group != "" {
			sb.WriteString(" group=" + ti.Group)
		}
		if len(ti.DependsOn) > 0 {
			sb.WriteString(" dependsOn=" + strings.Join(ti.DependsOn, ","))
		}
		if len(ti.FinalizedBy) > 0 {
			sb.WriteString(" finalizedBy=" + strings.Join(ti.FinalizedBy, ","))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
