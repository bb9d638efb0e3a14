// Package render provides output renderers for covgate run results, variant
// listings and task listings.
package render

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dkoosis/covgate/internal/taskgraph"
	"github.com/dkoosis/covgate/pkg/coverage"
	"github.com/dkoosis/covgate/pkg/orchestrator"
	"github.com/dkoosis/covgate/pkg/variant"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Renderer converts covgate results to formatted output.
type Renderer interface {
	Render(r Report) string
	Variants(vs []variant.Derived) string
	Tasks(ts []taskgraph.TaskInfo) string
}

// Report is the result of one verification run.
type Report struct {
	RunID    string
	Minimum  string
	Outcomes []orchestrator.Outcome
	Duration time.Duration
}

// Status values for an outcome.
const (
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusError   = "error"
	StatusPending = "pending"
)

// Status classifies an outcome for display.
func Status(o orchestrator.Outcome) string {
	switch {
	case o.Stage == orchestrator.StageVerifiedPass:
		return StatusPass
	case o.Stage == orchestrator.StageVerifiedFail:
		return StatusFail
	case o.Err != nil || o.Error != "":
		return StatusError
	default:
		return StatusPending
	}
}

// Tally counts outcomes by status.
type Tally struct {
	Pass, Fail, Error, Pending int
}

// Tally counts the report's outcomes by status.
func (r Report) Tally() Tally {
	var t Tally
	for _, o := range r.Outcomes {
		switch Status(o) {
		case StatusPass:
			t.Pass++
		case StatusFail:
			t.Fail++
		case StatusError:
			t.Error++
		default:
			t.Pending++
		}
	}
	return t
}

// Passed reports whether every outcome passed. An empty report passes.
func (r Report) Passed() bool {
	t := r.Tally()
	return t.Fail == 0 && t.Error == 0 && t.Pending == 0
}

// ForFormat returns the renderer for a resolved output format. "auto" must be
// resolved by the caller.
func ForFormat(format string, theme Theme, width int) Renderer {
	switch format {
	case "llm":
		return NewLLM()
	case "json":
		return NewJSON()
	case "sarif":
		return NewSARIF("")
	default:
		return NewTerminal(theme, width)
	}
}

// sorted orders outcomes worst first, then by variant name.
func sorted(outcomes []orchestrator.Outcome) []orchestrator.Outcome {
	out := append([]orchestrator.Outcome(nil), outcomes...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := statusPriority(Status(out[i])), statusPriority(Status(out[j]))
		if pi != pj {
			return pi < pj
		}
		return out[i].Paths.Name < out[j].Paths.Name
	})
	return out
}

func statusPriority(s string) int {
	switch s {
	case StatusError:
		return 0
	case StatusFail:
		return 1
	case StatusPending:
		return 2
	default:
		return 3
	}
}

// caserWrapper wraps a cases.Caser to allow pointer storage in sync.Pool.
type caserWrapper struct {
	caser cases.Caser
}

// cases.Title is not safe for concurrent use.
var titleCaserPool = sync.Pool{
	New: func() any {
		return &caserWrapper{caser: cases.Title(language.English)}
	},
}

func title(s string) string {
	w, ok := titleCaserPool.Get().(*caserWrapper)
	if !ok {
		w = &caserWrapper{caser: cases.Title(language.English)}
	}
	defer titleCaserPool.Put(w)
	return w.caser.String(s)
}

// stageLabel turns VERIFIED_PASS into "Verified Pass".
func stageLabel(s orchestrator.Stage) string {
	return title(strings.ReplaceAll(strings.ToLower(s.String()), "_", " "))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func errorText(o orchestrator.Outcome) string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return o.Error
}

// failedTask names the task an errored outcome stopped at: the task recorded
// on a ReportGenerationError, else the report task.
func failedTask(o orchestrator.Outcome) string {
	var rge *coverage.ReportGenerationError
	if errors.As(o.Err, &rge) && rge.Task != "" {
		return rge.Task
	}
	return o.Paths.ReportTaskName
}
