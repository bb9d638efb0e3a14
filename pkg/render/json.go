package render

import (
	"encoding/json"

	"github.com/dkoosis/covgate/internal/taskgraph"
	"github.com/dkoosis/covgate/pkg/orchestrator"
	"github.com/dkoosis/covgate/pkg/variant"
)

// SchemaVersion is the version field of every JSON document.
const SchemaVersion = "1.0"

// JSON renders results as structured JSON for automation.
type JSON struct{}

// NewJSON creates a JSON renderer.
func NewJSON() *JSON {
	return &JSON{}
}

type jsonReport struct {
	Version    string        `json:"version"`
	RunID      string        `json:"runId,omitempty"`
	Minimum    string        `json:"minimum"`
	Passed     bool          `json:"passed"`
	DurationMS int64         `json:"durationMs"`
	Summary    jsonTally     `json:"summary"`
	Variants   []jsonOutcome `json:"variants"`
}

type jsonTally struct {
	Pass    int `json:"pass"`
	Fail    int `json:"fail"`
	Error   int `json:"error"`
	Pending int `json:"pending"`
}

type jsonOutcome struct {
	Status string `json:"status"`
	orchestrator.Outcome
}

type jsonVariants struct {
	Version  string            `json:"version"`
	Variants []variant.Derived `json:"variants"`
}

type jsonTasks struct {
	Version string               `json:"version"`
	Tasks   []taskgraph.TaskInfo `json:"tasks"`
}

// Render formats a run result as JSON. Variants keep configuration order.
func (j *JSON) Render(r Report) string {
	t := r.Tally()
	out := jsonReport{
		Version:    SchemaVersion,
		RunID:      r.RunID,
		Minimum:    r.Minimum,
		Passed:     r.Passed(),
		DurationMS: r.Duration.Milliseconds(),
		Summary:    jsonTally{Pass: t.Pass, Fail: t.Fail, Error: t.Error, Pending: t.Pending},
		Variants:   make([]jsonOutcome, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		if o.Error == "" && o.Err != nil {
			o.Error = o.Err.Error()
		}
		out.Variants = append(out.Variants, jsonOutcome{Status: Status(o), Outcome: o})
	}
	return marshal(out)
}

// Variants formats derived variants as JSON.
func (j *JSON) Variants(vs []variant.Derived) string {
	if vs == nil {
		vs = []variant.Derived{}
	}
	return marshal(jsonVariants{Version: SchemaVersion, Variants: vs})
}

// Tasks formats task descriptions as JSON.
func (j *JSON) Tasks(ts []taskgraph.TaskInfo) string {
	if ts == nil {
		ts = []taskgraph.TaskInfo{}
	}
	return marshal(jsonTasks{Version: SchemaVersion, Tasks: ts})
}

func marshal(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		errJSON, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(errJSON)
	}
	return string(data) + "\n"
}
