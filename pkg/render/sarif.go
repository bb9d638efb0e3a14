package render

import (
	"bytes"
	"path"

	"github.com/dkoosis/covgate/internal/version"
	"github.com/dkoosis/covgate/pkg/sarif"
)

// Rule ids used in SARIF output.
const (
	RuleLineCoverage     = "covgate/line-coverage"
	RuleReportGeneration = "covgate/report-generation"
)

// SARIF renders failing variants as a SARIF 2.1.0 log. Listings fall back to
// JSON.
type SARIF struct {
	*JSON
	// ArtifactRoot prefixes report paths, which are relative to the build
	// directory, so locations resolve from the repository root.
	ArtifactRoot string
}

// NewSARIF creates a SARIF renderer.
func NewSARIF(artifactRoot string) *SARIF {
	return &SARIF{JSON: NewJSON(), ArtifactRoot: artifactRoot}
}

// Render emits one result per failed or errored variant.
func (s *SARIF) Render(r Report) string {
	b := sarif.NewBuilder("covgate", version.Version).
		WithRunID(r.RunID).
		AddRule(RuleLineCoverage, "Line coverage ratio is below the configured minimum").
		AddRule(RuleReportGeneration, "Coverage report could not be generated")

	for _, o := range r.Outcomes {
		props := map[string]any{"variant": o.Paths.Name, "stage": o.Stage.String()}
		switch Status(o) {
		case StatusFail:
			props["measured"] = o.Measured
			props["minimum"] = o.Minimum
			props["covered"] = o.Counter.Covered
			props["missed"] = o.Counter.Missed
			b.AddResult(RuleLineCoverage, sarif.LevelError, firstLine(errorText(o)),
				s.artifact(o.Paths.XMLReportPath), 0, props)
		case StatusError:
			b.AddResult(RuleReportGeneration, sarif.LevelError, firstLine(errorText(o)),
				s.artifact(o.Paths.ExecutionDataPath), 0, props)
		}
	}

	var buf bytes.Buffer
	if _, err := b.WriteTo(&buf); err != nil {
		return marshal(map[string]string{"error": err.Error()})
	}
	return buf.String()
}

func (s *SARIF) artifact(rel string) string {
	if s.ArtifactRoot == "" {
		return rel
	}
	return path.Join(s.ArtifactRoot, rel)
}
