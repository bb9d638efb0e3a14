package render

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dkoosis/covgate/internal/taskgraph"
	"github.com/dkoosis/covgate/pkg/coverage"
	"github.com/dkoosis/covgate/pkg/orchestrator"
	"github.com/dkoosis/covgate/pkg/sarif"
	"github.com/dkoosis/covgate/pkg/variant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcome(flavor, buildType string, stage orchestrator.Stage, covered, missed int, err error) orchestrator.Outcome {
	v := variant.Variant{Flavor: flavor, BuildType: buildType}
	c := coverage.Counter{Covered: covered, Missed: missed}
	o := orchestrator.Outcome{
		Variant: v,
		Paths:   variant.DeriveNames(v),
		Stage:   stage,
		Counter: c,
		Minimum: "0.8",
		Err:     err,
	}
	if r, ok := c.Ratio(); ok && stage.Verified() {
		o.Measured = coverage.FormatRatio(r)
	}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

func sampleReport() Report {
	return Report{
		RunID:   "0f8fad5b-d9cb-469f-a165-70867728950e",
		Minimum: "0.8",
		Outcomes: []orchestrator.Outcome{
			outcome("paid", "debug", orchestrator.StageVerifiedPass, 5, 0, nil),
			outcome("free", "debug", orchestrator.StageVerifiedFail, 2, 3,
				errors.New("coverage for jacocoFreeDebugCoverageReport is 0.4, minimum is 0.8")),
			outcome("free", "release", orchestrator.StageTestsRun, 0, 0,
				errors.New("report generation failed for jacocoFreeReleaseReport\nexecution data missing")),
			outcome("paid", "release", orchestrator.StageRegistered, 0, 0, nil),
		},
		Duration: 1500 * time.Millisecond,
	}
}

func TestStatus(t *testing.T) {
	r := sampleReport()
	assert.Equal(t, StatusPass, Status(r.Outcomes[0]))
	assert.Equal(t, StatusFail, Status(r.Outcomes[1]))
	assert.Equal(t, StatusError, Status(r.Outcomes[2]))
	assert.Equal(t, StatusPending, Status(r.Outcomes[3]))
	assert.Equal(t, Tally{Pass: 1, Fail: 1, Error: 1, Pending: 1}, r.Tally())
	assert.False(t, r.Passed())
}

func TestReport_PassesWhenEmptyOrAllPass(t *testing.T) {
	assert.True(t, Report{}.Passed())
	r := Report{Outcomes: []orchestrator.Outcome{outcome("", "debug", orchestrator.StageVerifiedPass, 4, 1, nil)}}
	assert.True(t, r.Passed())
}

func TestSorted_WorstFirstThenByName(t *testing.T) {
	got := sorted(sampleReport().Outcomes)
	names := make([]string, len(got))
	for i, o := range got {
		names[i] = o.Paths.Name
	}
	assert.Equal(t, []string{"freeRelease", "freeDebug", "paidRelease", "paidDebug"}, names)
}

func TestStageLabel(t *testing.T) {
	assert.Equal(t, "Verified Pass", stageLabel(orchestrator.StageVerifiedPass))
	assert.Equal(t, "Report Generated", stageLabel(orchestrator.StageReportGenerated))
	assert.Equal(t, "Tests Run", stageLabel(orchestrator.StageTestsRun))
}

func TestForFormat(t *testing.T) {
	assert.IsType(t, &LLM{}, ForFormat("llm", MonoTheme(), 80))
	assert.IsType(t, &JSON{}, ForFormat("json", MonoTheme(), 80))
	assert.IsType(t, &Terminal{}, ForFormat("terminal", MonoTheme(), 80))
}

func TestThemeByName(t *testing.T) {
	assert.Equal(t, "orca", ThemeByName("orca").Name)
	assert.Equal(t, "mono", ThemeByName("mono").Name)
	assert.Equal(t, "default", ThemeByName("bogus").Name)
}

func TestTerminal_Render(t *testing.T) {
	out := NewTerminal(MonoTheme(), 80).Render(sampleReport())

	assert.Contains(t, out, "minimum 0.8 - run 0f8fad5b - 1.5s")
	assert.Contains(t, out, "+ paidDebug    ########## 100.0%  5/5 lines  Verified Pass")
	assert.Contains(t, out, "x freeDebug    ####......  40.0%  2/5 lines  Verified Fail")
	assert.Contains(t, out, "      coverage for jacocoFreeDebugCoverageReport is 0.4, minimum is 0.8")
	assert.Contains(t, out, "! freeRelease  ..........    n/a  0/0 lines  Tests Run")
	assert.Contains(t, out, "      report generation failed for jacocoFreeReleaseReport\n")
	assert.NotContains(t, out, "execution data missing")
	assert.Contains(t, out, "1 passed, 1 failed, 1 errored, 1 not run")

	// error first, pass last
	assert.Less(t, strings.Index(out, "freeRelease"), strings.Index(out, "paidDebug"))
}

func TestTerminal_GroupsLargeCounts(t *testing.T) {
	r := Report{Minimum: "0.8", Outcomes: []orchestrator.Outcome{
		outcome("", "debug", orchestrator.StageVerifiedPass, 12000, 500, nil),
	}}
	out := NewTerminal(MonoTheme(), 80).Render(r)
	assert.Contains(t, out, "12,000/12,500 lines")
	assert.Contains(t, out, "96.0%")
}

func TestTerminal_Variants(t *testing.T) {
	vs, err := variant.DeriveAll([]variant.Variant{{BuildType: "debug"}, {BuildType: "release"}})
	require.NoError(t, err)

	out := NewTerminal(MonoTheme(), 80).Variants(vs)
	assert.Contains(t, out, "Variants (2)")
	assert.Contains(t, out, "debug    testDebugUnitTest → jacocoDebugReport → jacocoDebugCoverageReport")
	assert.Contains(t, out, vs[1].Paths.ExecutionDataPath)
}

func TestTerminal_TasksGroupedInOrder(t *testing.T) {
	out := NewTerminal(MonoTheme(), 80).Tasks([]taskgraph.TaskInfo{
		{Name: "jacocoDebugReport", Group: "reporting", DependsOn: []string{"testDebugUnitTest"}, FinalizedBy: []string{"jacocoDebugCoverageReport"}},
		{Name: "jacocoDebugCoverageReport", Group: "verification", Description: "Verifies line coverage"},
		{Name: "testDebugUnitTest"},
	})
	assert.Contains(t, out, "Reporting tasks\n  jacocoDebugReport\n      depends on testDebugUnitTest\n      finalized by jacocoDebugCoverageReport\n")
	assert.Contains(t, out, "Verification tasks\n  jacocoDebugCoverageReport - Verifies line coverage\n")
	assert.Contains(t, out, "Other tasks\n  testDebugUnitTest\n")
}

func TestLLM_Render(t *testing.T) {
	out := NewLLM().Render(sampleReport())
	lines := strings.Split(strings.TrimSpace(out), "\n")

	require.Len(t, lines, 7)
	assert.Equal(t, "COVERAGE: 1/4 variants pass (min 0.8), 1 fail, 1 error, 1 not run", lines[0])
	assert.Equal(t, "ERR  freeRelease jacocoFreeReleaseReport", lines[1])
	assert.Equal(t, "  report generation failed for jacocoFreeReleaseReport", lines[2])
	assert.Equal(t, "  execution data missing", lines[3])
	assert.Equal(t, "FAIL freeDebug 0.4 < 0.8 (2/5 lines) jacocoFreeDebugCoverageReport", lines[4])
	assert.Equal(t, "SKIP paidRelease", lines[5])
	assert.Equal(t, "PASS paidDebug 1 (5/5 lines)", lines[6])
}

func TestLLM_TruncatesLongErrors(t *testing.T) {
	r := Report{Minimum: "0.8", Outcomes: []orchestrator.Outcome{
		outcome("", "debug", orchestrator.StageTestsRun, 0, 0, errors.New("a\nb\nc\nd\ne")),
	}}
	out := NewLLM().Render(r)
	assert.Contains(t, out, "  c\n  ... (2 more lines)\n")
	assert.NotContains(t, out, "  d\n")
}

func TestLLM_VariantsAndTasks(t *testing.T) {
	vs, err := variant.DeriveAll([]variant.Variant{{Flavor: "free", BuildType: "debug"}})
	require.NoError(t, err)
	assert.Equal(t,
		"VARIANTS: 1\nfreeDebug test=testFreeDebugUnitTest report=jacocoFreeDebugReport verify=jacocoFreeDebugCoverageReport exec="+
			vs[0].Paths.ExecutionDataPath+"\n",
		NewLLM().Variants(vs))

	assert.Equal(t,
		"TASKS: 1\njacocoFreeDebugReport group=reporting dependsOn=testFreeDebugUnitTest\n",
		NewLLM().Tasks([]taskgraph.TaskInfo{{Name: "jacocoFreeDebugReport", Group: "reporting", DependsOn: []string{"testFreeDebugUnitTest"}}}))
}

func TestJSON_Render(t *testing.T) {
	out := NewJSON().Render(sampleReport())

	var doc struct {
		Version    string `json:"version"`
		RunID      string `json:"runId"`
		Passed     bool   `json:"passed"`
		DurationMS int64  `json:"durationMs"`
		Summary    struct {
			Fail int `json:"fail"`
		} `json:"summary"`
		Variants []struct {
			Status   string `json:"status"`
			Stage    string `json:"stage"`
			Error    string `json:"error"`
			Measured string `json:"measured"`
			Paths    struct {
				Name string `json:"name"`
			} `json:"paths"`
			Counter coverage.Counter `json:"counter"`
		} `json:"variants"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))

	assert.Equal(t, SchemaVersion, doc.Version)
	assert.Equal(t, "0f8fad5b-d9cb-469f-a165-70867728950e", doc.RunID)
	assert.False(t, doc.Passed)
	assert.EqualValues(t, 1500, doc.DurationMS)
	assert.Equal(t, 1, doc.Summary.Fail)
	require.Len(t, doc.Variants, 4)
	assert.Equal(t, "paidDebug", doc.Variants[0].Paths.Name, "configuration order is kept")
	assert.Equal(t, "pass", doc.Variants[0].Status)
	assert.Equal(t, "VERIFIED_PASS", doc.Variants[0].Stage)
	assert.Equal(t, "1", doc.Variants[0].Measured)
	assert.Equal(t, "VERIFIED_FAIL", doc.Variants[1].Stage)
	assert.Equal(t, coverage.Counter{Missed: 3, Covered: 2}, doc.Variants[1].Counter)
	assert.Contains(t, doc.Variants[2].Error, "execution data missing")
}

func TestJSON_EmptyListsAreArrays(t *testing.T) {
	assert.Contains(t, NewJSON().Variants(nil), `"variants": []`)
	assert.Contains(t, NewJSON().Tasks(nil), `"tasks": []`)
}

func TestSARIF_RendersFailuresAndErrors(t *testing.T) {
	out := NewSARIF("build").Render(sampleReport())

	var doc sarif.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Len(t, doc.Runs, 1)
	run := doc.Runs[0]
	assert.Equal(t, "covgate", run.Tool.Driver.Name)
	require.NotNil(t, run.AutomationDetails)
	assert.Equal(t, sampleReport().RunID, run.AutomationDetails.ID)

	require.Len(t, run.Results, 2)
	fail := run.Results[0]
	assert.Equal(t, RuleLineCoverage, fail.RuleID)
	assert.Equal(t, sarif.LevelError, fail.Level)
	assert.Equal(t, "coverage for jacocoFreeDebugCoverageReport is 0.4, minimum is 0.8", fail.Message.Text)
	assert.Equal(t, "build/reports/jacoco/jacocoFreeDebugReport/jacocoFreeDebugReport.xml",
		fail.Locations[0].PhysicalLocation.ArtifactLocation.URI)
	assert.Equal(t, "freeDebug", fail.Properties["variant"])
	assert.Equal(t, "0.4", fail.Properties["measured"])

	errResult := run.Results[1]
	assert.Equal(t, RuleReportGeneration, errResult.RuleID)
	assert.Equal(t, "report generation failed for jacocoFreeReleaseReport", errResult.Message.Text)
}

func TestFailedTestTask_RendersAsError(t *testing.T) {
	testErr := &coverage.ReportGenerationError{Task: "testFreeDebugUnitTest", Err: errors.New("exit status 3")}
	r := Report{
		RunID:    "0f8fad5b-d9cb-469f-a165-70867728950e",
		Minimum:  "0.8",
		Outcomes: []orchestrator.Outcome{outcome("free", "debug", orchestrator.StageTestsRun, 0, 0, testErr)},
	}

	assert.Equal(t, StatusError, Status(r.Outcomes[0]))
	assert.Equal(t, Tally{Error: 1}, r.Tally())
	assert.False(t, r.Passed())

	lines := strings.Split(strings.TrimSpace(NewLLM().Render(r)), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "ERR  freeDebug testFreeDebugUnitTest", lines[1])

	var doc sarif.Document
	require.NoError(t, json.Unmarshal([]byte(NewSARIF("").Render(r)), &doc))
	require.Len(t, doc.Runs[0].Results, 1)
	res := doc.Runs[0].Results[0]
	assert.Equal(t, RuleReportGeneration, res.RuleID)
	assert.Contains(t, res.Message.Text, "testFreeDebugUnitTest")
	assert.Equal(t, "TESTS_RUN", res.Properties["stage"])
}

func TestSARIF_ListingsUseJSON(t *testing.T) {
	assert.Contains(t, NewSARIF("").Tasks(nil), `"tasks": []`)
	assert.IsType(t, &SARIF{}, ForFormat("sarif", MonoTheme(), 80))
}
