package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dkoosis/covgate/internal/taskgraph"
	"github.com/dkoosis/covgate/internal/testfixture"
	"github.com/dkoosis/covgate/pkg/coverage"
	"github.com/dkoosis/covgate/pkg/variant"
)

func noopTest(variant.Derived) taskgraph.Action {
	return func(context.Context) error { return nil }
}

type fakeRecorder struct {
	mu        sync.Mutex
	generated []string
	failed    []string
	verified  map[string]bool
}

func (r *fakeRecorder) ReportGenerated(v string, _ coverage.Counter, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generated = append(r.generated, v)
}

func (r *fakeRecorder) ReportFailed(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, v)
}

func (r *fakeRecorder) Verified(v string, passed bool, _, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.verified == nil {
		r.verified = make(map[string]bool)
	}
	r.verified[v] = passed
}

type fixture struct {
	graph *taskgraph.Graph
	orch  *Orchestrator
	build string
	rec   *fakeRecorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	project := t.TempDir()
	cfg := DefaultConfig(project)
	cfg.TestAction = noopTest
	g := taskgraph.New(taskgraph.WithConcurrency(4))
	rec := &fakeRecorder{}
	o, err := New(cfg, g, append([]Option{WithRecorder(rec)}, opts...)...)
	require.NoError(t, err)
	return &fixture{graph: g, orch: o, build: cfg.BuildDir, rec: rec}
}

// writeVariant lays out one class with five lines for variant name and a
// trace covering the first covered lines.
func (f *fixture) writeVariant(t *testing.T, p variant.Paths, covered int) {
	t.Helper()
	testfixture.WriteClass(t, f.build, "tmp/kotlin-classes/"+p.Name, "com/example/Main", "Main.kt", 1, 2, 3, 4, 5)
	hits := map[int]int{}
	for i := 1; i <= covered; i++ {
		hits[i] = 1
	}
	testfixture.WriteTrace(t, filepath.Join(f.build, filepath.FromSlash(p.ExecutionDataPath)), testfixture.Hits{"com/example/Main": hits})
}

func TestNew_RequiresBuildDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, taskgraph.New())
	assert.ErrorIs(t, err, coverage.ErrConfiguration)

	_, err = New(Config{BuildDir: "build"}, nil)
	assert.ErrorIs(t, err, coverage.ErrConfiguration)
}

func TestConfigure_RegistersTasksPerVariant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	all, err := f.orch.Configure([]string{"free", "paid"}, []string{"debug", "release"})
	require.NoError(t, err)
	require.Len(t, all, 4)

	report, ok := f.graph.Task("jacocoPaidReleaseReport")
	require.True(t, ok)
	assert.Equal(t, []string{"testPaidReleaseUnitTest"}, report.DependsOn)
	assert.Equal(t, []string{"jacocoPaidReleaseCoverageReport"}, report.FinalizedBy)
	assert.Equal(t, GroupReporting, report.Group)

	verify, ok := f.graph.Task("jacocoPaidReleaseCoverageReport")
	require.True(t, ok)
	assert.Equal(t, []string{"jacocoPaidReleaseReport"}, verify.DependsOn)
	assert.Contains(t, verify.Description, "0.8")

	assert.Len(t, f.graph.Tasks(), 12)
	assert.Equal(t, []string{
		"jacocoFreeDebugCoverageReport",
		"jacocoFreeReleaseCoverageReport",
		"jacocoPaidDebugCoverageReport",
		"jacocoPaidReleaseCoverageReport",
	}, f.orch.VerificationTasks())

	v := variant.Variant{Flavor: "free", BuildType: "debug"}
	assert.Equal(t, StageRegistered, f.orch.Stage(v))
	h, ok := f.orch.ReportHandle(v)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(f.build, "outputs", "unit_test_code_coverage", "freeDebugUnitTest", "testFreeDebugUnitTest.exec"), h.Inputs.ExecutionData)
	assert.Equal(t, filepath.Join(f.build, "reports", "jacoco", "jacocoFreeDebugReport", "jacocoFreeDebugReport.xml"), h.XMLPath)
}

func TestConfigure_ReturnsConfigurationError_When_TestTaskMissing(t *testing.T) {
	t.Parallel()

	g := taskgraph.New()
	o, err := New(Config{BuildDir: t.TempDir()}, g)
	require.NoError(t, err)

	_, err = o.Configure(nil, []string{"debug"})
	var cfgErr *coverage.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "testDebugUnitTest")
	assert.Empty(t, g.Tasks())
}

func TestConfigure_RegistersNothing_When_NamesCollide(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.orch.Configure([]string{"prod", "Prod"}, []string{"debug", "Debug"})
	require.ErrorIs(t, err, coverage.ErrConfiguration)
	assert.Empty(t, f.graph.Tasks())
	assert.Empty(t, f.orch.Outcomes())
}

func TestConfigure_RejectsZeroBuildTypes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.orch.Configure([]string{"free"}, nil)
	assert.ErrorIs(t, err, coverage.ErrConfiguration)
}

func TestConfigure_Fails_When_ConfiguredTwice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.orch.Configure(nil, []string{"debug"})
	require.NoError(t, err)
	_, err = f.orch.Configure(nil, []string{"debug"})
	assert.ErrorIs(t, err, coverage.ErrConfiguration)
}

func TestRegisterReportTask_RequiresRegisteredTestTask(t *testing.T) {
	t.Parallel()

	g := taskgraph.New()
	o, err := New(Config{BuildDir: t.TempDir()}, g)
	require.NoError(t, err)

	v := variant.Variant{BuildType: "debug"}
	p := variant.DeriveNames(v)
	_, err = o.RegisterReportTask(v, p, coverage.DefaultExclusionSet())
	require.ErrorIs(t, err, coverage.ErrConfiguration)
	assert.Equal(t, StageUnregistered, o.Stage(v))

	require.NoError(t, g.Register(p.TestTaskName, nil, func(context.Context) error { return nil }))
	h, err := o.RegisterReportTask(v, p, coverage.DefaultExclusionSet())
	require.NoError(t, err)
	assert.Equal(t, "jacocoDebugReport", h.Task())
	assert.Equal(t, StageRegistered, o.Stage(v))

	_, err = o.RegisterVerificationTask(variant.Variant{BuildType: "release"}, h, coverage.DefaultRule())
	assert.ErrorIs(t, err, coverage.ErrConfiguration)

	vh, err := o.RegisterVerificationTask(v, h, coverage.DefaultRule())
	require.NoError(t, err)
	assert.Equal(t, "jacocoDebugCoverageReport", vh.Task())
	assert.Same(t, h, vh.Report)
}

func TestRun_PassesAtThresholdAndWritesReports(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.orch.Configure(nil, []string{"debug"})
	require.NoError(t, err)
	p := variant.DeriveNames(variant.Variant{BuildType: "debug"})
	f.writeVariant(t, p, 4)

	res, err := f.graph.Run(context.Background(), p.ReportTaskName)
	require.NoError(t, err)
	assert.Equal(t, taskgraph.TaskCompleted, res.States[p.VerificationTaskName], "finalizer runs with the report")

	v := variant.Variant{BuildType: "debug"}
	assert.Equal(t, StageVerifiedPass, f.orch.Stage(v))
	outcomes := f.orch.Outcomes()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Passed())
	assert.Equal(t, "0.8", outcomes[0].Measured)
	assert.Equal(t, coverage.Counter{Covered: 4, Missed: 1}, outcomes[0].Counter)

	_, err = os.Stat(filepath.Join(f.build, filepath.FromSlash(p.XMLReportPath)))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.build, filepath.FromSlash(p.HTMLReportDir), "index.html"))
	require.NoError(t, err)

	assert.Equal(t, []string{"debug"}, f.rec.generated)
	assert.True(t, f.rec.verified["debug"])
}

func TestRun_IsolatesThresholdFailureToOneVariant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	all, err := f.orch.Configure([]string{"free", "paid"}, []string{"debug"})
	require.NoError(t, err)
	f.writeVariant(t, all[0].Paths, 2)
	f.writeVariant(t, all[1].Paths, 5)

	_, err = f.graph.Run(context.Background(), f.orch.VerificationTasks()...)
	require.Error(t, err)

	var runErr *taskgraph.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, []string{"jacocoFreeDebugCoverageReport"}, runErr.Failed())

	var thr *coverage.CoverageThresholdError
	require.ErrorAs(t, err, &thr)
	assert.Equal(t, "0.4", thr.Measured)
	assert.Equal(t, "0.8", thr.Minimum)
	assert.Contains(t, thr.Error(), "lines covered ratio is 0.4, but expected minimum is 0.8")

	assert.Equal(t, StageVerifiedFail, f.orch.Stage(all[0].Variant))
	assert.Equal(t, StageVerifiedPass, f.orch.Stage(all[1].Variant))
	assert.False(t, f.rec.verified["freeDebug"])
	assert.True(t, f.rec.verified["paidDebug"])
}

func TestRun_ReportsGenerationError_When_TraceMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.orch.Configure(nil, []string{"debug"})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(f.build, 0o755))

	res, err := f.graph.Run(context.Background(), "jacocoDebugCoverageReport")
	require.Error(t, err)

	var rge *coverage.ReportGenerationError
	require.ErrorAs(t, err, &rge)
	assert.Equal(t, "jacocoDebugReport", rge.Task)
	assert.NotErrorIs(t, err, coverage.ErrCoverageThreshold)
	assert.Equal(t, taskgraph.TaskSkipped, res.States["jacocoDebugCoverageReport"])

	v := variant.Variant{BuildType: "debug"}
	assert.Equal(t, StageTestsRun, f.orch.Stage(v))
	oc := f.orch.Outcomes()[0]
	assert.False(t, oc.Passed())
	assert.Contains(t, oc.Error, "execution trace not found")
	assert.Equal(t, []string{"debug"}, f.rec.failed)
}

func TestRun_RecordsFailedTestTaskOnItsVariant(t *testing.T) {
	t.Parallel()

	project := t.TempDir()
	cfg := DefaultConfig(project)
	testErr := errors.New("exit status 3")
	cfg.TestAction = func(d variant.Derived) taskgraph.Action {
		return func(context.Context) error {
			if d.Variant.Flavor == "free" {
				return testErr
			}
			return nil
		}
	}
	g := taskgraph.New(taskgraph.WithConcurrency(2))
	rec := &fakeRecorder{}
	o, err := New(cfg, g, WithRecorder(rec))
	require.NoError(t, err)
	all, err := o.Configure([]string{"free", "paid"}, []string{"debug"})
	require.NoError(t, err)
	f := &fixture{graph: g, orch: o, build: cfg.BuildDir, rec: rec}
	f.writeVariant(t, all[1].Paths, 5)

	res, err := g.Run(context.Background(), o.VerificationTasks()...)
	require.ErrorIs(t, err, testErr)
	assert.Equal(t, taskgraph.TaskSkipped, res.States["jacocoFreeDebugReport"])

	free := o.Outcomes()[0]
	assert.Equal(t, StageTestsRun, free.Stage)
	var rge *coverage.ReportGenerationError
	require.ErrorAs(t, free.Err, &rge)
	assert.Equal(t, "testFreeDebugUnitTest", rge.Task)
	assert.ErrorIs(t, free.Err, testErr)
	assert.Contains(t, free.Error, "exit status 3")
	assert.Equal(t, []string{"freeDebug"}, rec.failed)

	assert.Equal(t, StageVerifiedPass, o.Outcomes()[1].Stage)
}

func TestRun_NamesVerificationTask_When_TraceVanishesAfterReport(t *testing.T) {
	t.Parallel()

	project := t.TempDir()
	cfg := DefaultConfig(project)
	cfg.TestAction = noopTest
	p := variant.DeriveNames(variant.Variant{BuildType: "debug"})
	trace := filepath.Join(cfg.BuildDir, filepath.FromSlash(p.ExecutionDataPath))
	g := taskgraph.New(taskgraph.WithOnEvent(func(e taskgraph.Event) {
		if e.Type == taskgraph.EventTaskCompleted && e.Task == p.ReportTaskName {
			_ = os.Remove(trace)
		}
	}))
	o, err := New(cfg, g)
	require.NoError(t, err)
	_, err = o.Configure(nil, []string{"debug"})
	require.NoError(t, err)
	f := &fixture{graph: g, orch: o, build: cfg.BuildDir}
	f.writeVariant(t, p, 5)

	_, err = g.Run(context.Background(), p.VerificationTaskName)
	require.Error(t, err)

	var rge *coverage.ReportGenerationError
	require.ErrorAs(t, err, &rge)
	assert.Equal(t, "jacocoDebugCoverageReport", rge.Task)
	assert.NotErrorIs(t, err, coverage.ErrCoverageThreshold)

	oc := o.Outcomes()[0]
	assert.Equal(t, StageReportGenerated, oc.Stage)
	assert.Contains(t, oc.Error, "jacocoDebugCoverageReport")
}

func TestRun_RerunRestartsFromTestsRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.orch.Configure(nil, []string{"debug"})
	require.NoError(t, err)
	p := variant.DeriveNames(variant.Variant{BuildType: "debug"})
	v := variant.Variant{BuildType: "debug"}

	f.writeVariant(t, p, 1)
	_, err = f.graph.Run(context.Background(), p.VerificationTaskName)
	require.ErrorIs(t, err, coverage.ErrCoverageThreshold)
	assert.Equal(t, StageVerifiedFail, f.orch.Stage(v))

	f.writeVariant(t, p, 5)
	_, err = f.graph.Run(context.Background(), p.VerificationTaskName)
	require.NoError(t, err)
	assert.Equal(t, StageVerifiedPass, f.orch.Stage(v))
	oc := f.orch.Outcomes()[0]
	assert.Equal(t, "1", oc.Measured)
	assert.Nil(t, oc.Err)
}

func TestRun_CountsOnlyUnexcludedClasses(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.orch.Configure(nil, []string{"debug"})
	require.NoError(t, err)
	p := variant.DeriveNames(variant.Variant{BuildType: "debug"})

	dir := "tmp/kotlin-classes/debug"
	testfixture.WriteClass(t, f.build, dir, "com/example/Main", "Main.kt", 3, 4, 5, 6, 7)
	testfixture.WriteClass(t, f.build, dir, "com/example/di/AppModule", "AppModule.kt", 1, 2)
	testfixture.WriteClass(t, f.build, dir, "com/example/FooFragmentKt", "FooFragment.kt", 1, 2, 3)
	testfixture.WriteTrace(t, filepath.Join(f.build, filepath.FromSlash(p.ExecutionDataPath)), testfixture.Hits{
		"com/example/Main": {3: 1, 4: 1, 5: 1, 6: 1},
	})

	_, err = f.graph.Run(context.Background(), p.VerificationTaskName)
	require.NoError(t, err)
	assert.Equal(t, coverage.Counter{Covered: 4, Missed: 1}, f.orch.Outcomes()[0].Counter)
}

func TestRun_LogsVerificationOutcome(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	f := newFixture(t, WithLogger(zap.New(core)))
	all, err := f.orch.Configure([]string{"free", "paid"}, []string{"debug"})
	require.NoError(t, err)
	f.writeVariant(t, all[0].Paths, 5)
	f.writeVariant(t, all[1].Paths, 0)

	_, err = f.graph.Run(context.Background(), f.orch.VerificationTasks()...)
	require.Error(t, err)

	pass := logs.FilterMessage("coverage rule satisfied").All()
	require.Len(t, pass, 1)
	assert.Equal(t, zap.DebugLevel, pass[0].Level)
	assert.Equal(t, "jacocoFreeDebugCoverageReport", pass[0].ContextMap()["task"])

	fail := logs.FilterMessage("coverage below minimum").All()
	require.Len(t, fail, 1)
	assert.Equal(t, "0", fail[0].ContextMap()["measured"])
}

func TestStage_TransitionsCannotSkipSteps(t *testing.T) {
	t.Parallel()

	assert.True(t, canTransition(StageUnregistered, StageRegistered))
	assert.False(t, canTransition(StageUnregistered, StageTestsRun))
	assert.False(t, canTransition(StageRegistered, StageReportGenerated))
	assert.False(t, canTransition(StageTestsRun, StageVerifiedPass))
	assert.True(t, canTransition(StageReportGenerated, StageVerifiedFail))
	assert.True(t, canTransition(StageVerifiedPass, StageTestsRun))
	assert.True(t, canTransition(StageVerifiedFail, StageTestsRun))
	assert.False(t, canTransition(StageVerifiedPass, StageRegistered))
	assert.Equal(t, "VERIFIED_FAIL", StageVerifiedFail.String())
	assert.True(t, StageVerifiedFail.Verified())
}
