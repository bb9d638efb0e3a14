// Package orchestrator puts one coverage report task and one verification
// task per build variant onto a task graph and tracks each variant's
// pipeline from registration to its verdict.
//
// Report and verification of a variant share one input selection, so the
// ratio a verification checks is the ratio its report shows. Variants never
// share state: a failing variant leaves its siblings untouched.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dkoosis/covgate/internal/taskgraph"
	"github.com/dkoosis/covgate/pkg/coverage"
	"github.com/dkoosis/covgate/pkg/report"
	"github.com/dkoosis/covgate/pkg/variant"
)

// Task groups shown by task listings.
const (
	GroupVerification = "verification"
	GroupReporting    = "reporting"
)

// Registry is the task graph the orchestrator registers onto.
type Registry interface {
	RegisterTask(info taskgraph.TaskInfo, action taskgraph.Action) error
	Has(name string) bool
	FinalizedBy(task, finalizer string) error
}

// Recorder observes pipeline results, typically for metrics.
type Recorder interface {
	ReportGenerated(variant string, c coverage.Counter, d time.Duration)
	ReportFailed(variant string)
	Verified(variant string, passed bool, ratio, minimum float64)
}

// Config is the project layout and policy shared by every variant.
type Config struct {
	BuildDir   string   // absolute; every derived path is relative to it
	SourceDirs []string // absolute source roots for the HTML report
	Exclusions coverage.ExclusionSet
	Rule       coverage.Rule
	XML        bool
	HTML       bool

	// TestAction, when set, lets Configure register a test task for each
	// variant whose test task is not already registered.
	TestAction func(variant.Derived) taskgraph.Action
}

// DefaultConfig returns the conventional layout for projectDir.
func DefaultConfig(projectDir string) Config {
	return Config{
		BuildDir: filepath.Join(projectDir, "build"),
		SourceDirs: []string{
			filepath.Join(projectDir, "src", "main", "java"),
			filepath.Join(projectDir, "src", "main", "kotlin"),
		},
		Exclusions: coverage.DefaultExclusionSet(),
		Rule:       coverage.DefaultRule(),
		XML:        true,
		HTML:       true,
	}
}

// ReportTaskHandle identifies a registered report task and the exact inputs
// it reports on.
type ReportTaskHandle struct {
	Variant variant.Variant
	Paths   variant.Paths
	Inputs  coverage.Inputs
	XMLPath string // absolute, empty when disabled
	HTMLDir string // absolute, empty when disabled
}

// Task returns the report task name.
func (h *ReportTaskHandle) Task() string { return h.Paths.ReportTaskName }

// VerificationTaskHandle identifies a registered verification task.
type VerificationTaskHandle struct {
	Variant variant.Variant
	Paths   variant.Paths
	Report  *ReportTaskHandle
	Rule    coverage.Rule
}

// Task returns the verification task name.
func (h *VerificationTaskHandle) Task() string { return h.Paths.VerificationTaskName }

// Outcome is the latest state of one variant's pipeline.
type Outcome struct {
	Variant  variant.Variant  `json:"variant"`
	Paths    variant.Paths    `json:"paths"`
	Stage    Stage            `json:"stage"`
	Counter  coverage.Counter `json:"counter"`
	Measured string           `json:"measured,omitempty"`
	Minimum  string           `json:"minimum"`
	Err      error            `json:"-"`
	Error    string           `json:"error,omitempty"`
}

// Passed reports whether the variant's verification succeeded.
func (o Outcome) Passed() bool { return o.Stage == StageVerifiedPass }

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets a result observer.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

type entry struct {
	paths    variant.Paths
	stage    Stage
	report   *ReportTaskHandle
	verify   *VerificationTaskHandle
	counter  coverage.Counter
	measured string
	err      error
}

// Orchestrator registers and tracks coverage pipelines. It is safe for
// concurrent use; task actions run on the graph's goroutines.
type Orchestrator struct {
	cfg      Config
	reg      Registry
	logger   *zap.Logger
	recorder Recorder

	mu      sync.Mutex
	entries map[variant.Variant]*entry
	order   []variant.Variant
}

// New validates cfg and returns an orchestrator registering onto reg.
func New(cfg Config, reg Registry, opts ...Option) (*Orchestrator, error) {
	if reg == nil {
		return nil, coverage.Configf("task registry is required")
	}
	if cfg.BuildDir == "" {
		return nil, coverage.Configf("build directory is required")
	}
	if cfg.Rule.Minimum() == "" {
		cfg.Rule = coverage.DefaultRule()
	}
	o := &Orchestrator{
		cfg:     cfg,
		reg:     reg,
		logger:  zap.NewNop(),
		entries: make(map[variant.Variant]*entry),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Configure enumerates every variant of flavors x buildTypes and registers
// its report and verification tasks. All names are derived and checked
// before anything is registered, so a configuration error leaves the
// registry untouched.
func (o *Orchestrator) Configure(flavors, buildTypes []string) ([]variant.Derived, error) {
	vs, err := variant.Enumerate(flavors, buildTypes)
	if err != nil {
		return nil, err
	}
	all, err := variant.DeriveAll(vs)
	if err != nil {
		return nil, err
	}

	for _, d := range all {
		if o.cfg.TestAction == nil && !o.reg.Has(d.Paths.TestTaskName) {
			return nil, coverage.Configf("variant %s: test task %q is not registered", d.Variant, d.Paths.TestTaskName)
		}
		for _, name := range []string{d.Paths.ReportTaskName, d.Paths.VerificationTaskName} {
			if o.reg.Has(name) {
				return nil, coverage.Configf("variant %s: task %q is already registered", d.Variant, name)
			}
		}
	}

	for _, d := range all {
		if o.cfg.TestAction != nil && !o.reg.Has(d.Paths.TestTaskName) {
			info := taskgraph.TaskInfo{
				Name:        d.Paths.TestTaskName,
				Group:       GroupVerification,
				Description: fmt.Sprintf("Runs unit tests for %s with coverage.", d.Variant),
			}
			if err := o.reg.RegisterTask(info, o.testAction(d, o.cfg.TestAction(d))); err != nil {
				return nil, &coverage.ConfigurationError{Msg: "registering " + d.Paths.TestTaskName, Err: err}
			}
		}
		h, err := o.RegisterReportTask(d.Variant, d.Paths, o.cfg.Exclusions)
		if err != nil {
			return nil, err
		}
		if _, err := o.RegisterVerificationTask(d.Variant, h, o.cfg.Rule); err != nil {
			return nil, err
		}
	}

	o.logger.Info("coverage variants configured",
		zap.Int("variants", len(all)),
		zap.Int("exclusions", o.cfg.Exclusions.Len()),
		zap.String("minimum", o.cfg.Rule.Minimum()))
	return all, nil
}

// RegisterReportTask declares the report task of v, depending on the
// variant's test task. The test task must already be registered.
func (o *Orchestrator) RegisterReportTask(v variant.Variant, paths variant.Paths, exclusions coverage.ExclusionSet) (*ReportTaskHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if e, ok := o.entries[v]; ok && e.report != nil {
		return nil, coverage.Configf("variant %s: report task already registered", v)
	}
	if !o.reg.Has(paths.TestTaskName) {
		return nil, coverage.Configf("variant %s: test task %q is not registered", v, paths.TestTaskName)
	}

	h := &ReportTaskHandle{
		Variant: v,
		Paths:   paths,
		Inputs: coverage.Inputs{
			Task:          paths.ReportTaskName,
			BuildDir:      o.cfg.BuildDir,
			Includes:      append([]string(nil), paths.ClassOutputGlobs...),
			Exclusions:    exclusions,
			ExecutionData: o.buildPath(paths.ExecutionDataPath),
			SourceDirs:    append([]string(nil), o.cfg.SourceDirs...),
		},
	}
	if o.cfg.XML {
		h.XMLPath = o.buildPath(paths.XMLReportPath)
	}
	if o.cfg.HTML {
		h.HTMLDir = o.buildPath(paths.HTMLReportDir)
	}

	info := taskgraph.TaskInfo{
		Name:        paths.ReportTaskName,
		Group:       GroupReporting,
		Description: fmt.Sprintf("Generates the coverage report for %s.", v),
		DependsOn:   []string{paths.TestTaskName},
	}
	if err := o.reg.RegisterTask(info, o.reportAction(h)); err != nil {
		return nil, &coverage.ConfigurationError{Msg: "registering " + paths.ReportTaskName, Err: err}
	}

	o.entries[v] = &entry{paths: paths, stage: StageRegistered, report: h}
	o.order = append(o.order, v)
	return h, nil
}

// RegisterVerificationTask declares the verification task of v. It depends
// on the report task and finalizes it, so running the report also verifies.
func (o *Orchestrator) RegisterVerificationTask(v variant.Variant, rh *ReportTaskHandle, rule coverage.Rule) (*VerificationTaskHandle, error) {
	if rh == nil {
		return nil, coverage.Configf("variant %s: report handle is required", v)
	}
	if rh.Variant != v {
		return nil, coverage.Configf("variant %s: report handle belongs to %s", v, rh.Variant)
	}
	if rule.Minimum() == "" {
		rule = coverage.DefaultRule()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.entries[v]
	if !ok || e.report != rh {
		return nil, coverage.Configf("variant %s: report task %q was not registered here", v, rh.Task())
	}
	if e.verify != nil {
		return nil, coverage.Configf("variant %s: verification task already registered", v)
	}

	h := &VerificationTaskHandle{Variant: v, Paths: rh.Paths, Report: rh, Rule: rule}
	info := taskgraph.TaskInfo{
		Name:        rh.Paths.VerificationTaskName,
		Group:       GroupVerification,
		Description: fmt.Sprintf("Verifies %s line coverage is at least %s.", v, rule.Minimum()),
		DependsOn:   []string{rh.Task()},
	}
	if err := o.reg.RegisterTask(info, o.verifyAction(h)); err != nil {
		return nil, &coverage.ConfigurationError{Msg: "registering " + h.Task(), Err: err}
	}
	if err := o.reg.FinalizedBy(rh.Task(), h.Task()); err != nil {
		return nil, &coverage.ConfigurationError{Msg: "finalizing " + rh.Task(), Err: err}
	}
	e.verify = h
	return h, nil
}

func (o *Orchestrator) buildPath(rel string) string {
	return filepath.Join(o.cfg.BuildDir, filepath.FromSlash(rel))
}

// testAction wraps a test task registered by Configure. A failed test run is
// recorded on its variant as a ReportGenerationError naming the test task,
// since the report that follows it cannot run.
func (o *Orchestrator) testAction(d variant.Derived, run taskgraph.Action) taskgraph.Action {
	return func(ctx context.Context) error {
		err := run(ctx)
		if err == nil || ctx.Err() != nil {
			return err
		}
		rge := &coverage.ReportGenerationError{Task: d.Paths.TestTaskName, Err: err}
		if aerr := o.advance(d.Variant, StageTestsRun, func(e *entry) { e.err = rge }); aerr != nil {
			return errors.Join(err, aerr)
		}
		if o.recorder != nil {
			o.recorder.ReportFailed(d.Paths.Name)
		}
		o.logger.Error("test task failed",
			zap.String("task", d.Paths.TestTaskName),
			zap.String("variant", d.Variant.String()),
			zap.Error(err))
		return err
	}
}

func (o *Orchestrator) reportAction(h *ReportTaskHandle) taskgraph.Action {
	return func(ctx context.Context) error {
		start := time.Now()
		if err := o.advance(h.Variant, StageTestsRun, nil); err != nil {
			return err
		}
		log := o.logger.With(zap.String("task", h.Task()), zap.String("variant", h.Variant.String()))

		b, err := coverage.Analyze(ctx, h.Paths.Name, h.Inputs)
		if err == nil {
			req := report.Request{XMLPath: h.XMLPath, HTMLDir: h.HTMLDir, SourceDirs: h.Inputs.SourceDirs}
			if werr := report.Write(b, req); werr != nil {
				err = &coverage.ReportGenerationError{Task: h.Task(), Err: werr}
			}
		}
		if err != nil {
			o.record(h.Variant, func(e *entry) { e.err = err })
			if o.recorder != nil {
				o.recorder.ReportFailed(h.Paths.Name)
			}
			log.Error("coverage report failed", zap.Error(err))
			return err
		}

		if err := o.advance(h.Variant, StageReportGenerated, func(e *entry) { e.counter = b.Counter }); err != nil {
			return err
		}
		if o.recorder != nil {
			o.recorder.ReportGenerated(h.Paths.Name, b.Counter, time.Since(start))
		}
		log.Info("coverage report generated",
			zap.Int("classes", b.Classes()),
			zap.Int("covered", b.Counter.Covered),
			zap.Int("missed", b.Counter.Missed),
			zap.String("xml", h.XMLPath),
			zap.String("html", h.HTMLDir))
		return nil
	}
}

func (o *Orchestrator) verifyAction(h *VerificationTaskHandle) taskgraph.Action {
	return func(ctx context.Context) error {
		log := o.logger.With(zap.String("task", h.Task()), zap.String("variant", h.Variant.String()))

		// Same selection as the report, but errors name this task.
		in := h.Report.Inputs
		in.Task = h.Task()
		b, err := coverage.Verify(ctx, h.Paths.Name, in, h.Rule)
		if b == nil {
			o.record(h.Variant, func(e *entry) { e.err = err })
			log.Error("coverage verification could not measure", zap.Error(err))
			return err
		}

		ratio, _ := b.Counter.Ratio()
		measured := coverage.FormatRatio(ratio)
		passed := err == nil
		to := StageVerifiedPass
		if !passed {
			to = StageVerifiedFail
		}
		if aerr := o.advance(h.Variant, to, func(e *entry) {
			e.counter = b.Counter
			e.measured = measured
			e.err = err
		}); aerr != nil {
			return aerr
		}
		if o.recorder != nil {
			o.recorder.Verified(h.Paths.Name, passed, b.Counter.Float(), h.Rule.MinimumFloat())
		}

		var thr *coverage.CoverageThresholdError
		if errors.As(err, &thr) {
			log.Warn("coverage below minimum", zap.String("measured", measured), zap.String("minimum", h.Rule.Minimum()))
			return err
		}
		if err != nil {
			return err
		}
		log.Debug("coverage rule satisfied", zap.String("measured", measured), zap.String("minimum", h.Rule.Minimum()))
		return nil
	}
}

// advance moves v to stage to and applies update under the lock. Entering
// TestsRun clears results of any previous run.
func (o *Orchestrator) advance(v variant.Variant, to Stage, update func(*entry)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[v]
	if !ok {
		return fmt.Errorf("variant %s: not registered", v)
	}
	if !canTransition(e.stage, to) {
		return fmt.Errorf("variant %s: invalid stage transition %s -> %s", v, e.stage, to)
	}
	e.stage = to
	if to == StageTestsRun {
		e.counter = coverage.Counter{}
		e.measured = ""
		e.err = nil
	}
	if update != nil {
		update(e)
	}
	return nil
}

func (o *Orchestrator) record(v variant.Variant, update func(*entry)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entries[v]; ok {
		update(e)
	}
}

// Stage returns the current stage of v.
func (o *Orchestrator) Stage(v variant.Variant) Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entries[v]; ok {
		return e.stage
	}
	return StageUnregistered
}

// ReportHandle returns the report handle registered for v.
func (o *Orchestrator) ReportHandle(v variant.Variant) (*ReportTaskHandle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[v]
	if !ok {
		return nil, false
	}
	return e.report, true
}

// VerificationTasks returns every verification task name in registration
// order.
func (o *Orchestrator) VerificationTasks() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.order))
	for _, v := range o.order {
		if e := o.entries[v]; e.verify != nil {
			out = append(out, e.verify.Task())
		}
	}
	return out
}

// Outcomes returns the state of every registered variant in registration
// order.
func (o *Orchestrator) Outcomes() []Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Outcome, 0, len(o.order))
	for _, v := range o.order {
		e := o.entries[v]
		minimum := o.cfg.Rule.Minimum()
		if e.verify != nil {
			minimum = e.verify.Rule.Minimum()
		}
		oc := Outcome{
			Variant:  v,
			Paths:    e.paths,
			Stage:    e.stage,
			Counter:  e.counter,
			Measured: e.measured,
			Minimum:  minimum,
			Err:      e.err,
		}
		if e.err != nil {
			oc.Error = e.err.Error()
		}
		out = append(out, oc)
	}
	return out
}
