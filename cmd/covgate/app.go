package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/dkoosis/covgate/internal/config"
	"github.com/dkoosis/covgate/internal/metrics"
	"github.com/dkoosis/covgate/internal/taskgraph"
	"github.com/dkoosis/covgate/internal/tui"
	"github.com/dkoosis/covgate/pkg/orchestrator"
	"github.com/dkoosis/covgate/pkg/render"
	"github.com/dkoosis/covgate/pkg/variant"
)

// app holds what one CLI invocation shares across commands.
type app struct {
	cfg      *config.ResolvedConfig
	runID    string
	logger   *zap.Logger
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	renderer render.Renderer

	// sink receives events and output lines while the live view is shown.
	sink *tui.Sink
}

// project is a configured graph with every variant's pipeline registered.
type project struct {
	graph    *taskgraph.Graph
	orch     *orchestrator.Orchestrator
	variants []variant.Derived
	metrics  *metrics.Metrics
}

func (a *app) setup() (*project, error) {
	m := metrics.New()
	g := taskgraph.New(
		taskgraph.WithConcurrency(a.cfg.Concurrency),
		taskgraph.WithLogger(a.logger),
		taskgraph.WithOnEvent(func(e taskgraph.Event) {
			m.ObserveEvent(e)
			if a.sink != nil {
				a.sink.Event(e)
			}
		}),
	)
	orch, err := orchestrator.New(orchestrator.Config{
		BuildDir:   a.cfg.BuildDir,
		SourceDirs: a.cfg.SourceDirs,
		Exclusions: a.cfg.Exclusions,
		Rule:       a.cfg.Rule,
		XML:        a.cfg.XML,
		HTML:       a.cfg.HTML,
		TestAction: a.testAction,
	}, g, orchestrator.WithLogger(a.logger), orchestrator.WithRecorder(m))
	if err != nil {
		return nil, err
	}
	vs, err := orch.Configure(a.cfg.Flavors, a.cfg.BuildTypes)
	if err != nil {
		return nil, err
	}
	return &project{graph: g, orch: orch, variants: vs, metrics: m}, nil
}

func (a *app) fail(err error) int {
	fmt.Fprintf(a.stderr, "covgate: %v\n", err)
	return exitCodeFor(err)
}

func (a *app) listVariants() int {
	p, err := a.setup()
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprint(a.stdout, a.renderer.Variants(p.variants))
	return exitOK
}

func (a *app) listTasks() int {
	p, err := a.setup()
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprint(a.stdout, a.renderer.Tasks(p.graph.Tasks()))
	return exitOK
}

func (a *app) runTasks(ctx context.Context, targets []string) int {
	p, err := a.setup()
	if err != nil {
		return a.fail(err)
	}
	if len(targets) == 0 {
		targets = p.orch.VerificationTasks()
	}
	for _, t := range targets {
		if !p.graph.Has(t) {
			fmt.Fprintf(a.stderr, "covgate: unknown task %q (see 'covgate tasks')\n", t)
			return exitUsage
		}
	}
	if len(targets) == 0 {
		fmt.Fprint(a.stdout, a.renderer.Render(render.Report{RunID: a.runID, Minimum: a.cfg.Rule.Minimum()}))
		return exitOK
	}

	a.logger.Info("coverage run started", zap.Strings("targets", targets), zap.Int("variants", len(p.variants)))
	started := time.Now()
	var res *taskgraph.Result
	execute := func(ctx context.Context) error {
		var err error
		res, err = p.graph.Run(ctx, targets...)
		return err
	}

	if a.cfg.TUI && isTTYWriter(a.stdout) {
		err = tui.Run(ctx, p.graph.Tasks(), render.ThemeByName(a.cfg.Theme), a.stdin, a.stdout,
			func(ctx context.Context, s tui.Sink) error {
				a.sink = &s
				defer func() { a.sink = nil }()
				return execute(ctx)
			})
	} else {
		err = execute(ctx)
	}

	report := render.Report{
		RunID:    a.runID,
		Minimum:  a.cfg.Rule.Minimum(),
		Outcomes: selectedOutcomes(p.orch.Outcomes(), res),
		Duration: time.Since(started),
	}
	fmt.Fprint(a.stdout, a.renderer.Render(report))

	if a.cfg.MetricsFile != "" {
		if werr := p.metrics.WriteTextfile(a.cfg.MetricsFile); werr != nil {
			a.logger.Error("writing metrics", zap.String("path", a.cfg.MetricsFile), zap.Error(werr))
		}
	}

	code := exitCodeFor(err)
	var runErr *taskgraph.RunError
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(a.stderr, "covgate: interrupted")
	case errors.As(err, &runErr):
		// failures are already in the report
	case err != nil:
		fmt.Fprintf(a.stderr, "covgate: %v\n", err)
	}
	a.logger.Info("coverage run finished",
		zap.Bool("passed", err == nil),
		zap.Int("exit_code", code),
		zap.Duration("duration", report.Duration),
	)
	return code
}

// selectedOutcomes keeps variants with a task in the run.
func selectedOutcomes(all []orchestrator.Outcome, res *taskgraph.Result) []orchestrator.Outcome {
	if res == nil {
		return all
	}
	out := make([]orchestrator.Outcome, 0, len(all))
	for _, o := range all {
		_, rep := res.States[o.Paths.ReportTaskName]
		_, ver := res.States[o.Paths.VerificationTaskName]
		if rep || ver {
			out = append(out, o)
		}
	}
	return out
}
