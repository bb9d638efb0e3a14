// covgate generates and enforces line-coverage reports for every build
// variant of a flavored Android-style project.
//
// Usage:
//
//	covgate [flags] variants
//	covgate [flags] tasks
//	covgate [flags] run [task...]
//	covgate merge -o out.exec in.exec...
//	covgate version
//
// Output modes (auto-detected):
//
//	terminal  styled output (default when TTY)
//	llm       terse plain text (default when piped)
//	json      structured JSON for automation
//	sarif     SARIF 2.1.0 log of failing variants for code scanning
//
// Traces at <build>/outputs/unit_test_code_coverage/.../*.exec use covgate's
// own line-oriented format (see package trace), not JaCoCo's binary one.
//
// Exit codes: 0 every selected task succeeded, 1 a report or verification
// failed, 2 usage or configuration error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/dkoosis/covgate/internal/config"
	"github.com/dkoosis/covgate/internal/logging"
	"github.com/dkoosis/covgate/internal/version"
	"github.com/dkoosis/covgate/pkg/coverage"
	"github.com/dkoosis/covgate/pkg/render"
	"github.com/dkoosis/covgate/pkg/trace"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	// Logs and test command output share stderr from many goroutines.
	stderr = &lockedWriter{w: stderr}

	fs := flag.NewFlagSet("covgate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var flags config.CliFlags
	fs.StringVar(&flags.ConfigPath, "config", "", "Path to .covgate.yaml")
	fs.StringVar(&flags.MinRatio, "min-ratio", "", "Minimum covered line ratio in [0,1] (default 0.8)")
	fs.IntVar(&flags.Concurrency, "concurrency", 0, "Maximum tasks run at once (default GOMAXPROCS)")
	fs.StringVar(&flags.Format, "format", config.DefaultFormat, "Output format: auto, terminal, llm, json, sarif")
	fs.StringVar(&flags.Theme, "theme", config.DefaultTheme, "Theme: default, orca, mono")
	fs.StringVar(&flags.MetricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format")
	fs.BoolVar(&flags.TUI, "tui", false, "Show live task progress (TTY only)")
	fs.BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "min-ratio":
			flags.MinRatioSet = true
		case "concurrency":
			flags.ConcurrencySet = true
		case "format":
			flags.FormatSet = true
		case "theme":
			flags.ThemeSet = true
		case "metrics-file":
			flags.MetricsFileSet = true
		case "debug":
			flags.DebugSet = true
		}
	})

	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "covgate: no command given")
		usage(fs)
		return exitUsage
	}
	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]

	switch cmd {
	case "version":
		fmt.Fprint(stdout, version.String())
		return exitOK
	case "merge":
		return runMerge(cmdArgs, stdout, stderr)
	case "variants", "tasks", "run":
	default:
		fmt.Fprintf(stderr, "covgate: unknown command %q\n", cmd)
		usage(fs)
		return exitUsage
	}

	cfg, err := config.ResolveConfig(flags)
	if err != nil {
		fmt.Fprintf(stderr, "covgate: %v\n", err)
		return exitUsage
	}

	runID := uuid.NewString()
	logger := logging.New(cfg.LogLevel, stderr).With(zap.String("run_id", runID))
	defer func() { _ = logger.Sync() }()
	logger.Debug("configuration resolved",
		zap.String("config", cfg.ConfigPath),
		zap.String("project_dir", cfg.ProjectDir),
		zap.String("min_ratio", cfg.Rule.Minimum()),
		zap.String("min_ratio_source", cfg.MinRatioSource),
		zap.String("format", cfg.Format),
		zap.String("format_source", cfg.FormatSource),
	)

	a := &app{
		cfg:      cfg,
		runID:    runID,
		logger:   logger,
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		renderer: selectRenderer(cfg, stdout),
	}

	switch cmd {
	case "variants":
		return a.listVariants()
	case "tasks":
		return a.listTasks()
	default:
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return a.runTasks(ctx, cmdArgs)
	}
}

func usage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintln(w, "Usage: covgate [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  variants        list build variants and their derived task names")
	fmt.Fprintln(w, "  tasks           list registered tasks")
	fmt.Fprintln(w, "  run [task...]   run tasks (default: every coverage verification)")
	fmt.Fprintln(w, "  merge -o OUT IN...  merge execution traces")
	fmt.Fprintln(w, "  version         print version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Execution traces (*.exec) must be covgate traces (header \""+trace.Header+"\"),")
	fmt.Fprintln(w, "not JaCoCo execution data.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}

// exitCodeFor maps an error to the process exit code.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, coverage.ErrConfiguration):
		return exitUsage
	default:
		return exitFailed
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// isTTYWriter reports whether w is a terminal.
func isTTYWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// termWidth returns the terminal width for w, defaulting to 80.
func termWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if tw, _, err := term.GetSize(int(f.Fd())); err == nil && tw > 0 {
			return tw
		}
	}
	return 80
}

func resolveFormat(format string, w io.Writer) string {
	if format != "auto" {
		return format
	}
	// Auto-detect: TTY = terminal, piped = llm
	if isTTYWriter(w) {
		return "terminal"
	}
	return "llm"
}

func selectRenderer(cfg *config.ResolvedConfig, w io.Writer) render.Renderer {
	format := resolveFormat(cfg.Format, w)
	if format == "sarif" {
		// SARIF locations resolve from the project root.
		root, err := filepath.Rel(cfg.ProjectDir, cfg.BuildDir)
		if err != nil {
			root = cfg.BuildDir
		}
		return render.NewSARIF(filepath.ToSlash(root))
	}
	return render.ForFormat(format, render.ThemeByName(cfg.Theme), termWidth(w))
}

// --- covgate merge ---

func runMerge(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("covgate merge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("o", "", "Output trace file (required)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *out == "" || fs.NArg() == 0 {
		fmt.Fprintln(stderr, "Usage: covgate merge -o <out> <trace>...")
		return exitUsage
	}

	merged := trace.New()
	for _, path := range fs.Args() {
		t, err := trace.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "covgate merge: %v\n", err)
			return exitFailed
		}
		merged.Merge(t)
	}
	if err := trace.WriteFile(*out, merged); err != nil {
		fmt.Fprintf(stderr, "covgate merge: writing %s: %v\n", *out, err)
		return exitFailed
	}
	fmt.Fprintf(stdout, "merged %d traces (%d sessions, %d classes) into %s\n",
		fs.NArg(), len(merged.Sessions), len(merged.Classes()), *out)
	return exitOK
}
