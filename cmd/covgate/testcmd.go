package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dkoosis/covgate/internal/taskgraph"
	"github.com/dkoosis/covgate/pkg/variant"
)

// testAction returns the action registered as d's test task. Without a
// configured command the task only marks the point after which the trace is
// expected to exist.
func (a *app) testAction(d variant.Derived) taskgraph.Action {
	if len(a.cfg.TestCommand) == 0 {
		return func(context.Context) error { return nil }
	}
	vars := a.placeholders(d)
	return func(ctx context.Context) error {
		argv := expandAll(a.cfg.TestCommand, vars)
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = a.cfg.TestDir
		cmd.Env = append(os.Environ(), expandAll(a.cfg.TestEnv, vars)...)
		cmd.Env = append(cmd.Env,
			"COVGATE_RUN_ID="+a.runID,
			"COVGATE_VARIANT="+d.Paths.Name,
			"COVGATE_EXEC_FILE="+vars["execFile"],
		)
		out := &lineWriter{emit: a.lineSink(d.Paths.TestTaskName)}
		cmd.Stdout, cmd.Stderr = out, out

		a.logger.Debug("running test command", zap.String("task", d.Paths.TestTaskName), zap.Strings("argv", argv))
		err := cmd.Run()
		out.Flush()
		if err != nil {
			return fmt.Errorf("test command for %s: %w", d.Paths.Name, err)
		}
		return nil
	}
}

func (a *app) placeholders(d variant.Derived) map[string]string {
	return map[string]string{
		"testTask":  d.Paths.TestTaskName,
		"flavor":    d.Variant.Flavor,
		"buildType": d.Variant.BuildType,
		"variant":   d.Paths.Name,
		"execFile":  filepath.Join(a.cfg.BuildDir, filepath.FromSlash(d.Paths.ExecutionDataPath)),
		"runId":     a.runID,
	}
}

// lineSink routes a test task's output to the live view when shown,
// otherwise to stderr prefixed with the task name.
func (a *app) lineSink(task string) func(string) {
	return func(line string) {
		if s := a.sink; s != nil {
			s.Line(task, line)
			return
		}
		fmt.Fprintf(a.stderr, "[%s] %s\n", task, line)
	}
}

// expandAll replaces {name} placeholders in every argument.
func expandAll(args []string, vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = r.Replace(arg)
	}
	return out
}

// lineWriter splits written bytes into lines.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(strings.TrimRight(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}
