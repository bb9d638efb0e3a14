// Package tui shows live task progress for a covgate run.
//
// The model is fed by a Sink: the task graph's event observer and the test
// command's output both go through it, so the view never polls.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dkoosis/covgate/internal/taskgraph"
	"github.com/dkoosis/covgate/pkg/render"
)

const maxOutputLines = 5000

// EventMsg carries a task graph event.
type EventMsg taskgraph.Event

// OutputMsg carries one line of a task's output.
type OutputMsg struct {
	Task string
	Line string
}

// DoneMsg ends the run. The program quits after rendering the final state.
type DoneMsg struct {
	Err error
}

type row struct {
	info     taskgraph.TaskInfo
	state    taskgraph.TaskState
	started  time.Time
	duration time.Duration
	err      error
	output   []string
}

// Model is the bubbletea model for the live view.
type Model struct {
	rows     []*row
	index    map[string]int
	selected int
	theme    render.Theme
	spinner  spinner.Model
	viewport viewport.Model
	cancel   context.CancelFunc
	width    int
	height   int
	ready    bool
	done     bool
	err      error
}

// NewModel creates a model listing tasks in the given order.
func NewModel(tasks []taskgraph.TaskInfo, theme render.Theme, cancel context.CancelFunc) Model {
	m := Model{
		index:    make(map[string]int, len(tasks)),
		theme:    theme,
		spinner:  spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(theme.Primary)),
		viewport: viewport.New(0, 0),
		cancel:   cancel,
	}
	for _, t := range tasks {
		m.index[t.Name] = len(m.rows)
		m.rows = append(m.rows, &row{info: t, state: taskgraph.TaskPending})
	}
	return m
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles input, window changes and run progress.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
		case "q":
			if m.done {
				return m, tea.Quit
			}
		case "up", "k":
			if m.selected > 0 {
				m.selected--
				m.refreshViewport()
			}
		case "down", "j":
			if m.selected < len(m.rows)-1 {
				m.selected++
				m.refreshViewport()
			}
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = max(msg.Width-4, 20)
		m.viewport.Height = max(msg.Height-len(m.rows)-8, 3)
		m.ready = true
		m.refreshViewport()
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case EventMsg:
		m.apply(taskgraph.Event(msg))
	case OutputMsg:
		r := m.row(msg.Task, "")
		r.output = append(r.output, msg.Line)
		if len(r.output) > maxOutputLines {
			r.output = r.output[len(r.output)-maxOutputLines:]
		}
		if m.rows[m.selected] == r {
			m.refreshViewport()
		}
	case DoneMsg:
		m.done, m.err = true, msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) apply(e taskgraph.Event) {
	r := m.row(e.Task, e.Group)
	switch e.Type {
	case taskgraph.EventTaskStarted:
		r.state, r.started = taskgraph.TaskRunning, e.When
		// follow the newest running task until the user moves
		if m.rows[m.selected].state != taskgraph.TaskRunning {
			m.selected = m.index[e.Task]
		}
	case taskgraph.EventTaskCompleted:
		r.state, r.duration = taskgraph.TaskCompleted, e.Duration
	case taskgraph.EventTaskFailed:
		r.state, r.duration, r.err = taskgraph.TaskFailed, e.Duration, e.Err
	case taskgraph.EventTaskSkipped:
		r.state, r.err = taskgraph.TaskSkipped, e.Err
	}
	m.refreshViewport()
}

// row returns the row for name, appending one for tasks not listed up front.
func (m *Model) row(name, group string) *row {
	if i, ok := m.index[name]; ok {
		return m.rows[i]
	}
	m.index[name] = len(m.rows)
	r := &row{info: taskgraph.TaskInfo{Name: name, Group: group}, state: taskgraph.TaskPending}
	m.rows = append(m.rows, r)
	return r
}

func (m *Model) refreshViewport() {
	if m.selected < 0 || m.selected >= len(m.rows) {
		return
	}
	r := m.rows[m.selected]
	var b strings.Builder
	if r.err != nil {
		b.WriteString(m.theme.Error.Render(r.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(strings.Join(r.output, "\n"))
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

// View renders the task list and the selected task's output.
func (m Model) View() string {
	var lines []string
	title := "covgate"
	if m.done {
		title += " " + m.summary()
	}
	lines = append(lines, m.theme.Bold.Render(title), "")

	for i, r := range m.rows {
		cursor := "  "
		if i == m.selected {
			cursor = m.theme.Primary.Render("▸ ")
		}
		line := cursor + m.icon(r) + " " + r.info.Name
		if d := r.elapsed(); d > 0 {
			line += m.theme.Muted.Render(" " + formatDuration(d))
		}
		lines = append(lines, line)
	}

	if m.ready && len(m.rows) > 0 {
		sel := m.rows[m.selected]
		header := m.theme.Muted.Render(fmt.Sprintf("%s %s %s", sel.info.Name, m.theme.Icons.Bullet, strings.ToLower(string(sel.state))))
		lines = append(lines, "", header, m.viewport.View())
	}

	help := "↑/↓ navigate • ctrl+c cancel"
	if m.done {
		help = "↑/↓ navigate • q quit"
	}
	lines = append(lines, "", m.theme.Muted.Render(help))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) icon(r *row) string {
	switch r.state {
	case taskgraph.TaskRunning:
		return m.spinner.View()
	case taskgraph.TaskCompleted:
		return m.theme.Success.Render(m.theme.Icons.Pass)
	case taskgraph.TaskFailed:
		return m.theme.Error.Render(m.theme.Icons.Fail)
	case taskgraph.TaskSkipped:
		return m.theme.Muted.Render(m.theme.Icons.Bullet)
	default:
		return m.theme.Muted.Render(m.theme.Icons.Pending)
	}
}

func (m Model) summary() string {
	var completed, failed, skipped int
	for _, r := range m.rows {
		switch r.state {
		case taskgraph.TaskCompleted:
			completed++
		case taskgraph.TaskFailed:
			failed++
		case taskgraph.TaskSkipped:
			skipped++
		}
	}
	return fmt.Sprintf("%d completed, %d failed, %d skipped", completed, failed, skipped)
}

// Err is the error the run ended with.
func (m Model) Err() error { return m.err }

// State returns a task's displayed state.
func (m Model) State(task string) (taskgraph.TaskState, bool) {
	i, ok := m.index[task]
	if !ok {
		return "", false
	}
	return m.rows[i].state, true
}

// Selected returns the name of the highlighted task.
func (m Model) Selected() string {
	if len(m.rows) == 0 {
		return ""
	}
	return m.rows[m.selected].info.Name
}

func (r *row) elapsed() time.Duration {
	if r.duration > 0 {
		return r.duration
	}
	if r.state == taskgraph.TaskRunning && !r.started.IsZero() {
		return time.Since(r.started)
	}
	return 0
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Round(100*time.Millisecond).Seconds())
}

// Sink forwards run progress to a running program.
type Sink struct {
	p *tea.Program
}

// Event forwards a task graph event. Safe for use as a graph observer.
func (s Sink) Event(e taskgraph.Event) { s.p.Send(EventMsg(e)) }

// Line forwards one line of a task's output.
func (s Sink) Line(task, line string) { s.p.Send(OutputMsg{Task: task, Line: line}) }

// Run shows live progress while work runs and returns work's error. Closing
// the view with ctrl+c cancels the context passed to work.
func Run(ctx context.Context, tasks []taskgraph.TaskInfo, theme render.Theme, in io.Reader, out io.Writer,
	work func(ctx context.Context, s Sink) error,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []tea.ProgramOption{tea.WithOutput(out), tea.WithContext(ctx)}
	if in != nil {
		opts = append(opts, tea.WithInput(in))
	}
	p := tea.NewProgram(NewModel(tasks, theme, cancel), opts...)

	errc := make(chan error, 1)
	go func() {
		err := work(ctx, Sink{p: p})
		errc <- err
		p.Send(DoneMsg{Err: err})
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		// The view failed; the work keeps its own error.
		cancel()
		<-errc
		return fmt.Errorf("live view: %w", err)
	}
	cancel()
	return <-errc
}
