package render

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dkoosis/covgate/internal/taskgraph"
	"github.com/dkoosis/covgate/pkg/orchestrator"
	"github.com/dkoosis/covgate/pkg/variant"
	"github.com/mattn/go-runewidth"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const barWidth = 10

// Terminal renders results as styled terminal output via lipgloss.
type Terminal struct {
	theme   Theme
	width   int
	printer *message.Printer
}

// NewTerminal creates a terminal renderer with the given theme.
func NewTerminal(theme Theme, width int) *Terminal {
	if width <= 0 {
		width = 80
	}
	return &Terminal{theme: theme, width: width, printer: message.NewPrinter(language.English)}
}

// Render formats a run result for terminal display.
func (t *Terminal) Render(r Report) string {
	var sb strings.Builder

	header := "Coverage"
	meta := []string{"minimum " + r.Minimum}
	if r.RunID != "" {
		meta = append(meta, "run "+shortID(r.RunID))
	}
	if r.Duration > 0 {
		meta = append(meta, r.Duration.Round(10*time.Millisecond).String())
	}
	sb.WriteString(t.theme.Bold.Render(header))
	sb.WriteString("  ")
	sb.WriteString(t.theme.Muted.Render(strings.Join(meta, " "+t.theme.Icons.Bullet+" ")))
	sb.WriteString("\n")

	outcomes := sorted(r.Outcomes)
	nameWidth := 0
	for _, o := range outcomes {
		nameWidth = max(nameWidth, runewidth.StringWidth(o.Paths.Name))
	}

	for _, o := range outcomes {
		status := Status(o)
		icon, style := t.theme.icon(status)
		sb.WriteString("  ")
		sb.WriteString(style.Render(icon))
		sb.WriteString(" ")
		sb.WriteString(runewidth.FillRight(o.Paths.Name, nameWidth))
		sb.WriteString("  ")
		sb.WriteString(t.bar(o, style))
		sb.WriteString(" ")
		sb.WriteString(runewidth.FillLeft(percent(o), 6))
		sb.WriteString("  ")
		sb.WriteString(t.theme.Muted.Render(t.lines(o)))
		sb.WriteString("  ")
		sb.WriteString(style.Render(stageLabel(o.Stage)))
		sb.WriteString("\n")

		if status == StatusFail || status == StatusError {
			msg := firstLine(errorText(o))
			if msg != "" {
				sb.WriteString("      ")
				sb.WriteString(style.Render(runewidth.Truncate(msg, max(t.width-6, 20), "…")))
				sb.WriteString("\n")
			}
		}
	}

	sb.WriteString(t.summary(r.Tally()))
	return sb.String()
}

func (t *Terminal) bar(o orchestrator.Outcome, style lipgloss.Style) string {
	if o.Counter.Total() == 0 {
		return t.theme.Muted.Render(strings.Repeat(t.theme.Bar.Empty, barWidth))
	}
	filled := int(math.Round(o.Counter.Float() * barWidth))
	return style.Render(strings.Repeat(t.theme.Bar.Full, filled)) +
		t.theme.Muted.Render(strings.Repeat(t.theme.Bar.Empty, barWidth-filled))
}

func (t *Terminal) lines(o orchestrator.Outcome) string {
	return t.printer.Sprintf("%d/%d lines", o.Counter.Covered, o.Counter.Total())
}

func (t *Terminal) summary(tally Tally) string {
	var parts []string
	if tally.Pass > 0 {
		parts = append(parts, t.theme.Success.Render(fmt.Sprintf("%d passed", tally.Pass)))
	}
	if tally.Fail > 0 {
		parts = append(parts, t.theme.Error.Render(fmt.Sprintf("%d failed", tally.Fail)))
	}
	if tally.Error > 0 {
		parts = append(parts, t.theme.Warning.Render(fmt.Sprintf("%d errored", tally.Error)))
	}
	if tally.Pending > 0 {
		parts = append(parts, t.theme.Muted.Render(fmt.Sprintf("%d not run", tally.Pending)))
	}
	if len(parts) == 0 {
		return t.theme.Muted.Render("no variants") + "\n"
	}
	return strings.Join(parts, ", ") + "\n"
}

// Variants lists configured variants with their derived names.
func (t *Terminal) Variants(vs []variant.Derived) string {
	var sb strings.Builder
	sb.WriteString(t.theme.Bold.Render(fmt.Sprintf("Variants (%d)", len(vs))))
	sb.WriteString("\n")
	nameWidth := 0
	for _, d := range vs {
		nameWidth = max(nameWidth, runewidth.StringWidth(d.Paths.Name))
	}
	for _, d := range vs {
		sb.WriteString("  ")
		sb.WriteString(t.theme.Primary.Render(runewidth.FillRight(d.Paths.Name, nameWidth)))
		sb.WriteString("  ")
		sb.WriteString(d.Paths.TestTaskName + " → " + d.Paths.ReportTaskName + " → " + d.Paths.VerificationTaskName)
		sb.WriteString("\n")
		sb.WriteString("  ")
		sb.WriteString(strings.Repeat(" ", nameWidth))
		sb.WriteString("  ")
		sb.WriteString(t.theme.Muted.Render(d.Paths.ExecutionDataPath + " " + t.theme.Icons.Bullet + " " + d.Paths.XMLReportPath))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Tasks lists registered tasks grouped by their group.
func (t *Terminal) Tasks(ts []taskgraph.TaskInfo) string {
	var sb strings.Builder
	var groups []string
	byGroup := make(map[string][]taskgraph.TaskInfo)
	for _, ti := range ts {
		g := ti.Group
		if g == "" {
			g = "other"
		}
		if _, ok := byGroup[g]; !ok {
			groups = append(groups, g)
		}
		byGroup[g] = append(byGroup[g], ti)
	}
	for i, g := range groups {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(t.theme.Bold.Render(title(g) + " tasks"))
		sb.WriteString("\n")
		nameWidth := 0
		for _, ti := range byGroup[g] {
			nameWidth = max(nameWidth, runewidth.StringWidth(ti.Name))
		}
		for _, ti := range byGroup[g] {
			sb.WriteString("  ")
			sb.WriteString(t.theme.Primary.Render(runewidth.FillRight(ti.Name, nameWidth)))
			if ti.Description != "" {
				sb.WriteString(" - " + ti.Description)
			}
			sb.WriteString("\n")
			if len(ti.DependsOn) > 0 {
				sb.WriteString(t.theme.Muted.Render("      depends on " + strings.Join(ti.DependsOn, ", ")))
				sb.WriteString("\n")
			}
			if len(ti.FinalizedBy) > 0 {
				sb.WriteString(t.theme.Muted.Render("      finalized by " + strings.Join(ti.FinalizedBy, ", ")))
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

func percent(o orchestrator.Outcome) string {
	if o.Counter.Total() == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", o.Counter.Float()*100)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
