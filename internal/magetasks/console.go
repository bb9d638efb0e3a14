package magetasks

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Out receives task progress messages.
var Out io.Writer = os.Stdout

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

// PrintH1Header prints a top-level header with decoration.
func PrintH1Header(title string) {
	width := 80
	fmt.Fprintln(Out)
	fmt.Fprintln(Out, strings.Repeat("=", width))
	padding := max((width-len(title))/2, 0)
	fmt.Fprintf(Out, "%s%s\n", strings.Repeat(" ", padding), headerStyle.Render(title))
	fmt.Fprintln(Out, strings.Repeat("=", width))
	fmt.Fprintln(Out)
}

// PrintH2Header prints a section header.
func PrintH2Header(title string) {
	fmt.Fprintln(Out)
	fmt.Fprintln(Out, headerStyle.Render("=== "+title+" ==="))
	fmt.Fprintln(Out)
}

// PrintSuccess prints a success message.
func PrintSuccess(msg string) {
	fmt.Fprintln(Out, successStyle.Render("✅ "+msg))
}

// PrintWarning prints a warning message.
func PrintWarning(msg string) {
	fmt.Fprintln(Out, warningStyle.Render("⚠️  "+msg))
}

// PrintError prints an error message.
func PrintError(msg string) {
	fmt.Fprintln(Out, errorStyle.Render("❌ "+msg))
}

// PrintInfo prints an info message.
func PrintInfo(msg string) {
	fmt.Fprintf(Out, "ℹ️  %s\n", msg)
}
