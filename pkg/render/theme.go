package render

import "github.com/charmbracelet/lipgloss"

// Theme defines colors, icons and the ratio bar for terminal rendering.
type Theme struct {
	Name    string
	Primary lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Bold    lipgloss.Style
	Icons   ThemeIcons
	Bar     BarGlyphs
}

// ThemeIcons defines the icon set for a theme.
type ThemeIcons struct {
	Pass    string
	Fail    string
	Error   string
	Pending string
	Running string
	Bullet  string
}

// BarGlyphs are the cells of the coverage ratio bar.
type BarGlyphs struct {
	Full  string
	Empty string
}

// DefaultTheme returns a vibrant color theme.
func DefaultTheme() Theme {
	return Theme{
		Name:    "default",
		Primary: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),  // blue
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("34")),  // green
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")), // orange
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")), // red
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("242")), // gray
		Bold:    lipgloss.NewStyle().Bold(true),
		Icons: ThemeIcons{
			Pass:    "✓",
			Fail:    "✗",
			Error:   "⚠",
			Pending: "○",
			Running: "●",
			Bullet:  "·",
		},
		Bar: BarGlyphs{Full: "█", Empty: "░"},
	}
}

// OrcaTheme returns a muted, professional theme.
func OrcaTheme() Theme {
	return Theme{
		Name:    "orca",
		Primary: lipgloss.NewStyle().Foreground(lipgloss.Color("75")),  // pale blue
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("108")), // sage green
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("179")), // muted gold
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("167")), // muted red
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")), // lighter gray
		Bold:    lipgloss.NewStyle().Bold(true),
		Icons: ThemeIcons{
			Pass:    "✓",
			Fail:    "✗",
			Error:   "!",
			Pending: "○",
			Running: "·",
			Bullet:  "·",
		},
		Bar: BarGlyphs{Full: "▰", Empty: "▱"},
	}
}

// MonoTheme returns a monochrome theme (no colors, ASCII only).
func MonoTheme() Theme {
	return Theme{
		Name:    "mono",
		Primary: lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Muted:   lipgloss.NewStyle(),
		Bold:    lipgloss.NewStyle(),
		Icons: ThemeIcons{
			Pass:    "+",
			Fail:    "x",
			Error:   "!",
			Pending: "-",
			Running: "*",
			Bullet:  "-",
		},
		Bar: BarGlyphs{Full: "#", Empty: "."},
	}
}

// ThemeByName returns a theme by name, defaulting to DefaultTheme.
func ThemeByName(name string) Theme {
	switch name {
	case "orca":
		return OrcaTheme()
	case "mono":
		return MonoTheme()
	default:
		return DefaultTheme()
	}
}

// icon returns the icon and style for an outcome status.
func (th Theme) icon(status string) (string, lipgloss.Style) {
	switch status {
	case StatusPass:
		return th.Icons.Pass, th.Success
	case StatusFail:
		return th.Icons.Fail, th.Error
	case StatusError:
		return th.Icons.Error, th.Warning
	default:
		return th.Icons.Pending, th.Muted
	}
}
