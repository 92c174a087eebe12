package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// Gradient endpoints of the poll progress bar.
const (
	ProgressStart = "#5B9BD5"
	ProgressEnd   = "#6BCB77"
)

// HeaderStyle is used for the account / folder title line.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// PanelStyle wraps the progress view.
var PanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// ErrorStyle renders failures.
var ErrorStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorRed)

// SuccessStyle renders completed runs.
var SuccessStyle = lipgloss.NewStyle().
	Foreground(ColorGreen)

// WarningStyle renders cancelled runs and partial failures.
var WarningStyle = lipgloss.NewStyle().
	Foreground(ColorYellow)

// FolderStyle returns the style of a folder in a tree listing: mirrored
// folders in the default color, local-only folders dimmed, system
// folders bold.
func FolderStyle(connected, system bool) lipgloss.Style {
	base := lipgloss.NewStyle()
	if system {
		base = base.Bold(true)
	}
	if !connected {
		return base.Foreground(ColorGray)
	}
	return base.Foreground(ColorWhite)
}
