package tui

import "github.com/charmbracelet/lipgloss"

// Colors
var (
	colorPrimary = lipgloss.Color("#7C3AED") // Purple
	colorReady   = lipgloss.Color("#10B981") // Green
	colorWarn    = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorText    = lipgloss.Color("#F9FAFB") // White
	colorMuted   = lipgloss.Color("#9CA3AF") // Gray
	colorDim     = lipgloss.Color("#6B7280") // Darker gray
)

// Text styles
var (
	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText)

	styleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	styleMuted = lipgloss.NewStyle().
			Foreground(colorMuted)

	styleDim = lipgloss.NewStyle().
			Foreground(colorDim)

	styleError = lipgloss.NewStyle().
			Foreground(colorError)

	styleHelp = lipgloss.NewStyle().
			Foreground(colorDim)
)

func stateStyle(state string) lipgloss.Style {
	switch state {
	case "playing":
		return lipgloss.NewStyle().Foreground(colorPrimary)
	case "ready", "paused":
		return lipgloss.NewStyle().Foreground(colorReady)
	case "loading":
		return lipgloss.NewStyle().Foreground(colorWarn)
	case "error":
		return lipgloss.NewStyle().Foreground(colorError)
	default:
		return styleMuted
	}
}
