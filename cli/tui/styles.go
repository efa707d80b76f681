// Package tui provides Bubble Tea TUI components for the modpatch CLI.
//
// The progress view follows a running patch attempt. The log views
// (logs show, logs stats) are read-only and opt-in via --tui; they render
// the same payloads as the non-TUI formats.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/modpatch/types"
)

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(16)

	// ValueStyle for field values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	SuccessStyle = lipgloss.NewStyle().Foreground(successColor)
	WarningStyle = lipgloss.NewStyle().Foreground(warningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	MutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)

	// BoxStyle for bordered containers.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// GroupStyle for step group headings in the progress view.
	GroupStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(highlightColor)

	// StatBoxStyle for stat display boxes.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 2).
			Width(20).
			Align(lipgloss.Center)

	StatLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Align(lipgloss.Center)

	StatValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Align(lipgloss.Center)
)

// StateStyle returns the style for a step state or attempt status.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case string(types.StepSuccess):
		return SuccessStyle
	case string(types.StepRunning):
		return WarningStyle
	case string(types.StepError), string(types.OutcomeCancelled):
		return ErrorStyle
	case string(types.StepSkipped), string(types.StepPending):
		return MutedStyle
	default:
		return ValueStyle
	}
}

// stateIcons marks terminal and pending steps. Running steps show the spinner.
var stateIcons = map[types.StepState]string{
	types.StepPending: "○",
	types.StepSuccess: "✓",
	types.StepSkipped: "↷",
	types.StepError:   "✗",
}
