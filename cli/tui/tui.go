package tui

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// View types with a TUI rendering.
const (
	ViewLogShow  = "logs_show"
	ViewLogStats = "logs_stats"
)

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// Run starts the TUI for a read-only view.
// Returns an error if the view type doesn't support TUI.
func Run(viewType string, data any) error {
	var m tea.Model
	switch viewType {
	case ViewLogShow:
		m = NewLogModel(data)
	case ViewLogStats:
		m = NewStatsModel(data)
	default:
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewLogShow, ViewLogStats}
}
