package tui

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/modpatch/installlog"
)

// StatsModel is a Bubble Tea model for install log statistics.
type StatsModel struct {
	data     any
	width    int
	quitting bool
}

// NewStatsModel creates a stats view. data must be a *installlog.Stats.
func NewStatsModel(data any) StatsModel {
	return StatsModel{data: data}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}
	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return m.render() + "\n" + help
}

func (m StatsModel) render() string {
	data, ok := m.data.(*installlog.Stats)
	if !ok {
		return fmt.Sprintf("Invalid data type for %s", ViewLogStats)
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Install Statistics"))
	b.WriteString("\n\n")

	boxes := []string{
		renderStatBox("Total", data.Total, highlightColor),
		renderStatBox("Succeeded", data.Succeeded, successColor),
		renderStatBox("Failed", data.Failed, errorColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Avg Duration:"), ValueStyle.Render(formatMs(data.AvgDurationMs)))
	if !data.Last.IsZero() {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Last Attempt:"), ValueStyle.Render(data.Last.Format("2006-01-02 15:04:05")))
	}

	if len(data.ByStep) > 0 {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("Failures by step:"))
		b.WriteString("\n")
		for _, step := range slices.Sorted(maps.Keys(data.ByStep)) {
			fmt.Fprintf(&b, "  • %s %s\n", ValueStyle.Render(step), ErrorStyle.Render(fmt.Sprint(data.ByStep[step])))
		}
	}
	return b.String()
}

func renderStatBox(label string, value int, color lipgloss.Color) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		StatLabelStyle.Render(label),
		StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value)),
	)
	return StatBoxStyle.Render(content)
}
