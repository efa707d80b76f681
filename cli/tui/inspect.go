package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/modpatch/types"
)

// LogModel shows one install log record with a scrollable transcript.
type LogModel struct {
	data     any
	header   string
	viewport viewport.Model
	quitting bool
}

// NewLogModel creates a log view. data must be a *types.InstallLogRecord.
func NewLogModel(data any) LogModel {
	m := LogModel{data: data, viewport: viewport.New(80, 15)}
	rec, ok := data.(*types.InstallLogRecord)
	if !ok {
		m.header = fmt.Sprintf("Invalid data type for %s", ViewLogShow)
		return m
	}
	m.header = renderRecord(rec)
	m.viewport.SetContent(rec.Transcript)
	return m
}

// Init implements tea.Model.
func (m LogModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m LogModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-lipgloss.Height(m.header)-3, 3)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m LogModel) View() string {
	if m.quitting {
		return ""
	}
	help := HelpStyle.Render("↑/↓ scroll transcript, q or Ctrl+C to quit")
	return m.header + "\n" + m.viewport.View() + "\n" + help
}

func renderRecord(rec *types.InstallLogRecord) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Attempt " + rec.AttemptID))
	b.WriteString("\n")

	rows := [][]string{
		{"Package", rec.Options.PackageName},
		{"App Name", rec.Options.AppName},
		{"Channel", rec.Options.Channel},
		{"Status", string(rec.Outcome.Status)},
		{"Started At", rec.StartedAt.Format("2006-01-02 15:04:05")},
		{"Duration", formatMs(rec.DurationMs)},
		{"Base", rec.Versions.Base},
		{"Injector", rec.Versions.Injector},
		{"Tool", rec.Environment.ToolVersion},
	}
	if rec.Outcome.Status == types.OutcomeError {
		rows = append(rows,
			[]string{"Failed Step", rec.Outcome.Step},
			[]string{"Kind", string(rec.Outcome.Kind)},
			[]string{"Message", rec.Outcome.Message},
		)
	}

	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		label := LabelStyle.Render(row[0] + ":")
		value := ValueStyle.Render(row[1])
		if row[0] == "Status" {
			value = StateStyle(row[1]).Render(row[1])
		}
		fmt.Fprintf(&b, "%s %s\n", label, value)
	}
	return BoxStyle.Render(strings.TrimSuffix(b.String(), "\n"))
}
