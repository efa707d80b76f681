package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/modpatch/pipeline"
	"github.com/pithecene-io/modpatch/types"
)

// SnapshotMsg carries a pipeline snapshot into the progress view.
type SnapshotMsg pipeline.Snapshot

// DoneMsg ends the progress view.
type DoneMsg struct {
	Result *pipeline.Result
	Err    error
}

// ProgressModel follows a running attempt. The quit key requests
// cancellation; the view stays up until the attempt has unwound.
type ProgressModel struct {
	snap       pipeline.Snapshot
	spinner    spinner.Model
	bar        progress.Model
	cancel     func()
	cancelling bool
	done       bool
	result     *pipeline.Result
	err        error
}

// NewProgressModel creates a progress view starting at initial. cancel is
// called at most once, on the first quit key.
func NewProgressModel(initial pipeline.Snapshot, cancel func()) ProgressModel {
	return ProgressModel{
		snap:    initial,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(WarningStyle)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		cancel:  cancel,
	}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SnapshotMsg:
		m.snap = pipeline.Snapshot(msg)
		return m, nil

	case DoneMsg:
		m.done = true
		m.result, m.err = msg.Result, msg.Err
		if msg.Result != nil {
			m.snap.Steps = msg.Result.Steps
		}
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.bar.Width = max(min(msg.Width-8, 60), 10)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) && !m.cancelling && !m.done {
			m.cancelling = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// Fraction returns overall completion in [0, 1]. A running step counts
// with its own progress.
func (m ProgressModel) Fraction() float64 {
	if len(m.snap.Steps) == 0 {
		return 0
	}
	var done float64
	for _, s := range m.snap.Steps {
		switch {
		case s.State.Terminal():
			done++
		case s.State == types.StepRunning:
			done += s.Progress
		}
	}
	return done / float64(len(m.snap.Steps))
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Patching " + m.snap.AttemptID))
	b.WriteString("\n")

	var group types.StepGroup
	for _, s := range m.snap.Steps {
		if s.Group != group {
			group = s.Group
			b.WriteString(GroupStyle.Render(string(group)))
			b.WriteString("\n")
		}
		b.WriteString(m.renderStep(s))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(m.Fraction()))
	b.WriteString("\n")

	switch {
	case m.done:
		b.WriteString(m.renderOutcome())
	case m.cancelling:
		b.WriteString(WarningStyle.Render("Cancelling..."))
	default:
		b.WriteString(HelpStyle.Render("Press q or Ctrl+C to cancel"))
	}
	return b.String() + "\n"
}

func (m ProgressModel) renderStep(s pipeline.StepSnapshot) string {
	icon := stateIcons[s.State]
	if s.State == types.StepRunning {
		icon = m.spinner.View()
	}
	line := fmt.Sprintf("  %s %-16s", StateStyle(string(s.State)).Render(icon), s.Name)
	if s.State != types.StepPending {
		line += " " + MutedStyle.Render(formatMs(s.DurationMs))
	}
	if s.Detail != "" {
		line += "  " + StateStyle(string(s.State)).Render(s.Detail)
	}
	return line
}

func (m ProgressModel) renderOutcome() string {
	switch {
	case errors.Is(m.err, types.ErrCancelled):
		return ErrorStyle.Render("Cancelled")
	case m.err != nil:
		return ErrorStyle.Render("Failed: " + m.err.Error())
	case m.result != nil:
		return SuccessStyle.Render(fmt.Sprintf("Done in %s", m.result.Duration.Round(time.Millisecond)))
	default:
		return ""
	}
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(10 * time.Millisecond).String()
}

// Feed returns an observer that forwards snapshots to ch without
// blocking. Snapshots arriving while ch is full are dropped.
func Feed(ch chan<- pipeline.Snapshot) pipeline.Observer {
	return func(s pipeline.Snapshot) {
		select {
		case ch <- s:
		default:
		}
	}
}

// RunProgress shows a until it ends and returns its outcome. updates is
// typically fed by Feed on the attempt's runner.
func RunProgress(a *pipeline.Attempt, initial pipeline.Snapshot, updates <-chan pipeline.Snapshot, opts ...tea.ProgramOption) (*pipeline.Result, error) {
	p := tea.NewProgram(NewProgressModel(initial, a.Cancel), opts...)
	go func() {
		for {
			select {
			case s := <-updates:
				p.Send(SnapshotMsg(s))
			case <-a.Done():
				res, err := a.Wait()
				p.Send(DoneMsg{Result: res, Err: err})
				return
			}
		}
	}()
	if _, err := p.Run(); err != nil {
		a.Cancel()
		_, _ = a.Wait()
		return nil, fmt.Errorf("progress view: %w", err)
	}
	return a.Wait()
}
