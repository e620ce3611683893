// Package ui renders export progress: an interactive terminal view, or
// periodic log lines when no terminal is attached.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Sternrassler/transfix-export/pkg/progress"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statusStyle = map[progress.Status]lipgloss.Style{
		progress.StatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		progress.StatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		progress.StatusCanceled:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		progress.StatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// snapshotMsg carries a state update into the program.
type snapshotMsg progress.Snapshot

// closedMsg signals that the subscription ended.
type closedMsg struct{}

// Model is the bubbletea model of the progress view.
type Model struct {
	state      *progress.State
	updates    <-chan progress.Snapshot
	hardCancel context.CancelFunc

	snap    progress.Snapshot
	bar     bprogress.Model
	spinner spinner.Model
	width   int
	now     func() time.Time
}

// NewModel creates a view fed by updates. The first quit key sets the
// cooperative cancellation flag on state; the second calls hardCancel.
func NewModel(state *progress.State, updates <-chan progress.Snapshot, hardCancel context.CancelFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		state:      state,
		updates:    updates,
		hardCancel: hardCancel,
		bar:        bprogress.New(bprogress.WithDefaultGradient()),
		spinner:    s,
		now:        time.Now,
	}
}

func waitForSnapshot(updates <-chan progress.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.updates))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.snap.Cancelled && !m.state.Cancelled() {
				m.state.Cancel()
				m.snap.Cancelled = true
				return m, nil
			}
			if m.hardCancel != nil {
				m.hardCancel()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, msg.Width-4)
		return m, nil

	case snapshotMsg:
		m.snap = progress.Snapshot(msg)
		if finished(m.snap) {
			return m, tea.Quit
		}
		return m, tea.Batch(m.bar.SetPercent(m.snap.Fraction()), waitForSnapshot(m.updates))

	case closedMsg:
		return m, tea.Quit

	case bprogress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(bprogress.Model)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func finished(s progress.Snapshot) bool {
	switch s.Status {
	case progress.StatusCompleted, progress.StatusCanceled, progress.StatusFailed:
		return true
	}
	return false
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Transfix Export"))
	if m.snap.RunID != "" {
		b.WriteString(labelStyle.Render("  run " + m.snap.RunID))
	}
	b.WriteString("\n\n")

	status := m.snap.Status
	style, ok := statusStyle[status]
	if !ok {
		style = labelStyle
	}
	if status == progress.StatusRunning {
		b.WriteString(m.spinner.View() + " ")
	}
	b.WriteString(style.Render(string(status)))
	if m.snap.Cancelled && status == progress.StatusRunning {
		b.WriteString(warnStyle.Render("  cancelling, finishing units in flight"))
	}
	b.WriteString("\n\n")

	b.WriteString(m.bar.ViewAs(m.snap.Fraction()))
	b.WriteString("\n\n")

	row := func(label string, done, total int) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-10s", label)))
		b.WriteString(valueStyle.Render(fmt.Sprintf("%d/%d", done, total)))
		b.WriteString("\n")
	}
	row("days", m.snap.ProcessedDays, m.snap.TotalDays)
	row("jobs", m.snap.ProcessedUnitsDiscovered, m.snap.TotalUnitsDiscovered)
	row("files", m.snap.ProcessedExportUnits, m.snap.TotalExportUnits)

	if m.snap.Failed > 0 {
		b.WriteString(errorStyle.Render(fmt.Sprintf("%-10s%d", "failed", m.snap.Failed)))
		b.WriteString("\n")
	}
	if m.snap.Skipped > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("%-10s%d", "skipped", m.snap.Skipped)))
		b.WriteString("\n")
	}

	b.WriteString(labelStyle.Render(fmt.Sprintf("%-10s", "elapsed")))
	b.WriteString(valueStyle.Render(m.snap.Elapsed(m.now()).Round(time.Second).String()))
	b.WriteString("\n\n")

	if m.snap.Cancelled {
		b.WriteString(helpStyle.Render("q again: abort immediately"))
	} else {
		b.WriteString(helpStyle.Render("q: cancel (finish in-flight units and write the archive)"))
	}
	b.WriteString("\n")
	return b.String()
}

// Run shows the progress view until the run finishes. It subscribes to
// state itself.
func Run(state *progress.State, hardCancel context.CancelFunc) error {
	updates, unsubscribe := state.Subscribe()
	defer unsubscribe()

	_, err := tea.NewProgram(NewModel(state, updates, hardCancel)).Run()
	return err
}
