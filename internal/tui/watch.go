// Package tui provides the interactive status watch view.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/czarina-dev/czarina/internal/config"
	"github.com/czarina-dev/czarina/internal/status"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginLeft(1)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginLeft(1).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			MarginLeft(1)

	countsStyle = lipgloss.NewStyle().
			Bold(true).
			MarginLeft(1).
			MarginBottom(1)
)

// Model represents the interactive watch state.
type Model struct {
	table         table.Model
	repoRoot      string
	lastUpdate    time.Time
	err           error
	quitting      bool
	project       string
	phase         int
	phaseComplete bool
	daemonRunning bool
	complete      int
	total         int
}

type tickMsg time.Time
type reportMsg struct {
	report status.Report
}
type errMsg error

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// New creates a new interactive watch model.
func New(repoRoot string) Model {
	columns := []table.Column{
		{Title: "Worker", Width: 14},
		{Title: "State", Width: 12},
		{Title: "Role", Width: 14},
		{Title: "Signals", Width: 10},
		{Title: "Branch", Width: 24},
		{Title: "Last Commit", Width: 40},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true).
		Foreground(lipgloss.Color("12"))
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		table:    t,
		repoRoot: repoRoot,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.refresh(),
	)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}

	case tea.WindowSizeMsg:
		m.table.SetHeight(msg.Height - 10)
		return m, nil

	case tickMsg:
		return m, tea.Batch(
			tickCmd(),
			m.refresh(),
		)

	case reportMsg:
		m.lastUpdate = time.Now()
		m.err = nil
		m.project = msg.report.Project
		m.phase = msg.report.Phase
		m.phaseComplete = msg.report.PhaseComplete
		m.daemonRunning = msg.report.Daemon.Running
		m.total = len(msg.report.Workers)
		m.complete = 0

		rows := make([]table.Row, len(msg.report.Workers))
		for i, worker := range msg.report.Workers {
			if worker.Complete {
				m.complete++
			}
			rows[i] = table.Row{
				worker.ID,
				worker.State,
				worker.Role,
				signalCell(worker),
				worker.Branch,
				worker.LastCommit,
			}
		}
		m.table.SetRows(rows)
		return m, nil

	case errMsg:
		m.err = msg
		return m, nil
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View renders the watch screen.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder

	title := titleStyle.Render(fmt.Sprintf("Czarina — %s", m.project))
	timestamp := timestampStyle.Render(fmt.Sprintf("Last update: %s", m.lastUpdate.Format("15:04:05")))

	header := lipgloss.JoinHorizontal(
		lipgloss.Top,
		title,
		strings.Repeat(" ", 5),
		timestamp,
	)
	b.WriteString(header)
	b.WriteString("\n\n")

	counts := countsStyle.Render(fmt.Sprintf(
		"Phase %d: %d/%d complete%s | Daemon: %s",
		m.phase, m.complete, m.total, phaseBadge(m.phaseComplete), daemonBadge(m.daemonRunning),
	))
	b.WriteString(counts)
	b.WriteString("\n")

	b.WriteString(m.table.View())
	b.WriteString("\n")

	help := helpStyle.Render("↑/↓: navigate • r: refresh • q/esc: quit")
	b.WriteString(help)

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	return b.String()
}

// refresh regathers the status report off the UI loop.
func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		cfg, err := config.Load(config.Path(m.repoRoot), nil)
		if err != nil {
			return errMsg(err)
		}
		report, err := status.Gather(m.repoRoot, cfg, nil)
		if err != nil {
			return errMsg(err)
		}
		return reportMsg{report: report}
	}
}

// signalCell renders the three completion witnesses compactly.
func signalCell(worker status.WorkerReport) string {
	return fmt.Sprintf("%s%s%s",
		signalMark("M", worker.LogMarker),
		signalMark("G", worker.BranchMerged),
		signalMark("S", worker.StatusComplete),
	)
}

func signalMark(label string, on bool) string {
	if on {
		return label
	}
	return "-"
}

func phaseBadge(complete bool) string {
	if complete {
		return " (phase complete)"
	}
	return ""
}

func daemonBadge(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

// Run starts the interactive watch.
func Run(repoRoot string) error {
	p := tea.NewProgram(
		New(repoRoot),
		tea.WithAltScreen(),
	)

	_, err := p.Run()
	return err
}
