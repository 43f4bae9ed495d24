// Package dag renders the worker dependency graph with runtime state.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/czarina-dev/czarina/internal/status"
)

const (
	idColumnWidth     = 14
	stateColumnWidth  = 12
	depsColumnWidth   = 20
	blocksColumnWidth = 20
	branchColumnWidth = 30
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	cellStyle = lipgloss.NewStyle()

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	summaryStyle = lipgloss.NewStyle().
			Bold(true)
)

// Summary represents the DAG visualization output.
type Summary struct {
	Workers    []WorkerRow
	Total      int
	Complete   int
	Active     int
	Stuck      int
	NotStarted int
}

// WorkerRow represents a single row in the DAG display.
type WorkerRow struct {
	ID        string
	State     string
	DependsOn string
	Blocks    string
	Branch    string
}

// String returns the formatted DAG output.
func (s Summary) String() string {
	var b strings.Builder

	summary := summaryStyle.Render(fmt.Sprintf(
		"Workers (%d total, %d not started, %d active, %d stuck, %d complete)",
		s.Total, s.NotStarted, s.Active, s.Stuck, s.Complete,
	))
	b.WriteString(summary)
	b.WriteString("\n\n")

	if len(s.Workers) == 0 {
		b.WriteString("No workers configured for this phase.\n")
		return b.String()
	}

	headers := []string{
		padRight("Worker", idColumnWidth),
		padRight("State", stateColumnWidth),
		padRight("Depends On", depsColumnWidth),
		padRight("Blocks", blocksColumnWidth),
		"Branch",
	}
	headerLine := headerStyle.Render(strings.Join(headers, "  "))
	b.WriteString(headerLine)
	b.WriteString("\n")

	totalWidth := idColumnWidth + stateColumnWidth + depsColumnWidth + blocksColumnWidth + branchColumnWidth + 8
	separator := separatorStyle.Render(strings.Repeat("─", totalWidth))
	b.WriteString(separator)
	b.WriteString("\n")

	for _, row := range s.Workers {
		line := fmt.Sprintf("%s  %s  %s  %s  %s",
			padRight(row.ID, idColumnWidth),
			padRight(row.State, stateColumnWidth),
			padRight(row.DependsOn, depsColumnWidth),
			padRight(row.Blocks, blocksColumnWidth),
			truncate(row.Branch, branchColumnWidth),
		)
		b.WriteString(cellStyle.Render(line))
		b.WriteString("\n")
	}

	return b.String()
}

// GetSummary builds a DAG summary from a status report.
func GetSummary(report status.Report) Summary {
	summary := Summary{Total: len(report.Workers)}

	// Reverse dependency map: who blocks whom.
	blockedBy := make(map[string][]string)
	for _, worker := range report.Workers {
		for _, dep := range worker.Dependencies {
			blockedBy[dep] = append(blockedBy[dep], worker.ID)
		}
	}
	for key := range blockedBy {
		sort.Strings(blockedBy[key])
	}

	rows := make([]WorkerRow, 0, len(report.Workers))
	for _, worker := range report.Workers {
		switch worker.State {
		case "complete":
			summary.Complete++
		case "stuck":
			summary.Stuck++
		case "not_started":
			summary.NotStarted++
		default:
			summary.Active++
		}

		depsStr := "-"
		if len(worker.Dependencies) > 0 {
			sorted := append([]string(nil), worker.Dependencies...)
			sort.Strings(sorted)
			depsStr = strings.Join(sorted, ",")
		}

		blocksStr := "-"
		if blocks := blockedBy[worker.ID]; len(blocks) > 0 {
			blocksStr = strings.Join(blocks, ",")
		}

		rows = append(rows, WorkerRow{
			ID:        worker.ID,
			State:     worker.State,
			DependsOn: depsStr,
			Blocks:    blocksStr,
			Branch:    worker.Branch,
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	summary.Workers = rows
	return summary
}

// padRight pads a string to the specified width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

// truncate truncates a string to the specified width with ellipsis.
func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 3 {
		return s[:width]
	}
	return s[:width-3] + "..."
}
