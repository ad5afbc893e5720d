package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/applaudehq/applaude-orchestrator/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	activeStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	queuedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	completeStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	selectedStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))
)

func statusStyle(s domain.RunStatus) lipgloss.Style {
	switch s {
	case domain.RunQueued:
		return queuedStyle
	case domain.RunComplete:
		return completeStyle
	case domain.RunFailed:
		return failedStyle
	default:
		return activeStyle
	}
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	active, terminal := 0, 0
	for _, r := range m.runs {
		if r.Status.IsTerminal() {
			terminal++
		} else {
			active++
		}
	}
	header := fmt.Sprintf(" Applaude Orchestrator │ Runs: %d │ In flight: %d │ Finished: %d ",
		len(m.runs), active, terminal)
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(failedStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString(titleStyle.Render("Runs"))
	b.WriteString("\n")
	if len(m.runs) == 0 {
		b.WriteString(dimmedStyle.Render("  no runs yet"))
		b.WriteString("\n")
	}

	maxRows := m.height - 10
	if maxRows < 5 {
		maxRows = 5
	}
	for i, run := range m.runs {
		if i >= maxRows {
			b.WriteString(dimmedStyle.Render(fmt.Sprintf("  … %d more", len(m.runs)-maxRows)))
			b.WriteString("\n")
			break
		}
		cursor := "  "
		if i == m.selectedRow {
			cursor = selectedStyle.Render("> ")
		}
		line := fmt.Sprintf("%-10s %-36s %-13s %-10s %s",
			statusStyle(run.Status).Render(string(run.Status)),
			run.ID,
			string(run.Category),
			run.Duration().Round(time.Second).String(),
			dimmedStyle.Render(humanize.Time(run.StartedAt)),
		)
		b.WriteString(cursor + line + "\n")
	}

	b.WriteString("\n")
	if m.selectedRow < len(m.runs) {
		b.WriteString(sectionStyle.Render(m.renderDetail(m.runs[m.selectedRow])))
		b.WriteString("\n")
	}

	b.WriteString(statusBarStyle.Width(m.width).Render(" q quit │ r refresh │ j/k select "))
	return b.String()
}

func (m Model) renderDetail(run *domain.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s · %s\n", run.ID, run.Status.Label())
	if run.PRURL != "" {
		fmt.Fprintf(&b, "PR:     %s\n", run.PRURL)
	}
	if run.ReportURL != "" {
		fmt.Fprintf(&b, "Report: %s\n", run.ReportURL)
	}
	if run.CompletedAt != nil {
		fmt.Fprintf(&b, "Finished %s", humanize.Time(*run.CompletedAt))
	} else {
		fmt.Fprintf(&b, "Started %s", humanize.Time(run.StartedAt))
	}
	return b.String()
}
