package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/osctools/gpuscout/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	admittedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	timeoutStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	rejectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("237")).
			Bold(true)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" gpuscout │ account: %s │ gpus %d-%d │ time %s-%s ",
		m.bounds.Account, m.bounds.GPUMin, m.bounds.GPUMax,
		domain.FormatCompact(m.bounds.TimeMin), domain.FormatCompact(m.bounds.TimeMax))
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case 0:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderSearch()))
	case 1:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderQueue()))
	}
	b.WriteString("\n")
	b.WriteString(dimmedStyle.Render(" tab: switch │ j/k: move │ c: cancel job │ r: refresh │ q: quit"))

	return b.String()
}

func (m Model) renderTabs() string {
	names := []string{"Search", "Queue"}
	parts := make([]string, len(names))
	for i, name := range names {
		if i == m.activeTab {
			parts[i] = tabActiveStyle.Render(name)
		} else {
			parts[i] = tabInactiveStyle.Render(name)
		}
	}
	return " " + strings.Join(parts, "  ")
}

func (m Model) renderSearch() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Phase: %s\n\n", m.phase))

	if len(m.rows) == 0 {
		b.WriteString(dimmedStyle.Render("waiting for first probe..."))
		b.WriteString("\n")
	}
	for _, row := range m.rows {
		b.WriteString(renderTrialRow(row))
		b.WriteString("\n")
	}

	if m.searchErr != "" {
		b.WriteString("\n")
		b.WriteString(rejectedStyle.Render("aborted: " + m.searchErr))
		b.WriteString("\n")
	} else if m.result != nil {
		b.WriteString("\n")
		b.WriteString(admittedStyle.Render(fmt.Sprintf(
			"result: max %d GPUs for %s",
			m.result.MaxAdmittedGPUs, domain.FormatCompact(m.result.MaxAdmittedTime))))
		b.WriteString("\n")
	}
	return b.String()
}

func renderTrialRow(row TrialRow) string {
	line := fmt.Sprintf("%-12s g=%-2d t=%-8s %-8s",
		row.Phase, row.Spec.GPUCount, domain.FormatCompact(row.Spec.TimeWindow), row.ProbeID)
	if !row.Resolved {
		return line + pendingStyle.Render(" observing...")
	}
	switch row.Outcome {
	case domain.OutcomeAdmitted:
		return line + admittedStyle.Render(" admitted")
	case domain.OutcomePendingTimeout:
		return line + timeoutStyle.Render(" pending-timeout")
	case domain.OutcomeRejected:
		return line + rejectedStyle.Render(" rejected")
	default:
		return line + rejectedStyle.Render(" error")
	}
}

func (m Model) renderQueue() string {
	var b strings.Builder
	if m.queueErr != "" {
		b.WriteString(rejectedStyle.Render("queue error: " + m.queueErr))
		b.WriteString("\n")
	}
	if len(m.jobs) == 0 {
		b.WriteString(dimmedStyle.Render("no pending or running jobs"))
		return b.String()
	}

	b.WriteString(fmt.Sprintf("%8s %-2s %-22s %9s %10s %-18s %-16s\n",
		"JOBID", "ST", "NAME", "USED", "LEFT", "REASON", "NODES"))
	for i, job := range m.jobs {
		line := fmt.Sprintf("%8s %-2s %-22s %9s %10s %-18s %-16s",
			job.ID, job.State, truncate(job.Name, 22),
			job.TimeUsed, job.TimeLeft, truncate(job.Reason, 18), truncate(job.NodeList, 16))
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		} else if job.Running() {
			line = admittedStyle.Render(line)
		} else {
			line = pendingStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
