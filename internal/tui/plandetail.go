package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)
)

const timeLayout = "2006-01-02 15:04:05"

// renderPlanDetail renders one plan and its recent assignment history.
func renderPlanDetail(p *PlanDetail, history []AuditItem, height int) string {
	if p == nil {
		return "\n  Loading plan details...\n"
	}

	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("#%d %s", p.ID, p.Name)))
	b.WriteString("\n\n")

	b.WriteString(renderField("Status", formatStatus(p.Status)))
	if p.WorkerID > 0 {
		b.WriteString(renderField("Worker", fmt.Sprintf("%d", p.WorkerID)))
	}
	b.WriteString(renderField("Authorization", formatAuthorization(p.Authorization)))
	if p.AuthorizationMessage != "" {
		b.WriteString(renderField("Authority says", truncate(p.AuthorizationMessage, 80)))
	}
	if p.ExternalResponseNumber != "" {
		b.WriteString(renderField("Reference", p.ExternalResponseNumber))
	}
	if p.Owner != "" {
		b.WriteString(renderField("Owner", p.Owner))
	}
	if p.Folder != "" {
		b.WriteString(renderField("Folder", p.Folder))
	}
	result := "none"
	if p.HasResult {
		result = statusDone.Render("available")
	}
	b.WriteString(renderField("Result", result))
	b.WriteString(renderField("Created", p.CreatedAt.Local().Format(timeLayout)))
	b.WriteString(renderField("Updated", p.UpdatedAt.Local().Format(timeLayout)))

	if len(history) > 0 {
		b.WriteString(sectionStyle.Render("History"))
		b.WriteString("\n")
		for _, h := range history {
			outcome := statusDone.Render(h.Outcome)
			if h.Outcome != "success" {
				outcome = statusError.Render(h.Outcome)
			}
			line := fmt.Sprintf("  %s  %-16s %s", h.Timestamp.Local().Format(timeLayout), h.Action, outcome)
			if h.WorkerID > 0 {
				line += fmt.Sprintf("  worker %d", h.WorkerID)
			}
			if h.Details != "" {
				line += "  " + truncate(h.Details, 40)
			}
			b.WriteString(line + "\n")
		}
	}

	lines := strings.Split(b.String(), "\n")
	if height > 0 && len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

var (
	statusDone  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	statusError = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func formatAuthorization(status string) string {
	switch status {
	case "approved":
		return statusDone.Render("approved")
	case "denied":
		return statusError.Render("denied")
	default:
		return labelStyle.Render("pending")
	}
}

func renderField(label, value string) string {
	return fmt.Sprintf("  %s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
