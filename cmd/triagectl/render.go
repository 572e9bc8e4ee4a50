package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/h1v3-io/logtriage/internal/agent"
	"github.com/h1v3-io/logtriage/internal/scheduler"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func severityStyle(s protocol.Severity) lipgloss.Style {
	style := lipgloss.NewStyle().Bold(true)
	switch s {
	case protocol.SeverityCritical:
		return style.Foreground(lipgloss.Color("9"))
	case protocol.SeverityHigh:
		return style.Foreground(lipgloss.Color("208"))
	case protocol.SeverityMedium:
		return style.Foreground(lipgloss.Color("11"))
	default:
		return style.Foreground(lipgloss.Color("10"))
	}
}

func renderResult(r *agent.Result) string {
	if r.Failed() {
		return failStyle.Render("Investigation failed: " + r.Failure)
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Log set %s investigation complete", r.LogSetID)))
	fmt.Fprintf(&b, "\n%s\n", faintStyle.Render(fmt.Sprintf("iterations %d/%d", r.Iterations, r.MaxIterations)))
	if len(r.Tickets) > 0 {
		b.WriteString("\n" + renderTickets(r.Tickets) + "\n")
	}
	if len(r.SuggestedActions) > 0 {
		b.WriteString("\nSuggested actions:\n")
		for _, a := range r.SuggestedActions {
			fmt.Fprintf(&b, "  • %s\n", a)
		}
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderTickets(ts []*protocol.Ticket) string {
	if len(ts) == 0 {
		return faintStyle.Render("no tickets")
	}
	lines := make([]string, 0, len(ts))
	for _, t := range ts {
		sev := severityStyle(t.Severity).Width(10).Render(strings.ToUpper(string(t.Severity)))
		lines = append(lines, fmt.Sprintf("%s %s %s %s",
			faintStyle.Render(t.ID), sev, t.Title, faintStyle.Render(string(t.Status))))
	}
	return strings.Join(lines, "\n")
}

func renderTicket(t *protocol.Ticket) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(t.Title) + "\n")
	fmt.Fprintf(&b, "%s  %s  %s\n",
		faintStyle.Render(t.ID),
		severityStyle(t.Severity).Render(strings.ToUpper(string(t.Severity))),
		string(t.Status))
	if len(t.AffectedServices) > 0 {
		fmt.Fprintf(&b, "services: %s\n", strings.Join(t.AffectedServices, ", "))
	}
	fmt.Fprintf(&b, "\n%s\n", t.Description)
	if len(t.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range t.Suggestions {
			fmt.Fprintf(&b, "  • %s\n", s)
		}
	}
	if len(t.Comments) > 0 {
		b.WriteString("\nComments:\n")
		for _, c := range t.Comments {
			fmt.Fprintf(&b, "  %s %s: %s\n", faintStyle.Render(c.CreatedAt.Format("2006-01-02 15:04")), c.Author, c.Text)
		}
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderJobs(jobs []scheduler.Job) string {
	if len(jobs) == 0 {
		return faintStyle.Render("no scheduled jobs") + "\n"
	}
	var b strings.Builder
	for _, j := range jobs {
		next := "-"
		if !j.Next.IsZero() {
			next = j.Next.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(&b, "%-24s %s\n", j.Name, faintStyle.Render("next "+next))
	}
	return b.String()
}
