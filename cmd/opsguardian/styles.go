package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/clawinfra/opsguardian/internal/approval"
	"github.com/clawinfra/opsguardian/internal/security"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 2)

	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	safeStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	riskyStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	statusStyles = map[approval.Status]lipgloss.Style{
		approval.StatusPending:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		approval.StatusApproved: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		approval.StatusExecuted: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		approval.StatusDenied:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// column widths for the approvals table
const (
	idWidth     = 10
	statusWidth = 10
	timeWidth   = 10
	toolWidth   = 24
	maxDescLen  = 60
)

func cell(style lipgloss.Style, width int, text string) string {
	return style.Width(width).MaxWidth(width).Render(text)
}

// renderRequests formats requests as an aligned table.
func renderRequests(reqs []approval.Request) string {
	if len(reqs) == 0 {
		return dimStyle.Render("No approval requests.") + "\n"
	}

	plain := lipgloss.NewStyle()
	var b strings.Builder
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		cell(headerStyle, idWidth, "ID"),
		cell(headerStyle, statusWidth, "STATUS"),
		cell(headerStyle, timeWidth, "TIME"),
		cell(headerStyle, toolWidth, "TOOL"),
		headerStyle.Render("DESCRIPTION"),
	))
	b.WriteString("\n")

	for _, r := range reqs {
		style, ok := statusStyles[r.Status]
		if !ok {
			style = plain
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			cell(plain, idWidth, r.ID),
			cell(style, statusWidth, string(r.Status)),
			cell(dimStyle, timeWidth, r.Timestamp),
			cell(plain, toolWidth, r.Tool),
			plain.Render(truncate(oneLine(r.Description), maxDescLen)),
		))
		b.WriteString("\n")
	}
	return b.String()
}

// renderResult describes a single resolved request.
func renderResult(r approval.Request) string {
	style, ok := statusStyles[r.Status]
	if !ok {
		style = lipgloss.NewStyle()
	}
	var b strings.Builder
	b.WriteString(style.Bold(true).Render(string(r.Status)))
	b.WriteString(" ")
	b.WriteString(r.ID)
	b.WriteString(" ")
	b.WriteString(dimStyle.Render(r.Description))
	b.WriteString("\n")
	if r.Result != "" {
		b.WriteString(r.Result)
		b.WriteString("\n")
	}
	return b.String()
}

func renderVerdict(v security.Verdict) string {
	if v == security.VerdictSafe {
		return safeStyle.Render("SAFE")
	}
	return riskyStyle.Render("RISKY")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
