package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func renderActivityPage(entries []activityEntry, selected int, width, height int) string {
	var sb strings.Builder
	iw := pageInnerW(width)

	sb.WriteString(titleStyle.Render(fmt.Sprintf("ACTIVITY  (%d decisions this session)", len(entries))))
	sb.WriteString("\n\n")

	if len(entries) == 0 {
		sb.WriteString(okStyle.Render("  no control decisions yet — the plane is coasting"))
		sb.WriteString("\n")
		sb.WriteString(dimStyle.Render("  escalations, alerts, and scaling decisions appear here as frames arrive"))
		sb.WriteString("\n")
		return sb.String()
	}
	if selected >= len(entries) {
		selected = len(entries) - 1
	}

	hdr := fmt.Sprintf("  %-9s %-9s %s", "TIME", "KIND", "DECISION")
	sb.WriteString(headerStyle.Render(hdr))
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render("  " + strings.Repeat("─", iw)))
	sb.WriteString("\n")

	visible := len(entries)
	if rows := height - 10; rows > 5 && visible > rows {
		visible = rows
	}
	// Keep the selection on screen
	start := 0
	if selected >= visible {
		start = selected - visible + 1
	}

	for i := start; i < start+visible && i < len(entries); i++ {
		e := entries[i]
		line := fmt.Sprintf("  %-9s %s %s",
			fmtEpoch(e.At),
			styledPad(severityStyled(e.Severity).Render(padRight(e.Kind, 9)), 10),
			truncate(e.Text, iw-24))
		if i == selected {
			sb.WriteString(selectedStyle.Render(line))
		} else {
			sb.WriteString(line)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render("  j/k: navigate  newest first  derived from frame-to-frame changes"))
	sb.WriteString("\n")

	return sb.String()
}

func severityStyled(sev string) lipgloss.Style {
	switch sev {
	case "crit":
		return critStyle
	case "warn":
		return warnStyle
	case "ok":
		return okStyle
	default:
		return dimStyle
	}
}
