package ui

import (
	"fmt"
	"strings"

	"github.com/ftahirops/qplane/model"
)

func renderCorrelationsPage(snap *model.ControlSnapshot, selected int, width, height int) string {
	var sb strings.Builder
	iw := pageInnerW(width)

	sb.WriteString(titleStyle.Render(fmt.Sprintf("CORRELATIONS  (%d pairs)", len(snap.Correlations))))
	sb.WriteString("\n\n")

	if len(snap.Correlations) == 0 {
		sb.WriteString(dimStyle.Render("  not enough aligned samples yet — the engine needs overlapping module history"))
		sb.WriteString("\n")
		return sb.String()
	}
	if selected >= len(snap.Correlations) {
		selected = len(snap.Correlations) - 1
	}

	hdr := fmt.Sprintf("  %-14s %-14s %7s %12s %10s %6s %8s",
		"MODULE A", "MODULE B", "COEFF", "STRENGTH", "DIRECTION", "LAG", "CONF")
	sb.WriteString(headerStyle.Render(hdr))
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render("  " + strings.Repeat("─", iw)))
	sb.WriteString("\n")

	shown := 0
	for i, c := range snap.Correlations {
		if shown >= 14 && i != selected {
			continue
		}
		shown++
		line := fmt.Sprintf("  %-14s %-14s %s %12s %10s %5dms %7s",
			truncate(string(c.ModuleA), 14),
			truncate(string(c.ModuleB), 14),
			coeffStyled(c.Coefficient),
			strengthColor(string(c.Strength)).Render(padLeft(string(c.Strength), 12)),
			directionArrow(c.Direction),
			c.LagMs,
			fmtRatio(c.Confidence))
		if i == selected {
			sb.WriteString(selectedStyle.Render(line))
		} else {
			sb.WriteString(line)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	// Selected pair detail
	sel := snap.Correlations[selected]
	var detail []string
	detail = append(detail, fmt.Sprintf("samples: %d   type: %s   updated: %s",
		sel.Samples, sel.Type, fmtEpoch(sel.UpdatedAt)))
	detail = append(detail, describeCorrelation(sel))
	sb.WriteString(boxSection(fmt.Sprintf("%s × %s", sel.ModuleA, sel.ModuleB), detail, iw))

	// Critical paths
	var pathLines []string
	for i, p := range snap.Paths {
		if i >= 6 {
			break
		}
		route := make([]string, len(p.Modules))
		for j, mid := range p.Modules {
			route[j] = string(mid)
		}
		line := fmt.Sprintf("%s  health %s",
			padRight(strings.Join(route, " > "), iw-28),
			healthColor(p.PathHealth).Render(fmt.Sprintf("%5.1f", p.PathHealth)))
		if len(p.Bottlenecks) > 0 {
			bn := make([]string, len(p.Bottlenecks))
			for j, b := range p.Bottlenecks {
				bn[j] = string(b)
			}
			line += critStyle.Render("  ⚠ " + strings.Join(bn, ","))
		}
		pathLines = append(pathLines, line)
	}
	if len(pathLines) == 0 {
		pathLines = append(pathLines, dimStyle.Render("no traversable paths in the module topology yet"))
	}
	sb.WriteString(boxSection("CRITICAL PATHS", pathLines, iw))

	return sb.String()
}

func coeffStyled(r float64) string {
	s := fmt.Sprintf("%+6.3f", r)
	abs := r
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 0.85:
		return critStyle.Render(s)
	case abs >= 0.7:
		return orangeStyle.Render(s)
	case abs >= 0.4:
		return warnStyle.Render(s)
	default:
		return dimStyle.Render(s)
	}
}

func directionArrow(d model.ImpactDirection) string {
	switch d {
	case model.ImpactAToB:
		return "A -> B"
	case model.ImpactBToA:
		return "B -> A"
	case model.ImpactBidirectional:
		return "A <-> B"
	default:
		return "indep"
	}
}

// describeCorrelation explains one pair in operator terms.
func describeCorrelation(c model.CorrelationAnalysis) string {
	var verb string
	switch c.Direction {
	case model.ImpactAToB:
		verb = fmt.Sprintf("%s drives %s", c.ModuleA, c.ModuleB)
	case model.ImpactBToA:
		verb = fmt.Sprintf("%s drives %s", c.ModuleB, c.ModuleA)
	case model.ImpactBidirectional:
		verb = "both modules move together"
	default:
		return dimStyle.Render("no driving relationship detected")
	}
	if c.LagMs > 0 {
		verb += fmt.Sprintf(" with ~%dms lag", c.LagMs)
	}
	if c.Type == model.CorrelationNegative {
		verb += " (inverse)"
	}
	return verb
}
