package ui

import (
	"fmt"
	"strings"

	"github.com/ftahirops/qplane/control"
	"github.com/ftahirops/qplane/model"
)

func renderLadderPage(snap *model.ControlSnapshot, width, height int) string {
	var sb strings.Builder
	iw := pageInnerW(width)
	st := snap.Ladder

	sb.WriteString(titleStyle.Render("DEGRADATION LADDER"))
	sb.WriteString("\n\n")

	// Current posture
	var posture []kv
	posture = append(posture, kv{"Current level", fmt.Sprintf("L%d — %s", st.CurrentLevel, st.LevelName)})
	posture = append(posture, kv{"Transitions", fmt.Sprintf("%d", st.Transitions)})
	posture = append(posture, kv{"Last transition", fmtEpoch(st.LastTransition)})
	if st.ManualOverride {
		exp := "no expiry"
		if st.OverrideExpires > 0 {
			exp = "until " + fmtEpoch(st.OverrideExpires)
		}
		posture = append(posture, kv{"Manual override", "active, " + exp})
	}
	sb.WriteString(renderKVBox(posture, iw))
	sb.WriteString("\n")

	// Rungs. The canonical ladder is rendered; a policy bundle can
	// retune triggers at runtime, in which case the live level name in
	// the posture box is authoritative.
	levels := control.DefaultLevels()
	for _, lvl := range levels {
		marker := dimStyle.Render("  ")
		nameStyle := valueStyle
		if lvl.Index == st.CurrentLevel {
			marker = levelColor(lvl.Index).Render("▶ ")
			nameStyle = levelColor(lvl.Index)
		}

		var lines []string
		if lvl.Index == 0 {
			lines = append(lines, dimStyle.Render("no triggers — resting state"))
		} else {
			lines = append(lines, fmt.Sprintf("triggers: %s",
				dimStyle.Render(describeTriggers(lvl.Triggers))))
			lines = append(lines, fmt.Sprintf("sla:      %s",
				dimStyle.Render(describeSLA(lvl.SLA))))
		}

		sb.WriteString(fmt.Sprintf("%s%s\n", marker, nameStyle.Render(fmt.Sprintf("L%d  %s", lvl.Index, lvl.Name))))
		for _, line := range lines {
			sb.WriteString("     " + line + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString(dimStyle.Render("  escalation is one rung at a time; de-escalation needs a sustained calm window"))
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render("  manual overrides: POST /api/v1/ladder/override on the daemon"))
	sb.WriteString("\n")

	return sb.String()
}

func describeTriggers(t control.LevelTriggers) string {
	var parts []string
	if t.BurnRate > 0 {
		parts = append(parts, fmt.Sprintf("burn>=%.2f", t.BurnRate))
	}
	if t.ErrorRate > 0 {
		parts = append(parts, fmt.Sprintf("err>=%s", fmtRatio(t.ErrorRate)))
	}
	if t.LatencyP95 > 0 {
		parts = append(parts, fmt.Sprintf("p95>=%s", fmtMs(t.LatencyP95)))
	}
	if t.Utilization > 0 {
		parts = append(parts, fmt.Sprintf("util>=%s", fmtRatio(t.Utilization)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "  or  ")
}

func describeSLA(s control.SLAImpact) string {
	var parts []string
	if s.LatencyIncreasePct > 0 {
		parts = append(parts, fmt.Sprintf("latency +%d%%", s.LatencyIncreasePct))
	}
	if s.ThroughputDropPct > 0 {
		parts = append(parts, fmt.Sprintf("throughput -%d%%", s.ThroughputDropPct))
	}
	if len(s.DisabledFeatures) > 0 {
		parts = append(parts, fmt.Sprintf("%d features off", len(s.DisabledFeatures)))
	}
	if len(parts) == 0 {
		return "no caller-visible impact"
	}
	return strings.Join(parts, ", ")
}
