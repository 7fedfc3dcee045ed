package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ftahirops/qplane/model"
)

func renderScalerPage(snap *model.ControlSnapshot, width, height int) string {
	var sb strings.Builder
	iw := pageInnerW(width)
	st := snap.Scaler

	sb.WriteString(titleStyle.Render("ADAPTIVE SCALER"))
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  %d scaling policies, %d redirection rules, %d optimization triggers",
		st.Policies, st.Rules, st.Triggers)))
	sb.WriteString("\n\n")

	// Node pools
	var poolLines []string
	pools := make([]string, 0, len(st.NodesByPool))
	maxNodes := 1
	for name, n := range st.NodesByPool {
		pools = append(pools, name)
		if n > maxNodes {
			maxNodes = n
		}
	}
	sort.Strings(pools)
	bw := iw - 36
	if bw < 10 {
		bw = 10
	}
	for _, name := range pools {
		n := st.NodesByPool[name]
		poolLines = append(poolLines, fmt.Sprintf("%-22s %s %3d nodes",
			truncate(name, 22), nodeBar(n, maxNodes, bw), n))
	}
	if len(poolLines) == 0 {
		poolLines = append(poolLines, dimStyle.Render("no pools registered"))
	}
	sb.WriteString(boxSection("NODE POOLS", poolLines, iw))

	// Recent decisions, newest first
	var actLines []string
	actLines = append(actLines, dimStyle.Render(fmt.Sprintf("%-12s %-22s %9s %-18s %8s",
		"DIRECTION", "POLICY", "NODES", "METRIC", "VALUE")))
	recent := st.RecentActions
	for i := len(recent) - 1; i >= 0 && len(actLines) < 12; i-- {
		a := recent[i]
		actLines = append(actLines, fmt.Sprintf("%s %-22s %3d -> %-3d %-18s %8.2f",
			styledPad(scaleDirStyled(a.Direction), 12),
			truncate(a.Policy, 22),
			a.CurrentNodes, a.TargetNodes,
			truncate(a.Metric, 18),
			a.Value))
	}
	if len(recent) == 0 {
		actLines = append(actLines, dimStyle.Render("no scaling decisions yet"))
	}
	sb.WriteString(boxSection("RECENT DECISIONS", actLines, iw))

	var notes []string
	notes = append(notes, dimStyle.Render("scale-ups trigger on sustained threshold breaches; scale-downs"))
	notes = append(notes, dimStyle.Render("wait out the policy cooldown and are suppressed while burn is high"))
	sb.WriteString(boxSection("BEHAVIOR", notes, iw))

	return sb.String()
}
