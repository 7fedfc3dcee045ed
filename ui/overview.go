package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ftahirops/qplane/model"
)

func renderOverview(snap *model.ControlSnapshot, history []model.ControlSnapshot, width, height int) string {
	var sb strings.Builder
	iw := pageInnerW(width)

	sb.WriteString(titleStyle.Render("QPLANE CONTROL PLANE"))
	sb.WriteString("\n")
	sb.WriteString(renderPostureLine(snap))
	sb.WriteString("\n\n")

	// Burn history chart
	series := burnSeries(history)
	if len(series) >= 2 {
		chartW := iw
		if chartW > 100 {
			chartW = 100
		}
		start := time.UnixMilli(history[0].Timestamp)
		end := time.UnixMilli(history[len(history)-1].Timestamp)
		sb.WriteString(areaChart(series, "Burn rate %", chartW, 6, 0, 100, burnChartColor, start, end))
		sb.WriteString("\n\n")
	}

	// Ecosystem composite
	eco := snap.Ecosystem
	bw := iw - 40
	if bw < 10 {
		bw = 10
	}
	var ecoLines []string
	ecoLines = append(ecoLines, fmt.Sprintf("Overall:      %s %s  (%d modules)",
		bar(eco.Overall, bw), healthColor(eco.Overall).Render(fmt.Sprintf("%5.1f", eco.Overall)), eco.Modules))
	ecoLines = append(ecoLines, fmt.Sprintf("Connectivity: %s  Performance: %s  Reliability: %s  Scalability: %s",
		healthColor(eco.Connectivity).Render(fmt.Sprintf("%.0f", eco.Connectivity)),
		healthColor(eco.Performance).Render(fmt.Sprintf("%.0f", eco.Performance)),
		healthColor(eco.Reliability).Render(fmt.Sprintf("%.0f", eco.Reliability)),
		healthColor(eco.Scalability).Render(fmt.Sprintf("%.0f", eco.Scalability))))
	sb.WriteString(boxSection("ECOSYSTEM HEALTH", ecoLines, iw))

	// Hottest modules by p95
	var modLines []string
	modLines = append(modLines, dimStyle.Render(fmt.Sprintf("%-14s %9s %9s %9s %7s %6s %6s",
		"MODULE", "P95", "P99", "THRU/s", "ERR", "CPU", "MEM")))
	mods := hottestModules(snap.Modules, 6)
	if len(mods) == 0 {
		modLines = append(modLines, dimStyle.Render("(no module samples yet)"))
	}
	for _, mm := range mods {
		modLines = append(modLines, fmt.Sprintf("%-14s %9s %9s %9.1f %7s %6s %6s",
			truncate(string(mm.Module), 14),
			latencyChartColor(mm.LatencyP95, 0).Render(padLeft(fmtMs(mm.LatencyP95), 9)),
			fmtMs(mm.LatencyP99),
			mm.Throughput,
			errColor(mm.ErrorRate).Render(fmtRatio(mm.ErrorRate)),
			fmtRatio(mm.CPUUtilization),
			fmtRatio(mm.MemoryUtilization)))
	}
	sb.WriteString(boxSection("HOTTEST MODULES", modLines, iw))

	// Firing alerts
	var alertLines []string
	firing := 0
	for _, a := range snap.Alerts {
		if a.Firing {
			firing++
			alertLines = append(alertLines, fmt.Sprintf("%s %s  %s",
				critStyle.Render("●"), padRight(a.Name, 28), dimStyle.Render(a.Condition)))
		}
	}
	if firing == 0 {
		alertLines = append(alertLines, okStyle.Render("none firing"))
	}
	sb.WriteString(boxSection("ALERTS", alertLines, iw))

	// Latest control decisions
	var actLines []string
	recent := snap.Scaler.RecentActions
	for i := len(recent) - 1; i >= 0 && len(actLines) < 3; i-- {
		a := recent[i]
		actLines = append(actLines, fmt.Sprintf("%s %s %d -> %d  %s",
			scaleDirStyled(a.Direction), padRight(a.Policy, 20),
			a.CurrentNodes, a.TargetNodes,
			dimStyle.Render(fmt.Sprintf("%s=%.2f", a.Metric, a.Value))))
	}
	if snap.PausedFlows > 0 {
		actLines = append(actLines, warnStyle.Render(fmt.Sprintf("%d flows paused", snap.PausedFlows)))
	}
	if snap.DeferredSteps > 0 {
		actLines = append(actLines, warnStyle.Render(fmt.Sprintf("%d steps deferred", snap.DeferredSteps)))
	}
	if len(actLines) == 0 {
		actLines = append(actLines, dimStyle.Render("no interventions"))
	}
	sb.WriteString(boxSection("CONTROL DECISIONS", actLines, iw))

	return sb.String()
}

// renderPostureLine is the one-line plane posture under the title.
func renderPostureLine(snap *model.ControlSnapshot) string {
	burn := snap.BurnRate.Overall
	lvl := snap.Ladder.CurrentLevel

	levelBadge := levelColor(lvl).Render(fmt.Sprintf("L%d %s", lvl, snap.Ladder.LevelName))
	if snap.Ladder.ManualOverride {
		levelBadge += orangeStyle.Render(" [manual]")
	}

	return fmt.Sprintf("  burn %s %s   %s   cost %s/h   cache %s",
		burnBar(burn, 14),
		burnColor(burn).Render(fmt.Sprintf("%.2f", burn)),
		levelBadge,
		valueStyle.Render(fmtUSD(snap.HourlyCost)),
		valueStyle.Render(fmtRatio(snap.Cache.HitRate)))
}

// burnSeries extracts the overall burn history as percentages.
func burnSeries(history []model.ControlSnapshot) []float64 {
	out := make([]float64, len(history))
	for i, s := range history {
		out[i] = s.BurnRate.Overall * 100
	}
	return out
}

// hottestModules returns up to n modules sorted by p95 descending.
func hottestModules(mods []model.ModuleMetrics, n int) []model.ModuleMetrics {
	sorted := make([]model.ModuleMetrics, len(mods))
	copy(sorted, mods)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LatencyP95 > sorted[j].LatencyP95 })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func scaleDirStyled(dir string) string {
	if dir == "scale_down" {
		return okStyle.Render("▼ " + dir)
	}
	return warnStyle.Render("▲ " + dir)
}
