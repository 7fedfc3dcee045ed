package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/ftahirops/qplane/model"
)

func renderGovernorPage(snap *model.ControlSnapshot, history []model.ControlSnapshot, width, height int) string {
	var sb strings.Builder
	iw := pageInnerW(width)
	burn := snap.BurnRate

	sb.WriteString(titleStyle.Render("BURN-RATE GOVERNOR"))
	sb.WriteString("\n\n")

	bw := iw - 32
	if bw < 10 {
		bw = 10
	}
	dims := []struct {
		name string
		val  float64
	}{
		{"CPU", burn.CPUBurn},
		{"Memory", burn.MemoryBurn},
		{"Latency", burn.LatencyBurn},
		{"Error", burn.ErrorBurn},
		{"Cost", burn.CostBurn},
	}
	var dimLines []string
	for _, d := range dims {
		dimLines = append(dimLines, fmt.Sprintf("%-9s %s %s",
			d.name, burnBar(d.val, bw), burnColor(d.val).Render(fmt.Sprintf("%.2f", d.val))))
	}
	dimLines = append(dimLines, "")
	dimLines = append(dimLines, fmt.Sprintf("%-9s %s %s",
		"OVERALL", burnBar(burn.Overall, bw),
		burnColor(burn.Overall).Render(fmt.Sprintf("%.2f", burn.Overall))))
	sb.WriteString(boxSection("DIMENSIONS", dimLines, iw))

	// Cost accounting
	hourly := snap.HourlyCost
	var costLines []string
	costLines = append(costLines, fmt.Sprintf("Hourly:    %s      Daily (projected): %s",
		valueStyle.Render(fmtUSD(hourly)), valueStyle.Render(fmtUSD(hourly*24))))
	costLines = append(costLines, fmt.Sprintf("Monthly (projected): %s",
		valueStyle.Render(fmtUSD(hourly*24*30))))
	sb.WriteString(boxSection("COST", costLines, iw))

	// Cost burn history
	series := costBurnSeries(history)
	if len(series) >= 2 {
		chartW := iw
		if chartW > 100 {
			chartW = 100
		}
		start := time.UnixMilli(history[0].Timestamp)
		end := time.UnixMilli(history[len(history)-1].Timestamp)
		sb.WriteString(areaChart(series, "Cost burn %", chartW, 5, 0, 100, burnChartColor, start, end))
		sb.WriteString("\n\n")
	}

	// Flow controls
	var flowLines []string
	if snap.PausedFlows > 0 {
		flowLines = append(flowLines, warnStyle.Render(fmt.Sprintf("%d low-priority flows paused", snap.PausedFlows)))
	}
	if snap.DeferredSteps > 0 {
		flowLines = append(flowLines, warnStyle.Render(fmt.Sprintf("%d heavy steps deferred", snap.DeferredSteps)))
	}
	if len(flowLines) == 0 {
		flowLines = append(flowLines, okStyle.Render("no flows paused, no steps deferred"))
	}
	flowLines = append(flowLines, "")
	flowLines = append(flowLines, dimStyle.Render("cost policies fire on cost burn thresholds; paused flows resume"))
	flowLines = append(flowLines, dimStyle.Render("when burn recedes, deferred steps re-enter after their deferral window"))
	sb.WriteString(boxSection("FLOW CONTROLS", flowLines, iw))

	return sb.String()
}

func costBurnSeries(history []model.ControlSnapshot) []float64 {
	out := make([]float64, len(history))
	for i, s := range history {
		out[i] = s.BurnRate.CostBurn * 100
	}
	return out
}
