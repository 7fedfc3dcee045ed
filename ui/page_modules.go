package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ftahirops/qplane/model"
)

// modSort selects the module table's sort column.
type modSort int

const (
	sortByP95 modSort = iota
	sortByThroughput
	sortByErrors
	sortByCPU
	modSortCount
)

func (s modSort) String() string {
	switch s {
	case sortByP95:
		return "p95"
	case sortByThroughput:
		return "throughput"
	case sortByErrors:
		return "errors"
	case sortByCPU:
		return "cpu"
	}
	return "?"
}

func renderModulesPage(snap *model.ControlSnapshot, history []model.ControlSnapshot, sortCol modSort, selected int, width, height int) string {
	var sb strings.Builder
	iw := pageInnerW(width)

	sb.WriteString(titleStyle.Render(fmt.Sprintf("MODULES  (%d observed)", len(snap.Modules))))
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  sort: %s  (s to cycle, j/k to select)", sortCol)))
	sb.WriteString("\n\n")

	mods := sortedModules(snap.Modules, sortCol)
	if len(mods) == 0 {
		sb.WriteString(dimStyle.Render("  no module samples yet — waiting for executor ingest"))
		sb.WriteString("\n")
		return sb.String()
	}
	if selected >= len(mods) {
		selected = len(mods) - 1
	}

	hdr := fmt.Sprintf("  %-14s %9s %9s %9s %9s %7s %6s %6s %6s",
		"MODULE", "P50", "P95", "P99", "THRU/s", "ERR", "AVAIL", "CPU", "MEM")
	sb.WriteString(headerStyle.Render(hdr))
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render("  " + strings.Repeat("─", min(iw, width-4))))
	sb.WriteString("\n")

	for i, mm := range mods {
		line := fmt.Sprintf("  %-14s %9s %9s %9s %9.1f %7s %6s %6s %6s",
			truncate(string(mm.Module), 14),
			fmtMs(mm.LatencyP50),
			fmtMs(mm.LatencyP95),
			fmtMs(mm.LatencyP99),
			mm.Throughput,
			fmtRatio(mm.ErrorRate),
			fmtRatio(mm.Availability),
			fmtRatio(mm.CPUUtilization),
			fmtRatio(mm.MemoryUtilization))
		if i == selected {
			sb.WriteString(selectedStyle.Render(line))
		} else {
			sb.WriteString(line)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	// Selected module detail with p95 history sparkline
	sel := mods[selected]
	series := moduleP95Series(history, sel.Module)
	sparkW := iw - 30
	if sparkW < 20 {
		sparkW = 20
	}
	var detail []string
	detail = append(detail, fmt.Sprintf("p95 history:  %s  %s",
		sparkline(series, sparkW, 0, autoScale(series, 5000)),
		dimStyle.Render(fmt.Sprintf("now=%s", fmtMs(sel.LatencyP95)))))
	detail = append(detail, fmt.Sprintf("network util: %s   sampled: %s",
		fmtRatio(sel.NetworkUtilization), fmtEpoch(sel.Timestamp)))
	sb.WriteString(boxSection(strings.ToUpper(string(sel.Module)), detail, iw))

	// Error budgets
	var budLines []string
	budLines = append(budLines, dimStyle.Render(fmt.Sprintf("%-22s %8s %8s %9s %10s %12s",
		"OPERATION", "TARGET", "USED", "REMAIN", "REQUESTS", "EXHAUSTION")))
	shown := 0
	for _, b := range snap.Budgets {
		if shown >= 8 {
			break
		}
		shown++
		remStyle := okStyle
		if b.Remaining < 0.25 {
			remStyle = critStyle
		} else if b.Remaining < 0.5 {
			remStyle = warnStyle
		}
		exhaust := "—"
		if b.TimeToExhaustion > 0 {
			exhaust = fmt.Sprintf("%.0fmin", b.TimeToExhaustion)
		}
		budLines = append(budLines, fmt.Sprintf("%-22s %8s %8s %9s %10s %12s",
			truncate(b.Operation, 22),
			fmtRatio(b.AvailabilityTarget),
			fmtRatio(b.ErrorRate),
			remStyle.Render(padLeft(fmtRatio(b.Remaining), 9)),
			fmtCount(b.Requests),
			exhaust))
	}
	if shown == 0 {
		budLines = append(budLines, dimStyle.Render("no tracked operations yet"))
	}
	sb.WriteString(boxSection("ERROR BUDGETS", budLines, iw))

	return sb.String()
}

func sortedModules(mods []model.ModuleMetrics, col modSort) []model.ModuleMetrics {
	sorted := make([]model.ModuleMetrics, len(mods))
	copy(sorted, mods)
	sort.Slice(sorted, func(i, j int) bool {
		switch col {
		case sortByThroughput:
			return sorted[i].Throughput > sorted[j].Throughput
		case sortByErrors:
			return sorted[i].ErrorRate > sorted[j].ErrorRate
		case sortByCPU:
			return sorted[i].CPUUtilization > sorted[j].CPUUtilization
		default:
			return sorted[i].LatencyP95 > sorted[j].LatencyP95
		}
	})
	return sorted
}

// moduleP95Series extracts one module's p95 across the frame history.
func moduleP95Series(history []model.ControlSnapshot, id model.ModuleID) []float64 {
	var out []float64
	for _, s := range history {
		for _, mm := range s.Modules {
			if mm.Module == id {
				out = append(out, mm.LatencyP95)
				break
			}
		}
	}
	return out
}
