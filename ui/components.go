package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// kv is one key-value row for boxed detail sections.
type kv struct {
	Key string
	Val string
}

// styledPad pads a styled string to the given visual width using spaces.
// Unlike fmt.Sprintf("%-Xs"), this accounts for ANSI escape codes.
func styledPad(styled string, width int) string {
	visW := lipgloss.Width(styled)
	if visW >= width {
		return styled
	}
	return styled + strings.Repeat(" ", width-visW)
}

// ─── BOX DRAWING HELPERS ─────────────────────────────────────────────────────

// boxTop renders the top border of a rounded box.
// Total visual width = innerW + 5 (1 indent + 1 corner + innerW+2 dashes + 1 corner).
func boxTop(innerW int) string {
	return " " + dimStyle.Render("╭"+strings.Repeat("─", innerW+2)+"╮")
}

// boxBot renders the bottom border of a rounded box.
func boxBot(innerW int) string {
	return " " + dimStyle.Render("╰"+strings.Repeat("─", innerW+2)+"╯")
}

// boxMid renders a horizontal divider inside a box.
func boxMid(innerW int) string {
	return " " + dimStyle.Render("├"+strings.Repeat("─", innerW+2)+"┤")
}

// boxRow renders one content line inside a box, padded to innerW.
func boxRow(content string, innerW int) string {
	visW := lipgloss.Width(content)
	pad := innerW - visW
	if pad < 0 {
		pad = 0
	}
	return " " + dimStyle.Render("│") + " " + content + strings.Repeat(" ", pad) + " " + dimStyle.Render("│")
}

// boxSection renders a titled section inside a bordered box.
func boxSection(title string, lines []string, innerW int) string {
	var sb strings.Builder
	sb.WriteString(boxTop(innerW) + "\n")
	sb.WriteString(boxRow(headerStyle.Render(title), innerW) + "\n")
	sb.WriteString(boxMid(innerW) + "\n")
	for _, line := range lines {
		sb.WriteString(boxRow(line, innerW) + "\n")
	}
	sb.WriteString(boxBot(innerW) + "\n")
	return sb.String()
}

// renderKVBox renders key-value pairs inside a bordered box.
func renderKVBox(details []kv, innerW int) string {
	var sb strings.Builder
	sb.WriteString(boxTop(innerW) + "\n")
	for _, d := range details {
		key := d.Key
		if len(key) > 18 {
			key = key[:18]
		}
		content := fmt.Sprintf("%s %s",
			styledPad(dimStyle.Render(key+":"), 20),
			valueStyle.Render(d.Val))
		sb.WriteString(boxRow(content, innerW) + "\n")
	}
	sb.WriteString(boxBot(innerW) + "\n")
	return sb.String()
}

// pageInnerW computes box inner width from terminal width.
func pageInnerW(termWidth int) int {
	w := termWidth - 6
	if w < 60 {
		w = 60
	}
	return w
}

// bar renders a percentage bar of given width, graded at 50/80.
func bar(pct float64, width int) string {
	if width < 1 {
		width = 10
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	if filled > width {
		filled = width
	}
	b := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	switch {
	case pct >= 80:
		return critStyle.Render(b)
	case pct >= 50:
		return warnStyle.Render(b)
	default:
		return okStyle.Render(b)
	}
}

// burnBar renders a 0..1 burn value as a bar graded at the governor's
// warn and critical bands.
func burnBar(burn float64, width int) string {
	if width < 1 {
		width = 10
	}
	if burn < 0 {
		burn = 0
	}
	if burn > 1 {
		burn = 1
	}
	filled := int(burn * float64(width))
	if filled > width {
		filled = width
	}
	b := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return burnColor(burn).Render(b)
}

// nodeBar renders a pool's node count against the largest pool.
func nodeBar(nodes, maxNodes, width int) string {
	if width < 1 {
		width = 10
	}
	if maxNodes < 1 {
		maxNodes = 1
	}
	filled := nodes * width / maxNodes
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return okStyle.Render(strings.Repeat("█", filled)) + dimStyle.Render(strings.Repeat("░", width-filled))
}

// sparkline renders a single-line chart of the series.
func sparkline(data []float64, width int, minVal, maxVal float64) string {
	blocks := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	if maxVal <= minVal {
		maxVal = minVal + 1
	}

	resampled := resampleData(data, width)

	var sb strings.Builder
	for _, v := range resampled {
		ratio := (v - minVal) / (maxVal - minVal)
		if ratio < 0 {
			ratio = 0
		}
		if ratio > 1 {
			ratio = 1
		}
		idx := int(ratio * float64(len(blocks)-1))
		if idx >= len(blocks) {
			idx = len(blocks) - 1
		}

		switch {
		case ratio > 0.8:
			sb.WriteString(critStyle.Render(string(blocks[idx])))
		case ratio > 0.4:
			sb.WriteString(warnStyle.Render(string(blocks[idx])))
		default:
			sb.WriteString(okStyle.Render(string(blocks[idx])))
		}
	}
	return sb.String()
}

// ─── FORMATTERS ──────────────────────────────────────────────────────────────

func fmtMs(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.2fs", ms/1000)
	}
	if ms >= 100 {
		return fmt.Sprintf("%.0fms", ms)
	}
	return fmt.Sprintf("%.1fms", ms)
}

func fmtPct(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

// fmtRatio renders a 0..1 utilization or rate as a percentage.
func fmtRatio(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func fmtUSD(v float64) string {
	if v >= 100 {
		return fmt.Sprintf("$%.0f", v)
	}
	return fmt.Sprintf("$%.2f", v)
}

func fmtCount(v uint64) string {
	return humanize.Comma(int64(v))
}

func fmtBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}

// fmtEpoch renders an epoch-ms timestamp as wall-clock time.
func fmtEpoch(ms int64) string {
	if ms <= 0 {
		return "—"
	}
	return time.UnixMilli(ms).Format("15:04:05")
}

// fmtAgo renders how long ago an epoch-ms timestamp was, relative to now.
func fmtAgo(ms, nowMs int64) string {
	if ms <= 0 || nowMs < ms {
		return "—"
	}
	return formatDuration(time.Duration(nowMs-ms)*time.Millisecond) + " ago"
}

func padRight(s string, width int) string {
	r := []rune(s)
	if len(r) >= width {
		if width > 3 {
			return string(r[:width-3]) + "..."
		}
		return string(r[:width])
	}
	return s + strings.Repeat(" ", width-len(r))
}

func padLeft(s string, width int) string {
	r := []rune(s)
	if len(r) >= width {
		return string(r[:width])
	}
	return strings.Repeat(" ", width-len(r)) + s
}

// truncate shortens s to maxLen characters with ellipsis if needed.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
