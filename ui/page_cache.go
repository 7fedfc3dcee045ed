package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ftahirops/qplane/model"
)

func renderCachePage(snap *model.ControlSnapshot, width, height int) string {
	var sb strings.Builder
	iw := pageInnerW(width)
	cs := snap.Cache

	sb.WriteString(titleStyle.Render("INTELLIGENT CACHE"))
	sb.WriteString("\n\n")

	bw := iw - 36
	if bw < 10 {
		bw = 10
	}

	// Hit rate and occupancy
	var sumLines []string
	sumLines = append(sumLines, fmt.Sprintf("Hit rate:  %s %s   (%s hits / %s misses)",
		bar(cs.HitRate*100, bw), fmtRatio(cs.HitRate), fmtCount(cs.Hits), fmtCount(cs.Misses)))

	entryPct := float64(0)
	if cs.MaxEntries > 0 {
		entryPct = float64(cs.Entries) / float64(cs.MaxEntries) * 100
	}
	sumLines = append(sumLines, fmt.Sprintf("Entries:   %s %d / %d", bar(entryPct, bw), cs.Entries, cs.MaxEntries))

	sizePct := float64(0)
	if cs.MaxSizeBytes > 0 {
		sizePct = float64(cs.SizeBytes) / float64(cs.MaxSizeBytes) * 100
	}
	sumLines = append(sumLines, fmt.Sprintf("Size:      %s %s / %s",
		bar(sizePct, bw), fmtBytes(cs.SizeBytes), fmtBytes(cs.MaxSizeBytes)))
	sb.WriteString(boxSection("OCCUPANCY", sumLines, iw))

	// Churn counters
	var churn []kv
	churn = append(churn, kv{"Evictions", fmtCount(cs.Evictions)})
	churn = append(churn, kv{"Expirations", fmtCount(cs.Expirations)})
	churn = append(churn, kv{"Invalidations", fmtCount(cs.Invalidations)})
	sb.WriteString(renderKVBox(churn, iw))
	sb.WriteString("\n")

	// Per-namespace entry counts
	var nsLines []string
	names := make([]string, 0, len(cs.ByNamespace))
	maxN := 1
	for name, n := range cs.ByNamespace {
		names = append(names, name)
		if n > maxN {
			maxN = n
		}
	}
	sort.Strings(names)
	for _, name := range names {
		n := cs.ByNamespace[name]
		nsLines = append(nsLines, fmt.Sprintf("%-18s %s %5d",
			truncate(name, 18), nodeBar(n, maxN, bw), n))
	}
	if len(nsLines) == 0 {
		nsLines = append(nsLines, dimStyle.Render("cache is empty"))
	}
	sb.WriteString(boxSection("NAMESPACES", nsLines, iw))

	return sb.String()
}
