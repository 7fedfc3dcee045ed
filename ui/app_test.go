package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ftahirops/qplane/model"
)

// ---------------------------------------------------------------------------
// padRight — rune-aware right-padding with ellipsis truncation
// ---------------------------------------------------------------------------

func TestPadRightShorterThanWidth(t *testing.T) {
	got := padRight("abc", 10)
	if got != "abc       " {
		t.Errorf("padRight(%q, 10) = %q", "abc", got)
	}
}

func TestPadRightLongerTruncatedWithEllipsis(t *testing.T) {
	got := padRight("hello world", 8)
	if got != "hello..." {
		t.Errorf("padRight(%q, 8) = %q, want %q", "hello world", got, "hello...")
	}
}

func TestPadRightMultiByte(t *testing.T) {
	got := padRight("日本語", 6)
	runes := []rune(got)
	if len(runes) != 6 {
		t.Errorf("padRight multi-byte: expected 6 runes, got %d (%q)", len(runes), got)
	}
	if string(runes[:3]) != "日本語" {
		t.Errorf("padRight multi-byte: content mangled: %q", got)
	}
}

func TestTruncateKeepsShortStrings(t *testing.T) {
	if got := truncate("abc", 5); got != "abc" {
		t.Errorf("truncate(%q, 5) = %q", "abc", got)
	}
	if got := truncate("abcdefgh", 6); got != "abc..." {
		t.Errorf("truncate(%q, 6) = %q", "abcdefgh", got)
	}
}

// ---------------------------------------------------------------------------
// resampleData / autoScale
// ---------------------------------------------------------------------------

func TestResampleDataPassthroughWhenNarrow(t *testing.T) {
	in := []float64{1, 2, 3}
	got := resampleData(in, 10)
	if len(got) != 3 {
		t.Fatalf("expected passthrough, got len %d", len(got))
	}
}

func TestResampleDataAveragesBuckets(t *testing.T) {
	in := []float64{0, 0, 10, 10}
	got := resampleData(in, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(got))
	}
	if got[0] != 0 || got[1] != 10 {
		t.Errorf("bucket averages = %v, want [0 10]", got)
	}
}

func TestAutoScaleZeroData(t *testing.T) {
	if got := autoScale([]float64{0, 0}, 100); got != 5 {
		t.Errorf("autoScale all-zero = %v, want 5", got)
	}
}

func TestAutoScalePicksNiceCeiling(t *testing.T) {
	// max 42 * 1.3 headroom = 54.6 -> first nice value >= that is 75
	if got := autoScale([]float64{10, 42}, 10000); got != 75 {
		t.Errorf("autoScale = %v, want 75", got)
	}
}

// ---------------------------------------------------------------------------
// formatters
// ---------------------------------------------------------------------------

func TestFmtMs(t *testing.T) {
	if got := fmtMs(85.4); got != "85.4ms" {
		t.Errorf("fmtMs(85.4) = %q", got)
	}
	if got := fmtMs(850); got != "850ms" {
		t.Errorf("fmtMs(850) = %q", got)
	}
	if got := fmtMs(1500); got != "1.50s" {
		t.Errorf("fmtMs(1500) = %q", got)
	}
}

func TestFmtUSD(t *testing.T) {
	if got := fmtUSD(3.25); got != "$3.25" {
		t.Errorf("fmtUSD(3.25) = %q", got)
	}
	if got := fmtUSD(1234); got != "$1234" {
		t.Errorf("fmtUSD(1234) = %q", got)
	}
}

func TestFmtEpochZeroIsDash(t *testing.T) {
	if got := fmtEpoch(0); got != "—" {
		t.Errorf("fmtEpoch(0) = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(42 * time.Second); got != "42s" {
		t.Errorf("formatDuration(42s) = %q", got)
	}
	if got := formatDuration(130 * time.Second); got != "2m10s" {
		t.Errorf("formatDuration(130s) = %q", got)
	}
	if got := formatDuration(2 * time.Hour); got != "2h0m" {
		t.Errorf("formatDuration(2h) = %q", got)
	}
}

// ---------------------------------------------------------------------------
// scale action diffing — the recent list is capped and carries no IDs
// ---------------------------------------------------------------------------

func TestNewScaleActionsEmptyPrev(t *testing.T) {
	cur := []model.ScaleAction{{Policy: "a"}, {Policy: "b"}}
	got := newScaleActions(nil, cur)
	if len(got) != 2 {
		t.Errorf("empty prev should surface all actions, got %d", len(got))
	}
}

func TestNewScaleActionsTailAfterMatch(t *testing.T) {
	a := model.ScaleAction{Policy: "pool", Direction: "scale_up", CurrentNodes: 2, TargetNodes: 3}
	b := model.ScaleAction{Policy: "pool", Direction: "scale_up", CurrentNodes: 3, TargetNodes: 4}
	prev := []model.ScaleAction{a}
	cur := []model.ScaleAction{a, b}
	got := newScaleActions(prev, cur)
	if len(got) != 1 || got[0] != b {
		t.Errorf("expected only the new tail action, got %v", got)
	}
}

func TestNewScaleActionsNoOverlap(t *testing.T) {
	prev := []model.ScaleAction{{Policy: "old"}}
	cur := []model.ScaleAction{{Policy: "x"}, {Policy: "y"}}
	got := newScaleActions(prev, cur)
	if len(got) != 2 {
		t.Errorf("window rolled past prev; expected all current actions, got %d", len(got))
	}
}

// ---------------------------------------------------------------------------
// activity log
// ---------------------------------------------------------------------------

func snapAt(ts int64) model.ControlSnapshot {
	return model.ControlSnapshot{
		Timestamp: ts,
		Ladder:    model.LadderStatus{CurrentLevel: 0, LevelName: "Normal"},
	}
}

func TestActivityObservesLadderEscalation(t *testing.T) {
	var feed activityLog
	prev := snapAt(1000)
	cur := snapAt(2000)
	cur.Ladder.CurrentLevel = 2
	cur.Ladder.LevelName = "Cost Control"

	feed.Observe(&prev, &cur)
	entries := feed.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Kind != "ladder" {
		t.Errorf("kind = %q, want ladder", entries[0].Kind)
	}
	if !strings.Contains(entries[0].Text, "L0 -> L2") {
		t.Errorf("text = %q, missing transition", entries[0].Text)
	}
}

func TestActivityObservesAlertEdges(t *testing.T) {
	var feed activityLog
	prev := snapAt(1000)
	prev.Alerts = []model.AlertState{{Name: "burn-high", Firing: false}}
	cur := snapAt(2000)
	cur.Alerts = []model.AlertState{{Name: "burn-high", Condition: "burn >= 0.9", Firing: true}}

	feed.Observe(&prev, &cur)
	if feed.Len() != 1 {
		t.Fatalf("rising edge: expected 1 entry, got %d", feed.Len())
	}

	// Resolution on the falling edge
	next := snapAt(3000)
	next.Alerts = []model.AlertState{{Name: "burn-high", Firing: false}}
	feed.Observe(&cur, &next)
	entries := feed.Entries()
	if len(entries) != 2 {
		t.Fatalf("falling edge: expected 2 entries, got %d", len(entries))
	}
	if entries[0].Severity != "ok" || !strings.Contains(entries[0].Text, "resolved") {
		t.Errorf("newest entry should be the resolution, got %+v", entries[0])
	}
}

func TestActivityObservesFlowPauses(t *testing.T) {
	var feed activityLog
	prev := snapAt(1000)
	cur := snapAt(2000)
	cur.PausedFlows = 7

	feed.Observe(&prev, &cur)
	entries := feed.Entries()
	if len(entries) != 1 || entries[0].Kind != "governor" {
		t.Fatalf("expected one governor entry, got %+v", entries)
	}
	if !strings.Contains(entries[0].Text, "paused 7") {
		t.Errorf("text = %q", entries[0].Text)
	}
}

func TestActivityIgnoresFirstFrame(t *testing.T) {
	var feed activityLog
	cur := snapAt(1000)
	feed.Observe(nil, &cur)
	if feed.Len() != 0 {
		t.Errorf("nil prev should record nothing, got %d entries", feed.Len())
	}
}

// ---------------------------------------------------------------------------
// model update loop
// ---------------------------------------------------------------------------

type staticSource struct{ snap model.ControlSnapshot }

func (s staticSource) Snapshot() model.ControlSnapshot { return s.snap }

func keyMsg(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestModelPageSwitching(t *testing.T) {
	m := NewModel(staticSource{}, time.Second, false)

	next, _ := m.Update(keyMsg('3'))
	m = next.(Model)
	if m.page != PageGovernor {
		t.Errorf("page = %v, want PageGovernor", m.page)
	}

	next, _ = m.Update(keyMsg('b'))
	m = next.(Model)
	if m.page != PageOverview {
		t.Errorf("b should return to overview, page = %v", m.page)
	}
}

func TestModelCollectAccumulatesHistory(t *testing.T) {
	m := NewModel(staticSource{}, time.Second, false)

	first := snapAt(1000)
	next, _ := m.Update(collectMsg{snap: first})
	m = next.(Model)

	second := snapAt(2000)
	second.Ladder.CurrentLevel = 1
	second.Ladder.LevelName = "Performance Optimization"
	next, _ = m.Update(collectMsg{snap: second})
	m = next.(Model)

	if len(m.history) != 2 {
		t.Errorf("history len = %d, want 2", len(m.history))
	}
	if m.snap == nil || m.snap.Ladder.CurrentLevel != 1 {
		t.Errorf("current snap not updated: %+v", m.snap)
	}
	if m.activity.Len() != 1 {
		t.Errorf("escalation between frames should log activity, got %d", m.activity.Len())
	}
}

func TestModelPauseStopsTicks(t *testing.T) {
	m := NewModel(staticSource{}, time.Second, false)

	next, _ := m.Update(keyMsg('a'))
	m = next.(Model)
	if !m.paused {
		t.Fatal("a should pause")
	}

	_, cmd := m.Update(tickMsg(time.Now()))
	if cmd != nil {
		t.Error("paused tick should not schedule work")
	}
}

// ---------------------------------------------------------------------------
// render smoke checks — renderers are pure string builders
// ---------------------------------------------------------------------------

func sampleSnapshot() *model.ControlSnapshot {
	return &model.ControlSnapshot{
		Timestamp: 1_700_000_000_000,
		Ecosystem: model.EcosystemHealth{Overall: 82, Connectivity: 90, Performance: 75, Reliability: 88, Scalability: 80, Modules: 2},
		BurnRate:  model.BurnRateMetrics{CPUBurn: 0.4, MemoryBurn: 0.3, LatencyBurn: 0.5, ErrorBurn: 0.1, CostBurn: 0.2, Overall: 0.36},
		Ladder:    model.LadderStatus{CurrentLevel: 1, LevelName: "Performance Optimization", Transitions: 3},
		Scaler: model.ScalerStatus{
			Policies:    1,
			NodesByPool: map[string]int{"executor-pool": 4},
			RecentActions: []model.ScaleAction{
				{Policy: "executor-pool", Direction: "scale_up", CurrentNodes: 3, TargetNodes: 4, Metric: "cpu_utilization", Value: 0.82},
			},
		},
		Modules: []model.ModuleMetrics{
			{Module: "qflow", LatencyP95: 850, LatencyP99: 1200, Throughput: 120, ErrorRate: 0.01, Availability: 0.99, CPUUtilization: 0.6, MemoryUtilization: 0.5},
			{Module: "qindex", LatencyP95: 320, LatencyP99: 500, Throughput: 300, ErrorRate: 0.002, Availability: 0.999, CPUUtilization: 0.3, MemoryUtilization: 0.4},
		},
		Correlations: []model.CorrelationAnalysis{
			{ModuleA: "qflow", ModuleB: "qindex", Coefficient: 0.82, Strength: model.StrengthStrong,
				Type: model.CorrelationPositive, Direction: model.ImpactAToB, LagMs: 120, Samples: 40, Confidence: 0.9},
		},
		Cache:       model.CacheStats{Entries: 10, MaxEntries: 100, HitRate: 0.75, Hits: 30, Misses: 10, ByNamespace: map[string]int{"flow": 10}},
		HourlyCost:  12.5,
		PausedFlows: 2,
	}
}

func TestRenderOverviewSmoke(t *testing.T) {
	snap := sampleSnapshot()
	out := renderOverview(snap, []model.ControlSnapshot{*snap, *snap}, 120, 40)
	for _, want := range []string{"QPLANE", "qflow", "ECOSYSTEM HEALTH", "ALERTS"} {
		if !strings.Contains(out, want) {
			t.Errorf("overview missing %q", want)
		}
	}
}

func TestRenderModulesPageSortsByErrors(t *testing.T) {
	snap := sampleSnapshot()
	out := renderModulesPage(snap, nil, sortByErrors, 0, 120, 40)
	qflow := strings.Index(out, "qflow")
	qindex := strings.Index(out, "qindex")
	if qflow < 0 || qindex < 0 {
		t.Fatal("modules missing from table")
	}
	if qflow > qindex {
		t.Error("error sort should list qflow (higher error rate) first")
	}
}

func TestRenderLadderPageMarksCurrentRung(t *testing.T) {
	snap := sampleSnapshot()
	out := renderLadderPage(snap, 120, 40)
	if !strings.Contains(out, "Performance Optimization") {
		t.Error("ladder page missing current level name")
	}
	if !strings.Contains(out, "L4") {
		t.Error("ladder page should list every rung")
	}
}

func TestRenderPagesHandleEmptySnapshot(t *testing.T) {
	empty := &model.ControlSnapshot{}
	renders := map[string]string{
		"overview":     renderOverview(empty, nil, 100, 30),
		"modules":      renderModulesPage(empty, nil, sortByP95, 0, 100, 30),
		"correlations": renderCorrelationsPage(empty, 0, 100, 30),
		"governor":     renderGovernorPage(empty, nil, 100, 30),
		"ladder":       renderLadderPage(empty, 100, 30),
		"scaler":       renderScalerPage(empty, 100, 30),
		"cache":        renderCachePage(empty, 100, 30),
		"activity":     renderActivityPage(nil, 0, 100, 30),
	}
	for name, out := range renders {
		if out == "" {
			t.Errorf("%s page rendered empty string for zero snapshot", name)
		}
	}
}

func TestStatusBarShowsReplayPosition(t *testing.T) {
	m := NewModel(staticSource{}, time.Second, true)
	m.width = 160
	bar := m.renderStatusBar()
	if !strings.Contains(bar, "REPLAY") {
		t.Errorf("replay status bar missing indicator: %q", bar)
	}
}
