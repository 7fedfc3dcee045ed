package ui

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ftahirops/qplane/control"
	"github.com/ftahirops/qplane/model"
)

// Page identifies the current screen.
type Page int

const (
	PageOverview Page = iota
	PageModules
	PageCorrelations
	PageGovernor
	PageLadder
	PageScaler
	PageCache
	PageActivity
	pageCount
)

var pageNames = []string{"Overview", "Modules", "Correlations", "Governor", "Ladder", "Scaler", "Cache", "Activity"}

// historyMax bounds the frame history kept for charts.
const historyMax = 240

type tickMsg time.Time

type collectMsg struct {
	snap model.ControlSnapshot
}

// saveConfirmMsg is sent after a state save completes.
type saveConfirmMsg struct {
	path string
	err  error
}

// Model is the bubbletea model.
type Model struct {
	src      control.Source
	interval time.Duration
	replay   bool
	width    int
	height   int

	// Data
	snap     *model.ControlSnapshot
	history  []model.ControlSnapshot
	activity activityLog

	// Navigation
	page     Page
	showHelp bool
	scroll   int // vertical scroll offset

	// Auto-refresh control
	paused bool

	// Save / status feedback
	saveMsg     string
	saveMsgTime time.Time

	// Per-page selection state
	modSort     modSort
	modSelected int
	corSelected int
	actSelected int
}

// NewModel creates a TUI model reading frames from src. In replay mode
// the source is a recording and the seek keys are live.
func NewModel(src control.Source, interval time.Duration, replay bool) Model {
	return Model{
		src:      src,
		interval: interval,
		replay:   replay,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), collectOnce(m.src))
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func collectOnce(src control.Source) tea.Cmd {
	return func() tea.Msg {
		return collectMsg{snap: src.Snapshot()}
	}
}

// saveState writes the current control frame to a JSON file.
func saveState(snap *model.ControlSnapshot) tea.Cmd {
	return func() tea.Msg {
		ts := time.Now().Format("20060102-150405")
		path := fmt.Sprintf("qplane-state-%s.json", ts)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return saveConfirmMsg{err: err}
		}
		defer f.Close()

		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return saveConfirmMsg{err: err}
		}
		return saveConfirmMsg{path: path}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.showHelp {
			m.showHelp = false
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "?":
			m.showHelp = true
		case "a":
			m.paused = !m.paused
			if !m.paused {
				// Resume: schedule next tick immediately
				return m, tea.Batch(tick(m.interval), collectOnce(m.src))
			}
		case "n":
			// Step one frame when paused in replay mode
			if m.paused && m.replay {
				return m, collectOnce(m.src)
			}
		case "[":
			return m.seek(-10)
		case "]":
			return m.seek(+10)
		case "{":
			return m.seek(-60)
		case "}":
			return m.seek(+60)
		case "J":
			if p, ok := m.src.(*control.Player); ok {
				p.Seek(0)
				return m, collectOnce(m.src)
			}
		case "K":
			if p, ok := m.src.(*control.Player); ok {
				p.Seek(p.Len() - 1)
				return m, collectOnce(m.src)
			}
		case "S":
			if m.snap != nil {
				return m, saveState(m.snap)
			}
		case "0":
			m.gotoPage(PageOverview)
		case "1":
			m.gotoPage(PageModules)
		case "2":
			m.gotoPage(PageCorrelations)
		case "3":
			m.gotoPage(PageGovernor)
		case "4":
			m.gotoPage(PageLadder)
		case "5":
			m.gotoPage(PageScaler)
		case "6":
			m.gotoPage(PageCache)
		case "7":
			m.gotoPage(PageActivity)
		case "b", "esc":
			m.gotoPage(PageOverview)
		case "j", "down":
			switch m.page {
			case PageModules:
				if m.snap != nil && m.modSelected < len(m.snap.Modules)-1 {
					m.modSelected++
				}
			case PageCorrelations:
				if m.snap != nil && m.corSelected < len(m.snap.Correlations)-1 {
					m.corSelected++
				}
			case PageActivity:
				if m.actSelected < m.activity.Len()-1 {
					m.actSelected++
				}
			default:
				m.scroll++
			}
		case "k", "up":
			switch m.page {
			case PageModules:
				if m.modSelected > 0 {
					m.modSelected--
				}
			case PageCorrelations:
				if m.corSelected > 0 {
					m.corSelected--
				}
			case PageActivity:
				if m.actSelected > 0 {
					m.actSelected--
				}
			default:
				if m.scroll > 0 {
					m.scroll--
				}
			}
		case "s":
			if m.page == PageModules {
				m.modSort = (m.modSort + 1) % modSortCount
				m.modSelected = 0
			}
		case "G":
			m.scroll += 20
		case "g":
			m.scroll = 0
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		if m.paused {
			return m, nil
		}
		return m, tea.Batch(tick(m.interval), collectOnce(m.src))
	case collectMsg:
		prev := m.snap
		snap := msg.snap
		m.snap = &snap
		m.history = append(m.history, snap)
		if len(m.history) > historyMax {
			m.history = m.history[len(m.history)-historyMax:]
		}
		m.activity.Observe(prev, m.snap)
	case saveConfirmMsg:
		if msg.err != nil {
			m.saveMsg = fmt.Sprintf("Save failed: %v", msg.err)
		} else {
			m.saveMsg = fmt.Sprintf("Saved: %s", msg.path)
		}
		m.saveMsgTime = time.Now()
	}
	return m, nil
}

func (m *Model) gotoPage(p Page) {
	m.page = p
	m.scroll = 0
}

// seek moves a replay source by delta frames and fetches the frame.
func (m Model) seek(delta int) (tea.Model, tea.Cmd) {
	if p, ok := m.src.(*control.Player); ok {
		p.Seek(p.Index() + delta)
		return m, collectOnce(m.src)
	}
	return m, nil
}

func (m Model) View() string {
	if m.showHelp {
		return m.renderHelp()
	}
	if m.width == 0 {
		return "Loading..."
	}
	if m.snap == nil {
		return "Waiting for first control frame..."
	}

	var content string
	switch m.page {
	case PageOverview:
		content = renderOverview(m.snap, m.history, m.width, m.height)
	case PageModules:
		content = renderModulesPage(m.snap, m.history, m.modSort, m.modSelected, m.width, m.height)
	case PageCorrelations:
		content = renderCorrelationsPage(m.snap, m.corSelected, m.width, m.height)
	case PageGovernor:
		content = renderGovernorPage(m.snap, m.history, m.width, m.height)
	case PageLadder:
		content = renderLadderPage(m.snap, m.width, m.height)
	case PageScaler:
		content = renderScalerPage(m.snap, m.width, m.height)
	case PageCache:
		content = renderCachePage(m.snap, m.width, m.height)
	case PageActivity:
		content = renderActivityPage(m.activity.Entries(), m.actSelected, m.width, m.height)
	}

	// Inject frame clock + interval into the first line (top-right)
	content = m.injectClock(content)

	// Apply scroll, clamped to the content
	lines := strings.Split(content, "\n")
	if m.scroll >= len(lines) {
		m.scroll = len(lines) - 1
	}
	if m.scroll < 0 {
		m.scroll = 0
	}
	if m.scroll > 0 && m.scroll < len(lines) {
		lines = lines[m.scroll:]
	}
	// Trim to viewport height (leave room for status bar)
	maxLines := m.height - 2
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	content = strings.Join(lines, "\n")

	return content + "\n" + m.renderStatusBar()
}

func (m Model) renderStatusBar() string {
	buildTabs := func(short bool) string {
		var tabs []string
		for i, name := range pageNames {
			label := fmt.Sprintf("%d:%s", i, name)
			if short {
				label = fmt.Sprintf("%d:%s", i, shortPageName(name))
			}
			if Page(i) == m.page {
				tabs = append(tabs, headerStyle.Render("["+label+"]"))
			} else {
				tabs = append(tabs, dimStyle.Render(" "+label+" "))
			}
		}
		return strings.Join(tabs, "")
	}

	var indicators string
	if m.paused {
		indicators += "  " + critStyle.Render("[PAUSED]")
	}
	if m.replay {
		if p, ok := m.src.(*control.Player); ok {
			indicators += "  " + orangeStyle.Render(fmt.Sprintf("[REPLAY %d/%d]", p.Index(), p.Len()))
		} else {
			indicators += "  " + orangeStyle.Render("[REPLAY]")
		}
	}
	if m.saveMsg != "" && time.Since(m.saveMsgTime) < 5*time.Second {
		indicators += "  " + okStyle.Render(m.saveMsg)
	}

	helpHint := "a:pause  S:save  ?:help  q:quit"
	if m.replay {
		helpHint = "n:step  [/]:seek  J/K:ends  " + helpHint
	}
	help := helpStyle.Render(helpHint)

	left := buildTabs(false) + indicators
	leftW := lipgloss.Width(left)
	helpW := lipgloss.Width(help)

	if leftW+helpW+1 <= m.width {
		gap := m.width - leftW - helpW
		return left + strings.Repeat(" ", gap) + help
	}
	if leftW <= m.width {
		return left
	}

	left = buildTabs(true) + indicators
	leftW = lipgloss.Width(left)
	if leftW+helpW+1 <= m.width {
		gap := m.width - leftW - helpW
		return left + strings.Repeat(" ", gap) + help
	}
	if leftW <= m.width {
		return left
	}
	return buildTabs(true)
}

// shortPageName returns an abbreviated page name for narrow terminals.
func shortPageName(name string) string {
	switch name {
	case "Overview":
		return "Ovr"
	case "Modules":
		return "Mod"
	case "Correlations":
		return "Corr"
	case "Governor":
		return "Gov"
	case "Ladder":
		return "Lad"
	case "Scaler":
		return "Scl"
	case "Cache":
		return "Cch"
	case "Activity":
		return "Act"
	default:
		return name
	}
}

func (m Model) renderHelp() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("qplane — adaptive execution control plane"))
	sb.WriteString("\n\n")
	sb.WriteString(headerStyle.Render("Navigation"))
	sb.WriteString("\n")
	sb.WriteString("  0         Overview (default)\n")
	sb.WriteString("  1         Modules (per-module metrics, sortable)\n")
	sb.WriteString("  2         Correlations (pairwise analysis + critical paths)\n")
	sb.WriteString("  3         Governor (burn dimensions + cost controls)\n")
	sb.WriteString("  4         Ladder (degradation levels + posture)\n")
	sb.WriteString("  5         Scaler (pools, policies, recent decisions)\n")
	sb.WriteString("  6         Cache (hit rates, occupancy, namespaces)\n")
	sb.WriteString("  7         Activity (decision feed)\n")
	sb.WriteString("  b / Esc   Back to overview\n")
	sb.WriteString("\n")
	sb.WriteString(headerStyle.Render("Controls"))
	sb.WriteString("\n")
	sb.WriteString("  a         Toggle auto-refresh (pause/resume)\n")
	sb.WriteString("  n         Step one frame (replay mode while paused)\n")
	sb.WriteString("  [ / ]     Replay seek -10 / +10 frames\n")
	sb.WriteString("  { / }     Replay seek -60 / +60 frames\n")
	sb.WriteString("  J / K     Replay jump to start / end\n")
	sb.WriteString("  S         Save current control frame to JSON\n")
	sb.WriteString("  j/k       Select row / scroll\n")
	sb.WriteString("  g/G       Top / jump down\n")
	sb.WriteString("  s         Cycle sort column (Modules page)\n")
	sb.WriteString("  ?         Toggle this help\n")
	sb.WriteString("  q/Ctrl+C  Quit\n")
	sb.WriteString("\n")
	sb.WriteString(headerStyle.Render("Panels"))
	sb.WriteString("\n")
	sb.WriteString("  Overview      Ecosystem health + burn + ladder + alerts\n")
	sb.WriteString("  Modules       Latency percentiles, throughput, errors, budgets\n")
	sb.WriteString("  Correlations  Pairwise coefficients, lags, critical paths\n")
	sb.WriteString("  Governor      Burn dimensions, hourly cost, flow controls\n")
	sb.WriteString("  Ladder        Degradation rungs with triggers and SLA impact\n")
	sb.WriteString("  Scaler        Node pools, redirections, optimization triggers\n")
	sb.WriteString("  Cache         Hit rate, occupancy, per-namespace entries\n")
	sb.WriteString("  Activity      Escalations, alerts, scale decisions over time\n")
	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render("Press any key to close"))
	return sb.String()
}

// injectClock overlays "HH:MM:SS  every Ns" on the top-right of the
// first content line. The clock shows the frame's own timestamp, so a
// replay displays the recorded time, not the viewer's.
func (m Model) injectClock(content string) string {
	if m.width < 40 {
		return content
	}

	frameTime := time.Now()
	if m.snap != nil && m.snap.Timestamp > 0 {
		frameTime = time.UnixMilli(m.snap.Timestamp)
	}
	now := frameTime.Format("15:04:05")
	intervalStr := fmt.Sprintf("%.0fs", m.interval.Seconds())
	clock := dimStyle.Render(now + "  every " + intervalStr)
	clockW := lipgloss.Width(clock)

	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return content
	}

	firstLine := lines[0]
	lineW := lipgloss.Width(firstLine)
	gap := m.width - lineW - clockW
	if gap < 2 {
		// Not enough room, place on its own line
		return strings.Repeat(" ", m.width-clockW) + clock + "\n" + content
	}
	lines[0] = firstLine + strings.Repeat(" ", gap) + clock
	return strings.Join(lines, "\n")
}
