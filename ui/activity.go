package ui

import (
	"fmt"

	"github.com/ftahirops/qplane/model"
)

// activityMax bounds the in-session activity history.
const activityMax = 200

// activityEntry is one control-plane decision observed between frames.
type activityEntry struct {
	At       int64
	Kind     string // ladder, alert, scale, governor
	Severity string // ok, warn, crit
	Text     string
}

// activityLog derives a decision feed by diffing consecutive snapshots.
// It sees exactly what the operator sees, so replayed recordings produce
// the same feed as the live session that wrote them.
type activityLog struct {
	entries []activityEntry
}

// Observe compares the previous frame against the current one and
// appends an entry per detected decision. Newest entries go last.
func (l *activityLog) Observe(prev, cur *model.ControlSnapshot) {
	if prev == nil || cur == nil {
		return
	}
	now := cur.Timestamp

	if cur.Ladder.CurrentLevel != prev.Ladder.CurrentLevel {
		sev := "warn"
		verb := "escalated"
		if cur.Ladder.CurrentLevel < prev.Ladder.CurrentLevel {
			sev = "ok"
			verb = "de-escalated"
		} else if cur.Ladder.CurrentLevel >= 3 {
			sev = "crit"
		}
		text := fmt.Sprintf("ladder %s L%d -> L%d (%s)", verb,
			prev.Ladder.CurrentLevel, cur.Ladder.CurrentLevel, cur.Ladder.LevelName)
		if cur.Ladder.ManualOverride {
			text += " [manual]"
		}
		l.push(activityEntry{At: now, Kind: "ladder", Severity: sev, Text: text})
	}

	prevFiring := make(map[string]bool, len(prev.Alerts))
	for _, a := range prev.Alerts {
		prevFiring[a.Name] = a.Firing
	}
	for _, a := range cur.Alerts {
		if a.Firing && !prevFiring[a.Name] {
			l.push(activityEntry{At: now, Kind: "alert", Severity: "crit",
				Text: fmt.Sprintf("alert firing: %s (%s)", a.Name, a.Condition)})
		}
		if !a.Firing && prevFiring[a.Name] {
			l.push(activityEntry{At: now, Kind: "alert", Severity: "ok",
				Text: fmt.Sprintf("alert resolved: %s", a.Name)})
		}
	}

	for _, a := range newScaleActions(prev.Scaler.RecentActions, cur.Scaler.RecentActions) {
		sev := "warn"
		if a.Direction == "scale_down" {
			sev = "ok"
		}
		l.push(activityEntry{At: now, Kind: "scale", Severity: sev,
			Text: fmt.Sprintf("%s %s %d -> %d (%s=%.2f)",
				a.Direction, a.Policy, a.CurrentNodes, a.TargetNodes, a.Metric, a.Value)})
	}

	if cur.PausedFlows > prev.PausedFlows {
		l.push(activityEntry{At: now, Kind: "governor", Severity: "warn",
			Text: fmt.Sprintf("paused %d low-priority flows (%d total)",
				cur.PausedFlows-prev.PausedFlows, cur.PausedFlows)})
	}
	if cur.PausedFlows < prev.PausedFlows {
		l.push(activityEntry{At: now, Kind: "governor", Severity: "ok",
			Text: fmt.Sprintf("resumed %d flows (%d still paused)",
				prev.PausedFlows-cur.PausedFlows, cur.PausedFlows)})
	}
	if cur.DeferredSteps > prev.DeferredSteps {
		l.push(activityEntry{At: now, Kind: "governor", Severity: "warn",
			Text: fmt.Sprintf("deferred %d heavy steps (%d total)",
				cur.DeferredSteps-prev.DeferredSteps, cur.DeferredSteps)})
	}
}

func (l *activityLog) push(e activityEntry) {
	l.entries = append(l.entries, e)
	if len(l.entries) > activityMax {
		l.entries = l.entries[len(l.entries)-activityMax:]
	}
}

// Entries returns the feed newest-first.
func (l *activityLog) Entries() []activityEntry {
	out := make([]activityEntry, len(l.entries))
	for i, e := range l.entries {
		out[len(l.entries)-1-i] = e
	}
	return out
}

func (l *activityLog) Len() int { return len(l.entries) }

// newScaleActions returns the actions in cur that arrived after prev.
// Actions carry no identity, so the tail is matched structurally
// against prev's last element; the recent list is capped, which this
// walk tolerates.
func newScaleActions(prev, cur []model.ScaleAction) []model.ScaleAction {
	if len(cur) == 0 {
		return nil
	}
	if len(prev) == 0 {
		return cur
	}
	last := prev[len(prev)-1]
	for i := len(cur) - 1; i >= 0; i-- {
		if cur[i] == last {
			return cur[i+1:]
		}
	}
	return cur
}
