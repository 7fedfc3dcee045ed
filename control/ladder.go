package control

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/model"
)

// maxLadderHistory bounds the in-memory escalation record ring.
const maxLadderHistory = 100

// ActionApplier executes bundle actions inside this process. Bus
// emission is the contract with the executor; the applier covers the
// components the control plane owns itself, such as the cache's
// aggressive mode. Apply errors never roll back a transition.
type ActionApplier interface {
	ApplyAction(model.Action) error
}

// Ladder is the hysteretic degradation state machine. Automatic
// escalation climbs one rung per cooldown toward the highest satisfied
// level; de-escalation drops one rung once the current rung's triggers
// clear and the delay since the last transition has passed. A manual
// override pins the level against automatic movement until it expires.
type Ladder struct {
	mu    sync.Mutex
	clock bus.Clock
	bus   *bus.Bus
	cfg   config.LadderConfig

	samples SampleSource
	apply   ActionApplier
	levels  []Level

	current        int
	lastEscalation int64 // last upward transition, ms
	lastTransition int64 // last transition either direction, ms
	overrideUntil  int64 // manual override expiry, 0 = none
	overrideSetAt  int64
	transitions    int
	history        []model.EscalationRecord
}

// NewLadder builds the ladder on the canonical levels. apply may be
// nil when no in-process components react to bundles.
func NewLadder(clock bus.Clock, b *bus.Bus, cfg config.LadderConfig, samples SampleSource, apply ActionApplier) *Ladder {
	return &Ladder{
		clock:   clock,
		bus:     b,
		cfg:     cfg,
		samples: samples,
		apply:   apply,
		levels:  DefaultLevels(),
	}
}

// ladderOutcome carries everything a locked evaluation decided, so
// publishing and applier calls happen after unlock.
type ladderOutcome struct {
	transition model.DegradationTransition
	escalated  bool
	actions    []model.Action
	expired    *model.ManualOverrideExpired
}

// Tick evaluates the ladder against the fresh burn metrics. Called by
// the runtime right after the governor tick.
func (l *Ladder) Tick(burn model.BurnRateMetrics) {
	sig := l.signal(burn)
	now := l.clock.Now()

	l.mu.Lock()
	out := l.evaluateLocked(sig, now)
	l.mu.Unlock()

	l.emit(out)
}

// signal folds the worst module sample into the ladder's view.
func (l *Ladder) signal(burn model.BurnRateMetrics) LadderSignal {
	sig := LadderSignal{BurnRate: burn.Overall}
	for _, m := range l.samples.Latest() {
		if m.ErrorRate > sig.ErrorRate {
			sig.ErrorRate = m.ErrorRate
		}
		if m.LatencyP95 > sig.LatencyP95 {
			sig.LatencyP95 = m.LatencyP95
		}
		util := m.CPUUtilization
		if m.MemoryUtilization > util {
			util = m.MemoryUtilization
		}
		if util > sig.Utilization {
			sig.Utilization = util
		}
	}
	return sig
}

func (l *Ladder) evaluateLocked(sig LadderSignal, now int64) ladderOutcome {
	var out ladderOutcome

	if l.overrideUntil != 0 && now >= l.overrideUntil {
		out.expired = &model.ManualOverrideExpired{
			Level: l.current, SetAt: l.overrideSetAt, ExpiredAt: now,
		}
		l.overrideUntil, l.overrideSetAt = 0, 0
	}
	if l.overrideUntil != 0 {
		return out
	}

	target := l.highestSatisfiedLocked(sig)
	switch {
	case target > l.current && now-l.lastEscalation >= l.cfg.EscalationCooldown().Milliseconds():
		// One rung per cooldown, even when a higher level qualifies.
		next := l.current + 1
		reason := fmt.Sprintf("triggers satisfied for %s (burn=%.2f err=%.3f p95=%.0fms util=%.2f)",
			l.levels[target].Name, sig.BurnRate, sig.ErrorRate, sig.LatencyP95, sig.Utilization)
		out.transition, out.actions = l.transitionLocked(next, reason, false, now)
		out.escalated = true
	case l.current > 0 && !l.levels[l.current].Triggers.Satisfied(sig) &&
		now-l.lastTransition >= l.cfg.DeEscalationDelay().Milliseconds():
		reason := fmt.Sprintf("triggers for %s cleared", l.levels[l.current].Name)
		out.transition, out.actions = l.transitionLocked(l.current-1, reason, false, now)
	}
	return out
}

// highestSatisfiedLocked returns the top level whose triggers hold, or
// zero when the signal is calm.
func (l *Ladder) highestSatisfiedLocked(sig LadderSignal) int {
	for i := len(l.levels) - 1; i > 0; i-- {
		if l.levels[i].Triggers.Satisfied(sig) {
			return i
		}
	}
	return 0
}

// transitionLocked moves the level, records history, and returns the
// events for the caller to publish after unlock.
func (l *Ladder) transitionLocked(to int, reason string, manual bool, now int64) (model.DegradationTransition, []model.Action) {
	from := l.current
	l.current = to
	l.lastTransition = now
	if to > from {
		l.lastEscalation = now
	}
	l.transitions++

	l.history = append(l.history, model.EscalationRecord{
		ID:        uuid.NewString(),
		Timestamp: now,
		FromLevel: from,
		ToLevel:   to,
		Reason:    reason,
		Manual:    manual,
	})
	if len(l.history) > maxLadderHistory {
		l.history = l.history[len(l.history)-maxLadderHistory:]
	}

	tr := model.DegradationTransition{
		FromLevel: from,
		ToLevel:   to,
		LevelName: l.levels[to].Name,
		Reason:    reason,
		Manual:    manual,
	}
	return tr, l.levels[to].Actions
}

// emit publishes a decided outcome. Per-action failures are collected;
// the transition stays recorded regardless.
func (l *Ladder) emit(out ladderOutcome) {
	if out.expired != nil {
		l.bus.Publish(bus.TopicManualOverrideExpired, *out.expired)
	}
	if out.transition.LevelName == "" {
		return
	}

	topic := bus.TopicDegradationDeescalated
	if out.escalated {
		topic = bus.TopicDegradationEscalated
	}
	l.bus.Publish(topic, out.transition)

	if len(out.actions) == 0 {
		return
	}
	names := make([]string, 0, len(out.actions))
	var failed []string
	for _, a := range out.actions {
		l.bus.Publish(a.Kind(), a)
		names = append(names, a.Kind())
		if l.apply != nil {
			if err := l.apply.ApplyAction(a); err != nil {
				failed = append(failed, a.Kind())
			}
		}
	}
	l.bus.Publish(bus.TopicDegradationActionsExecuted, model.DegradationActionsExecuted{
		Level: out.transition.ToLevel, Actions: names, Failed: failed,
	})
}

// Override manually moves the ladder to target, any number of rungs in
// either direction, and pins it there for the configured timeout.
// Manual commands stay valid while a previous override is active.
func (l *Ladder) Override(target int, reason string) error {
	now := l.clock.Now()

	l.mu.Lock()
	if target < 0 || target >= len(l.levels) {
		n := len(l.levels)
		l.mu.Unlock()
		return NewError(ErrCodeInvalidInput, "target level %d outside [0, %d]", target, n-1)
	}
	if target == l.current {
		l.overrideUntil = now + l.cfg.ManualOverrideTimeout().Milliseconds()
		l.overrideSetAt = now
		l.mu.Unlock()
		return nil
	}
	escalated := target > l.current
	tr, actions := l.transitionLocked(target, reason, true, now)
	l.overrideUntil = now + l.cfg.ManualOverrideTimeout().Milliseconds()
	l.overrideSetAt = now
	l.mu.Unlock()

	l.emit(ladderOutcome{transition: tr, escalated: escalated, actions: actions})
	return nil
}

// ClearOverride lifts a manual override without waiting for expiry.
func (l *Ladder) ClearOverride() {
	l.mu.Lock()
	l.overrideUntil, l.overrideSetAt = 0, 0
	l.mu.Unlock()
}

// SetLevels replaces the rung definitions, used by policy bundle
// reloads. The current level is clamped into the new range.
func (l *Ladder) SetLevels(levels []Level) error {
	if len(levels) == 0 {
		return NewError(ErrCodeInvalidInput, "ladder needs at least one level")
	}
	for i, lv := range levels {
		if lv.Index != i {
			return NewError(ErrCodeInvalidInput, "level %q has index %d, want %d", lv.Name, lv.Index, i)
		}
	}

	l.mu.Lock()
	l.levels = levels
	if l.current >= len(levels) {
		l.current = len(levels) - 1
	}
	l.mu.Unlock()
	return nil
}

// Level returns the current rung index.
func (l *Ladder) Level() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Levels returns the rung definitions.
func (l *Ladder) Levels() []Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Level, len(l.levels))
	copy(out, l.levels)
	return out
}

// Status reports the machine state for the control snapshot.
func (l *Ladder) Status() model.LadderStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return model.LadderStatus{
		CurrentLevel:    l.current,
		LevelName:       l.levels[l.current].Name,
		LastEscalation:  l.lastEscalation,
		LastTransition:  l.lastTransition,
		ManualOverride:  l.overrideUntil != 0,
		OverrideExpires: l.overrideUntil,
		Transitions:     l.transitions,
	}
}

// History returns the recorded transitions, oldest first.
func (l *Ladder) History() []model.EscalationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.EscalationRecord, len(l.history))
	copy(out, l.history)
	return out
}
