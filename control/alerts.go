package control

import (
	"sort"
	"sync"
	"time"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/model"
)

// alertRule pairs a compiled condition with its firing state.
type alertRule struct {
	name       string
	cond       *Condition
	cooldownMs int64
	firing     bool
	lastFired  int64
	count      uint64
}

// AlertSet evaluates threshold rules against the metric environment on
// each aggregation tick. Rules re-fire only after their cooldown.
type AlertSet struct {
	mu    sync.Mutex
	clock bus.Clock
	bus   *bus.Bus
	rules []*alertRule
}

func NewAlertSet(clock bus.Clock, b *bus.Bus) *AlertSet {
	return &AlertSet{clock: clock, bus: b}
}

// NewDefaultAlertSet registers the stock rules.
func NewDefaultAlertSet(clock bus.Clock, b *bus.Bus) *AlertSet {
	s := NewAlertSet(clock, b)
	must := func(name, src string, cooldown time.Duration) {
		if err := s.Register(name, src, cooldown); err != nil {
			panic("alerts: default rule " + name + ": " + err.Error())
		}
	}
	must("high_latency_alert", "latency_p99 > 5000", 5*time.Minute)
	must("high_error_rate_alert", "error_rate > 0.05", 2*time.Minute)
	must("low_throughput_alert", "throughput < 5", 10*time.Minute)
	must("resource_exhaustion_alert", "cpu_utilization > 0.9 || memory_utilization > 0.9", 5*time.Minute)
	return s
}

// Register compiles and adds a rule. Duplicate names replace the old
// rule but keep its firing history.
func (s *AlertSet) Register(name, src string, cooldown time.Duration) error {
	if name == "" {
		return NewError(ErrCodeInvalidInput, "empty alert name")
	}
	cond, err := ParseCondition(src)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if r.name == name {
			r.cond = cond
			r.cooldownMs = cooldown.Milliseconds()
			return nil
		}
	}
	s.rules = append(s.rules, &alertRule{name: name, cond: cond, cooldownMs: cooldown.Milliseconds()})
	return nil
}

// Evaluate runs every rule against env and publishes alert_fired for
// rules that trip outside their cooldown. Returns the fired payloads.
func (s *AlertSet) Evaluate(env map[string]float64) []model.AlertFired {
	now := s.clock.Now()

	s.mu.Lock()
	var fired []model.AlertFired
	for _, r := range s.rules {
		if !r.cond.Eval(env) {
			r.firing = false
			continue
		}
		r.firing = true
		if r.lastFired != 0 && now-r.lastFired < r.cooldownMs {
			continue
		}
		r.lastFired = now
		r.count++
		var v float64
		if vars := r.cond.Vars(); len(vars) > 0 {
			v = env[vars[0]]
		}
		fired = append(fired, model.AlertFired{Name: r.name, Condition: r.cond.String(), Value: v})
	}
	s.mu.Unlock()

	for _, f := range fired {
		s.bus.Publish(bus.TopicAlertFired, f)
	}
	return fired
}

// States reports rule status sorted by name for the control snapshot.
func (s *AlertSet) States() []model.AlertState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.AlertState, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, model.AlertState{
			Name:      r.name,
			Condition: r.cond.String(),
			Firing:    r.firing,
			LastFired: r.lastFired,
			Count:     r.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
