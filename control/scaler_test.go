package control

import (
	"testing"
	"time"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/model"
)

// newTestScaler strips the default registries so each test states its
// own fixtures.
func newTestScaler() (*Scaler, *bus.VirtualClock, *bus.Bus) {
	clock := bus.NewVirtualClock(1_000_000)
	b := bus.New(clock, 500)
	s := NewScaler(clock, b, config.Default().Scaler)
	for name := range s.Status().NodesByPool {
		s.RemovePolicy(name)
	}
	for _, r := range DefaultRedirectionRules() {
		s.RemoveRule(r.Name)
	}
	for _, tr := range DefaultOptimizationTriggers() {
		s.RemoveTrigger(tr.Name)
	}
	return s, clock, b
}

func collectScales(b *bus.Bus) *[]model.ScaleAction {
	var got []model.ScaleAction
	record := func(ev bus.Event) { got = append(got, ev.Payload.(model.ScaleAction)) }
	b.Subscribe(bus.TopicScaleUpInitiated, record)
	b.Subscribe(bus.TopicScaleDownInitiated, record)
	return &got
}

func TestScalerScaleUpClampsAtMax(t *testing.T) {
	s, _, b := newTestScaler()
	scales := collectScales(b)

	if err := s.SetPolicy(ScalingPolicy{
		Name: "pool", Metric: "cpu_utilization",
		ScaleUpThreshold: 0.8, ScaleDownThreshold: 0.3,
		MinNodes: 2, MaxNodes: 20, CurrentNodes: 15,
	}); err != nil {
		t.Fatal(err)
	}

	s.Tick(map[string]float64{"cpu_utilization": 0.95})

	if len(*scales) != 1 {
		t.Fatalf("scale events = %d, want 1", len(*scales))
	}
	a := (*scales)[0]
	if a.Direction != "scale_up" || a.CurrentNodes != 15 || a.TargetNodes != 20 {
		t.Errorf("action = %+v, want scale_up 15 -> 20 (ceil(22.5) clamped)", a)
	}

	// At the ceiling the policy goes quiet.
	st := s.Status()
	if st.NodesByPool["pool"] != 20 {
		t.Fatalf("nodes = %d, want 20", st.NodesByPool["pool"])
	}
}

func TestScalerScaleUpGrowthFactor(t *testing.T) {
	s, _, b := newTestScaler()
	scales := collectScales(b)

	s.SetPolicy(ScalingPolicy{
		Name: "pool", Metric: "throughput",
		ScaleUpThreshold: 100, ScaleDownThreshold: 10,
		MinNodes: 1, MaxNodes: 50, CurrentNodes: 4,
	})
	s.Tick(map[string]float64{"throughput": 150})

	if len(*scales) != 1 || (*scales)[0].TargetNodes != 6 {
		t.Fatalf("scales = %+v, want one action to ceil(4*1.5)=6", *scales)
	}
}

func TestScalerScaleDownClampsAtMin(t *testing.T) {
	s, _, b := newTestScaler()
	scales := collectScales(b)

	s.SetPolicy(ScalingPolicy{
		Name: "pool", Metric: "cpu_utilization",
		ScaleUpThreshold: 0.8, ScaleDownThreshold: 0.3,
		MinNodes: 2, MaxNodes: 20, CurrentNodes: 3,
	})
	s.Tick(map[string]float64{"cpu_utilization": 0.1})

	if len(*scales) != 1 {
		t.Fatalf("scale events = %d, want 1", len(*scales))
	}
	a := (*scales)[0]
	if a.Direction != "scale_down" || a.TargetNodes != 2 {
		t.Errorf("action = %+v, want scale_down to floor(2.4) clamped at 2", a)
	}

	// At the floor nothing more happens even after the cooldown.
	sBare, _, b2 := newTestScaler()
	scales2 := collectScales(b2)
	sBare.SetPolicy(ScalingPolicy{
		Name: "pool", Metric: "cpu_utilization",
		ScaleUpThreshold: 0.8, ScaleDownThreshold: 0.3,
		MinNodes: 2, MaxNodes: 20, CurrentNodes: 2,
	})
	sBare.Tick(map[string]float64{"cpu_utilization": 0.1})
	if len(*scales2) != 0 {
		t.Errorf("scale events at min = %d, want 0", len(*scales2))
	}
}

func TestScalerCooldownSkips(t *testing.T) {
	s, clock, b := newTestScaler()
	scales := collectScales(b)

	s.SetPolicy(ScalingPolicy{
		Name: "pool", Metric: "cpu_utilization",
		ScaleUpThreshold: 0.8, ScaleDownThreshold: 0.3,
		MinNodes: 2, MaxNodes: 20, CurrentNodes: 4,
	})
	env := map[string]float64{"cpu_utilization": 0.95}

	s.Tick(env)
	clock.Advance(30 * time.Second)
	s.Tick(env)
	if len(*scales) != 1 {
		t.Fatalf("scale events inside cooldown = %d, want 1", len(*scales))
	}

	clock.Advance(271 * time.Second)
	s.Tick(env)
	if len(*scales) != 2 {
		t.Fatalf("scale events after cooldown = %d, want 2", len(*scales))
	}
	if (*scales)[1].CurrentNodes != 6 || (*scales)[1].TargetNodes != 9 {
		t.Errorf("second action = %+v, want 6 -> 9", (*scales)[1])
	}
}

func TestScalerScaleDownHeldWhileBurnHigh(t *testing.T) {
	s, _, b := newTestScaler()
	scales := collectScales(b)

	s.SetPolicy(ScalingPolicy{
		Name: "pool", Metric: "throughput",
		ScaleUpThreshold: 1000, ScaleDownThreshold: 10,
		MinNodes: 2, MaxNodes: 20, CurrentNodes: 10,
	})

	// Idle pool but the system is burning budget: hold capacity.
	s.Tick(map[string]float64{"throughput": 1, "burn_rate": 0.9})
	if len(*scales) != 0 {
		t.Fatalf("scale events under high burn = %d, want 0", len(*scales))
	}

	s.Tick(map[string]float64{"throughput": 1, "burn_rate": 0.2})
	if len(*scales) != 1 || (*scales)[0].Direction != "scale_down" {
		t.Fatalf("scales = %+v, want one scale_down once burn clears", *scales)
	}
}

func TestScalerRedirectionFirstMatchWins(t *testing.T) {
	s, _, b := newTestScaler()

	var redirects []model.RedirectLoadAction
	b.Subscribe(bus.TopicLoadRedirectionInitiated, func(ev bus.Event) {
		redirects = append(redirects, ev.Payload.(model.RedirectLoadAction))
	})

	if err := s.SetRule(RedirectionRule{
		Name: "low", Priority: 10, Condition: "error_rate > 0.01", Target: "pool-b", Percentage: 10,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRule(RedirectionRule{
		Name: "high", Priority: 90, Condition: "error_rate > 0.01", Target: "backup", Percentage: 50,
	}); err != nil {
		t.Fatal(err)
	}

	s.Tick(map[string]float64{"error_rate": 0.05})

	if len(redirects) != 1 {
		t.Fatalf("redirects = %d, want 1 (first match stops)", len(redirects))
	}
	if redirects[0].Rule != "high" || redirects[0].Target != "backup" {
		t.Errorf("redirect = %+v, want the priority-90 rule", redirects[0])
	}
}

func TestScalerRejectsBadRuleCondition(t *testing.T) {
	s, _, _ := newTestScaler()

	err := s.SetRule(RedirectionRule{Name: "bad", Condition: "disk_io > 5"})
	if err == nil {
		t.Fatal("rule with unknown metric accepted")
	}
	if !IsCode(err, ErrCodeInvalidInput) {
		t.Errorf("error = %v, want invalid_input", err)
	}
}

func TestScalerOptimizationTriggersIndependent(t *testing.T) {
	s, _, b := newTestScaler()

	var opts []model.OptimizeResourcesAction
	b.Subscribe(bus.TopicOptimizationApplied, func(ev bus.Event) {
		opts = append(opts, ev.Payload.(model.OptimizeResourcesAction))
	})

	s.SetTrigger(OptimizationTrigger{
		Name: "compact", Condition: "memory_utilization > 0.8",
		Parameters: map[string]string{"action": "compact"},
	})
	s.SetTrigger(OptimizationTrigger{
		Name: "gc", Condition: "memory_utilization > 0.9",
	})

	s.Tick(map[string]float64{"memory_utilization": 0.95})

	if len(opts) != 2 {
		t.Fatalf("optimizations = %d, want both triggers fired", len(opts))
	}
}

func TestScalerEmergencyPath(t *testing.T) {
	s, _, b := newTestScaler()

	var paused, redirected int
	var emergencies []model.EmergencyResponseAction
	b.Subscribe(bus.TopicLowPriorityFlowsPaused, func(bus.Event) { paused++ })
	b.Subscribe(bus.TopicLoadRedirectionInitiated, func(ev bus.Event) {
		redirected++
		r := ev.Payload.(model.RedirectLoadAction)
		if r.Percentage != 80 || r.Target != "backup" {
			t.Errorf("redirect = %+v, want 80%% to backup", r)
		}
	})
	b.Subscribe(bus.TopicEmergencyResponseInitiated, func(ev bus.Event) {
		emergencies = append(emergencies, ev.Payload.(model.EmergencyResponseAction))
	})

	s.HandleAnomaly(model.PerformanceAnomaly{Module: "qflow", Severity: "high"})
	if paused != 0 || redirected != 0 || len(emergencies) != 0 {
		t.Fatal("non-critical anomaly triggered the emergency path")
	}

	s.HandleAnomaly(model.PerformanceAnomaly{Module: "qflow", Severity: "critical"})
	if paused != 1 || redirected != 1 {
		t.Fatalf("paused=%d redirected=%d, want 1 and 1", paused, redirected)
	}
	if len(emergencies) != 1 || emergencies[0].Module != "qflow" {
		t.Fatalf("emergencies = %+v, want one for qflow", emergencies)
	}
	if len(emergencies[0].Steps) != 2 {
		t.Errorf("steps = %v, want both emergency steps named", emergencies[0].Steps)
	}
}

func TestScalerSetPolicyValidation(t *testing.T) {
	s, _, _ := newTestScaler()

	tests := []struct {
		name string
		p    ScalingPolicy
	}{
		{"missing name", ScalingPolicy{Metric: "cpu_utilization"}},
		{"missing metric", ScalingPolicy{Name: "p"}},
		{"inverted bounds", ScalingPolicy{Name: "p", Metric: "cpu_utilization", MinNodes: 5, MaxNodes: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SetPolicy(tt.p); err == nil {
				t.Errorf("SetPolicy(%+v) accepted", tt.p)
			}
		})
	}

	// Node count outside the band is clamped, not rejected.
	if err := s.SetPolicy(ScalingPolicy{
		Name: "p", Metric: "cpu_utilization", MinNodes: 2, MaxNodes: 10, CurrentNodes: 99,
	}); err != nil {
		t.Fatal(err)
	}
	if got := s.Status().NodesByPool["p"]; got != 10 {
		t.Errorf("clamped nodes = %d, want 10", got)
	}
}

func TestScalerSetNodesFeedback(t *testing.T) {
	s, _, _ := newTestScaler()
	s.SetPolicy(ScalingPolicy{
		Name: "p", Metric: "cpu_utilization", MinNodes: 2, MaxNodes: 10, CurrentNodes: 4,
	})

	if err := s.SetNodes("p", 7); err != nil {
		t.Fatal(err)
	}
	if got := s.Status().NodesByPool["p"]; got != 7 {
		t.Errorf("nodes = %d, want 7", got)
	}
	if err := s.SetNodes("p", 11); err == nil {
		t.Error("out-of-band node count accepted")
	}
	if err := s.SetNodes("ghost", 5); err == nil {
		t.Error("unknown policy accepted")
	}
}
