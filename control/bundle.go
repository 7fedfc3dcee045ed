package control

import (
	"strings"
	"time"

	"github.com/ftahirops/qplane/config"
)

// ApplyBundle installs an operator policy bundle across the ladder,
// scaler, and governor. Each section is applied independently so one
// bad entry does not block the rest; every failure is reported in the
// combined error.
func (r *Runtime) ApplyBundle(b config.Bundle) error {
	var problems []string
	fail := func(section, name string, err error) {
		problems = append(problems, section+" "+name+": "+err.Error())
	}

	if len(b.LadderLevels) > 0 {
		levels := DefaultLevels()
		for _, ov := range b.LadderLevels {
			if ov.Index < 0 || ov.Index >= len(levels) {
				fail("ladder level", ov.Name, NewError(ErrCodeInvalidInput, "index %d out of range", ov.Index))
				continue
			}
			lv := &levels[ov.Index]
			if ov.Name != "" {
				lv.Name = ov.Name
			}
			lv.Triggers = LevelTriggers{
				BurnRate:    ov.Triggers.BurnRate,
				ErrorRate:   ov.Triggers.ErrorRate,
				LatencyP95:  ov.Triggers.LatencyP95,
				Utilization: ov.Triggers.Utilization,
			}
			lv.SLA = SLAImpact{
				LatencyIncreasePct: ov.SLA.LatencyIncreasePct,
				ThroughputDropPct:  ov.SLA.ThroughputDropPct,
				DisabledFeatures:   ov.SLA.DisabledFeatures,
			}
		}
		if err := r.Ladder.SetLevels(levels); err != nil {
			fail("ladder", "levels", err)
		}
	}

	for _, sp := range b.ScalingPolicies {
		p := ScalingPolicy{
			Name:               sp.Name,
			Metric:             sp.Metric,
			ScaleUpThreshold:   sp.ScaleUpThreshold,
			ScaleDownThreshold: sp.ScaleDownThreshold,
			MinNodes:           sp.MinNodes,
			MaxNodes:           sp.MaxNodes,
			CurrentNodes:       sp.InitialNodes,
			Cooldown:           time.Duration(sp.CooldownSec) * time.Second,
		}
		if err := r.Scaler.SetPolicy(p); err != nil {
			fail("scaling policy", sp.Name, err)
		}
	}

	for _, rr := range b.Redirections {
		rule := RedirectionRule{
			Name:       rr.Name,
			Priority:   rr.Priority,
			Condition:  rr.Condition,
			Target:     rr.Target,
			Percentage: rr.Percentage,
		}
		if err := r.Scaler.SetRule(rule); err != nil {
			fail("redirection rule", rr.Name, err)
		}
	}

	for _, ot := range b.Optimizations {
		tr := OptimizationTrigger{
			Name:       ot.Name,
			Condition:  ot.Condition,
			Parameters: ot.Parameters,
		}
		if err := r.Scaler.SetTrigger(tr); err != nil {
			fail("optimization trigger", ot.Name, err)
		}
	}

	if len(b.CostPolicies) > 0 {
		specs := make([]CostPolicySpec, 0, len(b.CostPolicies))
		for _, cp := range b.CostPolicies {
			specs = append(specs, CostPolicySpec{
				Name:      cp.Name,
				Threshold: cp.Threshold,
				Action:    cp.Action,
				Cooldown:  time.Duration(cp.CooldownMin) * time.Minute,
			})
		}
		if err := r.Governor.SetCostPolicies(specs); err != nil {
			fail("cost policies", "", err)
		}
	}

	if len(problems) > 0 {
		return NewError(ErrCodeInvalidInput, "policy bundle: %s", strings.Join(problems, "; "))
	}
	return nil
}
