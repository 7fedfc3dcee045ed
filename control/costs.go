package control

import (
	"sort"
	"time"

	"github.com/ftahirops/qplane/model"
)

// Per-flow hourly pricing triple. Illustrative rates; operators tune
// them through the policy bundle.
const (
	computeCostPerFlowHour = 0.5
	networkCostPerFlowHour = 0.1
	storageCostPerFlowHour = 0.05
	costPerFlowHour        = computeCostPerFlowHour + networkCostPerFlowHour + storageCostPerFlowHour
)

// costPolicy throttles spend when the overall burn rate crosses its
// threshold. Policies are kept sorted by descending threshold and the
// first eligible one runs per tick.
type costPolicy struct {
	name       string
	threshold  float64
	action     string
	cooldownMs int64
	lastRun    int64
}

func defaultCostPolicies() []*costPolicy {
	return []*costPolicy{
		{name: "emergency_cost_control", threshold: 0.95, action: "pause_low_priority_flows", cooldownMs: (5 * time.Minute).Milliseconds()},
		{name: "aggressive_cost_reduction", threshold: 0.85, action: "defer_heavy_steps", cooldownMs: (10 * time.Minute).Milliseconds()},
		{name: "moderate_cost_optimization", threshold: 0.75, action: "reroute_to_cold_nodes", cooldownMs: (15 * time.Minute).Milliseconds()},
	}
}

// CostPolicySpec is the operator-facing shape of one cost policy, as
// it appears in the policy bundle.
type CostPolicySpec struct {
	Name      string
	Threshold float64
	Action    string
	Cooldown  time.Duration
}

// SetCostPolicies replaces the policy set. Run cooldown state of
// surviving policies is carried over by name so a bundle reload does
// not re-arm a policy that just fired.
func (g *Governor) SetCostPolicies(specs []CostPolicySpec) error {
	next := make([]*costPolicy, 0, len(specs))
	for _, sp := range specs {
		if sp.Name == "" {
			return NewError(ErrCodeInvalidInput, "cost policy without a name")
		}
		if sp.Threshold <= 0 || sp.Threshold > 1 {
			return NewError(ErrCodeInvalidInput, "cost policy %q: threshold %v out of (0,1]", sp.Name, sp.Threshold)
		}
		switch sp.Action {
		case "pause_low_priority_flows", "defer_heavy_steps", "reroute_to_cold_nodes":
		default:
			return NewError(ErrCodeInvalidInput, "cost policy %q: unknown action %q", sp.Name, sp.Action)
		}
		next = append(next, &costPolicy{
			name:       sp.Name,
			threshold:  sp.Threshold,
			action:     sp.Action,
			cooldownMs: sp.Cooldown.Milliseconds(),
		})
	}
	sort.Slice(next, func(i, j int) bool { return next[i].threshold > next[j].threshold })

	g.mu.Lock()
	for _, np := range next {
		for _, old := range g.policies {
			if old.name == np.name {
				np.lastRun = old.lastRun
			}
		}
	}
	g.policies = next
	g.mu.Unlock()
	return nil
}

// AnalyzeFlowCost prices one flow at the standard triple.
func AnalyzeFlowCost(flowID string, now int64) model.FlowCostAnalysis {
	return model.FlowCostAnalysis{
		FlowID:      flowID,
		ComputeCost: computeCostPerFlowHour,
		NetworkCost: networkCostPerFlowHour,
		StorageCost: storageCostPerFlowHour,
		TotalCost:   costPerFlowHour,
		Currency:    "USD",
		AnalyzedAt:  now,
	}
}

// hourlyCost prices the active flow population for one hour.
func hourlyCost(totalFlows int) float64 {
	return float64(totalFlows) * costPerFlowHour
}
