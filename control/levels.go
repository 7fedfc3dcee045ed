package control

import "github.com/ftahirops/qplane/model"

// Ladder level indices in escalation order.
const (
	LevelNormal = iota
	LevelPerformanceOptimization
	LevelCostControl
	LevelEmergencyThrottling
	LevelCriticalSurvival
)

// LadderSignal is the snapshot a ladder evaluation runs against. The
// ladder builds it from the governor's burn metrics and the worst
// per-module sample, so a single failing module can escalate.
type LadderSignal struct {
	BurnRate    float64
	ErrorRate   float64
	LatencyP95  float64
	Utilization float64
}

// LevelTriggers are the escalation thresholds for one level, combined
// with OR. A zero threshold never fires.
type LevelTriggers struct {
	BurnRate    float64 `json:"burn_rate"`
	ErrorRate   float64 `json:"error_rate"`
	LatencyP95  float64 `json:"latency_p95_ms"`
	Utilization float64 `json:"utilization"`
}

// Satisfied reports whether the signal meets any trigger.
func (t LevelTriggers) Satisfied(sig LadderSignal) bool {
	switch {
	case t.BurnRate > 0 && sig.BurnRate >= t.BurnRate:
		return true
	case t.ErrorRate > 0 && sig.ErrorRate >= t.ErrorRate:
		return true
	case t.LatencyP95 > 0 && sig.LatencyP95 >= t.LatencyP95:
		return true
	case t.Utilization > 0 && sig.Utilization >= t.Utilization:
		return true
	}
	return false
}

// SLAImpact documents the degradation a level may impose on callers.
type SLAImpact struct {
	LatencyIncreasePct int      `json:"latency_increase_pct"`
	ThroughputDropPct  int      `json:"throughput_drop_pct"`
	DisabledFeatures   []string `json:"disabled_features,omitempty"`
}

// Level is one rung of the degradation ladder. Its action bundle is
// the complete posture for that level, not a delta against the rung
// below; the executor reconfigures to match whichever bundle arrived
// last.
type Level struct {
	Index    int            `json:"index"`
	Name     string         `json:"name"`
	Triggers LevelTriggers  `json:"triggers"`
	Actions  []model.Action `json:"-"`
	SLA      SLAImpact      `json:"sla"`
}

// survivalFeatureCuts is the feature set dropped at the top rung.
func survivalFeatureCuts() []string {
	return []string{
		"advanced_analytics",
		"detailed_logging",
		"real_time_dashboard",
		"webhook_processing",
		"external_integrations",
	}
}

// DefaultLevels returns the canonical five-rung ladder. Thresholds
// tighten monotonically; Normal carries no triggers and no actions.
func DefaultLevels() []Level {
	return []Level{
		{Index: LevelNormal, Name: "Normal"},
		{
			Index:    LevelPerformanceOptimization,
			Name:     "Performance Optimization",
			Triggers: LevelTriggers{BurnRate: 0.6, ErrorRate: 0.02, LatencyP95: 2000, Utilization: 0.7},
			Actions: []model.Action{
				model.EnableCachingAction{Aggressive: true, TTLMultiplier: 2},
				model.DeferStepsAction{HeavyOnly: true},
			},
			SLA: SLAImpact{LatencyIncreasePct: 10, ThroughputDropPct: 5},
		},
		{
			Index:    LevelCostControl,
			Name:     "Cost Control",
			Triggers: LevelTriggers{BurnRate: 0.75, ErrorRate: 0.05, LatencyP95: 3000, Utilization: 0.8},
			Actions: []model.Action{
				model.PauseFlowsAction{Priority: "low", MaxCount: 50},
				model.ReduceModuleCallsAction{Modules: []model.ModuleID{"qindex"}, Percentage: 50},
				model.ReduceParallelismAction{Percentage: 25},
			},
			SLA: SLAImpact{LatencyIncreasePct: 25, ThroughputDropPct: 20},
		},
		{
			Index:    LevelEmergencyThrottling,
			Name:     "Emergency Throttling",
			Triggers: LevelTriggers{BurnRate: 0.85, ErrorRate: 0.08, LatencyP95: 4000, Utilization: 0.9},
			Actions: []model.Action{
				model.ReduceParallelismAction{Percentage: 50},
				model.LimitConnectionsAction{MaxConnections: 100},
				model.DisableFeaturesAction{Features: []string{"advanced_analytics", "detailed_logging"}},
			},
			SLA: SLAImpact{
				LatencyIncreasePct: 50,
				ThroughputDropPct:  40,
				DisabledFeatures:   []string{"advanced_analytics", "detailed_logging"},
			},
		},
		{
			Index:    LevelCriticalSurvival,
			Name:     "Critical Survival",
			Triggers: LevelTriggers{BurnRate: 0.95, ErrorRate: 0.12, LatencyP95: 5000, Utilization: 0.95},
			Actions: []model.Action{
				model.PauseFlowsAction{Priority: "non-critical", MaxCount: 500},
				model.DeferStepsAction{HeavyOnly: true, ColdNodesRequired: true},
				model.LimitConnectionsAction{MaxConnections: 25},
				model.DisableFeaturesAction{Features: survivalFeatureCuts()},
			},
			SLA: SLAImpact{
				LatencyIncreasePct: 100,
				ThroughputDropPct:  70,
				DisabledFeatures:   survivalFeatureCuts(),
			},
		},
	}
}
