package control

import (
	"strings"
	"testing"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/model"
)

func TestApplyBundleSeedsRegistries(t *testing.T) {
	r, _ := newTestRuntime()

	err := r.ApplyBundle(config.Bundle{
		LadderLevels: []config.BundleLevel{
			{Index: 0, Name: "Baseline"},
			{
				Index:    1,
				Triggers: config.BundleLevelTriggers{BurnRate: 0.55},
				SLA:      config.BundleSLAImpact{LatencyIncreasePct: 15},
			},
		},
		ScalingPolicies: []config.BundleScalePolicy{
			{Name: "executor-pool", Metric: "cpu_utilization", ScaleUpThreshold: 0.8, ScaleDownThreshold: 0.3, MinNodes: 2, MaxNodes: 20, InitialNodes: 4},
		},
		Redirections: []config.BundleRedirection{
			{Name: "shed-to-cold", Priority: 10, Condition: "latency_p99 > 5000", Target: "cold-pool", Percentage: 25},
		},
		Optimizations: []config.BundleOptimization{
			{Name: "batch-compaction", Condition: "throughput < 50", Parameters: map[string]string{"batch_size": "500"}},
		},
		CostPolicies: []config.BundleCostPolicy{
			{Name: "only-policy", Threshold: 0.9, Action: "defer_heavy_steps", CooldownMin: 5},
		},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := r.Ladder.Status().LevelName; got != "Baseline" {
		t.Fatalf("level 0 name = %q, want Baseline", got)
	}
	status := r.Scaler.Status()
	if status.Policies != 1 || status.Rules != 1 || status.Triggers != 1 {
		t.Fatalf("scaler registries = %+v", status)
	}
	if status.NodesByPool["executor-pool"] != 4 {
		t.Fatalf("initial nodes = %d, want 4", status.NodesByPool["executor-pool"])
	}
}

func TestApplyBundleReplacesCostPolicies(t *testing.T) {
	r, _ := newTestRuntime()

	err := r.ApplyBundle(config.Bundle{
		CostPolicies: []config.BundleCostPolicy{
			{Name: "custom-brake", Threshold: 0.5, Action: "reroute_to_cold_nodes", CooldownMin: 1},
		},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	var fired []model.CostPolicyExecuted
	r.Bus.Subscribe(bus.TopicCostControlPolicyExecuted, func(ev bus.Event) {
		fired = append(fired, ev.Payload.(model.CostPolicyExecuted))
	})

	// Burn of ~0.55 sits below every default threshold but above the
	// custom one.
	ingestSample(r, "qflow", r.Clock.Now(), 4000, 0.04, 0.55, 100)
	r.Governor.Tick()

	if len(fired) != 1 || fired[0].Policy != "custom-brake" {
		t.Fatalf("fired = %+v, want custom-brake once", fired)
	}
}

func TestApplyBundleCollectsBadEntries(t *testing.T) {
	r, _ := newTestRuntime()

	err := r.ApplyBundle(config.Bundle{
		LadderLevels: []config.BundleLevel{{Index: 9, Name: "ghost"}},
		ScalingPolicies: []config.BundleScalePolicy{
			{Name: "inverted", Metric: "cpu_utilization", MinNodes: 10, MaxNodes: 2},
		},
		Optimizations: []config.BundleOptimization{
			{Name: "still-applies", Condition: "throughput < 50"},
		},
	})
	if err == nil {
		t.Fatal("expected combined error")
	}
	if !IsCode(err, ErrCodeInvalidInput) {
		t.Fatalf("error code: %v", err)
	}
	for _, want := range []string{"index 9", "inverted"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
	if got := r.Scaler.Status().Triggers; got != 1 {
		t.Fatalf("triggers = %d, want the good entry applied", got)
	}
}
