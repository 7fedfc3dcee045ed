package control

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/model"
	"github.com/ftahirops/qplane/util"
)

// Burn weights per dimension. Cost carries the least weight; resource
// pressure carries the most.
const (
	burnWeightCPU     = 0.3
	burnWeightMemory  = 0.2
	burnWeightLatency = 0.25
	burnWeightError   = 0.15
	burnWeightCost    = 0.1
)

// FlowCounter reports flow executions in the trailing hour. The
// aggregator satisfies this.
type FlowCounter interface {
	FlowsLastHour() int
}

// SampleSource exposes the freshest module samples. The correlation
// engine satisfies this.
type SampleSource interface {
	Latest() map[model.ModuleID]model.ModuleMetrics
}

// Governor computes the composite burn rate, runs cost-control
// policies, and owns the paused-flow and deferred-step collections.
type Governor struct {
	mu    sync.Mutex
	clock bus.Clock
	bus   *bus.Bus
	cfg   config.BurnRateConfig
	slo   config.MetricsConfig

	flows   FlowCounter
	samples SampleSource

	policies []*costPolicy
	paused   map[string]model.PausedFlow
	deferred map[string]model.DeferredStep
	lastBurn model.BurnRateMetrics
}

func NewGovernor(clock bus.Clock, b *bus.Bus, cfg config.BurnRateConfig, slo config.MetricsConfig, flows FlowCounter, samples SampleSource) *Governor {
	policies := defaultCostPolicies()
	sort.Slice(policies, func(i, j int) bool { return policies[i].threshold > policies[j].threshold })
	return &Governor{
		clock:    clock,
		bus:      b,
		cfg:      cfg,
		slo:      slo,
		flows:    flows,
		samples:  samples,
		policies: policies,
		paused:   make(map[string]model.PausedFlow),
		deferred: make(map[string]model.DeferredStep),
	}
}

// Tick recomputes burn, fires threshold events, runs at most one cost
// policy, and services the pause/deferral books. Returns the fresh burn
// metrics for the ladder and scaler.
func (g *Governor) Tick() model.BurnRateMetrics {
	burn := g.computeBurn()

	g.mu.Lock()
	g.lastBurn = burn
	g.mu.Unlock()

	g.bus.Publish(bus.TopicBurnRateCalculated, burn)

	if dim, crossed := burnCrossing(burn, g.cfg.MaxThreshold); crossed {
		g.bus.Publish(bus.TopicBurnRateExceeded, model.BurnRateExceeded{
			Metrics: burn, Threshold: g.cfg.MaxThreshold, Dimension: dim,
		})
	}

	g.runCostPolicies(burn)
	g.CheckFlowResumption()
	g.ReapDeferred()
	return burn
}

// computeBurn derives the five component burns from the latest module
// samples and the trailing-hour flow count.
func (g *Governor) computeBurn() model.BurnRateMetrics {
	now := g.clock.Now()
	latest := g.samples.Latest()

	var cpus, mems, lats, errs []float64
	for _, m := range latest {
		cpus = append(cpus, util.Clamp01(m.CPUUtilization))
		mems = append(mems, util.Clamp01(m.MemoryUtilization))
		if g.slo.SLOLatencyP99Ms > 0 {
			lats = append(lats, util.Clamp01(m.LatencyP95/g.slo.SLOLatencyP99Ms))
		}
		errs = append(errs, util.Clamp01(m.ErrorRate/0.1))
	}

	cost := hourlyCost(g.flows.FlowsLastHour())
	costBurn := 0.0
	if g.cfg.CostLimits.Hourly > 0 {
		costBurn = util.Clamp01(cost / g.cfg.CostLimits.Hourly)
	}

	burn := model.BurnRateMetrics{
		Timestamp:   now,
		CPUBurn:     util.Mean(cpus),
		MemoryBurn:  util.Mean(mems),
		LatencyBurn: util.Mean(lats),
		ErrorBurn:   util.Mean(errs),
		CostBurn:    costBurn,
		HourlyCost:  cost,
	}
	burn.Overall = util.Clamp01(
		burnWeightCPU*burn.CPUBurn +
			burnWeightMemory*burn.MemoryBurn +
			burnWeightLatency*burn.LatencyBurn +
			burnWeightError*burn.ErrorBurn +
			burnWeightCost*burn.CostBurn)
	return burn
}

// burnCrossing names the first dimension at or above the threshold.
// Overall wins ties so operators see the composite first.
func burnCrossing(b model.BurnRateMetrics, threshold float64) (string, bool) {
	if threshold <= 0 {
		return "", false
	}
	switch {
	case b.Overall >= threshold:
		return "overall", true
	case b.CPUBurn >= threshold:
		return "cpu", true
	case b.MemoryBurn >= threshold:
		return "memory", true
	case b.LatencyBurn >= threshold:
		return "latency", true
	case b.ErrorBurn >= threshold:
		return "error", true
	case b.CostBurn >= threshold:
		return "cost", true
	}
	return "", false
}

// runCostPolicies executes the most severe eligible policy, if any.
func (g *Governor) runCostPolicies(burn model.BurnRateMetrics) {
	now := g.clock.Now()

	g.mu.Lock()
	var fired *costPolicy
	for _, p := range g.policies {
		if burn.Overall < p.threshold {
			continue
		}
		if p.lastRun != 0 && now-p.lastRun < p.cooldownMs {
			continue
		}
		p.lastRun = now
		fired = p
		break
	}
	g.mu.Unlock()

	if fired == nil {
		return
	}
	g.executePolicyAction(fired, burn)
	g.bus.Publish(bus.TopicCostControlPolicyExecuted, model.CostPolicyExecuted{
		Policy:    fired.name,
		Threshold: fired.threshold,
		BurnRate:  burn.Overall,
		Action:    fired.action,
	})
}

func (g *Governor) executePolicyAction(p *costPolicy, burn model.BurnRateMetrics) {
	reason := "cost_policy:" + p.name
	switch p.action {
	case "pause_low_priority_flows":
		g.bus.Publish(bus.TopicLowPriorityFlowsPaused, model.PauseFlowsAction{
			Priority: "low", MaxCount: 100, DurationMs: (10 * time.Minute).Milliseconds(), Reason: reason,
		})
	case "defer_heavy_steps":
		g.bus.Publish(bus.TopicHeavyStepsDeferred, model.DeferStepsAction{
			HeavyOnly: true, Reason: reason,
		})
	case "reroute_to_cold_nodes":
		g.bus.Publish(bus.TopicFlowsReroutedToColdNodes, model.RedirectLoadAction{
			Rule: p.name, Target: "cold_pool", Percentage: 30, Reason: reason,
		})
	default:
		log.Printf("qplane: cost policy %s names unknown action %q", p.name, p.action)
	}
}

// PauseFlow records a pause. duration <= 0 means manual resume only.
func (g *Governor) PauseFlow(flowID, reason string, duration time.Duration) error {
	if flowID == "" {
		return NewError(ErrCodeInvalidInput, "empty flow id")
	}
	now := g.clock.Now()
	pf := model.PausedFlow{FlowID: flowID, PausedAt: now, Reason: reason}
	if duration > 0 {
		pf.ResumeAt = now + duration.Milliseconds()
	}

	g.mu.Lock()
	g.paused[flowID] = pf
	g.mu.Unlock()

	g.bus.Publish(bus.TopicFlowPaused, model.FlowPausedPayload{Flow: pf})
	return nil
}

// ResumeFlow lifts a pause. Unknown flows are a no-op.
func (g *Governor) ResumeFlow(flowID string) bool {
	now := g.clock.Now()

	g.mu.Lock()
	pf, ok := g.paused[flowID]
	if ok {
		delete(g.paused, flowID)
	}
	g.mu.Unlock()

	if !ok {
		return false
	}
	g.bus.Publish(bus.TopicFlowResumed, model.FlowResumedPayload{
		FlowID: flowID, PausedMs: now - pf.PausedAt,
	})
	return true
}

// CheckFlowResumption resumes every paused flow whose resumeAt has
// passed. Runs on the governor tick.
func (g *Governor) CheckFlowResumption() {
	now := g.clock.Now()

	g.mu.Lock()
	var due []string
	for id, pf := range g.paused {
		if pf.ResumeAt != 0 && pf.ResumeAt <= now {
			due = append(due, id)
		}
	}
	g.mu.Unlock()

	sort.Strings(due)
	for _, id := range due {
		g.ResumeFlow(id)
	}
}

// DeferStep records a heavy-step deferral onto a cold node.
func (g *Governor) DeferStep(stepID, flowID, reason string, coldNode model.NodeID) error {
	if stepID == "" {
		return NewError(ErrCodeInvalidInput, "empty step id")
	}
	ds := model.DeferredStep{
		StepID:     stepID,
		FlowID:     flowID,
		DeferredAt: g.clock.Now(),
		Reason:     reason,
		ColdNode:   coldNode,
	}

	g.mu.Lock()
	g.deferred[stepID] = ds
	g.mu.Unlock()

	g.bus.Publish(bus.TopicStepDeferred, model.StepDeferredPayload{Step: ds})
	return nil
}

// ReapDeferred expires deferrals older than the configured ceiling.
func (g *Governor) ReapDeferred() {
	now := g.clock.Now()
	maxAge := g.cfg.MaxDeferral().Milliseconds()

	g.mu.Lock()
	var expired []model.DeferredStep
	for id, ds := range g.deferred {
		if now-ds.DeferredAt >= maxAge {
			expired = append(expired, ds)
			delete(g.deferred, id)
		}
	}
	g.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].StepID < expired[j].StepID })
	for _, ds := range expired {
		g.bus.Publish(bus.TopicDeferredStepExpired, model.DeferredStepExpiredPayload{
			StepID: ds.StepID, AgeMs: now - ds.DeferredAt,
		})
	}
}

// LastBurn returns the most recent burn computation.
func (g *Governor) LastBurn() model.BurnRateMetrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastBurn
}

// PausedFlows snapshots the pause book sorted by flow id.
func (g *Governor) PausedFlows() []model.PausedFlow {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.PausedFlow, 0, len(g.paused))
	for _, pf := range g.paused {
		out = append(out, pf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FlowID < out[j].FlowID })
	return out
}

// DeferredSteps snapshots the deferral book sorted by step id.
func (g *Governor) DeferredSteps() []model.DeferredStep {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.DeferredStep, 0, len(g.deferred))
	for _, ds := range g.deferred {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepID < out[j].StepID })
	return out
}
