package control

import (
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/model"
)

// maxRecentScaleActions bounds the decision ring kept for snapshots.
const maxRecentScaleActions = 20

// ScalingPolicy resizes one worker pool inside a metric band. Zero
// Cooldown selects the configured default.
type ScalingPolicy struct {
	Name               string        `json:"name"`
	Metric             string        `json:"metric"`
	ScaleUpThreshold   float64       `json:"scale_up_threshold"`
	ScaleDownThreshold float64       `json:"scale_down_threshold"`
	MinNodes           int           `json:"min_nodes"`
	MaxNodes           int           `json:"max_nodes"`
	CurrentNodes       int           `json:"current_nodes"`
	Cooldown           time.Duration `json:"-"`

	lastAction int64
}

// RedirectionRule shifts traffic when its condition holds. Rules run
// by descending priority and the first match wins.
type RedirectionRule struct {
	Name       string  `json:"name"`
	Priority   int     `json:"priority"`
	Condition  string  `json:"condition"`
	Target     string  `json:"target"`
	Percentage float64 `json:"percentage"`

	cond *Condition
}

// OptimizationTrigger fires its parameters at the executor whenever
// its condition holds. Triggers are independent of each other.
type OptimizationTrigger struct {
	Name       string            `json:"name"`
	Condition  string            `json:"condition"`
	Parameters map[string]string `json:"parameters,omitempty"`

	cond *Condition
}

// Scaler owns the three registries and turns the governor's signal
// into scale, redirect, and optimize intents.
type Scaler struct {
	mu    sync.Mutex
	clock bus.Clock
	bus   *bus.Bus
	cfg   config.ScalerConfig

	policies map[string]*ScalingPolicy
	rules    []*RedirectionRule
	triggers map[string]*OptimizationTrigger
	recent   []model.ScaleAction
}

func NewScaler(clock bus.Clock, b *bus.Bus, cfg config.ScalerConfig) *Scaler {
	s := &Scaler{
		clock:    clock,
		bus:      b,
		cfg:      cfg,
		policies: make(map[string]*ScalingPolicy),
		triggers: make(map[string]*OptimizationTrigger),
	}
	for _, p := range DefaultScalingPolicies() {
		p := p
		s.policies[p.Name] = &p
	}
	for _, r := range DefaultRedirectionRules() {
		r := r
		if err := s.compileRule(&r); err == nil {
			s.rules = append(s.rules, &r)
		}
	}
	for _, tr := range DefaultOptimizationTriggers() {
		tr := tr
		if err := s.compileTrigger(&tr); err == nil {
			s.triggers[tr.Name] = &tr
		}
	}
	s.sortRulesLocked()
	return s
}

// DefaultScalingPolicies covers the shared worker pool on the two
// signals that move first under load.
func DefaultScalingPolicies() []ScalingPolicy {
	return []ScalingPolicy{
		{
			Name:               "worker-pool-cpu",
			Metric:             "cpu_utilization",
			ScaleUpThreshold:   0.8,
			ScaleDownThreshold: 0.3,
			MinNodes:           2,
			MaxNodes:           20,
			CurrentNodes:       4,
		},
		{
			Name:               "worker-pool-latency",
			Metric:             "latency_p99",
			ScaleUpThreshold:   2000,
			ScaleDownThreshold: 500,
			MinNodes:           2,
			MaxNodes:           20,
			CurrentNodes:       4,
		},
	}
}

func DefaultRedirectionRules() []RedirectionRule {
	return []RedirectionRule{
		{
			Name:       "error-burst-shed",
			Priority:   100,
			Condition:  "error_rate > 0.1",
			Target:     "backup",
			Percentage: 50,
		},
		{
			Name:       "latency-overflow",
			Priority:   50,
			Condition:  "latency_p99 > 4000 && cpu_utilization > 0.8",
			Target:     "overflow",
			Percentage: 25,
		},
	}
}

func DefaultOptimizationTriggers() []OptimizationTrigger {
	return []OptimizationTrigger{
		{
			Name:       "memory-compaction",
			Condition:  "memory_utilization > 0.85",
			Parameters: map[string]string{"action": "compact", "scope": "worker_heaps"},
		},
	}
}

func (s *Scaler) compileRule(r *RedirectionRule) error {
	cond, err := ParseCondition(r.Condition)
	if err != nil {
		return WrapError(ErrCodeInvalidInput, err, "redirection rule %q", r.Name)
	}
	r.cond = cond
	return nil
}

func (s *Scaler) compileTrigger(tr *OptimizationTrigger) error {
	cond, err := ParseCondition(tr.Condition)
	if err != nil {
		return WrapError(ErrCodeInvalidInput, err, "optimization trigger %q", tr.Name)
	}
	tr.cond = cond
	return nil
}

func (s *Scaler) sortRulesLocked() {
	sort.Slice(s.rules, func(i, j int) bool {
		if s.rules[i].Priority != s.rules[j].Priority {
			return s.rules[i].Priority > s.rules[j].Priority
		}
		return s.rules[i].Name < s.rules[j].Name
	})
}

// Tick evaluates all three registries against the metric environment.
// Called by the runtime on the governor tick.
func (s *Scaler) Tick(env map[string]float64) {
	now := s.clock.Now()
	var scales []model.ScaleAction
	var redirect *model.RedirectLoadAction
	var optimizations []model.OptimizeResourcesAction

	s.mu.Lock()
	names := make([]string, 0, len(s.policies))
	for name := range s.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if a, ok := s.evaluatePolicyLocked(s.policies[name], env, now); ok {
			scales = append(scales, a)
		}
	}

	for _, r := range s.rules {
		if r.cond.Eval(env) {
			redirect = &model.RedirectLoadAction{
				Rule:       r.Name,
				Target:     r.Target,
				Percentage: r.Percentage,
				Reason:     r.Condition,
			}
			break
		}
	}

	trNames := make([]string, 0, len(s.triggers))
	for name := range s.triggers {
		trNames = append(trNames, name)
	}
	sort.Strings(trNames)
	for _, name := range trNames {
		tr := s.triggers[name]
		if tr.cond.Eval(env) {
			optimizations = append(optimizations, model.OptimizeResourcesAction{
				Trigger: tr.Name, Parameters: tr.Parameters,
			})
		}
	}
	s.mu.Unlock()

	for _, a := range scales {
		topic := bus.TopicScaleUpInitiated
		if a.Direction == "scale_down" {
			topic = bus.TopicScaleDownInitiated
		}
		s.bus.Publish(topic, a)
	}
	if redirect != nil {
		s.bus.Publish(bus.TopicLoadRedirectionInitiated, *redirect)
	}
	for _, o := range optimizations {
		s.bus.Publish(bus.TopicOptimizationApplied, o)
	}
}

// evaluatePolicyLocked applies the band check and cooldown for one
// policy, updating its node count optimistically on a decision.
func (s *Scaler) evaluatePolicyLocked(p *ScalingPolicy, env map[string]float64, now int64) (model.ScaleAction, bool) {
	cooldown := p.Cooldown
	if cooldown <= 0 {
		cooldown = s.cfg.ScalingCooldown()
	}
	if p.lastAction != 0 && now-p.lastAction < cooldown.Milliseconds() {
		return model.ScaleAction{}, false
	}

	v, target := env[p.Metric], 0
	direction := ""
	switch {
	case v > p.ScaleUpThreshold && p.CurrentNodes < p.MaxNodes:
		direction = "scale_up"
		target = int(math.Ceil(float64(p.CurrentNodes) * 1.5))
		if target > p.MaxNodes {
			target = p.MaxNodes
		}
	case v < p.ScaleDownThreshold && p.CurrentNodes > p.MinNodes:
		// Shrinking capacity while burn is high trades SLO for cost in
		// the wrong direction.
		if env["burn_rate"] >= s.cfg.PerformanceBurn {
			return model.ScaleAction{}, false
		}
		direction = "scale_down"
		target = int(math.Floor(float64(p.CurrentNodes) * 0.8))
		if target < p.MinNodes {
			target = p.MinNodes
		}
	default:
		return model.ScaleAction{}, false
	}

	a := model.ScaleAction{
		Policy:       p.Name,
		Direction:    direction,
		CurrentNodes: p.CurrentNodes,
		TargetNodes:  target,
		Metric:       p.Metric,
		Value:        v,
	}
	p.CurrentNodes = target
	p.lastAction = now

	s.recent = append(s.recent, a)
	if len(s.recent) > maxRecentScaleActions {
		s.recent = s.recent[len(s.recent)-maxRecentScaleActions:]
	}
	return a, true
}

// HandleAnomaly runs the emergency path for critical predictions: the
// pause and the redirect run concurrently and neither depends on the
// other finishing.
func (s *Scaler) HandleAnomaly(p model.PerformanceAnomaly) {
	if p.Severity != "critical" {
		return
	}
	start := s.clock.Now()

	var g errgroup.Group
	if s.cfg.MaxConcurrentActions > 0 {
		g.SetLimit(s.cfg.MaxConcurrentActions)
	}
	g.Go(func() error {
		s.bus.Publish(bus.TopicLowPriorityFlowsPaused, model.PauseFlowsAction{
			Priority: "low", MaxCount: 100,
			Reason: "critical anomaly on " + string(p.Module),
		})
		return nil
	})
	g.Go(func() error {
		s.bus.Publish(bus.TopicLoadRedirectionInitiated, model.RedirectLoadAction{
			Rule:       "emergency",
			Target:     "backup",
			Percentage: 80,
			Reason:     "critical anomaly on " + string(p.Module),
		})
		return nil
	})
	g.Wait()

	s.bus.Publish(bus.TopicEmergencyResponseInitiated, model.EmergencyResponseAction{
		Module:  p.Module,
		Steps:   []string{"pause_low_priority_flows", "redirect_load"},
		Elapsed: s.clock.Now() - start,
	})
}

// SetPolicy adds or replaces a scaling policy.
func (s *Scaler) SetPolicy(p ScalingPolicy) error {
	if p.Name == "" || p.Metric == "" {
		return NewError(ErrCodeInvalidInput, "scaling policy needs name and metric")
	}
	if p.MinNodes < 0 || p.MaxNodes < p.MinNodes {
		return NewError(ErrCodeInvalidInput, "scaling policy %q node bounds invalid", p.Name)
	}
	if p.CurrentNodes < p.MinNodes {
		p.CurrentNodes = p.MinNodes
	}
	if p.CurrentNodes > p.MaxNodes {
		p.CurrentNodes = p.MaxNodes
	}

	s.mu.Lock()
	if prev, ok := s.policies[p.Name]; ok {
		p.lastAction = prev.lastAction
	}
	s.policies[p.Name] = &p
	s.mu.Unlock()
	return nil
}

// RemovePolicy drops a policy by name.
func (s *Scaler) RemovePolicy(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[name]; !ok {
		return false
	}
	delete(s.policies, name)
	return true
}

// SetNodes records the executor's confirmed pool size for a policy.
func (s *Scaler) SetNodes(policy string, nodes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[policy]
	if !ok {
		return NewError(ErrCodeInvalidInput, "unknown scaling policy %q", policy)
	}
	if nodes < p.MinNodes || nodes > p.MaxNodes {
		return NewError(ErrCodeInvalidInput, "nodes %d outside [%d, %d]", nodes, p.MinNodes, p.MaxNodes)
	}
	p.CurrentNodes = nodes
	return nil
}

// SetRule adds or replaces a redirection rule, compiling its condition.
func (s *Scaler) SetRule(r RedirectionRule) error {
	if r.Name == "" {
		return NewError(ErrCodeInvalidInput, "redirection rule needs a name")
	}
	if err := s.compileRule(&r); err != nil {
		return err
	}

	s.mu.Lock()
	replaced := false
	for i, old := range s.rules {
		if old.Name == r.Name {
			s.rules[i] = &r
			replaced = true
			break
		}
	}
	if !replaced {
		s.rules = append(s.rules, &r)
	}
	s.sortRulesLocked()
	s.mu.Unlock()
	return nil
}

// RemoveRule drops a redirection rule by name.
func (s *Scaler) RemoveRule(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rules {
		if r.Name == name {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return true
		}
	}
	return false
}

// SetTrigger adds or replaces an optimization trigger.
func (s *Scaler) SetTrigger(tr OptimizationTrigger) error {
	if tr.Name == "" {
		return NewError(ErrCodeInvalidInput, "optimization trigger needs a name")
	}
	if err := s.compileTrigger(&tr); err != nil {
		return err
	}

	s.mu.Lock()
	s.triggers[tr.Name] = &tr
	s.mu.Unlock()
	return nil
}

// RemoveTrigger drops an optimization trigger by name.
func (s *Scaler) RemoveTrigger(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[name]; !ok {
		return false
	}
	delete(s.triggers, name)
	return true
}

// Status reports registry sizes, pool sizes, and recent decisions.
func (s *Scaler) Status() model.ScalerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := make(map[string]int, len(s.policies))
	for name, p := range s.policies {
		nodes[name] = p.CurrentNodes
	}
	recent := make([]model.ScaleAction, len(s.recent))
	copy(recent, s.recent)
	return model.ScalerStatus{
		Policies:      len(s.policies),
		Rules:         len(s.rules),
		Triggers:      len(s.triggers),
		NodesByPool:   nodes,
		RecentActions: recent,
	}
}
