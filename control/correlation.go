package control

import (
	"sort"
	"sync"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/model"
	"github.com/ftahirops/qplane/util"
)

// Topology is the static dependency map: module -> modules it calls.
type Topology map[model.ModuleID][]model.ModuleID

// DefaultTopology is the stock serverless engine layout. qgate fronts
// the flow engine; qflow fans out to indexing, locking, and execution.
func DefaultTopology() Topology {
	return Topology{
		"qgate":  {"qflow"},
		"qflow":  {"qindex", "qlock", "qexec"},
		"qexec":  {"qcache", "qstore"},
		"qindex": {"qstore"},
		"qlock":  {},
		"qcache": {},
		"qstore": {},
	}
}

// maxSamplesPerModule caps each module ring independently of the
// retention window.
const maxSamplesPerModule = 10000

type pairKey struct {
	a, b model.ModuleID
}

// CorrelationEngine owns the topology, the per-module sample rings, and
// the correlation matrix. The matrix is rebuilt from scratch each tick
// and swapped in whole.
type CorrelationEngine struct {
	mu          sync.RWMutex
	clock       bus.Clock
	bus         *bus.Bus
	cfg         config.CorrelationConfig
	retentionMs int64
	topology    Topology

	samples   map[model.ModuleID][]model.ModuleMetrics
	matrix    map[pairKey]model.CorrelationAnalysis
	ecosystem model.EcosystemHealth
	paths     []model.CriticalPath
}

func NewCorrelationEngine(clock bus.Clock, b *bus.Bus, cfg config.CorrelationConfig, retentionMs int64, topo Topology) *CorrelationEngine {
	if topo == nil {
		topo = DefaultTopology()
	}
	return &CorrelationEngine{
		clock:       clock,
		bus:         b,
		cfg:         cfg,
		retentionMs: retentionMs,
		topology:    topo,
		samples:     make(map[model.ModuleID][]model.ModuleMetrics),
		matrix:      make(map[pairKey]model.CorrelationAnalysis),
	}
}

// RecordSample appends one module measurement. Missing timestamps are
// stamped from the clock; rings are pruned to the retention window.
func (e *CorrelationEngine) RecordSample(m model.ModuleMetrics) {
	if m.Module == "" {
		return
	}
	if m.Timestamp == 0 {
		m.Timestamp = e.clock.Now()
	}
	cutoff := e.clock.Now() - e.retentionMs

	e.mu.Lock()
	ring := append(e.samples[m.Module], m)
	start := 0
	for start < len(ring) && ring[start].Timestamp < cutoff {
		start++
	}
	ring = ring[start:]
	if len(ring) > maxSamplesPerModule {
		ring = ring[len(ring)-maxSamplesPerModule:]
	}
	e.samples[m.Module] = ring
	e.mu.Unlock()

	e.bus.Publish(bus.TopicModuleMetricsUpdated, model.ModuleMetricsUpdated{Module: m.Module, Metrics: m})
}

// History returns a copy of the module's sample ring, oldest first.
func (e *CorrelationEngine) History(module model.ModuleID) []model.ModuleMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.ModuleMetrics(nil), e.samples[module]...)
}

// Modules lists every module with at least one sample, sorted.
func (e *CorrelationEngine) Modules() []model.ModuleID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.ModuleID, 0, len(e.samples))
	for id, ring := range e.samples {
		if len(ring) > 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Latest returns the freshest sample per module.
func (e *CorrelationEngine) Latest() map[model.ModuleID]model.ModuleMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[model.ModuleID]model.ModuleMetrics, len(e.samples))
	for id, ring := range e.samples {
		if len(ring) > 0 {
			out[id] = ring[len(ring)-1]
		}
	}
	return out
}

// Tick recomputes the matrix, the ecosystem health index, and the
// critical paths, then publishes the update.
func (e *CorrelationEngine) Tick() {
	now := e.clock.Now()
	windowStart := now - e.cfg.Window().Milliseconds()

	e.mu.Lock()
	windows := make(map[model.ModuleID][]model.ModuleMetrics, len(e.samples))
	for id, ring := range e.samples {
		start := 0
		for start < len(ring) && ring[start].Timestamp < windowStart {
			start++
		}
		if len(ring)-start > 0 {
			windows[id] = ring[start:]
		}
	}

	modules := make([]model.ModuleID, 0, len(windows))
	for id := range windows {
		modules = append(modules, id)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i] < modules[j] })

	matrix := make(map[pairKey]model.CorrelationAnalysis)
	for i := 0; i < len(modules); i++ {
		for j := i + 1; j < len(modules); j++ {
			a, b := modules[i], modules[j]
			sa, sb := windows[a], windows[b]
			if len(sa) < e.cfg.MinDataPoints || len(sb) < e.cfg.MinDataPoints {
				continue
			}
			ca := e.analyzePair(a, b, sa, sb, now)
			matrix[pairKey{a, b}] = ca
			matrix[pairKey{b, a}] = mirror(ca)
		}
	}

	eco := computeEcosystemHealth(now, windows)
	paths := e.criticalPathsLocked(windows)

	e.matrix = matrix
	e.ecosystem = eco
	e.paths = paths
	pairs := len(matrix)
	e.mu.Unlock()

	e.bus.Publish(bus.TopicCorrelationMatrixUpdated, model.CorrelationMatrixUpdated{
		Pairs: pairs, Ecosystem: eco,
	})
}

// analyzePair correlates the last min(len(a), len(b)) samples of the
// two modules across latency, throughput, and error rate.
func (e *CorrelationEngine) analyzePair(a, b model.ModuleID, sa, sb []model.ModuleMetrics, now int64) model.CorrelationAnalysis {
	n := len(sa)
	if len(sb) < n {
		n = len(sb)
	}
	sa = sa[len(sa)-n:]
	sb = sb[len(sb)-n:]

	latA, latB := make([]float64, n), make([]float64, n)
	tpA, tpB := make([]float64, n), make([]float64, n)
	errA, errB := make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		latA[i], latB[i] = sa[i].LatencyP95, sb[i].LatencyP95
		tpA[i], tpB[i] = sa[i].Throughput, sb[i].Throughput
		errA[i], errB[i] = sa[i].ErrorRate, sb[i].ErrorRate
	}

	r := 0.4*util.Pearson(latA, latB) + 0.4*util.Pearson(tpA, tpB) + 0.2*util.Pearson(errA, errB)

	return model.CorrelationAnalysis{
		ModuleA:     a,
		ModuleB:     b,
		Coefficient: r,
		Strength:    strengthOf(r),
		Type:        typeOf(r),
		Confidence:  util.Clamp01(float64(len(sa)) / 100),
		Direction:   e.directionOf(a, b, r),
		Samples:     n,
		UpdatedAt:   now,
	}
}

func strengthOf(r float64) model.CorrelationStrength {
	abs := r
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 0.8:
		return model.StrengthVeryStrong
	case abs >= 0.6:
		return model.StrengthStrong
	case abs >= 0.3:
		return model.StrengthModerate
	default:
		return model.StrengthWeak
	}
}

func typeOf(r float64) model.CorrelationType {
	switch {
	case r > 0.1:
		return model.CorrelationPositive
	case r < -0.1:
		return model.CorrelationNegative
	default:
		return model.CorrelationNeutral
	}
}

func (e *CorrelationEngine) directionOf(a, b model.ModuleID, r float64) model.ImpactDirection {
	if contains(e.topology[a], b) {
		return model.ImpactBToA
	}
	if contains(e.topology[b], a) {
		return model.ImpactAToB
	}
	abs := r
	if abs < 0 {
		abs = -abs
	}
	if abs > 0.7 {
		return model.ImpactBidirectional
	}
	return model.ImpactIndependent
}

func contains(mods []model.ModuleID, want model.ModuleID) bool {
	for _, m := range mods {
		if m == want {
			return true
		}
	}
	return false
}

func mirror(ca model.CorrelationAnalysis) model.CorrelationAnalysis {
	ca.ModuleA, ca.ModuleB = ca.ModuleB, ca.ModuleA
	ca.Direction = ca.Direction.Reverse()
	return ca
}

// Pair looks up the ordered matrix entry for (a, b).
func (e *CorrelationEngine) Pair(a, b model.ModuleID) (model.CorrelationAnalysis, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ca, ok := e.matrix[pairKey{a, b}]
	return ca, ok
}

// Matrix returns every entry sorted by (A, B) for stable rendering.
func (e *CorrelationEngine) Matrix() []model.CorrelationAnalysis {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.CorrelationAnalysis, 0, len(e.matrix))
	for _, ca := range e.matrix {
		out = append(out, ca)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModuleA != out[j].ModuleA {
			return out[i].ModuleA < out[j].ModuleA
		}
		return out[i].ModuleB < out[j].ModuleB
	})
	return out
}

// Ecosystem returns the last computed health index.
func (e *CorrelationEngine) Ecosystem() model.EcosystemHealth {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ecosystem
}

// CriticalPaths returns the last computed low-health traversals.
func (e *CorrelationEngine) CriticalPaths() []model.CriticalPath {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.CriticalPath(nil), e.paths...)
}
