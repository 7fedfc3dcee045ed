package control

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/model"
)

// prefetchInterval drives the cache's predictive prefetch scan.
const prefetchInterval = 2 * time.Minute

// anomalyHorizonMin is the look-ahead for the periodic anomaly scan.
const anomalyHorizonMin = 30

// anomalyMuteInterval suppresses repeat publications for the same
// module while a predicted anomaly is still in the forecast window.
const anomalyMuteInterval = 5 * time.Minute

// Source is the read surface the TUI and the HTTP layer consume.
type Source interface {
	Snapshot() model.ControlSnapshot
}

// Runtime owns one instance of every component and their tickers. The
// components stay usable after Stop; only the tickers end.
type Runtime struct {
	Clock      bus.Clock
	Bus        *bus.Bus
	Aggregator *Aggregator
	Cache      *Cache
	Correlator *CorrelationEngine
	Governor   *Governor
	Ladder     *Ladder
	Scaler     *Scaler
	Predictor  Predictor
	Alerts     *AlertSet
	Hub        *StreamHub

	cfg    config.Config
	cancel context.CancelFunc
	group  *errgroup.Group

	mu         sync.Mutex
	lastSpoken map[model.ModuleID]int64 // anomaly publication mute book
}

// NewRuntime wires the full component set onto one clock and bus.
func NewRuntime(clock bus.Clock, cfg config.Config) *Runtime {
	b := bus.New(clock, cfg.Dashboard.HistorySize)

	r := &Runtime{
		Clock:      clock,
		Bus:        b,
		cfg:        cfg,
		lastSpoken: make(map[model.ModuleID]int64),
	}
	r.Aggregator = NewAggregator(clock, b, cfg.Metrics)
	r.Cache = NewCache(clock, b, cfg.Cache)
	r.Correlator = NewCorrelationEngine(clock, b, cfg.Correlation,
		cfg.Metrics.Retention().Milliseconds(), nil)
	r.Governor = NewGovernor(clock, b, cfg.BurnRate, cfg.Metrics, r.Aggregator, r.Correlator)
	r.Ladder = NewLadder(clock, b, cfg.Ladder, r.Correlator, r)
	r.Scaler = NewScaler(clock, b, cfg.Scaler)
	r.Predictor = NewTrendPredictor(clock, cfg.Predictor, r.Correlator)
	r.Alerts = NewDefaultAlertSet(clock, b)
	r.Hub = NewStreamHub(clock, cfg.Dashboard)

	b.Subscribe(bus.TopicPerformanceAnomaly, func(ev bus.Event) {
		if p, ok := ev.Payload.(model.PerformanceAnomaly); ok {
			r.Scaler.HandleAnomaly(p)
		}
	})
	b.Subscribe(bus.TopicAlertFired, func(ev bus.Event) {
		r.Hub.Broadcast(StreamAlerts, ev.Payload)
	})
	b.Subscribe(bus.TopicDegradationDeescalated, func(ev bus.Event) {
		tr, ok := ev.Payload.(model.DegradationTransition)
		if !ok {
			return
		}
		// Dropping below the rung that stretched cache TTLs undoes it.
		if !levelEnablesCaching(r.Ladder.Levels(), tr.ToLevel) {
			r.Cache.SetAggressive(false, 1)
		}
	})
	b.Subscribe(bus.TopicWildcard, func(ev bus.Event) {
		r.Hub.Broadcast(StreamEvents, ev)
	})
	return r
}

func levelEnablesCaching(levels []Level, idx int) bool {
	if idx < 0 || idx >= len(levels) {
		return false
	}
	for _, a := range levels[idx].Actions {
		if _, ok := a.(model.EnableCachingAction); ok {
			return true
		}
	}
	return false
}

// ApplyAction executes the in-process share of a ladder bundle. Most
// actions are intents for the executor and need nothing here.
func (r *Runtime) ApplyAction(a model.Action) error {
	switch act := a.(type) {
	case model.EnableCachingAction:
		r.Cache.SetAggressive(act.Aggressive, act.TTLMultiplier)
	}
	return nil
}

// IngestModuleMetrics feeds one executor rollup into the sample ring
// and the metric registries.
func (r *Runtime) IngestModuleMetrics(m model.ModuleMetrics) {
	if m.Module == "" {
		return
	}
	r.Correlator.RecordSample(m)

	labels := map[string]string{"module": string(m.Module)}
	prefix := "module_" + string(m.Module)
	r.Aggregator.RecordMetric(prefix+"_latency_p95", m.LatencyP95, labels)
	r.Aggregator.RecordMetric(prefix+"_throughput", m.Throughput, labels)
	r.Aggregator.RecordMetric(prefix+"_error_rate", m.ErrorRate, labels)
	r.Aggregator.RecordMetric(prefix+"_cpu", m.CPUUtilization, labels)
	r.Aggregator.RecordMetric(prefix+"_memory", m.MemoryUtilization, labels)
}

// Start launches every ticker. Each loop exits within one period of
// context cancellation.
func (r *Runtime) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	r.group = g

	g.Go(func() error { return r.loop(ctx, "aggregation", r.cfg.Metrics.AggregationInterval(), r.aggregationTick) })
	g.Go(func() error { return r.loop(ctx, "correlation", r.cfg.Correlation.UpdateInterval(), r.correlationTick) })
	g.Go(func() error { return r.loop(ctx, "governor", r.cfg.BurnRate.Interval(), r.governorTick) })
	g.Go(func() error { return r.loop(ctx, "scaler", r.cfg.Scaler.MonitoringInterval(), func() { r.Scaler.Tick(r.Env()) }) })
	g.Go(func() error { return r.loop(ctx, "cache_cleanup", r.cfg.Cache.CleanupInterval(), func() { r.Cache.CleanupTick() }) })
	g.Go(func() error { return r.loop(ctx, "predictor_training", r.cfg.Predictor.RetrainInterval(), func() { r.Predictor.Train(false) }) })
	g.Go(func() error { return r.loop(ctx, "stream_reaper", r.cfg.Dashboard.HeartbeatInterval(), func() { r.Hub.ReapTick() }) })
	if r.cfg.Cache.EnablePredictive {
		g.Go(func() error { return r.loop(ctx, "cache_prefetch", prefetchInterval, func() { r.Cache.PrefetchTick() }) })
	}
}

func (r *Runtime) loop(ctx context.Context, name string, every time.Duration, fn func()) error {
	if every <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if !r.guardedTick(name, fn) {
				return nil
			}
		}
	}
}

// guardedTick runs one tick and converts a panic into a component
// fault. The faulted component's ticker stops; the other loops keep
// running on the shared context.
func (r *Runtime) guardedTick(name string, fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			log.Printf("qplane: %s tick fault: %v", name, rec)
			r.Bus.Publish(bus.TopicComponentFault, model.ComponentFault{
				Component: name,
				Detail:    fmt.Sprint(rec),
			})
		}
	}()
	fn()
	return true
}

// Stop cancels the tickers and waits for them to drain.
func (r *Runtime) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.group.Wait()
	r.cancel, r.group = nil, nil
}

func (r *Runtime) aggregationTick() {
	r.Aggregator.Tick()
	// A cold plane has no samples; evaluating alerts against an
	// all-zero environment would fire low_throughput immediately.
	if len(r.Correlator.Latest()) > 0 {
		r.Alerts.Evaluate(r.Env())
	}
}

func (r *Runtime) correlationTick() {
	r.Correlator.Tick()
	r.Hub.Broadcast(StreamCorrelations, r.Correlator.Matrix())
}

func (r *Runtime) governorTick() {
	burn := r.Governor.Tick()
	r.Ladder.Tick(burn)
	r.scanAnomalies()
	r.Hub.Broadcast(StreamBurnRate, burn)
	r.Hub.Broadcast(StreamSnapshot, r.Snapshot())
}

// Env snapshots the closed expression vocabulary: worst-case latency,
// error, and utilization across modules, total throughput, and the
// governor's overall burn.
func (r *Runtime) Env() map[string]float64 {
	var latP99, errRate, cpu, mem, tput float64
	for _, m := range r.Correlator.Latest() {
		if m.LatencyP99 > latP99 {
			latP99 = m.LatencyP99
		}
		if m.ErrorRate > errRate {
			errRate = m.ErrorRate
		}
		if m.CPUUtilization > cpu {
			cpu = m.CPUUtilization
		}
		if m.MemoryUtilization > mem {
			mem = m.MemoryUtilization
		}
		tput += m.Throughput
	}
	return map[string]float64{
		"latency_p99":        latP99,
		"error_rate":         errRate,
		"cpu_utilization":    cpu,
		"memory_utilization": mem,
		"throughput":         tput,
		"burn_rate":          r.Governor.LastBurn().Overall,
	}
}

// scanAnomalies publishes high and critical predictions, muting each
// module between publications so the emergency path cannot storm.
func (r *Runtime) scanAnomalies() {
	now := r.Clock.Now()
	for _, module := range r.Correlator.Modules() {
		r.mu.Lock()
		muted := now-r.lastSpoken[module] < anomalyMuteInterval.Milliseconds()
		r.mu.Unlock()
		if muted {
			continue
		}

		preds, err := r.Predictor.PredictAnomalies(module, anomalyHorizonMin)
		if err != nil {
			continue
		}
		for _, p := range preds {
			if p.Severity != "critical" && p.Severity != "high" {
				continue
			}
			r.mu.Lock()
			r.lastSpoken[module] = now
			r.mu.Unlock()
			r.Bus.Publish(bus.TopicPerformanceAnomaly, model.PerformanceAnomaly{
				Module:        p.Module,
				Metric:        p.Metric,
				Severity:      p.Severity,
				Probability:   p.Probability,
				ExpectedInMin: p.ExpectedInMin,
			})
			break // one publication per module per scan
		}
	}
}

// Snapshot assembles the cross-component view for the TUI, the HTTP
// layer, and the recorder.
func (r *Runtime) Snapshot() model.ControlSnapshot {
	latest := r.Correlator.Latest()
	modules := make([]model.ModuleMetrics, 0, len(latest))
	for _, m := range latest {
		modules = append(modules, m)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].Module < modules[j].Module })

	burn := r.Governor.LastBurn()
	return model.ControlSnapshot{
		Timestamp:     r.Clock.Now(),
		Ecosystem:     r.Correlator.Ecosystem(),
		BurnRate:      burn,
		Ladder:        r.Ladder.Status(),
		Scaler:        r.Scaler.Status(),
		Modules:       modules,
		Correlations:  r.Correlator.Matrix(),
		Paths:         r.Correlator.CriticalPaths(),
		Budgets:       r.Aggregator.Budgets(),
		Cache:         r.Cache.Stats(),
		Alerts:        r.Alerts.States(),
		PausedFlows:   len(r.Governor.PausedFlows()),
		DeferredSteps: len(r.Governor.DeferredSteps()),
		HourlyCost:    burn.HourlyCost,
	}
}
