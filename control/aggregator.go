package control

import (
	"sort"
	"sync"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/model"
)

// opStats tracks request outcomes for one operation. Request timestamps
// feed the rolling one-minute rps gauge.
type opStats struct {
	requests uint64
	errors   uint64
	reqTimes []int64
}

// Aggregator owns every series, counter, and histogram. Ingest methods
// never return errors to callers; bad input is absorbed or coerced.
type Aggregator struct {
	mu    sync.RWMutex
	clock bus.Clock
	bus   *bus.Bus
	cfg   config.MetricsConfig

	series     map[string]*series
	histograms map[string]*histogram
	gauges     map[string]float64
	ops        map[string]*opStats

	cacheHits   uint64
	cacheMisses uint64
	cacheRTSum  float64
	cacheRTCount uint64

	flowTimes []int64 // flow completion timestamps for hourly cost
}

// NewAggregator creates an aggregator bound to the shared clock and bus.
func NewAggregator(clock bus.Clock, b *bus.Bus, cfg config.MetricsConfig) *Aggregator {
	return &Aggregator{
		clock:      clock,
		bus:        b,
		cfg:        cfg,
		series:     make(map[string]*series),
		histograms: make(map[string]*histogram),
		gauges:     make(map[string]float64),
		ops:        make(map[string]*opStats),
	}
}

// RecordMetric appends a timeseries point. Unknown names auto-create a
// gauge series.
func (a *Aggregator) RecordMetric(name string, value float64, labels map[string]string) {
	now := a.clock.Now()

	a.mu.Lock()
	s, ok := a.series[name]
	if !ok {
		s = &series{name: name, kind: kindGauge, labels: labels}
		a.series[name] = s
	}
	s.record(now, value)
	a.gauges[name] = value
	a.mu.Unlock()

	a.bus.Publish(bus.TopicMetricRecorded, model.MetricRecorded{Name: name, Value: value, Labels: labels})
}

// RecordLatency appends to the operation's histogram and refreshes its
// percentile gauges.
func (a *Aggregator) RecordLatency(op string, ms float64, labels map[string]string) {
	a.mu.Lock()
	h, ok := a.histograms["latency_"+op]
	if !ok {
		h = &histogram{}
		a.histograms["latency_"+op] = h
	}
	h.observe(ms)
	h.rotate(maxHistogramValues)
	a.gauges[op+"_latency_p50"] = h.percentile(0.50)
	a.gauges[op+"_latency_p95"] = h.percentile(0.95)
	a.gauges[op+"_latency_p99"] = h.percentile(0.99)
	a.mu.Unlock()

	a.bus.Publish(bus.TopicLatencyRecorded, model.LatencyRecorded{Operation: op, Ms: ms})
}

// RecordRequest counts one request outcome and refreshes the rolling
// one-minute rps gauge.
func (a *Aggregator) RecordRequest(op string, ok bool, labels map[string]string) {
	now := a.clock.Now()

	a.mu.Lock()
	st := a.opsLocked(op)
	st.requests++
	if !ok {
		st.errors++
	}
	st.reqTimes = append(st.reqTimes, now)
	cutoff := now - 60_000
	for len(st.reqTimes) > 0 && st.reqTimes[0] < cutoff {
		st.reqTimes = st.reqTimes[1:]
	}
	a.gauges[op+"_rps"] = float64(len(st.reqTimes)) / 60.0
	a.mu.Unlock()

	a.bus.Publish(bus.TopicRequestRecorded, model.RequestRecorded{Operation: op, OK: ok})
}

func (a *Aggregator) opsLocked(op string) *opStats {
	st, ok := a.ops[op]
	if !ok {
		st = &opStats{}
		a.ops[op] = st
	}
	return st
}

// RecordCacheOp maintains the cache hit-rate and mean response time.
func (a *Aggregator) RecordCacheOp(name string, hit bool, rtMs float64) {
	a.mu.Lock()
	if hit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	a.cacheRTSum += rtMs
	a.cacheRTCount++
	a.mu.Unlock()

	a.bus.Publish(bus.TopicCacheOperationRecorded, model.CacheOpRecorded{Name: name, Hit: hit, RTMs: rtMs})
}

// RecordFlowExecution rolls one finished flow into the latency and
// request registries, keyed both per flow and under the combined
// flow_execution operation.
func (a *Aggregator) RecordFlowExecution(m model.FlowExecutionMetrics) {
	a.RecordLatency("flow_execution", m.DurationMs, nil)
	a.RecordRequest("flow_execution", m.Success, nil)
	if m.FlowID != "" {
		a.RecordLatency("flow_"+m.FlowID, m.DurationMs, nil)
		a.RecordRequest("flow_"+m.FlowID, m.Success, nil)
	}

	now := a.clock.Now()
	a.mu.Lock()
	a.flowTimes = append(a.flowTimes, now)
	cutoff := now - 3_600_000
	for len(a.flowTimes) > 0 && a.flowTimes[0] < cutoff {
		a.flowTimes = a.flowTimes[1:]
	}
	a.mu.Unlock()

	a.bus.Publish(bus.TopicFlowExecutionRecorded, m)
}

// RecordValidationPipeline rolls one validation stage run.
func (a *Aggregator) RecordValidationPipeline(m model.ValidationPipelineMetrics) {
	op := "validation_" + m.Stage
	a.RecordLatency(op, m.DurationMs, nil)
	a.RecordRequest(op, m.Success, nil)
	a.bus.Publish(bus.TopicValidationPipelineRecorded, m)
}

// Tick prunes series to the retention window and point cap, rotates
// histogram windows, and announces completion.
func (a *Aggregator) Tick() {
	now := a.clock.Now()
	cutoff := now - a.cfg.Retention().Milliseconds()

	a.mu.Lock()
	pruned := 0
	for _, s := range a.series {
		before := len(s.points)
		s.prune(cutoff, a.cfg.MaxSeriesPoints)
		pruned += before - len(s.points)
	}
	for _, h := range a.histograms {
		h.rotate(maxHistogramValues)
	}
	nSeries := len(a.series)
	nHist := len(a.histograms)
	a.mu.Unlock()

	a.bus.Publish(bus.TopicAggregationCompleted, model.AggregationCompleted{
		Series:       nSeries,
		Histograms:   nHist,
		PrunedPoints: pruned,
	})
}

// Percentiles returns the derived view of one operation's histogram.
func (a *Aggregator) Percentiles(op string) model.PercentileSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.percentilesLocked(op)
}

func (a *Aggregator) percentilesLocked(op string) model.PercentileSnapshot {
	snap := model.PercentileSnapshot{Operation: op}
	h, ok := a.histograms["latency_"+op]
	if !ok {
		return snap
	}
	snap.Count = len(h.values)
	snap.Sum = h.sum
	snap.P50 = h.percentile(0.50)
	snap.P95 = h.percentile(0.95)
	snap.P99 = h.percentile(0.99)
	snap.Min = h.min()
	snap.Max = h.max()
	return snap
}

// ErrorBudget derives the budget position of one operation against the
// configured availability target.
func (a *Aggregator) ErrorBudget(op string) model.ErrorBudget {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := a.ops[op]
	if st == nil {
		return computeErrorBudget(op, 0, 0, a.cfg.SLOAvailability)
	}
	return computeErrorBudget(op, st.requests, st.errors, a.cfg.SLOAvailability)
}

// Budgets returns budget positions for every operation, sorted by name.
func (a *Aggregator) Budgets() []model.ErrorBudget {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.ops))
	for op := range a.ops {
		names = append(names, op)
	}
	sort.Strings(names)

	out := make([]model.ErrorBudget, 0, len(names))
	for _, op := range names {
		st := a.ops[op]
		out = append(out, computeErrorBudget(op, st.requests, st.errors, a.cfg.SLOAvailability))
	}
	return out
}

// CacheMetrics returns the rolled-up cache operation view.
func (a *Aggregator) CacheMetrics() model.CacheMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cm := model.CacheMetrics{Hits: a.cacheHits, Misses: a.cacheMisses}
	if total := a.cacheHits + a.cacheMisses; total > 0 {
		cm.HitRate = float64(a.cacheHits) / float64(total)
	}
	if a.cacheRTCount > 0 {
		cm.AvgResponseMs = a.cacheRTSum / float64(a.cacheRTCount)
	}
	return cm
}

// Gauge reads a named gauge; absent names read 0.
func (a *Aggregator) Gauge(name string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.gauges[name]
}

// Counter reads requests_<op> / errors_<op> style counter names.
func (a *Aggregator) Counter(name string) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for op, st := range a.ops {
		if name == "requests_"+op {
			return st.requests
		}
		if name == "errors_"+op {
			return st.errors
		}
	}
	return 0
}

// Throughput reads the rolling one-minute rps of an operation.
func (a *Aggregator) Throughput(op string) float64 {
	return a.Gauge(op + "_rps")
}

// FlowsLastHour counts flow executions recorded in the past hour; the
// governor's cost model multiplies this by the per-flow price triple.
func (a *Aggregator) FlowsLastHour() int {
	now := a.clock.Now()
	cutoff := now - 3_600_000

	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.flowTimes) > 0 && a.flowTimes[0] < cutoff {
		a.flowTimes = a.flowTimes[1:]
	}
	return len(a.flowTimes)
}

// Operations lists every operation with recorded requests, sorted.
func (a *Aggregator) Operations() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.ops))
	for op := range a.ops {
		names = append(names, op)
	}
	sort.Strings(names)
	return names
}

// Snapshot assembles the aggregator's contribution to the control
// snapshot: per-operation percentiles and budgets plus cache rollup.
func (a *Aggregator) Snapshot() ([]model.PercentileSnapshot, []model.ErrorBudget, model.CacheMetrics) {
	budgets := a.Budgets()

	a.mu.RLock()
	ops := make([]string, 0, len(a.histograms))
	for name := range a.histograms {
		ops = append(ops, name[len("latency_"):])
	}
	sort.Strings(ops)
	percs := make([]model.PercentileSnapshot, 0, len(ops))
	for _, op := range ops {
		percs = append(percs, a.percentilesLocked(op))
	}
	a.mu.RUnlock()

	return percs, budgets, a.CacheMetrics()
}

// validateOperation guards ingest endpoints that accept external names.
func validateOperation(op string) error {
	if op == "" {
		return NewError(ErrCodeInvalidInput, "empty operation name")
	}
	if len(op) > 200 {
		return NewError(ErrCodeInvalidInput, "operation name too long: %d bytes", len(op))
	}
	return nil
}
