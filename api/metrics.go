package api

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ftahirops/qplane/model"
)

// Metrics owns the Prometheus registry for the HTTP surface. Control
// plane gauges are refreshed from a snapshot on every scrape rather
// than pushed, so the registry never sees a half-updated tick.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	burn          *prometheus.GaugeVec
	hourlyCost    prometheus.Gauge
	ladderLevel   prometheus.Gauge
	pausedFlows   prometheus.Gauge
	deferredSteps prometheus.Gauge
	cacheHitRate  prometheus.Gauge
	cacheEntries  prometheus.Gauge
	alertsFiring  prometheus.Gauge
	moduleGauges  *prometheus.GaugeVec
}

// NewMetrics builds a fresh registry with every collector registered.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qplane",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by method, route pattern, and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qplane",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		burn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qplane",
			Name:      "burn_rate",
			Help:      "Resource burn rate per dimension, 0 to 1.",
		}, []string{"dimension"}),
		hourlyCost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qplane",
			Name:      "hourly_cost_usd",
			Help:      "Estimated compute spend per hour in USD.",
		}),
		ladderLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qplane",
			Name:      "degradation_level",
			Help:      "Current degradation ladder level, 0 is normal.",
		}),
		pausedFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qplane",
			Name:      "paused_flows",
			Help:      "Flows currently paused by cost policy.",
		}),
		deferredSteps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qplane",
			Name:      "deferred_steps",
			Help:      "Steps currently deferred to cold nodes.",
		}),
		cacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qplane",
			Name:      "cache_hit_rate",
			Help:      "Intelligent cache hit rate, 0 to 1.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qplane",
			Name:      "cache_entries",
			Help:      "Live entries in the intelligent cache.",
		}),
		alertsFiring: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qplane",
			Name:      "alerts_firing",
			Help:      "Alert rules currently in the firing state.",
		}),
		moduleGauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qplane",
			Name:      "module_metric",
			Help:      "Latest per-module rollup values.",
		}, []string{"module", "metric"}),
	}

	m.registry.MustRegister(
		m.httpRequests, m.httpDuration,
		m.burn, m.hourlyCost, m.ladderLevel,
		m.pausedFlows, m.deferredSteps,
		m.cacheHitRate, m.cacheEntries, m.alertsFiring,
		m.moduleGauges,
	)
	return m
}

// Gatherer exposes the custom registry for promhttp.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// RecordHTTP counts one served request.
func (m *Metrics) RecordHTTP(method, route string, code int, seconds float64) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(seconds)
}

// Observe refreshes every control-plane gauge from one snapshot.
func (m *Metrics) Observe(snap model.ControlSnapshot) {
	m.burn.WithLabelValues("cpu").Set(snap.BurnRate.CPUBurn)
	m.burn.WithLabelValues("memory").Set(snap.BurnRate.MemoryBurn)
	m.burn.WithLabelValues("latency").Set(snap.BurnRate.LatencyBurn)
	m.burn.WithLabelValues("error").Set(snap.BurnRate.ErrorBurn)
	m.burn.WithLabelValues("cost").Set(snap.BurnRate.CostBurn)
	m.burn.WithLabelValues("overall").Set(snap.BurnRate.Overall)
	m.hourlyCost.Set(snap.HourlyCost)
	m.ladderLevel.Set(float64(snap.Ladder.CurrentLevel))
	m.pausedFlows.Set(float64(snap.PausedFlows))
	m.deferredSteps.Set(float64(snap.DeferredSteps))
	m.cacheHitRate.Set(snap.Cache.HitRate)
	m.cacheEntries.Set(float64(snap.Cache.Entries))

	firing := 0
	for _, a := range snap.Alerts {
		if a.Firing {
			firing++
		}
	}
	m.alertsFiring.Set(float64(firing))

	// Stale modules age out of the snapshot, so reset before refresh.
	m.moduleGauges.Reset()
	for _, mod := range snap.Modules {
		name := string(mod.Module)
		m.moduleGauges.WithLabelValues(name, "latency_p95_ms").Set(mod.LatencyP95)
		m.moduleGauges.WithLabelValues(name, "latency_p99_ms").Set(mod.LatencyP99)
		m.moduleGauges.WithLabelValues(name, "throughput").Set(mod.Throughput)
		m.moduleGauges.WithLabelValues(name, "error_rate").Set(mod.ErrorRate)
		m.moduleGauges.WithLabelValues(name, "cpu_utilization").Set(mod.CPUUtilization)
		m.moduleGauges.WithLabelValues(name, "memory_utilization").Set(mod.MemoryUtilization)
	}
}
