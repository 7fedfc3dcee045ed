package control

import (
	"context"
	"testing"
	"time"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/model"
)

func newTestRuntime() (*Runtime, *bus.VirtualClock) {
	clock := bus.NewVirtualClock(1_000_000)
	return NewRuntime(clock, config.Default()), clock
}

func ingestSample(r *Runtime, mod model.ModuleID, ts int64, p95, errRate, cpu, tput float64) {
	r.IngestModuleMetrics(model.ModuleMetrics{
		Module:            mod,
		Timestamp:         ts,
		LatencyP50:        p95 * 0.5,
		LatencyP95:        p95,
		LatencyP99:        p95 * 1.6,
		Throughput:        tput,
		ErrorRate:         errRate,
		Availability:      1 - errRate,
		CPUUtilization:    cpu,
		MemoryUtilization: 0.3,
	})
}

func TestRuntimeIngestFeedsSnapshot(t *testing.T) {
	r, clock := newTestRuntime()

	ingestSample(r, "qflow", clock.Now(), 300, 0.004, 0.4, 120)
	ingestSample(r, "qgate", clock.Now(), 80, 0.001, 0.2, 400)

	r.governorTick()

	snap := r.Snapshot()
	if snap.Timestamp != clock.Now() {
		t.Fatalf("snapshot timestamp = %d, want %d", snap.Timestamp, clock.Now())
	}
	if len(snap.Modules) != 2 || snap.Modules[0].Module != "qflow" || snap.Modules[1].Module != "qgate" {
		t.Fatalf("modules = %+v, want qflow then qgate", snap.Modules)
	}
	if snap.BurnRate.Timestamp == 0 || snap.BurnRate.CPUBurn == 0 {
		t.Fatalf("burn not computed: %+v", snap.BurnRate)
	}
	if snap.HourlyCost != snap.BurnRate.HourlyCost {
		t.Fatalf("hourly cost %v != burn hourly cost %v", snap.HourlyCost, snap.BurnRate.HourlyCost)
	}
	if snap.Ladder.CurrentLevel != 0 {
		t.Fatalf("calm load escalated to level %d", snap.Ladder.CurrentLevel)
	}
	if len(snap.Alerts) == 0 {
		t.Fatal("snapshot missing alert states")
	}
}

func TestRuntimeEnvWorstCase(t *testing.T) {
	r, clock := newTestRuntime()

	ingestSample(r, "qflow", clock.Now(), 900, 0.02, 0.7, 100)
	ingestSample(r, "qgate", clock.Now(), 200, 0.001, 0.3, 250)

	env := r.Env()
	if !almostEqual(env["latency_p99"], 900*1.6) {
		t.Fatalf("latency_p99 = %v, want the worst module's", env["latency_p99"])
	}
	if !almostEqual(env["error_rate"], 0.02) {
		t.Fatalf("error_rate = %v, want 0.02", env["error_rate"])
	}
	if !almostEqual(env["cpu_utilization"], 0.7) {
		t.Fatalf("cpu_utilization = %v, want 0.7", env["cpu_utilization"])
	}
	if !almostEqual(env["throughput"], 350) {
		t.Fatalf("throughput = %v, want summed 350", env["throughput"])
	}
}

func TestRuntimeAlertsWaitForSamples(t *testing.T) {
	r, clock := newTestRuntime()

	// An empty plane must not alarm on its all-zero environment.
	r.aggregationTick()
	for _, st := range r.Alerts.States() {
		if st.Count != 0 {
			t.Fatalf("alert %s fired on a cold plane", st.Name)
		}
	}

	// With a genuinely starved module the throughput rule applies.
	ingestSample(r, "qflow", clock.Now(), 300, 0.001, 0.3, 2)
	r.aggregationTick()

	var fired bool
	for _, st := range r.Alerts.States() {
		if st.Name == "low_throughput_alert" && st.Count == 1 {
			fired = true
		}
	}
	if !fired {
		t.Fatal("low_throughput_alert did not fire for a starved module")
	}
}

func TestRuntimeCacheAggressionFollowsLadder(t *testing.T) {
	r, _ := newTestRuntime()

	if err := r.ApplyAction(model.EnableCachingAction{Aggressive: true, TTLMultiplier: 2}); err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}
	if !r.Cache.Aggressive() {
		t.Fatal("cache not aggressive after enable action")
	}

	// Dropping to a level that still carries the caching action keeps
	// the longer TTLs.
	r.Bus.Publish(bus.TopicDegradationDeescalated, model.DegradationTransition{
		FromLevel: 2, ToLevel: 1, LevelName: "performance_optimization",
	})
	if !r.Cache.Aggressive() {
		t.Fatal("aggression dropped while level 1 still wants it")
	}

	r.Bus.Publish(bus.TopicDegradationDeescalated, model.DegradationTransition{
		FromLevel: 1, ToLevel: 0, LevelName: "normal",
	})
	if r.Cache.Aggressive() {
		t.Fatal("aggression survived the return to normal")
	}
}

func TestRuntimeAnomalyChainAndMute(t *testing.T) {
	r, clock := newTestRuntime()

	var anomalies []model.PerformanceAnomaly
	r.Bus.Subscribe(bus.TopicPerformanceAnomaly, func(ev bus.Event) {
		anomalies = append(anomalies, ev.Payload.(model.PerformanceAnomaly))
	})
	var emergencies int
	r.Bus.Subscribe(bus.TopicEmergencyResponseInitiated, func(bus.Event) { emergencies++ })

	// A steep CPU ramp projects past saturation within the horizon.
	cpu := 0.50
	for i := 0; i < 30; i++ {
		ingestSample(r, "qflow", clock.Now(), 300, 0.002, cpu, 100)
		cpu += 0.01
		clock.Advance(time.Minute)
	}

	r.governorTick()
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(anomalies))
	}
	if anomalies[0].Module != "qflow" || anomalies[0].Metric != "cpu_utilization" {
		t.Fatalf("anomaly = %+v, want qflow cpu_utilization", anomalies[0])
	}
	if anomalies[0].Severity != "critical" {
		t.Fatalf("severity = %q, want critical for a saturating ramp", anomalies[0].Severity)
	}
	if emergencies != 1 {
		t.Fatalf("emergency responses = %d, want 1", emergencies)
	}

	// Back-to-back scans stay quiet for the muted module.
	r.governorTick()
	if len(anomalies) != 1 {
		t.Fatalf("muted module republished: %d anomalies", len(anomalies))
	}

	// After the mute lapses and the ramp persists, it speaks again.
	clock.Advance(6 * time.Minute)
	r.governorTick()
	if len(anomalies) != 2 {
		t.Fatalf("anomalies after mute = %d, want 2", len(anomalies))
	}
}

func TestRuntimeStartStop(t *testing.T) {
	r, _ := newTestRuntime()

	r.Start(context.Background())
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not drain the tickers")
	}
	// Idempotent.
	r.Stop()
}

func TestRuntimeTickFaultPublishesAndHalts(t *testing.T) {
	r, _ := newTestRuntime()

	var faults []model.ComponentFault
	r.Bus.Subscribe(bus.TopicComponentFault, func(ev bus.Event) {
		if f, ok := ev.Payload.(model.ComponentFault); ok {
			faults = append(faults, f)
		}
	})

	if ok := r.guardedTick("governor", func() { panic("level out of range") }); ok {
		t.Fatal("faulted tick reported ok")
	}
	if len(faults) != 1 {
		t.Fatalf("faults = %d, want 1", len(faults))
	}
	if faults[0].Component != "governor" || faults[0].Detail != "level out of range" {
		t.Fatalf("fault = %+v", faults[0])
	}

	// A clean tick keeps the loop alive.
	if ok := r.guardedTick("governor", func() {}); !ok {
		t.Fatal("clean tick reported a fault")
	}
}
