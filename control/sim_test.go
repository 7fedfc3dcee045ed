package control

import (
	"testing"
	"time"

	"github.com/ftahirops/qplane/bus"
)

func TestSimulatorDeterministic(t *testing.T) {
	a := NewSimulator(bus.NewVirtualClock(5_000_000))
	b := NewSimulator(bus.NewVirtualClock(5_000_000))

	sa, sb := a.Tick(), b.Tick()
	if len(sa) != len(sb) || len(sa) == 0 {
		t.Fatalf("tick sizes differ: %d vs %d", len(sa), len(sb))
	}
	for i := range sa {
		if sa[i] != sb[i] {
			t.Fatalf("sample %d differs between identical clocks:\n%+v\n%+v", i, sa[i], sb[i])
		}
	}
}

func TestSimulatorBounds(t *testing.T) {
	clock := bus.NewVirtualClock(0)
	sim := NewSimulator(clock)

	for tick := 0; tick < 120; tick++ {
		for _, m := range sim.Tick() {
			if m.CPUUtilization < 0 || m.CPUUtilization > 1 {
				t.Fatalf("%s cpu = %v out of range", m.Module, m.CPUUtilization)
			}
			if m.MemoryUtilization < 0 || m.MemoryUtilization > 1 {
				t.Fatalf("%s memory = %v out of range", m.Module, m.MemoryUtilization)
			}
			if m.LatencyP50 <= 0 || m.LatencyP95 < m.LatencyP50 || m.LatencyP99 < m.LatencyP95 {
				t.Fatalf("%s latency ordering broken: %v/%v/%v", m.Module, m.LatencyP50, m.LatencyP95, m.LatencyP99)
			}
			if m.Throughput <= 0 || m.ErrorRate < 0 || m.ErrorRate > 1 {
				t.Fatalf("%s throughput/error out of range: %v/%v", m.Module, m.Throughput, m.ErrorRate)
			}
			if m.Timestamp != clock.Now() {
				t.Fatalf("%s timestamp = %d, want clock time %d", m.Module, m.Timestamp, clock.Now())
			}
		}
		clock.Advance(time.Minute)
	}
}

func TestSimulatorVariesOverTime(t *testing.T) {
	clock := bus.NewVirtualClock(0)
	sim := NewSimulator(clock)

	first := sim.Tick()
	clock.Advance(7 * time.Minute)
	later := sim.Tick()

	var moved bool
	for i := range first {
		if first[i].LatencyP95 != later[i].LatencyP95 {
			moved = true
		}
	}
	if !moved {
		t.Fatal("waveform flat across 7 minutes")
	}
}

func TestSimulatorFeedsRuntime(t *testing.T) {
	r, clock := newTestRuntime()
	sim := NewSimulator(clock)

	for i := 0; i < 5; i++ {
		sim.Feed(r)
		clock.Advance(time.Minute)
	}

	latest := r.Correlator.Latest()
	if len(latest) != 7 {
		t.Fatalf("modules fed = %d, want the full topology", len(latest))
	}
	if len(r.Correlator.History("qflow")) != 5 {
		t.Fatalf("history depth = %d, want 5", len(r.Correlator.History("qflow")))
	}
}
