package control

import (
	"testing"
	"time"

	"github.com/ftahirops/qplane/bus"
)

func TestAlertCooldown(t *testing.T) {
	clock := bus.NewVirtualClock(1_000_000)
	b := bus.New(clock, 100)
	s := NewAlertSet(clock, b)
	if err := s.Register("hot", "latency_p99 > 3000", 2*time.Minute); err != nil {
		t.Fatal(err)
	}

	hot := map[string]float64{"latency_p99": 4000}
	cool := map[string]float64{"latency_p99": 100}

	if fired := s.Evaluate(hot); len(fired) != 1 {
		t.Fatalf("first evaluate fired %d, want 1", len(fired))
	}

	// Still hot, still inside cooldown: no new event, but firing holds.
	clock.Advance(60 * time.Second)
	if fired := s.Evaluate(hot); len(fired) != 0 {
		t.Fatalf("inside cooldown fired %d, want 0", len(fired))
	}
	if st := s.States(); !st[0].Firing || st[0].Count != 1 {
		t.Errorf("state = %+v, want firing with count 1", st[0])
	}

	// Past the cooldown it fires again.
	clock.Advance(61 * time.Second)
	if fired := s.Evaluate(hot); len(fired) != 1 {
		t.Fatalf("past cooldown fired %d, want 1", len(fired))
	}

	// Condition clearing resets firing but not the counter.
	if fired := s.Evaluate(cool); len(fired) != 0 {
		t.Fatalf("cool evaluate fired %d, want 0", len(fired))
	}
	if st := s.States(); st[0].Firing || st[0].Count != 2 {
		t.Errorf("state = %+v, want cleared with count 2", st[0])
	}
}

func TestDefaultAlertRules(t *testing.T) {
	clock := bus.NewVirtualClock(0)
	b := bus.New(clock, 100)
	s := NewDefaultAlertSet(clock, b)

	states := s.States()
	if len(states) != 4 {
		t.Fatalf("default rules = %d, want 4", len(states))
	}

	var got []string
	b.Subscribe(bus.TopicAlertFired, func(ev bus.Event) {
		got = append(got, ev.Topic)
	})

	fired := s.Evaluate(map[string]float64{
		"latency_p99":     6000,
		"error_rate":      0.10,
		"throughput":      50,
		"cpu_utilization": 0.50,
	})
	if len(fired) != 2 {
		t.Fatalf("fired %d rules, want 2 (latency + error rate)", len(fired))
	}
	if len(got) != 2 {
		t.Errorf("published %d alert_fired events, want 2", len(got))
	}
}

func TestRegisterReplacesKeepingHistory(t *testing.T) {
	clock := bus.NewVirtualClock(0)
	b := bus.New(clock, 100)
	s := NewAlertSet(clock, b)

	if err := s.Register("r", "burn_rate > 0.9", time.Minute); err != nil {
		t.Fatal(err)
	}
	s.Evaluate(map[string]float64{"burn_rate": 0.95})

	if err := s.Register("r", "burn_rate > 0.5", time.Minute); err != nil {
		t.Fatal(err)
	}
	states := s.States()
	if len(states) != 1 {
		t.Fatalf("rules = %d, want 1 after replace", len(states))
	}
	if states[0].Condition != "burn_rate > 0.5" || states[0].Count != 1 {
		t.Errorf("state = %+v, want new condition with count 1", states[0])
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	s := NewAlertSet(bus.NewVirtualClock(0), bus.New(bus.NewVirtualClock(0), 10))
	if err := s.Register("", "burn_rate > 0.5", time.Minute); err == nil {
		t.Error("empty name accepted")
	}
	if err := s.Register("bad", "not_a_metric > 0.5", time.Minute); err == nil {
		t.Error("unknown metric accepted")
	}
}
