package bus

import (
	"testing"
	"time"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := New(NewVirtualClock(1000), 10)

	var order []string
	b.Subscribe("flow_paused", func(e Event) { order = append(order, "first") })
	b.Subscribe("flow_paused", func(e Event) { order = append(order, "second") })
	b.Subscribe(TopicWildcard, func(e Event) { order = append(order, "wildcard") })

	b.Publish("flow_paused", nil)

	want := []string{"first", "second", "wildcard"}
	if len(order) != len(want) {
		t.Fatalf("delivered %d subscribers, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("delivery[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestPanickingSubscriberDoesNotStopDelivery(t *testing.T) {
	b := New(NewVirtualClock(1000), 10)

	delivered := false
	b.Subscribe("burn_rate_calculated", func(e Event) { panic("boom") })
	b.Subscribe("burn_rate_calculated", func(e Event) { delivered = true })

	b.Publish("burn_rate_calculated", nil)

	if !delivered {
		t.Error("second subscriber not delivered after first panicked")
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	b := New(NewVirtualClock(1000), 10)
	b.SetBudget(time.Millisecond)

	calls := 0
	b.Subscribe("metric_recorded", func(e Event) {
		calls++
		time.Sleep(5 * time.Millisecond)
	})

	b.Publish("metric_recorded", nil)
	b.Publish("metric_recorded", nil)

	if calls != 1 {
		t.Errorf("slow subscriber called %d times, want 1 (dropped after first)", calls)
	}
	if got := b.DroppedSlow(); got != 1 {
		t.Errorf("DroppedSlow() = %d, want 1", got)
	}
	if got := b.Subscribers("metric_recorded"); got != 0 {
		t.Errorf("Subscribers() = %d after drop, want 0", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(NewVirtualClock(1000), 10)

	calls := 0
	unsub := b.Subscribe("cache_hit", func(e Event) { calls++ })

	b.Publish("cache_hit", nil)
	unsub()
	unsub() // second call is a no-op
	b.Publish("cache_hit", nil)

	if calls != 1 {
		t.Errorf("subscriber called %d times, want 1", calls)
	}
}

func TestHistoryFilter(t *testing.T) {
	clock := NewVirtualClock(1000)
	b := New(clock, 100)

	b.Publish("a", nil)
	clock.Advance(time.Second)
	b.Publish("b", nil)
	clock.Advance(time.Second)
	b.Publish("a", nil)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"by topic", Filter{Topic: "a"}, 2},
		{"since", Filter{Since: 2000}, 2},
		{"limit", Filter{Limit: 1}, 1},
		{"topic and since", Filter{Topic: "a", Since: 1500}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.History(tt.filter)
			if len(got) != tt.want {
				t.Errorf("History(%+v) returned %d events, want %d", tt.filter, len(got), tt.want)
			}
		})
	}
}

func TestHistoryRingOverwrite(t *testing.T) {
	b := New(NewVirtualClock(1000), 3)

	for i := 0; i < 5; i++ {
		b.Publish("tick", i)
	}

	got := b.History(Filter{})
	if len(got) != 3 {
		t.Fatalf("History returned %d events, want 3", len(got))
	}
	// Oldest two overwritten; payloads 2, 3, 4 remain in order.
	for i, want := range []int{2, 3, 4} {
		if got[i].Payload.(int) != want {
			t.Errorf("history[%d].Payload = %v, want %d", i, got[i].Payload, want)
		}
	}
}

func TestVirtualClockAdvance(t *testing.T) {
	c := NewVirtualClock(5000)
	if got := c.Now(); got != 5000 {
		t.Fatalf("Now() = %d, want 5000", got)
	}
	c.Advance(90 * time.Second)
	if got := c.Now(); got != 95000 {
		t.Errorf("Now() after Advance = %d, want 95000", got)
	}
	c.Set(42)
	if got := c.Now(); got != 42 {
		t.Errorf("Now() after Set = %d, want 42", got)
	}
}
