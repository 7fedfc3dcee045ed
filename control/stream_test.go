package control

import (
	"errors"
	"testing"
	"time"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/model"
)

// fakeConn records frames and can be made to fail on demand.
type fakeConn struct {
	frames []Frame
	fail   bool
	closed bool
}

func (f *fakeConn) Send(fr Frame) error {
	if f.fail {
		return errors.New("buffer full")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

func newTestHub() (*StreamHub, *bus.VirtualClock) {
	clock := bus.NewVirtualClock(1_000_000)
	return NewStreamHub(clock, config.Default().Dashboard), clock
}

func TestStreamWelcome(t *testing.T) {
	hub, _ := newTestHub()
	conn := &fakeConn{}

	id, err := hub.Register(conn)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty client id")
	}
	if len(conn.frames) != 1 || conn.frames[0].Type != "welcome" {
		t.Fatalf("frames = %+v, want one welcome", conn.frames)
	}
	w := conn.frames[0].Payload.(Welcome)
	if w.ClientID != id {
		t.Errorf("welcome client id = %q, want %q", w.ClientID, id)
	}
	if len(w.Streams) != 5 {
		t.Errorf("streams = %v, want the five dashboard streams", w.Streams)
	}
}

func TestStreamSubscribeAndBroadcast(t *testing.T) {
	hub, _ := newTestHub()
	sub, idle := &fakeConn{}, &fakeConn{}

	subID, _ := hub.Register(sub)
	if _, err := hub.Register(idle); err != nil {
		t.Fatal(err)
	}

	if err := hub.ProcessMessage(subID, ClientMessage{
		Type: "subscribe", Streams: []string{StreamBurnRate},
	}); err != nil {
		t.Fatal(err)
	}

	n := hub.Broadcast(StreamBurnRate, model.BurnRateMetrics{Overall: 0.4})
	if n != 1 {
		t.Fatalf("delivered to %d clients, want 1", n)
	}
	if len(sub.frames) != 2 {
		t.Fatalf("subscriber frames = %d, want welcome + update", len(sub.frames))
	}
	up := sub.frames[1]
	if up.Type != "update" || up.Stream != StreamBurnRate {
		t.Errorf("frame = %+v, want burn_rate update", up)
	}
	if len(idle.frames) != 1 {
		t.Errorf("unsubscribed client got %d frames, want welcome only", len(idle.frames))
	}

	// Unsubscribe stops delivery.
	hub.ProcessMessage(subID, ClientMessage{Type: "unsubscribe", Streams: []string{StreamBurnRate}})
	if n := hub.Broadcast(StreamBurnRate, model.BurnRateMetrics{}); n != 0 {
		t.Errorf("delivered to %d after unsubscribe, want 0", n)
	}
}

func TestStreamFilters(t *testing.T) {
	hub, _ := newTestHub()
	conn := &fakeConn{}
	id, _ := hub.Register(conn)

	hub.ProcessMessage(id, ClientMessage{Type: "subscribe", Streams: []string{StreamAlerts}})
	hub.ProcessMessage(id, ClientMessage{
		Type: "set_filters", Filters: map[string]string{"name": "high_latency_alert"},
	})

	hub.Broadcast(StreamAlerts, model.AlertFired{Name: "low_throughput_alert"})
	hub.Broadcast(StreamAlerts, model.AlertFired{Name: "high_latency_alert"})

	updates := conn.frames[1:]
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want only the matching alert", len(updates))
	}
	if got := updates[0].Payload.(model.AlertFired).Name; got != "high_latency_alert" {
		t.Errorf("delivered alert = %q, want the filtered one", got)
	}

	// Clearing filters resumes full delivery.
	hub.ProcessMessage(id, ClientMessage{Type: "set_filters"})
	if n := hub.Broadcast(StreamAlerts, model.AlertFired{Name: "low_throughput_alert"}); n != 1 {
		t.Errorf("delivered = %d after clearing filters, want 1", n)
	}
}

func TestStreamHeartbeatReaper(t *testing.T) {
	hub, clock := newTestHub()
	live, silent := &fakeConn{}, &fakeConn{}
	liveID, _ := hub.Register(live)
	hub.Register(silent)

	clock.Advance(45 * time.Second)
	hub.ProcessMessage(liveID, ClientMessage{Type: "heartbeat"})

	// 61s without a heartbeat exceeds 2x the 30s interval.
	clock.Advance(31 * time.Second)
	if got := hub.ReapTick(); got != 1 {
		t.Fatalf("reaped = %d, want 1", got)
	}
	if !silent.closed {
		t.Error("reaped client not closed")
	}
	if live.closed {
		t.Error("heartbeating client closed")
	}
	if got := hub.Clients(); got != 1 {
		t.Errorf("clients = %d, want 1", got)
	}
}

func TestStreamSendFailureDropsThenCloses(t *testing.T) {
	hub, _ := newTestHub()
	conn := &fakeConn{}
	id, _ := hub.Register(conn)
	hub.ProcessMessage(id, ClientMessage{Type: "subscribe", Streams: []string{StreamEvents}})

	conn.fail = true
	for i := 0; i < sendFailureLimit-1; i++ {
		hub.Broadcast(StreamEvents, model.MetricRecorded{Name: "m"})
	}
	if conn.closed {
		t.Fatal("client closed before the failure limit")
	}
	if got := hub.Clients(); got != 1 {
		t.Fatalf("clients = %d, want 1 while under the limit", got)
	}

	hub.Broadcast(StreamEvents, model.MetricRecorded{Name: "m"})
	if !conn.closed {
		t.Fatal("client not closed at the failure limit")
	}
	if got := hub.Clients(); got != 0 {
		t.Errorf("clients = %d, want 0", got)
	}
}

func TestStreamSendRecoveryResetsFailures(t *testing.T) {
	hub, _ := newTestHub()
	conn := &fakeConn{}
	id, _ := hub.Register(conn)
	hub.ProcessMessage(id, ClientMessage{Type: "subscribe", Streams: []string{StreamEvents}})

	conn.fail = true
	hub.Broadcast(StreamEvents, model.MetricRecorded{Name: "a"})
	hub.Broadcast(StreamEvents, model.MetricRecorded{Name: "b"})
	conn.fail = false
	hub.Broadcast(StreamEvents, model.MetricRecorded{Name: "c"})

	// The success cleared the streak; two more failures stay tolerated.
	conn.fail = true
	hub.Broadcast(StreamEvents, model.MetricRecorded{Name: "d"})
	hub.Broadcast(StreamEvents, model.MetricRecorded{Name: "e"})
	if conn.closed {
		t.Error("client closed despite a recovery between failures")
	}
}

func TestStreamProcessMessageValidation(t *testing.T) {
	hub, _ := newTestHub()
	conn := &fakeConn{}
	id, _ := hub.Register(conn)

	if err := hub.ProcessMessage("ghost", ClientMessage{Type: "heartbeat"}); !IsCode(err, ErrCodeInvalidInput) {
		t.Errorf("unknown client error = %v, want invalid_input", err)
	}
	if err := hub.ProcessMessage(id, ClientMessage{Type: "shout"}); !IsCode(err, ErrCodeInvalidInput) {
		t.Errorf("unknown type error = %v, want invalid_input", err)
	}
}

func TestStreamUnregister(t *testing.T) {
	hub, _ := newTestHub()
	conn := &fakeConn{}
	id, _ := hub.Register(conn)

	hub.Unregister(id)
	if !conn.closed {
		t.Error("unregistered client not closed")
	}
	hub.Unregister(id) // second call is a no-op
	if got := hub.Clients(); got != 0 {
		t.Errorf("clients = %d, want 0", got)
	}
}
