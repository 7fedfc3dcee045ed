package control

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ftahirops/qplane/bus"
)

func TestEventLogCapturesBusTraffic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	clock := bus.NewVirtualClock(1_000_000)
	b := bus.New(clock, 100)

	w := NewEventLog(path)
	detach := w.Attach(b)

	b.Publish(bus.TopicFlowPaused, map[string]string{"flow": "a"})
	b.Publish(bus.TopicFlowResumed, map[string]string{"flow": "a"})
	detach()
	b.Publish(bus.TopicFlowPaused, map[string]string{"flow": "b"})

	events, err := ReadEventLog(path)
	if err != nil {
		t.Fatalf("ReadEventLog: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 recorded before detach", len(events))
	}
	if events[0].Topic != bus.TopicFlowPaused || events[1].Topic != bus.TopicFlowResumed {
		t.Fatalf("topics = %s, %s", events[0].Topic, events[1].Topic)
	}
	if events[0].Timestamp != 1_000_000 {
		t.Fatalf("timestamp = %d, want clock time", events[0].Timestamp)
	}
}

func TestEventLogSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"topic":"flow_paused","timestamp":1}
garbage line
{"topic":"flow_resumed","timestamp":2}
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	events, err := ReadEventLog(path)
	if err != nil {
		t.Fatalf("ReadEventLog: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 parseable", len(events))
	}
}

func TestEventLogMissingFileReadsEmpty(t *testing.T) {
	events, err := ReadEventLog(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil || events != nil {
		t.Fatalf("missing file: events=%v err=%v, want nil/nil", events, err)
	}
}

func TestEventLogRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	// Pre-grow the file past the threshold so the next write rotates.
	big := make([]byte, eventLogMaxBytes+1)
	for i := range big {
		big[i] = 'x'
	}
	if err := os.WriteFile(path, big, 0600); err != nil {
		t.Fatal(err)
	}

	w := NewEventLog(path)
	if err := w.Write(bus.Event{Topic: "flow_paused", Timestamp: 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := os.Stat(path + ".old"); err != nil {
		t.Fatalf("rotated file missing: %v", err)
	}
	events, err := ReadEventLog(path)
	if err != nil || len(events) != 1 {
		t.Fatalf("fresh log events=%d err=%v, want exactly 1", len(events), err)
	}
}
