package control

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/ftahirops/qplane/bus"
)

// eventLogMaxBytes is the rotation threshold for the event log.
const eventLogMaxBytes = 10 * 1024 * 1024

// EventLog appends bus events to a JSONL file, rotating the file to
// path+".old" when it grows past the threshold.
type EventLog struct {
	path string
	mu   sync.Mutex
}

// NewEventLog creates a log writer for the given path.
func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

// Attach subscribes the log to everything the bus publishes. The
// returned func detaches it.
func (w *EventLog) Attach(b *bus.Bus) func() {
	return b.Subscribe(bus.TopicWildcard, func(ev bus.Event) {
		_ = w.Write(ev)
	})
}

// Write appends one event, rotating first if the file is full.
func (w *EventLog) Write(ev bus.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if info, err := os.Stat(w.path); err == nil && info.Size() > eventLogMaxBytes {
		_ = os.Rename(w.path, w.path+".old")
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(ev)
}

// ReadEventLog reads all events from a JSONL file. Malformed lines
// are skipped; a missing file reads as empty.
func ReadEventLog(path string) ([]bus.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []bus.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line limit
	for scanner.Scan() {
		var ev bus.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}
