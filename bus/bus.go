package bus

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one message on the bus. Payload is a tagged variant (a typed
// struct from the model package); subscribers match on its concrete type.
type Event struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"data,omitempty"`
	Signature string `json:"signature,omitempty"`
	CID       string `json:"cid,omitempty"` // correlation id linking derived events
}

// Handler receives events synchronously during Publish.
type Handler func(Event)

// Filter selects events from the bounded history.
type Filter struct {
	Topic string // empty matches all topics
	Since int64  // epoch ms, 0 matches all
	Limit int    // 0 means no limit
}

type subscriber struct {
	id    uint64
	topic string
	fn    Handler
}

// Bus is a topic-keyed synchronous fan-out with bounded history.
// Delivery within one Publish call runs subscribers in registration
// order, topic subscribers before wildcard subscribers. A panicking
// subscriber never stops delivery; a subscriber exceeding the per-call
// budget is dropped from the registry.
type Bus struct {
	mu    sync.RWMutex
	subs  map[string][]*subscriber
	seq   uint64
	clock Clock

	histMu  sync.Mutex
	history []Event
	head    int
	size    int

	budget      time.Duration
	droppedSlow uint64
}

const (
	defaultHistory = 1000
	defaultBudget  = 5 * time.Millisecond
)

// New creates a bus with the given history capacity (0 uses the default).
func New(clock Clock, historyCap int) *Bus {
	if historyCap <= 0 {
		historyCap = defaultHistory
	}
	return &Bus{
		subs:    make(map[string][]*subscriber),
		clock:   clock,
		history: make([]Event, historyCap),
		budget:  defaultBudget,
	}
}

// SetBudget overrides the per-subscriber delivery budget.
func (b *Bus) SetBudget(d time.Duration) {
	b.mu.Lock()
	b.budget = d
	b.mu.Unlock()
}

// Subscribe registers fn for topic (TopicWildcard receives everything).
// The returned func removes the registration; calling it twice is safe.
func (b *Bus) Subscribe(topic string, fn Handler) func() {
	b.mu.Lock()
	b.seq++
	s := &subscriber{id: b.seq, topic: topic, fn: fn}
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	return func() { b.remove(topic, s.id) }
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[topic]
	for i, s := range list {
		if s.id == id {
			b.subs[topic] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish appends the event to history and delivers it synchronously.
// It returns the published event so callers can thread its ID as the
// CID of derived events.
func (b *Bus) Publish(topic string, payload any) Event {
	return b.publish(topic, payload, "")
}

// PublishTraced publishes with an explicit correlation id.
func (b *Bus) PublishTraced(topic string, payload any, cid string) Event {
	return b.publish(topic, payload, cid)
}

func (b *Bus) publish(topic string, payload any, cid string) Event {
	evt := Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: b.clock.Now(),
		Payload:   payload,
		CID:       cid,
	}

	b.histMu.Lock()
	b.history[b.head] = evt
	b.head = (b.head + 1) % len(b.history)
	if b.size < len(b.history) {
		b.size++
	}
	b.histMu.Unlock()

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs[topic])+len(b.subs[TopicWildcard]))
	targets = append(targets, b.subs[topic]...)
	targets = append(targets, b.subs[TopicWildcard]...)
	budget := b.budget
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s, evt, budget)
	}
	return evt
}

func (b *Bus) deliver(s *subscriber, evt Event, budget time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("qplane: bus subscriber panic on %s: %v", evt.Topic, r)
		}
	}()
	start := time.Now()
	s.fn(evt)
	if elapsed := time.Since(start); elapsed > budget {
		b.mu.Lock()
		b.droppedSlow++
		dropped := b.droppedSlow
		b.mu.Unlock()
		b.remove(s.topic, s.id)
		log.Printf("qplane: bus dropped slow subscriber on %s (%v > %v, total dropped %d)",
			s.topic, elapsed, budget, dropped)
	}
}

// DroppedSlow reports how many subscribers were removed for exceeding
// the delivery budget.
func (b *Bus) DroppedSlow() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.droppedSlow
}

// Subscribers reports the number of registrations for a topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// History returns a copy of retained events matching the filter, oldest
// first.
func (b *Bus) History(f Filter) []Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	out := make([]Event, 0, b.size)
	for i := 0; i < b.size; i++ {
		idx := (b.head - b.size + i + len(b.history)) % len(b.history)
		evt := b.history[idx]
		if f.Topic != "" && evt.Topic != f.Topic {
			continue
		}
		if f.Since != 0 && evt.Timestamp < f.Since {
			continue
		}
		out = append(out, evt)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}
