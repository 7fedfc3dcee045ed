package bus

import (
	"sync"
	"time"
)

// Clock supplies epoch-millisecond time to every component so tests can
// drive windows, cooldowns, and TTLs deterministically.
type Clock interface {
	Now() int64
}

// WallClock reads the system clock.
type WallClock struct{}

func (WallClock) Now() int64 {
	return time.Now().UnixMilli()
}

// VirtualClock is a manually advanced clock for tests.
type VirtualClock struct {
	mu  sync.Mutex
	now int64
}

// NewVirtualClock starts a virtual clock at the given epoch milliseconds.
func NewVirtualClock(startMs int64) *VirtualClock {
	return &VirtualClock{now: startMs}
}

func (c *VirtualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d.Milliseconds()
	c.mu.Unlock()
}

// Set jumps the clock to an absolute time.
func (c *VirtualClock) Set(ms int64) {
	c.mu.Lock()
	c.now = ms
	c.mu.Unlock()
}
