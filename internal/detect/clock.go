package detect

import (
	"sync"
	"time"
)

type monotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a Clock reporting milliseconds elapsed since
// construction, backed by the runtime's monotonic reading.
func NewMonotonicClock() Clock {
	return &monotonicClock{start: time.Now()}
}

func (c *monotonicClock) NowMillis() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}

// ManualClock is a Clock advanced explicitly by tests.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) NowMillis() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by ms milliseconds.
func (c *ManualClock) Advance(ms uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
}

// Set moves the clock to an absolute millisecond timestamp.
func (c *ManualClock) Set(ms uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ms
}
