package detect

import (
	"sync"
)

// DefaultDedupWindowMs is how long a barcode value suppresses repeats.
const DefaultDedupWindowMs = 3000

type dedupKey struct {
	value  string
	format int
}

// memoryDedupWindow is the default in-process DedupWindow: values are keyed
// by payload and format, and suppress repeats until the window elapses.
type memoryDedupWindow struct {
	mu       sync.Mutex
	clock    Clock
	windowMs uint64
	seen     map[dedupKey]uint64
	newCount uint64
	dupCount uint64
}

// NewMemoryDedupWindow returns an in-memory dedup window. A zero windowMs
// falls back to the default.
func NewMemoryDedupWindow(windowMs uint64, clock Clock) DedupWindow {
	if windowMs == 0 {
		windowMs = DefaultDedupWindowMs
	}

	return &memoryDedupWindow{
		clock:    clock,
		windowMs: windowMs,
		seen:     make(map[dedupKey]uint64),
	}
}

// CheckAndRecordBarcode returns true when the value is new within the
// window. Seen timestamps refresh on every sighting, so a value reported
// continuously stays suppressed.
func (w *memoryDedupWindow) CheckAndRecordBarcode(value string, format int, _ string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.NowMillis()
	w.pruneLocked(now)

	key := dedupKey{value: value, format: format}
	_, dup := w.seen[key]
	w.seen[key] = now

	if dup {
		w.dupCount++
		return false
	}

	w.newCount++

	return true
}

func (w *memoryDedupWindow) ResetAll() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seen = make(map[dedupKey]uint64)
	w.newCount = 0
	w.dupCount = 0
}

func (w *memoryDedupWindow) GetStats() DedupStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(w.clock.NowMillis())

	return DedupStats{
		Tracked:        len(w.seen),
		NewCount:       w.newCount,
		DuplicateCount: w.dupCount,
		WindowMs:       w.windowMs,
	}
}

// pruneLocked must be called with the window lock held.
func (w *memoryDedupWindow) pruneLocked(nowMs uint64) {
	for key, seenMs := range w.seen {
		if nowMs-seenMs >= w.windowMs {
			delete(w.seen, key)
		}
	}
}
