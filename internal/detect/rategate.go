package detect

import (
	"sync"

	"github.com/scanium/scancore/internal/errors"
)

// Default base intervals per detector type.
const (
	DefaultObjectIntervalMs   = 400
	DefaultBarcodeIntervalMs  = 100
	DefaultDocumentIntervalMs = 500
)

type throttleEntry struct {
	minIntervalMs    uint64
	lastInvocationMs uint64
	invoked          bool
	allowedCount     uint64
	deniedCount      uint64
}

// RateGate answers whether at least the minimum interval has elapsed since
// the last allowed invocation of a detector, and records allowed invocations
// atomically with the check.
type RateGate struct {
	mu      sync.Mutex
	entries map[DetectorType]*throttleEntry
}

// NewRateGate returns a gate with the default base intervals.
func NewRateGate() *RateGate {
	return &RateGate{
		entries: map[DetectorType]*throttleEntry{
			DetectorObject:   {minIntervalMs: DefaultObjectIntervalMs},
			DetectorBarcode:  {minIntervalMs: DefaultBarcodeIntervalMs},
			DetectorDocument: {minIntervalMs: DefaultDocumentIntervalMs},
		},
	}
}

func (g *RateGate) entry(detector DetectorType) *throttleEntry {
	e, ok := g.entries[detector]
	if !ok {
		e = &throttleEntry{}
		g.entries[detector] = e
	}

	return e
}

// SetMinInterval sets the minimum interval for a detector. Negative values
// are rejected, never clamped.
func (g *RateGate) SetMinInterval(detector DetectorType, intervalMs int64) error {
	errFactory := errors.New()

	if intervalMs < 0 {
		return errFactory.WithData(ErrInvalidInterval, struct {
			Detector string
			Interval int64
		}{
			Detector: detector.String(),
			Interval: intervalMs,
		})
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.entry(detector).minIntervalMs = uint64(intervalMs)

	return nil
}

// MinInterval returns the configured minimum interval for a detector.
func (g *RateGate) MinInterval(detector DetectorType) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.entry(detector).minIntervalMs
}

// CanInvoke reports whether an invocation would be allowed at now. Pure
// read, no side effects.
func (g *RateGate) CanInvoke(detector DetectorType, nowMs uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.entry(detector).allowed(nowMs)
}

// TryInvoke checks and records in one critical section. Two callers can
// never both observe an allowed invocation within one minimum interval.
func (g *RateGate) TryInvoke(detector DetectorType, nowMs uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.entry(detector)
	if !e.allowed(nowMs) {
		e.deniedCount++
		return false
	}

	e.lastInvocationMs = nowMs
	e.invoked = true
	e.allowedCount++

	return true
}

// TimeUntilAllowed returns how many milliseconds remain until the next
// invocation would be allowed, or 0 if it is allowed now.
func (g *RateGate) TimeUntilAllowed(detector DetectorType, nowMs uint64) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.entry(detector)
	if e.allowed(nowMs) {
		return 0
	}

	return e.lastInvocationMs + e.minIntervalMs - nowMs
}

// Reset clears the recorded invocation for one detector.
func (g *RateGate) Reset(detector DetectorType) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.entry(detector)
	e.lastInvocationMs = 0
	e.invoked = false
	e.allowedCount = 0
	e.deniedCount = 0
}

// ResetAll clears recorded invocations for every detector.
func (g *RateGate) ResetAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, e := range g.entries {
		e.lastInvocationMs = 0
		e.invoked = false
		e.allowedCount = 0
		e.deniedCount = 0
	}
}

// GetStats returns a per-detector snapshot of gate activity.
func (g *RateGate) GetStats() map[DetectorType]GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := make(map[DetectorType]GateStats, len(g.entries))
	for detector, e := range g.entries {
		stats[detector] = GateStats{
			MinIntervalMs:    e.minIntervalMs,
			LastInvocationMs: e.lastInvocationMs,
			Invoked:          e.invoked,
			AllowedCount:     e.allowedCount,
			DeniedCount:      e.deniedCount,
		}
	}

	return stats
}

// allowed must be called with the gate lock held. The first invocation after
// a reset is always allowed regardless of the timestamp.
func (e *throttleEntry) allowed(nowMs uint64) bool {
	if !e.invoked {
		return true
	}

	return nowMs-e.lastInvocationMs >= e.minIntervalMs
}
