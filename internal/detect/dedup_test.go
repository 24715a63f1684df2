package detect_test

import (
	"testing"

	"github.com/scanium/scancore/internal/detect"
	"github.com/stretchr/testify/assert"
)

func TestDedupWindowSuppressesRepeats(t *testing.T) {
	clock := detect.NewManualClock(1000)
	window := detect.NewMemoryDedupWindow(3000, clock)

	assert.True(t, window.CheckAndRecordBarcode("4006381333931", 32, "item-1"), "First sighting is new")
	assert.False(t, window.CheckAndRecordBarcode("4006381333931", 32, "item-2"), "Repeat within window is a duplicate")

	clock.Advance(2999)
	assert.False(t, window.CheckAndRecordBarcode("4006381333931", 32, "item-3"), "Still inside the window")
}

func TestDedupWindowKeysOnValueAndFormat(t *testing.T) {
	clock := detect.NewManualClock(1000)
	window := detect.NewMemoryDedupWindow(3000, clock)

	assert.True(t, window.CheckAndRecordBarcode("12345", 32, "a"))
	assert.True(t, window.CheckAndRecordBarcode("12345", 64, "b"), "Same value in a different format is distinct")
	assert.True(t, window.CheckAndRecordBarcode("54321", 32, "c"))
}

func TestDedupWindowExpiry(t *testing.T) {
	clock := detect.NewManualClock(1000)
	window := detect.NewMemoryDedupWindow(3000, clock)

	assert.True(t, window.CheckAndRecordBarcode("12345", 32, "a"))

	clock.Advance(3000)
	assert.True(t, window.CheckAndRecordBarcode("12345", 32, "b"), "Value is new again once the window elapses")
}

func TestDedupWindowRefreshOnSighting(t *testing.T) {
	clock := detect.NewManualClock(1000)
	window := detect.NewMemoryDedupWindow(3000, clock)

	assert.True(t, window.CheckAndRecordBarcode("12345", 32, "a"))

	// Continuous sightings keep refreshing the timestamp, so the value
	// stays suppressed well past the original window.
	for i := 0; i < 5; i++ {
		clock.Advance(2000)
		assert.False(t, window.CheckAndRecordBarcode("12345", 32, "b"))
	}
}

func TestDedupWindowStats(t *testing.T) {
	clock := detect.NewManualClock(1000)
	window := detect.NewMemoryDedupWindow(3000, clock)

	window.CheckAndRecordBarcode("a", 32, "1")
	window.CheckAndRecordBarcode("b", 32, "2")
	window.CheckAndRecordBarcode("a", 32, "3")

	stats := window.GetStats()
	assert.Equal(t, 2, stats.Tracked)
	assert.Equal(t, uint64(2), stats.NewCount)
	assert.Equal(t, uint64(1), stats.DuplicateCount)
	assert.Equal(t, uint64(3000), stats.WindowMs)

	// Expired entries fall out of the tracked count but the cumulative
	// counters persist.
	clock.Advance(3000)
	stats = window.GetStats()
	assert.Zero(t, stats.Tracked)
	assert.Equal(t, uint64(2), stats.NewCount)
}

func TestDedupWindowResetAll(t *testing.T) {
	clock := detect.NewManualClock(1000)
	window := detect.NewMemoryDedupWindow(3000, clock)

	window.CheckAndRecordBarcode("a", 32, "1")
	window.CheckAndRecordBarcode("a", 32, "2")

	window.ResetAll()

	stats := window.GetStats()
	assert.Zero(t, stats.Tracked)
	assert.Zero(t, stats.NewCount)
	assert.Zero(t, stats.DuplicateCount)

	assert.True(t, window.CheckAndRecordBarcode("a", 32, "3"), "Reset forgets previous sightings")
}

func TestDedupWindowDefaultWindow(t *testing.T) {
	clock := detect.NewManualClock(1000)
	window := detect.NewMemoryDedupWindow(0, clock)

	assert.Equal(t, uint64(detect.DefaultDedupWindowMs), window.GetStats().WindowMs)
}
