package detect_test

import (
	"testing"

	"github.com/scanium/scancore/internal/detect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*detect.Router, *detect.ManualClock) {
	t.Helper()

	clock := detect.NewManualClock(1000)
	router, err := detect.NewRouter(detect.DefaultRouterConfig(), nil, clock)
	require.NoError(t, err)

	return router, clock
}

func barcodeItem(id, value string) detect.Item {
	return detect.Item{
		ID:      id,
		Label:   "barcode",
		Score:   1,
		Barcode: &detect.BarcodeValue{Value: value, Format: 32},
	}
}

func TestNewRouterRejectsInvalidConfig(t *testing.T) {
	cfg := detect.DefaultRouterConfig()
	cfg.BarcodeIntervalMs = -1
	_, err := detect.NewRouter(cfg, nil, detect.NewManualClock(0))
	assert.Error(t, err)

	cfg = detect.DefaultRouterConfig()
	cfg.Adaptive.WindowSize = 0
	_, err = detect.NewRouter(cfg, nil, detect.NewManualClock(0))
	assert.Error(t, err)
}

func TestRouteDetectionMapsModes(t *testing.T) {
	router, clock := newTestRouter(t)
	router.StartSession()

	cases := map[detect.ScanMode]detect.DetectorType{
		detect.ScanModeObjectDetection: detect.DetectorObject,
		detect.ScanModeBarcode:         detect.DetectorBarcode,
		detect.ScanModeDocumentText:    detect.DetectorDocument,
	}
	for mode, want := range cases {
		ok, detector := router.RouteDetection(mode, clock.NowMillis())
		assert.True(t, ok, "First frame for %s must be admitted", want)
		assert.Equal(t, want, detector)
	}

	ok, _ := router.RouteDetection(detect.ScanMode(99), clock.NowMillis())
	assert.False(t, ok, "Unknown scan mode must be denied")
}

func TestRouterDeniesWithoutSession(t *testing.T) {
	router, clock := newTestRouter(t)

	assert.False(t, router.TryInvokeObjectDetection(clock.NowMillis()))

	stats := router.GetStats()
	assert.Zero(t, stats.ThrottledCount, "Inactive-session denials are not throttling")
	assert.Zero(t, stats.Invocations[detect.DetectorObject])

	event, ok := router.Events().Latest().(detect.Throttled)
	require.True(t, ok)
	assert.Equal(t, detect.ReasonSessionInactive, event.Reason)
}

func TestRouterThrottlesWithinInterval(t *testing.T) {
	router, clock := newTestRouter(t)
	router.StartSession()

	require.True(t, router.TryInvokeBarcodeDetection(clock.NowMillis()))

	clock.Advance(50)
	assert.False(t, router.TryInvokeBarcodeDetection(clock.NowMillis()))

	clock.Advance(50)
	assert.True(t, router.TryInvokeBarcodeDetection(clock.NowMillis()))

	stats := router.GetStats()
	assert.Equal(t, uint64(3), stats.TotalFrames)
	assert.Equal(t, uint64(1), stats.ThrottledCount)
	assert.Equal(t, uint64(2), stats.Invocations[detect.DetectorBarcode])
}

func TestRouterDisabledDetectorNeverTouchesGate(t *testing.T) {
	router, clock := newTestRouter(t)
	router.StartSession()
	router.SetBarcodeDetectionEnabled(false)

	for i := 0; i < 100; i++ {
		assert.False(t, router.TryInvokeBarcodeDetection(clock.NowMillis()))
		clock.Advance(200)
	}

	stats := router.GetStats()
	assert.Zero(t, stats.Invocations[detect.DetectorBarcode])
	assert.Zero(t, stats.ThrottledCount, "Disabled denials do not count as throttling")

	gate := stats.Throttle[detect.DetectorBarcode]
	assert.False(t, gate.Invoked, "Disabled detector must not consume a throttle slot")
	assert.Zero(t, gate.LastInvocationMs)

	// Re-enabling admits immediately.
	router.SetBarcodeDetectionEnabled(true)
	assert.True(t, router.TryInvokeBarcodeDetection(clock.NowMillis()))
}

func TestRouterBarcodeDedupAccounting(t *testing.T) {
	router, _ := newTestRouter(t)
	router.StartSession()

	items := []detect.Item{
		barcodeItem("a", "4006381333931"),
		barcodeItem("b", "7311041080719"),
		barcodeItem("c", "4006381333931"), // repeat of "a"
		barcodeItem("d", "5000112637922"),
		barcodeItem("e", "8710398161741"),
	}

	event, unique := router.ProcessBarcodeResults(items)
	assert.Len(t, unique, 4)
	assert.Equal(t, 5, event.RawCount)
	assert.Equal(t, 1, event.DedupedCount)
	assert.Equal(t, unique, event.Items)

	assert.Equal(t, uint64(1), router.GetStats().DedupedCount)
}

func TestRouterBarcodeSkipsEmptyValues(t *testing.T) {
	router, _ := newTestRouter(t)
	router.StartSession()

	items := []detect.Item{
		barcodeItem("a", "4006381333931"),
		{ID: "b", Label: "barcode"},                // nil barcode
		{ID: "c", Barcode: &detect.BarcodeValue{}}, // empty value
	}

	event, unique := router.ProcessBarcodeResults(items)
	assert.Len(t, unique, 1)
	assert.Equal(t, 3, event.RawCount)
	assert.Equal(t, 2, event.DedupedCount)

	// Skipped items are not duplicates: the aggregate counter only moves
	// for true repeats within the window.
	assert.Zero(t, router.GetStats().DedupedCount)
}

func TestRouterStatsComputesRate(t *testing.T) {
	router, clock := newTestRouter(t)
	router.StartSession()

	for i := 0; i < 60; i++ {
		router.TryInvokeObjectDetection(clock.NowMillis())
		clock.Advance(50)
	}

	stats := router.GetStats()
	assert.True(t, stats.SessionActive)
	assert.Equal(t, uint64(3000), stats.UptimeMs)
	assert.Equal(t, uint64(60), stats.TotalFrames)
	assert.InDelta(t, 20.0, stats.FramesPerSecond, 1e-9)
}

func TestRouterStopSessionIsIdempotent(t *testing.T) {
	router, clock := newTestRouter(t)
	router.StartSession()
	require.True(t, router.TryInvokeObjectDetection(clock.NowMillis()))

	clock.Advance(500)
	router.StopSession()
	assert.False(t, router.IsSessionActive())

	uptime := router.GetStats().UptimeMs
	assert.Equal(t, uint64(500), uptime)

	clock.Advance(500)
	router.StopSession()
	assert.Equal(t, uptime, router.GetStats().UptimeMs, "A second stop must not move the uptime")
}

func TestRouterStartSessionResetsCountersNotDedup(t *testing.T) {
	router, clock := newTestRouter(t)
	router.StartSession()

	router.TryInvokeObjectDetection(clock.NowMillis())
	router.ProcessBarcodeResults([]detect.Item{barcodeItem("a", "4006381333931")})
	router.StopSession()

	router.StartSession()
	stats := router.GetStats()
	assert.Zero(t, stats.TotalFrames)
	assert.Zero(t, stats.Invocations[detect.DetectorObject])
	assert.Nil(t, router.Events().Latest())

	// The dedup window spans sessions: the value is still suppressed.
	event, unique := router.ProcessBarcodeResults([]detect.Item{barcodeItem("b", "4006381333931")})
	assert.Empty(t, unique)
	assert.Equal(t, 1, event.DedupedCount)
}

func TestRouterResetIsIdempotent(t *testing.T) {
	router, clock := newTestRouter(t)
	router.StartSession()

	router.TryInvokeObjectDetection(clock.NowMillis())
	router.ProcessBarcodeResults([]detect.Item{
		barcodeItem("a", "4006381333931"),
		barcodeItem("b", "4006381333931"),
	})

	router.Reset()
	first := router.GetStats()
	router.Reset()
	second := router.GetStats()

	assert.Equal(t, first, second, "Resetting twice must equal resetting once")
	assert.Zero(t, first.TotalFrames)
	assert.Zero(t, first.DedupedCount)
	assert.Zero(t, first.Dedup.Tracked)

	// Reset clears the dedup window, so the value is new again.
	_, unique := router.ProcessBarcodeResults([]detect.Item{barcodeItem("c", "4006381333931")})
	assert.Len(t, unique, 1)
}

func TestRouterThrottleIntervals(t *testing.T) {
	router, clock := newTestRouter(t)
	router.StartSession()

	assert.Equal(t, uint64(400), router.GetBaseThrottleInterval(detect.DetectorObject))
	assert.Equal(t, uint64(400), router.GetThrottleInterval(detect.DetectorObject))
	assert.Equal(t, uint64(100), router.GetBaseThrottleInterval(detect.DetectorBarcode))
	assert.Equal(t, uint64(200), router.GetThrottleInterval(detect.DetectorBarcode), "Effective interval clamps to the adaptive floor")

	// Push the multiplier up and watch the effective interval stretch
	// while the base stays put.
	for i := 0; i < 15; i++ {
		clock.Advance(600)
		router.RecordFrameProcessingTime(200)
	}
	require.Equal(t, 3.0, router.GetAdaptiveStats().Multiplier)

	assert.Equal(t, uint64(400), router.GetBaseThrottleInterval(detect.DetectorObject))
	assert.Equal(t, uint64(1200), router.GetThrottleInterval(detect.DetectorObject))

	require.NoError(t, router.SetThrottleInterval(detect.DetectorObject, 800))
	assert.Equal(t, uint64(800), router.GetBaseThrottleInterval(detect.DetectorObject))
	assert.Equal(t, uint64(2000), router.GetThrottleInterval(detect.DetectorObject), "Effective interval clamps to the adaptive ceiling")
}

func TestRouterAdaptiveToggle(t *testing.T) {
	router, clock := newTestRouter(t)
	router.StartSession()

	for i := 0; i < 5; i++ {
		clock.Advance(600)
		router.RecordFrameProcessingTime(200)
	}
	require.Greater(t, router.GetAdaptiveStats().Multiplier, 1.0)

	router.SetAdaptiveThrottlingEnabled(false)
	assert.False(t, router.IsAdaptiveThrottlingEnabled())
	assert.Equal(t, uint64(100), router.GetThrottleInterval(detect.DetectorBarcode), "Disabled controller passes the base through")

	router.SetAdaptiveThrottlingEnabled(true)
	assert.Equal(t, 1.0, router.GetAdaptiveStats().Multiplier, "Re-enable starts from baseline")
}

func TestRouterEventFeed(t *testing.T) {
	router, _ := newTestRouter(t)
	router.StartSession()

	items := []detect.Item{{ID: "obj-1", Label: "object", Score: 0.9}}
	boxes := []detect.Box{{X: 0.1, Y: 0.2, W: 0.3, H: 0.4, Score: 0.9, Label: "object"}}
	published := router.ProcessObjectResults(items, boxes)

	latest, ok := router.Events().Latest().(detect.ObjectDetected)
	require.True(t, ok)
	assert.Equal(t, published, latest)
	assert.Equal(t, detect.DetectorObject, latest.EventSource())

	// A late subscriber replays the most recent event.
	ch, cancel := router.Events().Subscribe()
	defer cancel()

	select {
	case event := <-ch:
		assert.Equal(t, published, event)
	default:
		t.Fatal("expected the latest event to be replayed to a new subscriber")
	}

	// A slow subscriber sees the newest event, not the backlog.
	router.ProcessDocumentResults([]detect.Item{{ID: "doc-1"}})
	router.ProcessDocumentResults([]detect.Item{{ID: "doc-2"}})

	select {
	case event := <-ch:
		doc, ok := event.(detect.DocumentDetected)
		require.True(t, ok)
		assert.Equal(t, "doc-2", doc.Items[0].ID)
	default:
		t.Fatal("expected a pending event")
	}
}
