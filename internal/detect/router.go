package detect

import (
	"sync/atomic"

	"github.com/scanium/scancore/internal/logger"
)

// RouterConfig carries the per-detector base intervals and the adaptive
// controller tuning.
type RouterConfig struct {
	ObjectIntervalMs   int64
	BarcodeIntervalMs  int64
	DocumentIntervalMs int64
	DedupWindowMs      uint64
	Adaptive           AdaptiveConfig
}

// DefaultRouterConfig returns the production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		ObjectIntervalMs:   DefaultObjectIntervalMs,
		BarcodeIntervalMs:  DefaultBarcodeIntervalMs,
		DocumentIntervalMs: DefaultDocumentIntervalMs,
		DedupWindowMs:      DefaultDedupWindowMs,
		Adaptive:           DefaultAdaptiveConfig(),
	}
}

// Router is the single orchestration surface between "a frame arrived" and
// "a typed detection event was produced". It composes the rate gate, the
// adaptive throttle controller and the dedup window, and owns the session
// counters. It performs no I/O and never blocks.
type Router struct {
	gate     *RateGate
	adaptive *AdaptiveController
	dedup    DedupWindow
	clock    Clock
	feed     *EventFeed

	sessionActive  atomic.Bool
	sessionStartMs atomic.Uint64
	sessionStopMs  atomic.Uint64

	totalFrames    atomic.Uint64
	throttledCount atomic.Uint64
	dedupedCount   atomic.Uint64
	invObject      atomic.Uint64
	invBarcode     atomic.Uint64
	invDocument    atomic.Uint64

	barcodeEnabled  atomic.Bool
	documentEnabled atomic.Bool
}

// NewRouter builds a router from cfg. A nil dedup window falls back to the
// in-memory implementation; a nil clock falls back to the monotonic clock.
func NewRouter(cfg RouterConfig, dedup DedupWindow, clock Clock) (*Router, error) {
	if clock == nil {
		clock = NewMonotonicClock()
	}
	if dedup == nil {
		dedup = NewMemoryDedupWindow(cfg.DedupWindowMs, clock)
	}

	gate := NewRateGate()
	for detector, interval := range map[DetectorType]int64{
		DetectorObject:   cfg.ObjectIntervalMs,
		DetectorBarcode:  cfg.BarcodeIntervalMs,
		DetectorDocument: cfg.DocumentIntervalMs,
	} {
		if err := gate.SetMinInterval(detector, interval); err != nil {
			return nil, err
		}
	}

	adaptive, err := NewAdaptiveController(cfg.Adaptive, clock)
	if err != nil {
		return nil, err
	}

	r := &Router{
		gate:     gate,
		adaptive: adaptive,
		dedup:    dedup,
		clock:    clock,
		feed:     newEventFeed(),
	}
	r.barcodeEnabled.Store(true)
	r.documentEnabled.Store(true)

	return r, nil
}

// StartSession resets counters, the rate gate and the adaptive sample
// window (not its enabled flag) and marks the session active.
func (r *Router) StartSession() {
	r.resetCounters()
	r.gate.ResetAll()
	r.adaptive.Reset()
	r.feed.reset()
	r.sessionStopMs.Store(0)
	r.sessionStartMs.Store(r.clock.NowMillis())
	r.sessionActive.Store(true)

	logger.Info().Msg("Detection session started")
}

// StopSession flushes final stats to the log and marks the session
// inactive. Calling it on an inactive session is a no-op.
func (r *Router) StopSession() {
	if !r.sessionActive.Load() {
		return
	}

	stats := r.GetStats()
	logger.Info().
		Uint64("total_frames", stats.TotalFrames).
		Uint64("throttled", stats.ThrottledCount).
		Uint64("deduped", stats.DedupedCount).
		Uint64("uptime_ms", stats.UptimeMs).
		Float64("fps", stats.FramesPerSecond).
		Msg("Detection session stopped")

	r.sessionStopMs.Store(r.clock.NowMillis())
	r.sessionActive.Store(false)
}

// IsSessionActive reports whether a session is running.
func (r *Router) IsSessionActive() bool {
	return r.sessionActive.Load()
}

// RouteDetection maps a scan mode to its detector and runs the matching
// admission check. The detector is returned even when admission is denied so
// callers can report what was throttled.
func (r *Router) RouteDetection(mode ScanMode, timestampMs uint64) (bool, DetectorType) {
	switch mode {
	case ScanModeObjectDetection:
		return r.TryInvokeObjectDetection(timestampMs), DetectorObject
	case ScanModeBarcode:
		return r.TryInvokeBarcodeDetection(timestampMs), DetectorBarcode
	case ScanModeDocumentText:
		return r.TryInvokeDocumentDetection(timestampMs), DetectorDocument
	default:
		logger.Warn().Int("mode", int(mode)).Msg("Unknown scan mode")
		return false, DetectorObject
	}
}

// TryInvokeObjectDetection admits or denies an object detection pass.
// Object detection has no disable flag.
func (r *Router) TryInvokeObjectDetection(timestampMs uint64) bool {
	return r.tryInvoke(DetectorObject, timestampMs, true, &r.invObject)
}

// TryInvokeBarcodeDetection admits or denies a barcode scanning pass.
func (r *Router) TryInvokeBarcodeDetection(timestampMs uint64) bool {
	return r.tryInvoke(DetectorBarcode, timestampMs, r.barcodeEnabled.Load(), &r.invBarcode)
}

// TryInvokeDocumentDetection admits or denies a document-region pass.
func (r *Router) TryInvokeDocumentDetection(timestampMs uint64) bool {
	return r.tryInvoke(DetectorDocument, timestampMs, r.documentEnabled.Load(), &r.invDocument)
}

// tryInvoke is the shared admission path. A disabled detector is denied
// before the gate is consulted, so it never consumes a throttle slot.
func (r *Router) tryInvoke(detector DetectorType, timestampMs uint64, enabled bool, invocations *atomic.Uint64) bool {
	r.totalFrames.Add(1)

	if !r.sessionActive.Load() {
		r.publishThrottled(detector, timestampMs, ReasonSessionInactive)
		return false
	}

	if !enabled {
		r.publishThrottled(detector, timestampMs, ReasonDetectorDisabled)
		return false
	}

	if !r.gate.TryInvoke(detector, timestampMs) {
		r.throttledCount.Add(1)
		r.publishThrottled(detector, timestampMs, ReasonIntervalNotMet)
		return false
	}

	invocations.Add(1)

	return true
}

func (r *Router) publishThrottled(detector DetectorType, timestampMs uint64, reason ThrottleReason) {
	r.feed.publish(Throttled{
		EventMeta: EventMeta{TimestampMs: timestampMs, Source: detector},
		Reason:    reason,
	})
}

// ProcessObjectResults translates object detection output into an event and
// updates the last-event feed.
func (r *Router) ProcessObjectResults(items []Item, detections []Box) ObjectDetected {
	event := ObjectDetected{
		EventMeta:  EventMeta{TimestampMs: r.clock.NowMillis(), Source: DetectorObject},
		Items:      items,
		Detections: detections,
	}
	r.feed.publish(event)

	return event
}

// ProcessBarcodeResults runs dedup accounting over raw barcode items and
// returns the event plus the items that were new within the window. Items
// with an empty or missing value are skipped and never counted as deduped.
func (r *Router) ProcessBarcodeResults(items []Item) (BarcodeDetected, []Item) {
	rawCount := len(items)
	unique := make([]Item, 0, rawCount)

	for _, item := range items {
		if item.Barcode == nil || item.Barcode.Value == "" {
			logger.Debug().Str("item_id", item.ID).Msg("Skipping barcode item without value")
			continue
		}

		if r.dedup.CheckAndRecordBarcode(item.Barcode.Value, item.Barcode.Format, item.ID) {
			unique = append(unique, item)
		} else {
			r.dedupedCount.Add(1)
		}
	}

	event := BarcodeDetected{
		EventMeta:    EventMeta{TimestampMs: r.clock.NowMillis(), Source: DetectorBarcode},
		Items:        unique,
		RawCount:     rawCount,
		DedupedCount: rawCount - len(unique),
	}
	r.feed.publish(event)

	return event, unique
}

// ProcessDocumentResults translates document detection output into an event
// and updates the last-event feed.
func (r *Router) ProcessDocumentResults(items []Item) DocumentDetected {
	event := DocumentDetected{
		EventMeta: EventMeta{TimestampMs: r.clock.NowMillis(), Source: DetectorDocument},
		Items:     items,
	}
	r.feed.publish(event)

	return event
}

// RecordFrameProcessingTime feeds a measured detector latency into the
// adaptive controller.
func (r *Router) RecordFrameProcessingTime(latencyMs uint64) {
	r.adaptive.RecordProcessingTime(latencyMs)
}

// GetThrottleInterval returns the effective interval a caller should wait
// for a detector: the adaptive multiplier applied to the base interval.
func (r *Router) GetThrottleInterval(detector DetectorType) uint64 {
	return r.adaptive.ApplyToInterval(r.gate.MinInterval(detector))
}

// GetBaseThrottleInterval returns the unadjusted base interval, for
// diagnostics.
func (r *Router) GetBaseThrottleInterval(detector DetectorType) uint64 {
	return r.gate.MinInterval(detector)
}

// SetThrottleInterval reconfigures a detector's base interval. Negative
// values are rejected.
func (r *Router) SetThrottleInterval(detector DetectorType, intervalMs int64) error {
	return r.gate.SetMinInterval(detector, intervalMs)
}

// SetBarcodeDetectionEnabled toggles barcode scanning. Logs only on change.
func (r *Router) SetBarcodeDetectionEnabled(enabled bool) {
	if r.barcodeEnabled.Swap(enabled) != enabled {
		logger.Info().Bool("enabled", enabled).Msg("Barcode detection toggled")
	}
}

func (r *Router) IsBarcodeDetectionEnabled() bool {
	return r.barcodeEnabled.Load()
}

// SetDocumentDetectionEnabled toggles document detection. Logs only on change.
func (r *Router) SetDocumentDetectionEnabled(enabled bool) {
	if r.documentEnabled.Swap(enabled) != enabled {
		logger.Info().Bool("enabled", enabled).Msg("Document detection toggled")
	}
}

func (r *Router) IsDocumentDetectionEnabled() bool {
	return r.documentEnabled.Load()
}

// SetAdaptiveThrottlingEnabled toggles the adaptive controller. Logs only
// on change; disabling clears the controller's state.
func (r *Router) SetAdaptiveThrottlingEnabled(enabled bool) {
	if r.adaptive.IsEnabled() == enabled {
		return
	}
	r.adaptive.SetEnabled(enabled)
	logger.Info().Bool("enabled", enabled).Msg("Adaptive throttling toggled")
}

func (r *Router) IsAdaptiveThrottlingEnabled() bool {
	return r.adaptive.IsEnabled()
}

// GetAdaptiveStats returns the adaptive controller snapshot.
func (r *Router) GetAdaptiveStats() AdaptiveStats {
	return r.adaptive.GetStats()
}

// Events exposes the last-event feed.
func (r *Router) Events() *EventFeed {
	return r.feed
}

// GetStats recomputes an aggregate snapshot from the counters, the gate and
// the dedup window. Counters are read individually; exact linearizability
// across them is not required.
func (r *Router) GetStats() RouterStats {
	uptime := r.uptimeMs()

	totalFrames := r.totalFrames.Load()
	fps := float64(0)
	if uptime > 0 {
		fps = float64(totalFrames) * 1000 / float64(uptime)
	}

	return RouterStats{
		SessionActive:   r.sessionActive.Load(),
		UptimeMs:        uptime,
		TotalFrames:     totalFrames,
		FramesPerSecond: fps,
		Invocations: map[DetectorType]uint64{
			DetectorObject:   r.invObject.Load(),
			DetectorBarcode:  r.invBarcode.Load(),
			DetectorDocument: r.invDocument.Load(),
		},
		ThrottledCount: r.throttledCount.Load(),
		DedupedCount:   r.dedupedCount.Load(),
		Throttle:       r.gate.GetStats(),
		Dedup:          r.dedup.GetStats(),
	}
}

// Reset fully clears counters, the rate gate, the dedup window, the
// adaptive controller and the last event.
func (r *Router) Reset() {
	r.resetCounters()
	r.gate.ResetAll()
	r.dedup.ResetAll()
	r.adaptive.Reset()
	r.feed.reset()
}

func (r *Router) resetCounters() {
	r.totalFrames.Store(0)
	r.throttledCount.Store(0)
	r.dedupedCount.Store(0)
	r.invObject.Store(0)
	r.invBarcode.Store(0)
	r.invDocument.Store(0)
}

func (r *Router) uptimeMs() uint64 {
	start := r.sessionStartMs.Load()
	if start == 0 && !r.sessionActive.Load() {
		return 0
	}

	end := r.sessionStopMs.Load()
	if r.sessionActive.Load() || end < start {
		end = r.clock.NowMillis()
	}

	return end - start
}
