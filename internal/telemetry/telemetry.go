package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/scanium/scancore/internal/detect"
)

var (
	// FramesTotal counts every frame seen by the router
	FramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scancore_frames_total",
			Help: "Total number of frames routed through the detection pipeline",
		},
	)

	// InvocationsTotal counts allowed detector invocations per detector type
	InvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scancore_invocations_total",
			Help: "Total number of allowed detector invocations",
		},
		[]string{"detector"},
	)

	// ThrottledTotal counts frames denied by the rate gate
	ThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scancore_throttled_total",
			Help: "Total number of frames denied by the rate gate",
		},
	)

	// DedupedTotal counts barcode items suppressed by the dedup window
	DedupedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scancore_deduped_total",
			Help: "Total number of barcode items suppressed as duplicates",
		},
	)

	// ThrottleMultiplier reports the adaptive throttle multiplier
	ThrottleMultiplier = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scancore_throttle_multiplier",
			Help: "Current adaptive throttle multiplier (1.0 = baseline)",
		},
	)

	// ProcessingLatency tracks measured detector latency in milliseconds
	ProcessingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scancore_processing_latency_ms",
			Help:    "Measured frame processing latency in milliseconds",
			Buckets: []float64{10, 25, 50, 80, 100, 150, 200, 400, 800, 1600},
		},
	)
)

// ObserveLatency records one measured frame processing latency.
func ObserveLatency(latencyMs float64) {
	ProcessingLatency.Observe(latencyMs)
}

// Publisher bridges router snapshots onto the Prometheus counters. Router
// stats are absolute counters, so the publisher tracks what it last
// published and adds the delta.
type Publisher struct {
	mu   sync.Mutex
	last detect.RouterStats
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish pushes the difference between stats and the previously published
// snapshot onto the collectors. A snapshot with lower counters than the
// last one (session restart) re-bases the deltas.
func (p *Publisher) Publish(stats detect.RouterStats, adaptive detect.AdaptiveStats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if stats.TotalFrames < p.last.TotalFrames {
		p.last = detect.RouterStats{}
	}

	FramesTotal.Add(float64(stats.TotalFrames - p.last.TotalFrames))
	ThrottledTotal.Add(float64(stats.ThrottledCount - p.last.ThrottledCount))
	DedupedTotal.Add(float64(stats.DedupedCount - p.last.DedupedCount))

	for _, detector := range detect.DetectorTypes {
		current := stats.Invocations[detector]
		previous := uint64(0)
		if p.last.Invocations != nil {
			previous = p.last.Invocations[detector]
		}
		InvocationsTotal.WithLabelValues(detector.String()).Add(float64(current - previous))
	}

	ThrottleMultiplier.Set(adaptive.Multiplier)

	p.last = stats
}
