package metrics

import (
	"context"
	"time"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Repository defines the interface for snapshot storage
type Repository interface {
	Record(snapshot *Snapshot) error
	Close() error
}

// Snapshot is one recorded observation of the detection pipeline
type Snapshot struct {
	Timestamp   time.Time
	RunID       string
	Frames      FrameMetrics
	Invocations InvocationMetrics
	Throttle    ThrottleMetrics
	Dedup       DedupMetrics
	Watchdog    WatchdogMetrics
}

// Domain value objects
type FrameMetrics struct {
	Total     uint64
	PerSecond float64
}

type InvocationMetrics struct {
	Object   uint64
	Barcode  uint64
	Document uint64
}

type ThrottleMetrics struct {
	ThrottledTotal uint64
	Multiplier     float64
	RollingAvgMs   float64
	Throttling     bool
}

type DedupMetrics struct {
	DedupedTotal uint64
}

type WatchdogMetrics struct {
	StallReason      string
	RecoveryAttempts uint32
}
