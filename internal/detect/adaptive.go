package detect

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/scanium/scancore/internal/errors"
)

// AdaptiveConfig tunes the closed-loop throttle controller.
type AdaptiveConfig struct {
	WindowSize          int
	MinSamples          int
	CooldownMs          uint64
	HighLoadThresholdMs float64
	LowLoadThresholdMs  float64
	IncreaseRate        float64
	DecreaseRate        float64
	MaxMultiplier       float64
	MinIntervalMs       uint64
	MaxIntervalMs       uint64
}

// DefaultAdaptiveConfig returns the tuning used in production.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		WindowSize:          10,
		MinSamples:          5,
		CooldownMs:          500,
		HighLoadThresholdMs: 150,
		LowLoadThresholdMs:  80,
		IncreaseRate:        1.25,
		DecreaseRate:        0.9,
		MaxMultiplier:       3.0,
		MinIntervalMs:       200,
		MaxIntervalMs:       2000,
	}
}

func (c AdaptiveConfig) Validate() error {
	errFactory := errors.New()

	switch {
	case c.WindowSize <= 0:
		return errFactory.WithData(ErrInvalidConfig, "window size must be positive")
	case c.MinSamples <= 0 || c.MinSamples > c.WindowSize:
		return errFactory.WithData(ErrInvalidConfig, "min samples must be in 1..window size")
	case c.IncreaseRate <= 1.0:
		return errFactory.WithData(ErrInvalidConfig, "increase rate must be above 1.0")
	case c.DecreaseRate <= 0 || c.DecreaseRate >= 1.0:
		return errFactory.WithData(ErrInvalidConfig, "decrease rate must be in (0, 1)")
	case c.MaxMultiplier < 1.0:
		return errFactory.WithData(ErrInvalidConfig, "max multiplier must be at least 1.0")
	case c.LowLoadThresholdMs >= c.HighLoadThresholdMs:
		return errFactory.WithData(ErrInvalidConfig, "low load threshold must be below high load threshold")
	case c.MinIntervalMs > c.MaxIntervalMs:
		return errFactory.WithData(ErrInvalidConfig, "min interval must not exceed max interval")
	}

	return nil
}

// multiplierSnapThreshold is the hysteresis band just above baseline: a
// decreased multiplier at or below it snaps to exactly 1.0. There is
// deliberately no analogous snap on the increase side.
const multiplierSnapThreshold = 1.05

// AdaptiveController derives a throttle multiplier from a rolling average of
// measured frame-processing latency. The multiplier stretches a base
// interval supplied by the caller; it never drops below 1.0.
//
// Mutations are serialized by a mutex; multiplier and flag reads are
// lock-free since callers only need approximate freshness.
type AdaptiveController struct {
	cfg   AdaptiveConfig
	clock Clock

	mu               sync.Mutex
	samples          []uint64
	next             int
	count            int
	lastAdjustmentMs uint64

	multiplierBits  atomic.Uint64
	throttling      atomic.Bool
	enabled         atomic.Bool
	totalSamples    atomic.Uint64
	adjustmentsUp   atomic.Uint64
	adjustmentsDown atomic.Uint64
}

// NewAdaptiveController validates cfg and returns an enabled controller.
func NewAdaptiveController(cfg AdaptiveConfig, clock Clock) (*AdaptiveController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &AdaptiveController{
		cfg:     cfg,
		clock:   clock,
		samples: make([]uint64, cfg.WindowSize),
	}
	a.multiplierBits.Store(math.Float64bits(1.0))
	a.enabled.Store(true)

	return a, nil
}

// RecordProcessingTime feeds one measured latency sample into the rolling
// window and returns the (possibly adjusted) multiplier. Adjustments are
// rate-limited by the cooldown; samples are always recorded.
func (a *AdaptiveController) RecordProcessingTime(latencyMs uint64) float64 {
	if !a.enabled.Load() {
		return 1.0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples[a.next] = latencyMs
	a.next = (a.next + 1) % a.cfg.WindowSize
	if a.count < a.cfg.WindowSize {
		a.count++
	}
	a.totalSamples.Add(1)

	if a.count < a.cfg.MinSamples {
		return a.Multiplier()
	}

	now := a.clock.NowMillis()
	if a.lastAdjustmentMs != 0 && now-a.lastAdjustmentMs < a.cfg.CooldownMs {
		return a.Multiplier()
	}

	a.adjust(a.rollingAvgLocked(), now)

	return a.Multiplier()
}

// adjust must be called with the controller lock held.
func (a *AdaptiveController) adjust(rollingAvg float64, nowMs uint64) {
	multiplier := a.Multiplier()

	switch {
	case rollingAvg > a.cfg.HighLoadThresholdMs:
		increased := math.Min(multiplier*a.cfg.IncreaseRate, a.cfg.MaxMultiplier)
		if increased > multiplier {
			a.setMultiplier(increased)
			a.throttling.Store(true)
			a.adjustmentsUp.Add(1)
			a.lastAdjustmentMs = nowMs
		}
	case rollingAvg < a.cfg.LowLoadThresholdMs && multiplier > 1.0:
		decreased := math.Max(multiplier*a.cfg.DecreaseRate, 1.0)
		if decreased <= multiplierSnapThreshold {
			decreased = 1.0
			a.throttling.Store(false)
		}
		a.setMultiplier(decreased)
		a.adjustmentsDown.Add(1)
		a.lastAdjustmentMs = nowMs
	}
}

// ApplyToInterval stretches a base interval by the current multiplier,
// clamped to the configured bounds. Disabled controllers pass the base
// interval through unchanged.
func (a *AdaptiveController) ApplyToInterval(baseMs uint64) uint64 {
	if !a.enabled.Load() {
		return baseMs
	}

	scaled := uint64(float64(baseMs) * a.Multiplier())

	return clampUint64(scaled, a.cfg.MinIntervalMs, a.cfg.MaxIntervalMs)
}

// SetEnabled toggles the controller. Disabling resets all adaptive state so
// a later re-enable starts from baseline.
func (a *AdaptiveController) SetEnabled(enabled bool) {
	if !enabled {
		a.Reset()
	}
	a.enabled.Store(enabled)
}

func (a *AdaptiveController) IsEnabled() bool {
	return a.enabled.Load()
}

// Multiplier returns the current multiplier. Lock-free.
func (a *AdaptiveController) Multiplier() float64 {
	return math.Float64frombits(a.multiplierBits.Load())
}

// IsThrottling reports whether the multiplier is above baseline. Lock-free.
func (a *AdaptiveController) IsThrottling() bool {
	return a.throttling.Load()
}

// Reset clears the sample window and returns the multiplier to baseline.
func (a *AdaptiveController) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.samples {
		a.samples[i] = 0
	}
	a.next = 0
	a.count = 0
	a.lastAdjustmentMs = 0
	a.setMultiplier(1.0)
	a.throttling.Store(false)
	a.totalSamples.Store(0)
	a.adjustmentsUp.Store(0)
	a.adjustmentsDown.Store(0)
}

// GetStats returns a read-only snapshot. It never mutates controller state.
func (a *AdaptiveController) GetStats() AdaptiveStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return AdaptiveStats{
		Enabled:         a.enabled.Load(),
		Throttling:      a.throttling.Load(),
		Multiplier:      a.Multiplier(),
		RollingAvgMs:    a.rollingAvgLocked(),
		SampleCount:     a.count,
		TotalSamples:    a.totalSamples.Load(),
		AdjustmentsUp:   a.adjustmentsUp.Load(),
		AdjustmentsDown: a.adjustmentsDown.Load(),
	}
}

func (a *AdaptiveController) setMultiplier(m float64) {
	a.multiplierBits.Store(math.Float64bits(m))
}

// rollingAvgLocked must be called with the controller lock held.
func (a *AdaptiveController) rollingAvgLocked() float64 {
	if a.count == 0 {
		return 0
	}

	var sum uint64
	for i := 0; i < a.count; i++ {
		sum += a.samples[i]
	}

	return float64(sum) / float64(a.count)
}

func clampUint64(value, minValue, maxValue uint64) uint64 {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}

	return value
}
