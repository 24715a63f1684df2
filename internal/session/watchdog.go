package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scanium/scancore/internal/errors"
	"github.com/scanium/scancore/internal/logger"
)

// WatchdogConfig tunes the stall detection and bounded recovery loop.
type WatchdogConfig struct {
	// InitialDelay is how long after camera bind the first frame may take
	// before the session is considered stalled.
	InitialDelay time.Duration
	// RetryDelay is the wait after each re-bind attempt before checking
	// whether frames started flowing.
	RetryDelay time.Duration
	// MaxAttempts bounds the number of re-bind attempts.
	MaxAttempts uint32
}

// DefaultWatchdogConfig returns the production defaults.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		InitialDelay: 600 * time.Millisecond,
		RetryDelay:   800 * time.Millisecond,
		MaxAttempts:  2,
	}
}

func (c WatchdogConfig) Validate() error {
	errFactory := errors.New()

	if c.InitialDelay <= 0 || c.RetryDelay <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "watchdog delays must be positive")
	}
	if c.MaxAttempts == 0 {
		return errFactory.WithData(ErrInvalidConfig, "watchdog needs at least one recovery attempt")
	}

	return nil
}

// Watchdog monitors one camera-bind session for the "analyzer attached but
// no frames ever arrive" failure mode and performs bounded re-bind attempts.
// One watchdog run exists per session; restarting the session cancels the
// previous run, and every state transition is tagged with the session id
// captured at start so stale runs become no-ops.
type Watchdog struct {
	cfg    WatchdogConfig
	binder AnalyzerBinder

	sessionID atomic.Uint64
	frameSeen atomic.Bool

	mu       sync.Mutex
	reason   StallReason
	attempts uint32
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWatchdog validates cfg and returns an idle watchdog.
func NewWatchdog(cfg WatchdogConfig, binder AnalyzerBinder) (*Watchdog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Watchdog{
		cfg:    cfg,
		binder: binder,
	}, nil
}

// StartSession begins monitoring a fresh camera-bind session and returns
// its id. Any run from a previous session is cancelled first.
func (w *Watchdog) StartSession(ctx context.Context) uint64 {
	w.cancelRun()

	sid := w.sessionID.Add(1)
	w.frameSeen.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	w.mu.Lock()
	w.reason = StallNone
	w.attempts = 0
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go w.run(runCtx, sid, done)

	logger.Debug().Uint64("session_id", sid).Msg("Watchdog armed")

	return sid
}

// StopSession cancels the in-flight run and invalidates its session id, so
// any pending transition from it is discarded.
func (w *Watchdog) StopSession() {
	w.sessionID.Add(1)
	w.cancelRun()
}

// NoteFrame records that a frame was observed for the current session.
// Called from the frame producer; must stay non-blocking.
func (w *Watchdog) NoteFrame() {
	w.frameSeen.Store(true)
}

// Diagnostics merges the binder's bind state with the watchdog's own state.
func (w *Watchdog) Diagnostics() Diagnostics {
	bind := w.binder.BindState()

	w.mu.Lock()
	defer w.mu.Unlock()

	return Diagnostics{
		SessionID:        w.sessionID.Load(),
		CameraBound:      bind.CameraBound,
		AnalysisAttached: bind.AnalysisAttached,
		AnalysisFlowing:  w.frameSeen.Load(),
		StallReason:      w.reason,
		RecoveryAttempts: w.attempts,
	}
}

func (w *Watchdog) cancelRun() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// run is the per-session recovery state machine.
func (w *Watchdog) run(ctx context.Context, sid uint64, done chan struct{}) {
	defer close(done)

	if !w.sleep(ctx, w.cfg.InitialDelay) {
		return
	}

	if w.stale(sid) {
		return
	}

	if w.frameSeen.Load() {
		// Success path: frames arrived within the deadline.
		return
	}

	bind := w.binder.BindState()
	if !bind.CameraBound || !bind.AnalysisAttached {
		// The stall is not attributable to the analyzer; binding itself
		// failed and is handled upstream.
		logger.Debug().
			Bool("camera_bound", bind.CameraBound).
			Bool("analysis_attached", bind.AnalysisAttached).
			Msg("Watchdog: bind incomplete, not intervening")
		return
	}

	if !w.transition(sid, StallNoFrames) {
		return
	}
	logger.Warn().Uint64("session_id", sid).Msg("No frames observed, starting recovery")

	for attempt := uint32(1); attempt <= w.cfg.MaxAttempts; attempt++ {
		if !w.beginAttempt(sid, attempt) {
			return
		}

		if err := w.binder.RebindAnalyzer(); err != nil {
			errFactory := errors.New()
			logger.ErrorWithCode(errFactory.Wrap(ErrRebindFailed, err)).
				Uint32("attempt", attempt).
				Send()
		}

		if !w.sleep(ctx, w.cfg.RetryDelay) {
			return
		}

		if w.stale(sid) {
			return
		}

		if w.frameSeen.Load() {
			w.transition(sid, StallNone)
			logger.Info().
				Uint64("session_id", sid).
				Uint32("attempts", attempt).
				Msg("Frames flowing again, recovery succeeded")
			return
		}
	}

	if w.transition(sid, StallFailed) {
		logger.Warn().
			Uint64("session_id", sid).
			Uint32("attempts", w.cfg.MaxAttempts).
			Msg("Recovery attempts exhausted, giving up")
	}
}

// beginAttempt records the attempt count and the RECOVERING state in one
// guarded step.
func (w *Watchdog) beginAttempt(sid uint64, attempt uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sessionID.Load() != sid {
		return false
	}

	w.attempts = attempt
	w.reason = StallRecovering

	logger.Debug().
		Uint64("session_id", sid).
		Uint32("attempt", attempt).
		Msg("Re-binding analyzer")

	return true
}

// transition applies a state change only if the session id is still
// current. Stale runs discard their transitions.
func (w *Watchdog) transition(sid uint64, reason StallReason) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sessionID.Load() != sid {
		return false
	}

	w.reason = reason

	return true
}

func (w *Watchdog) stale(sid uint64) bool {
	return w.sessionID.Load() != sid
}

// sleep waits d or until cancellation; returns false when cancelled.
func (w *Watchdog) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
