package session_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scanium/scancore/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinder is an AnalyzerBinder that records re-bind calls and serves a
// configurable bind state.
type fakeBinder struct {
	bound     atomic.Bool
	attached  atomic.Bool
	rebinds   atomic.Uint32
	rebindErr error
}

func newFakeBinder() *fakeBinder {
	b := &fakeBinder{}
	b.bound.Store(true)
	b.attached.Store(true)

	return b
}

func (b *fakeBinder) BindState() session.BindState {
	return session.BindState{
		CameraBound:      b.bound.Load(),
		AnalysisAttached: b.attached.Load(),
	}
}

func (b *fakeBinder) RebindAnalyzer() error {
	b.rebinds.Add(1)
	return b.rebindErr
}

func testConfig() session.WatchdogConfig {
	return session.WatchdogConfig{
		InitialDelay: 60 * time.Millisecond,
		RetryDelay:   80 * time.Millisecond,
		MaxAttempts:  2,
	}
}

func TestWatchdogConfigValidate(t *testing.T) {
	require.NoError(t, session.DefaultWatchdogConfig().Validate())

	cfg := testConfig()
	cfg.InitialDelay = 0
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.RetryDelay = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.MaxAttempts = 0
	assert.Error(t, cfg.Validate())
}

func TestWatchdogStaysQuietWhenFramesFlow(t *testing.T) {
	binder := newFakeBinder()
	watchdog, err := session.NewWatchdog(testConfig(), binder)
	require.NoError(t, err)

	watchdog.StartSession(context.Background())
	defer watchdog.StopSession()

	watchdog.NoteFrame()
	time.Sleep(150 * time.Millisecond)

	diag := watchdog.Diagnostics()
	assert.Equal(t, session.StallNone, diag.StallReason)
	assert.Zero(t, diag.RecoveryAttempts)
	assert.Zero(t, binder.rebinds.Load(), "No re-bind while frames flow")
	assert.True(t, diag.AnalysisFlowing)
}

func TestWatchdogRecoversWhenFramesResume(t *testing.T) {
	binder := newFakeBinder()
	watchdog, err := session.NewWatchdog(testConfig(), binder)
	require.NoError(t, err)

	watchdog.StartSession(context.Background())
	defer watchdog.StopSession()

	// Stall timeline: no-frames at 60ms, first re-bind then wait until
	// 140ms, second re-bind then wait until 220ms. A frame landing at
	// ~170ms is noticed by the second attempt's check.
	require.Eventually(t, func() bool {
		return binder.rebinds.Load() == 2
	}, time.Second, 5*time.Millisecond, "expected a second re-bind attempt")
	watchdog.NoteFrame()

	require.Eventually(t, func() bool {
		return watchdog.Diagnostics().StallReason == session.StallNone
	}, time.Second, 5*time.Millisecond, "expected recovery to succeed")

	diag := watchdog.Diagnostics()
	assert.Equal(t, uint32(2), diag.RecoveryAttempts)
	assert.Equal(t, uint32(2), binder.rebinds.Load())
}

func TestWatchdogGivesUpAfterMaxAttempts(t *testing.T) {
	binder := newFakeBinder()
	watchdog, err := session.NewWatchdog(testConfig(), binder)
	require.NoError(t, err)

	watchdog.StartSession(context.Background())
	defer watchdog.StopSession()

	require.Eventually(t, func() bool {
		return watchdog.Diagnostics().StallReason == session.StallFailed
	}, time.Second, 5*time.Millisecond, "expected the watchdog to give up")

	diag := watchdog.Diagnostics()
	assert.Equal(t, uint32(2), diag.RecoveryAttempts)
	assert.Equal(t, uint32(2), binder.rebinds.Load())

	// Once failed, nothing further happens.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, uint32(2), binder.rebinds.Load())
	assert.Equal(t, session.StallFailed, watchdog.Diagnostics().StallReason)
}

func TestWatchdogRebindErrorsDoNotStopRecovery(t *testing.T) {
	binder := newFakeBinder()
	binder.rebindErr = assert.AnError
	watchdog, err := session.NewWatchdog(testConfig(), binder)
	require.NoError(t, err)

	watchdog.StartSession(context.Background())
	defer watchdog.StopSession()

	require.Eventually(t, func() bool {
		return watchdog.Diagnostics().StallReason == session.StallFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint32(2), binder.rebinds.Load(), "Every attempt re-binds even when the previous one errored")
}

func TestWatchdogIgnoresIncompleteBind(t *testing.T) {
	binder := newFakeBinder()
	binder.attached.Store(false)
	watchdog, err := session.NewWatchdog(testConfig(), binder)
	require.NoError(t, err)

	watchdog.StartSession(context.Background())
	defer watchdog.StopSession()

	time.Sleep(200 * time.Millisecond)

	diag := watchdog.Diagnostics()
	assert.Equal(t, session.StallNone, diag.StallReason, "Bind failures are not analyzer stalls")
	assert.Zero(t, binder.rebinds.Load())
}

func TestWatchdogStopCancelsRun(t *testing.T) {
	binder := newFakeBinder()
	watchdog, err := session.NewWatchdog(testConfig(), binder)
	require.NoError(t, err)

	watchdog.StartSession(context.Background())
	watchdog.StopSession()

	time.Sleep(250 * time.Millisecond)
	assert.Zero(t, binder.rebinds.Load(), "A stopped session must not re-bind")
	assert.Equal(t, session.StallNone, watchdog.Diagnostics().StallReason)
}

func TestWatchdogRestartSupersedesPreviousRun(t *testing.T) {
	binder := newFakeBinder()
	watchdog, err := session.NewWatchdog(testConfig(), binder)
	require.NoError(t, err)

	first := watchdog.StartSession(context.Background())
	second := watchdog.StartSession(context.Background())
	defer watchdog.StopSession()

	assert.Greater(t, second, first)
	assert.Equal(t, second, watchdog.Diagnostics().SessionID)

	// Frames flow for the second session; the superseded first run must
	// not have left a stall behind.
	watchdog.NoteFrame()
	time.Sleep(150 * time.Millisecond)

	diag := watchdog.Diagnostics()
	assert.Equal(t, session.StallNone, diag.StallReason)
	assert.Zero(t, diag.RecoveryAttempts)
}

func TestWatchdogContextCancellation(t *testing.T) {
	binder := newFakeBinder()
	watchdog, err := session.NewWatchdog(testConfig(), binder)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	watchdog.StartSession(ctx)
	cancel()

	time.Sleep(250 * time.Millisecond)
	assert.Zero(t, binder.rebinds.Load(), "A cancelled context must stop the run")
}

func TestStallReasonString(t *testing.T) {
	assert.Equal(t, "none", session.StallNone.String())
	assert.Equal(t, "no_frames", session.StallNoFrames.String())
	assert.Equal(t, "recovering", session.StallRecovering.String())
	assert.Equal(t, "failed", session.StallFailed.String())
}
