package session

// StallReason is the watchdog's externally visible state.
type StallReason int

const (
	StallNone StallReason = iota
	StallNoFrames
	StallRecovering
	StallFailed
)

func (r StallReason) String() string {
	switch r {
	case StallNone:
		return "none"
	case StallNoFrames:
		return "no_frames"
	case StallRecovering:
		return "recovering"
	case StallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// BindState is what the camera-binding layer reports about the current
// bind. The watchdog only reads it; binding itself is out of scope.
type BindState struct {
	CameraBound      bool
	AnalysisAttached bool
}

// AnalyzerBinder is the camera-binding collaborator: it reports bind state
// and re-applies the active analyzer on a recovery attempt.
type AnalyzerBinder interface {
	BindState() BindState
	RebindAnalyzer() error
}

// Diagnostics is a snapshot of one camera-bind session as seen by the
// watchdog. Invalidated (session id incremented) on every session restart.
type Diagnostics struct {
	SessionID        uint64
	CameraBound      bool
	AnalysisAttached bool
	AnalysisFlowing  bool
	StallReason      StallReason
	RecoveryAttempts uint32
}
