package detect

import "github.com/scanium/scancore/internal/errors"

const (
	// Configuration Errors
	ErrInvalidInterval = errors.ErrInvalidInterval
	ErrInvalidConfig   = errors.ErrInvalidConfig

	// Routing Errors
	ErrUnknownScanMode = errors.ErrorCode("detect_unknown_scan_mode")
	ErrUnknownDetector = errors.ErrorCode("detect_unknown_detector")
	ErrMissingDedup    = errors.ErrorCode("detect_missing_dedup_window")
	ErrSessionInactive = errors.ErrSessionClosed
)
