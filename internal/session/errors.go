package session

import "github.com/scanium/scancore/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("session_invalid_config")

	// Recovery Errors
	ErrRebindFailed = errors.ErrorCode("session_rebind_failed")
)
