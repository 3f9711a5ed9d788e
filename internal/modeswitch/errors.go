package modeswitch

import "errors"

// Errors the coordinator returns. modeswitch defines its own sentinels
// rather than importing the root package's Kind type, the same cycle-
// avoidance rule internal/lsm follows: the root package imports modeswitch,
// not the other way around.
var (
	ErrInvalidConfiguration = errors.New("modeswitch: invalid target configuration")
	ErrVerificationFailed   = errors.New("modeswitch: target content hash did not match source")
	ErrCanceled             = errors.New("modeswitch: switch canceled")
	ErrPerfThresholdBreached = errors.New("modeswitch: performance threshold breached")
	ErrRollbackFailed       = errors.New("modeswitch: rollback failed, engine requires external intervention")
)
