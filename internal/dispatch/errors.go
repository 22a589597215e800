package dispatch

import "errors"

var (
	// ErrInvalidSignalType means the inbound signal type is outside
	// the closed enumeration. Rejected at the orchestrator boundary.
	ErrInvalidSignalType = errors.New("invalid signal type")
)
