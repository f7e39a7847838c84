package failover

import "errors"

var (
	// ErrNoHealthyKey is returned when the candidate list is empty after
	// Cooldown Cache filtering — surfaced to the caller as 503.
	ErrNoHealthyKey = errors.New("failover: no healthy key available")

	// ErrAllKeysFailed is returned when every candidate was tried and none
	// succeeded — surfaced to the caller as 503.
	ErrAllKeysFailed = errors.New("failover: all candidate keys failed")

	// ErrDeadlineExceeded is returned when the overall deadline has already
	// passed, or passes before the next attempt could finish — surfaced as
	// 504.
	ErrDeadlineExceeded = errors.New("failover: overall deadline exceeded")

	// ErrUnknownProvider is returned when Request.Provider has no
	// registered Capability.
	ErrUnknownProvider = errors.New("failover: unrecognized provider")

	// ErrFatal wraps an unrecoverable classifier outcome — surfaced as 502.
	ErrFatal = errors.New("failover: fatal upstream error")
)
