package rate

import "errors"

var (
	// ErrRateLimited is returned when an attempt budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrLocked is returned for identifiers under an active lockout.
	ErrLocked = errors.New("account locked")
	// ErrUnavailable wraps Redis failures.
	ErrUnavailable = errors.New("rate limit backend unavailable")
)
