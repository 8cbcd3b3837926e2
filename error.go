package memocache

import "time"

// SentinelError is an error.
type SentinelError string

const (
	// ErrNotFound indicates missing cache entry.
	ErrNotFound = SentinelError("missing cache entry")

	// ErrExpired indicates expired cache entry.
	ErrExpired = SentinelError("expired cache entry")

	// ErrClosed indicates cache was closed and deactivated.
	ErrClosed = SentinelError("cache is closed")

	// ErrNothingToInvalidate indicates no tokens were added to Invalidator.
	ErrNothingToInvalidate = SentinelError("nothing to invalidate")

	// ErrAlreadyInvalidated indicates recent invalidation.
	ErrAlreadyInvalidated = SentinelError("already invalidated")
)

// Error implements error.
func (e SentinelError) Error() string {
	return string(e)
}

// errExpired carries the stale entry together with ErrExpired.
type errExpired struct {
	entry entry
}

func (e errExpired) Error() string {
	return ErrExpired.Error()
}

func (e errExpired) Value() interface{} {
	return e.entry.Val
}

func (e errExpired) ExpiredAt() time.Time {
	return e.entry.Exp
}

func (e errExpired) Is(err error) bool {
	return err == ErrExpired
}
