package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrLockNotAcquired occurs when a distributed lock is held by someone else.
	ErrLockNotAcquired = errors.New("lock not acquired")
)
