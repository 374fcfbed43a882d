package sync

import (
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned by Locker.WithLock when another run
// holds a fresh lock for the same (user, endpoint). Callers should treat
// it as retryable-later, not fatal.
var ErrSyncInProgress = errors.New("sync already in progress")

// AdapterError wraps a failure to obtain the provider snapshot. A run
// that fails with an AdapterError has written nothing and has not
// advanced the sync ledger, so the next run retries the same window.
type AdapterError struct {
	Source string
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %v", e.Source, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// ConflictError carries the pair whose lock was contended. It matches
// ErrSyncInProgress under errors.Is.
type ConflictError struct {
	UserID   string
	Endpoint string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync already in progress for %s/%s", e.UserID, e.Endpoint)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrSyncInProgress
}
