package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"
)

// DefaultStaleLockThreshold is the age beyond which an in-progress lock
// is presumed abandoned by a crashed process and may be force-acquired.
// Tunable policy, not a correctness constant: it just needs to exceed
// any plausible run duration.
const DefaultStaleLockThreshold = 10 * time.Minute

// LockStore is the slice of the store the locker needs. AcquireLock
// must be a single atomic check-and-set in the store; the locker never
// reads the lock separately before writing it.
type LockStore interface {
	AcquireLock(ctx context.Context, userID, endpoint string, now, staleBefore time.Time) (bool, error)
	ReleaseLock(ctx context.Context, userID, endpoint string) error
}

// Locker wraps a sync run in the store-resident advisory lock for a
// (user, endpoint) pair. There is deliberately no in-process mutex:
// the store's atomic upsert is the only mutual exclusion, so the
// guarantee holds across multiple server instances.
type Locker struct {
	store      LockStore
	staleAfter time.Duration
	logger     *log.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewLocker creates a locker. staleAfter <= 0 selects
// DefaultStaleLockThreshold. If logger is nil, a default logger writing
// to stderr is used.
func NewLocker(ls LockStore, staleAfter time.Duration, logger *log.Logger) *Locker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleLockThreshold
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Locker{
		store:      ls,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// WithLock acquires the lock for (userID, endpoint), runs body, and
// releases the lock on every exit path - body error, context
// cancellation, even a panicking body (the deferred release still runs
// while the panic propagates).
//
// Returns a ConflictError (matching ErrSyncInProgress) when the lock is
// held by a fresh run. A lock older than the staleness threshold is
// silently overwritten: abandoned locks self-heal because no external
// supervisor exists to clear them.
func (l *Locker) WithLock(ctx context.Context, userID, endpoint string, body func(ctx context.Context) error) error {
	now := l.now()

	acquired, err := l.store.AcquireLock(ctx, userID, endpoint, now, now.Add(-l.staleAfter))
	if err != nil {
		return fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !acquired {
		return &ConflictError{UserID: userID, Endpoint: endpoint}
	}

	defer func() {
		// Release must succeed even when ctx is already cancelled,
		// otherwise a timed-out run leaves the lock to rot until the
		// staleness threshold.
		releaseCtx := context.WithoutCancel(ctx)
		if err := l.store.ReleaseLock(releaseCtx, userID, endpoint); err != nil {
			l.logger.Printf("Warning: failed to release sync lock %s/%s: %v", userID, endpoint, err)
		}
	}()

	return body(ctx)
}
