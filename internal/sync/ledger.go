package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/curlos/statly-backend-sub000/internal/schema"
)

// LedgerStore is the slice of the store the ledger needs.
type LedgerStore interface {
	GetLedger(ctx context.Context, userID, syncType string) (*schema.SyncLedgerEntry, error)
	CommitLedger(ctx context.Context, userID, syncType string, syncTime time.Time, entitiesUpdated int) error
}

// Ledger tracks per (user, sync type) when the last run completed. The
// selector reads it to bound incremental selection; the engine commits
// it after every run that obtained a provider snapshot, success or
// partial failure alike. Entries are never deleted.
type Ledger struct {
	store LedgerStore
}

// NewLedger creates a ledger over the given store.
func NewLedger(ls LedgerStore) *Ledger {
	return &Ledger{store: ls}
}

// Get returns the entry for (userID, syncType). First-time pairs get an
// entry with a zero LastSyncTime, meaning "sync everything".
func (l *Ledger) Get(ctx context.Context, userID, syncType string) (*schema.SyncLedgerEntry, error) {
	entry, err := l.store.GetLedger(ctx, userID, syncType)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync ledger: %w", err)
	}
	return entry, nil
}

// Commit overwrites the entry with the given sync time and the number of
// entities the run updated.
func (l *Ledger) Commit(ctx context.Context, userID, syncType string, syncTime time.Time, entitiesUpdated int) error {
	if entitiesUpdated < 0 {
		entitiesUpdated = 0
	}
	if err := l.store.CommitLedger(ctx, userID, syncType, syncTime, entitiesUpdated); err != nil {
		return fmt.Errorf("failed to commit sync ledger: %w", err)
	}
	return nil
}
