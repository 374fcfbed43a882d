package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/curlos/statly-backend-sub000/internal/schema"
)

// Heal windows per entity type. Entities modified within the trailing
// window are unconditionally reselected, which self-corrects updates the
// upstream source delivered late or out of order. These are policy
// constants, not derived from data.
const (
	DefaultTaskHealWindow    = 5 * 24 * time.Hour
	DefaultSessionHealWindow = 3 * 24 * time.Hour
)

// Candidate is the minimal view of a fetched entity the selector needs:
// its id and its optional provider-reported modification time.
type Candidate struct {
	ID           string
	ModifiedTime *time.Time
}

// ExistenceFunc answers, for a set of ids, which already exist in the
// store. It must be a bulk id-only query, not a document fetch.
type ExistenceFunc func(ctx context.Context, ids []string) (map[string]bool, error)

// Selector decides which freshly fetched entities must be (re)written
// this run.
type Selector struct {
	// HealWindow is the trailing resync range. Zero disables healing.
	HealWindow time.Duration
}

// Select returns the set of candidate ids needing persistence. A
// candidate is selected when any of:
//
//   - it does not exist in the store yet
//   - it has no modification time (conservatively always dirty)
//   - it was modified at or after the ledger's last sync time
//   - it was modified within the trailing heal window
func (s *Selector) Select(ctx context.Context, ledger *schema.SyncLedgerEntry, candidates []Candidate, now time.Time, exists ExistenceFunc) (map[string]bool, error) {
	selected := make(map[string]bool, len(candidates))
	if len(candidates) == 0 {
		return selected, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	existing, err := exists(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("existence check failed: %w", err)
	}

	healStart := now.Add(-s.HealWindow)

	for _, c := range candidates {
		switch {
		case !existing[c.ID]:
			selected[c.ID] = true
		case c.ModifiedTime == nil:
			selected[c.ID] = true
		case !c.ModifiedTime.Before(ledger.LastSyncTime):
			selected[c.ID] = true
		case s.HealWindow > 0 && !c.ModifiedTime.Before(healStart):
			selected[c.ID] = true
		}
	}

	return selected, nil
}
