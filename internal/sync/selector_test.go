package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curlos/statly-backend-sub000/internal/schema"
)

func existsFunc(existing map[string]bool, calls *int) ExistenceFunc {
	return func(_ context.Context, ids []string) (map[string]bool, error) {
		*calls++
		out := make(map[string]bool, len(ids))
		for _, id := range ids {
			if existing[id] {
				out[id] = true
			}
		}
		return out, nil
	}
}

func TestSelectPolicy(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	lastSync := now.Add(-24 * time.Hour)

	recent := now.Add(-1 * time.Hour)            // after last sync
	stale := lastSync.Add(-30 * 24 * time.Hour)  // long before everything
	inHeal := now.Add(-2 * 24 * time.Hour)       // before last sync, inside 5d heal
	outside := now.Add(-10 * 24 * time.Hour)     // before last sync, outside heal

	candidates := []Candidate{
		{ID: "missing", ModifiedTime: &stale},   // (a) not in store
		{ID: "no-mtime"},                        // (b) no modified time
		{ID: "recent", ModifiedTime: &recent},   // (c) modified since last sync
		{ID: "healing", ModifiedTime: &inHeal},  // (d) inside heal window
		{ID: "settled", ModifiedTime: &outside}, // none of the above
	}

	existing := map[string]bool{
		"no-mtime": true,
		"recent":   true,
		"healing":  true,
		"settled":  true,
	}

	ledger := &schema.SyncLedgerEntry{UserID: "u1", SyncType: "ticktick", LastSyncTime: lastSync}
	s := &Selector{HealWindow: 5 * 24 * time.Hour}

	calls := 0
	selected, err := s.Select(context.Background(), ledger, candidates, now, existsFunc(existing, &calls))
	require.NoError(t, err)

	assert.True(t, selected["missing"])
	assert.True(t, selected["no-mtime"])
	assert.True(t, selected["recent"])
	assert.True(t, selected["healing"])
	assert.False(t, selected["settled"])
	assert.Equal(t, 1, calls, "existence check must be a single bulk query")
}

func TestSelectFirstRunSelectsEverything(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	old := now.Add(-365 * 24 * time.Hour)

	candidates := []Candidate{
		{ID: "a", ModifiedTime: &old},
		{ID: "b"},
	}

	// Lazy ledger: zero LastSyncTime means sync everything, even
	// entities that already exist with ancient modification times.
	ledger := &schema.SyncLedgerEntry{UserID: "u1", SyncType: "ticktick"}
	s := &Selector{HealWindow: DefaultTaskHealWindow}

	calls := 0
	selected, err := s.Select(context.Background(), ledger, candidates, now, existsFunc(map[string]bool{"a": true, "b": true}, &calls))
	require.NoError(t, err)

	assert.Len(t, selected, 2)
}

func TestSelectEmpty(t *testing.T) {
	s := &Selector{HealWindow: DefaultTaskHealWindow}
	calls := 0

	selected, err := s.Select(context.Background(), &schema.SyncLedgerEntry{}, nil, time.Now(), existsFunc(nil, &calls))
	require.NoError(t, err)
	assert.Empty(t, selected)
	assert.Zero(t, calls, "no candidates means no store round-trip")
}
