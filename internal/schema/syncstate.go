package schema

import "time"

// SyncLedgerEntry records per (user, sync type) when the last successful
// run finished. A zero LastSyncTime means "sync everything": entries are
// created lazily on a user's first run, so the selector must treat a
// missing entry the same as one at the epoch.
type SyncLedgerEntry struct {
	UserID   string `json:"userId"`
	SyncType string `json:"syncType"`

	LastSyncTime time.Time `json:"lastSyncTime"`

	// EntitiesUpdated is the operation count reported by the last run.
	// Nil until the first completed run reports one.
	EntitiesUpdated *int `json:"entitiesUpdated,omitempty"`
}

// SyncLockEntry is the advisory lock coordinating at most one in-flight
// sync per (user, endpoint). A lock whose StartedAt is older than the
// staleness threshold is presumed abandoned by a crashed process and may
// be force-acquired.
type SyncLockEntry struct {
	UserID   string `json:"userId"`
	Endpoint string `json:"endpoint"`

	IsInProgress bool      `json:"isInProgress"`
	StartedAt    time.Time `json:"startedAt"`
}

// IsStale reports whether the lock is old enough to be presumed
// abandoned, relative to now.
func (l *SyncLockEntry) IsStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(l.StartedAt) > threshold
}
