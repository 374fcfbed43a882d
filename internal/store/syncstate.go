package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/curlos/statly-backend-sub000/internal/schema"
)

// GetLedger returns the sync ledger entry for (userID, syncType).
//
// Entries are created lazily: a user who has never synced gets an entry
// with a zero LastSyncTime, which the selector reads as "sync
// everything". Nothing is written here.
func (s *Store) GetLedger(ctx context.Context, userID, syncType string) (*schema.SyncLedgerEntry, error) {
	query := `
	SELECT last_sync_time, entities_updated
	FROM sync_ledger WHERE user_id = ? AND sync_type = ?
	`

	entry := &schema.SyncLedgerEntry{
		UserID:   userID,
		SyncType: syncType,
	}

	var (
		lastSync string
		updated  sql.NullInt64
	)
	err := s.conn.QueryRowContext(ctx, query, userID, syncType).Scan(&lastSync, &updated)
	if err == sql.ErrNoRows {
		return entry, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync ledger for %s/%s: %w", userID, syncType, err)
	}

	if entry.LastSyncTime, err = parseTime(lastSync); err != nil {
		return nil, fmt.Errorf("failed to parse last_sync_time: %w", err)
	}
	if updated.Valid {
		n := int(updated.Int64)
		entry.EntitiesUpdated = &n
	}

	return entry, nil
}

// CommitLedger overwrites the ledger entry for (userID, syncType) with
// the given sync time and operation count, creating it if needed.
func (s *Store) CommitLedger(ctx context.Context, userID, syncType string, syncTime time.Time, entitiesUpdated int) error {
	query := `
	INSERT INTO sync_ledger (user_id, sync_type, last_sync_time, entities_updated)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id, sync_type) DO UPDATE SET
		last_sync_time = excluded.last_sync_time,
		entities_updated = excluded.entities_updated
	`

	_, err := s.conn.ExecContext(ctx, query, userID, syncType, formatTime(syncTime), entitiesUpdated)
	if err != nil {
		return fmt.Errorf("failed to commit sync ledger for %s/%s: %w", userID, syncType, err)
	}
	return nil
}

// AcquireLock attempts to take the sync lock for (userID, endpoint).
//
// This is a single guarded upsert, not a read followed by a write: two
// processes racing on the same key cannot both observe "not in progress"
// because the conflict clause only fires when the existing row is idle
// or stale. Returns false when the lock is held and fresh.
//
// staleBefore is the cutoff for crash recovery: a lock whose started_at
// is older than it is presumed abandoned and silently overwritten.
func (s *Store) AcquireLock(ctx context.Context, userID, endpoint string, now, staleBefore time.Time) (bool, error) {
	query := `
	INSERT INTO sync_locks (user_id, endpoint, in_progress, started_at)
	VALUES (?, ?, 1, ?)
	ON CONFLICT(user_id, endpoint) DO UPDATE SET
		in_progress = 1,
		started_at = excluded.started_at
	WHERE sync_locks.in_progress = 0
	   OR sync_locks.started_at < ?
	`

	res, err := s.conn.ExecContext(ctx, query, userID, endpoint, formatTime(now), formatTime(staleBefore))
	if err != nil {
		return false, fmt.Errorf("failed to acquire sync lock for %s/%s: %w", userID, endpoint, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lock acquire result: %w", err)
	}

	return affected > 0, nil
}

// ReleaseLock marks the lock for (userID, endpoint) idle. Idempotent:
// releasing an already-idle or missing lock is not an error.
func (s *Store) ReleaseLock(ctx context.Context, userID, endpoint string) error {
	query := `UPDATE sync_locks SET in_progress = 0 WHERE user_id = ? AND endpoint = ?`

	if _, err := s.conn.ExecContext(ctx, query, userID, endpoint); err != nil {
		return fmt.Errorf("failed to release sync lock for %s/%s: %w", userID, endpoint, err)
	}
	return nil
}

// GetLock returns the lock entry for (userID, endpoint), or nil if none
// exists yet.
func (s *Store) GetLock(ctx context.Context, userID, endpoint string) (*schema.SyncLockEntry, error) {
	query := `
	SELECT in_progress, started_at
	FROM sync_locks WHERE user_id = ? AND endpoint = ?
	`

	var (
		inProgress int
		startedAt  string
	)
	err := s.conn.QueryRowContext(ctx, query, userID, endpoint).Scan(&inProgress, &startedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync lock for %s/%s: %w", userID, endpoint, err)
	}

	entry := &schema.SyncLockEntry{
		UserID:       userID,
		Endpoint:     endpoint,
		IsInProgress: inProgress != 0,
	}
	if entry.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	return entry, nil
}
