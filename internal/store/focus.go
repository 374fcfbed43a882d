package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/curlos/statly-backend-sub000/internal/schema"
)

// FocusRecordRef is the projection returned by FocusRecordsReferencing:
// the record id plus its embedded snapshot array, nothing else. The
// propagator only needs enough to diff snapshots and address them by
// index, so the full record is never fetched.
type FocusRecordRef struct {
	ID        string
	Snapshots []schema.TaskSnapshot
}

// SnapshotPatch describes the differing fields of one embedded snapshot,
// addressed by its position in the record's snapshot array. Nil pointer
// fields are left untouched.
type SnapshotPatch struct {
	Index       int
	Title       *string
	ProjectID   *string
	AncestorIDs []string
}

// ExistingFocusRecordIDs reports which of the given record ids already
// exist for the user. Same bulk shape as ExistingTaskIDs.
func (s *Store) ExistingFocusRecordIDs(ctx context.Context, userID string, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	const chunkSize = 500
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, userID)
		for _, id := range chunk {
			args = append(args, id)
		}

		query := fmt.Sprintf(`SELECT id FROM focus_records WHERE user_id = ? AND id IN (%s)`, placeholders)
		rows, err := s.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query existing focus record ids: %w", err)
		}

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan focus record id: %w", err)
			}
			existing[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to iterate focus record ids: %w", err)
		}
		rows.Close()
	}

	return existing, nil
}

// UpsertFocusRecords writes a batch of focus records in one transaction.
// Same guarded-upsert contract as UpsertTasks: idempotent on natural key,
// content-identical rows count as matched.
func (s *Store) UpsertFocusRecords(ctx context.Context, records []*schema.FocusRecord) (UpsertCounts, error) {
	var counts UpsertCounts
	if len(records) == 0 {
		return counts, nil
	}

	userID := records[0].UserID
	ids := make([]string, len(records))
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return counts, fmt.Errorf("invalid focus record %s: %w", rec.ID, err)
		}
		if rec.UserID != userID {
			return counts, fmt.Errorf("focus record %s belongs to a different user", rec.ID)
		}
		ids[i] = rec.ID
	}

	existing, err := s.ExistingFocusRecordIDs(ctx, userID, ids)
	if err != nil {
		return counts, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO focus_records (
		user_id, id, source, start_time, end_time,
		crosses_midnight, tasks, synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, id) DO UPDATE SET
		source = excluded.source,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		crosses_midnight = excluded.crosses_midnight,
		tasks = excluded.tasks,
		synced_at = excluded.synced_at
	WHERE focus_records.start_time IS NOT excluded.start_time
	   OR focus_records.end_time IS NOT excluded.end_time
	   OR focus_records.crosses_midnight IS NOT excluded.crosses_midnight
	   OR focus_records.tasks IS NOT excluded.tasks
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return counts, fmt.Errorf("failed to prepare focus record upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		tasksJSON, err := json.Marshal(rec.Tasks)
		if err != nil {
			// The deferred rollback discards everything written so far,
			// so partially accumulated counts must not escape.
			return UpsertCounts{}, fmt.Errorf("failed to marshal snapshots for %s: %w", rec.ID, err)
		}

		crosses := 0
		if rec.CrossesMidnight {
			crosses = 1
		}

		res, err := stmt.ExecContext(ctx,
			rec.UserID,
			rec.ID,
			rec.Source,
			formatTime(rec.StartTime),
			formatTime(rec.EndTime),
			crosses,
			string(tasksJSON),
			formatTime(rec.SyncedAt),
		)
		if err != nil {
			return UpsertCounts{}, fmt.Errorf("failed to upsert focus record %s: %w", rec.ID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return UpsertCounts{}, fmt.Errorf("failed to read rows affected for %s: %w", rec.ID, err)
		}

		switch {
		case !existing[rec.ID]:
			counts.Created++
		case affected > 0:
			counts.Modified++
		default:
			counts.Matched++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertCounts{}, fmt.Errorf("failed to commit focus record batch: %w", err)
	}

	return counts, nil
}

// FocusRecordsReferencing returns every focus record whose embedded
// snapshot array references any of the given task ids. This is the
// propagator's "array contains any" query: it walks the snapshots JSON
// column with json_each and projects only id + snapshots.
//
// The id list is chunked like ExistingTaskIDs so a large changed-task
// set never exceeds the SQL variable cap; a record referencing ids in
// more than one chunk is returned once.
func (s *Store) FocusRecordsReferencing(ctx context.Context, userID string, taskIDs []string) ([]FocusRecordRef, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}

	const chunkSize = 500
	var refs []FocusRecordRef
	seen := make(map[string]bool)

	for start := 0; start < len(taskIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(taskIDs) {
			end = len(taskIDs)
		}
		chunk := taskIDs[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, userID)
		for _, id := range chunk {
			args = append(args, id)
		}

		query := fmt.Sprintf(`
		SELECT id, tasks FROM focus_records
		WHERE user_id = ?
		  AND EXISTS (
			SELECT 1 FROM json_each(focus_records.tasks) AS snap
			WHERE json_extract(snap.value, '$.taskId') IN (%s)
		  )
		`, placeholders)

		rows, err := s.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query focus records referencing tasks: %w", err)
		}

		for rows.Next() {
			var (
				ref       FocusRecordRef
				tasksJSON string
			)
			if err := rows.Scan(&ref.ID, &tasksJSON); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan focus record ref: %w", err)
			}
			if seen[ref.ID] {
				continue
			}
			if err := json.Unmarshal([]byte(tasksJSON), &ref.Snapshots); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to unmarshal snapshots for %s: %w", ref.ID, err)
			}
			seen[ref.ID] = true
			refs = append(refs, ref)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to iterate focus record refs: %w", err)
		}
		rows.Close()
	}

	return refs, nil
}

// PatchFocusSnapshots applies all snapshot patches for one focus record
// as a single partial update. Each patch rewrites only its differing
// fields at its array index via json_set; untouched snapshots and fields
// are never rewritten, so write amplification stays at one operation per
// record no matter how many snapshots changed.
func (s *Store) PatchFocusSnapshots(ctx context.Context, userID, recordID string, patches []SnapshotPatch) error {
	if len(patches) == 0 {
		return nil
	}

	var (
		setArgs []any
		paths   []string
	)
	for _, p := range patches {
		if p.Title != nil {
			paths = append(paths, fmt.Sprintf("'$[%d].title', ?", p.Index))
			setArgs = append(setArgs, *p.Title)
		}
		if p.ProjectID != nil {
			paths = append(paths, fmt.Sprintf("'$[%d].projectId', ?", p.Index))
			setArgs = append(setArgs, *p.ProjectID)
		}
		if p.AncestorIDs != nil {
			ancestorsJSON, err := json.Marshal(p.AncestorIDs)
			if err != nil {
				return fmt.Errorf("failed to marshal ancestor ids patch: %w", err)
			}
			paths = append(paths, fmt.Sprintf("'$[%d].ancestorIds', json(?)", p.Index))
			setArgs = append(setArgs, string(ancestorsJSON))
		}
	}
	if len(paths) == 0 {
		return nil
	}

	query := fmt.Sprintf(`UPDATE focus_records SET tasks = json_set(tasks, %s) WHERE user_id = ? AND id = ?`,
		strings.Join(paths, ", "))
	setArgs = append(setArgs, userID, recordID)

	if _, err := s.conn.ExecContext(ctx, query, setArgs...); err != nil {
		return fmt.Errorf("failed to patch snapshots for %s: %w", recordID, err)
	}

	return nil
}

// GetFocusRecordByID retrieves a single focus record, or nil if it
// doesn't exist.
func (s *Store) GetFocusRecordByID(ctx context.Context, userID, id string) (*schema.FocusRecord, error) {
	query := `
	SELECT user_id, id, source, start_time, end_time,
	       crosses_midnight, tasks, synced_at
	FROM focus_records WHERE user_id = ? AND id = ?
	`

	var (
		rec       schema.FocusRecord
		startTime string
		endTime   string
		crosses   int
		tasksJSON string
		syncedAt  string
	)

	err := s.conn.QueryRowContext(ctx, query, userID, id).Scan(
		&rec.UserID,
		&rec.ID,
		&rec.Source,
		&startTime,
		&endTime,
		&crosses,
		&tasksJSON,
		&syncedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get focus record %s: %w", id, err)
	}

	if rec.StartTime, err = parseTime(startTime); err != nil {
		return nil, fmt.Errorf("failed to parse start_time: %w", err)
	}
	if rec.EndTime, err = parseTime(endTime); err != nil {
		return nil, fmt.Errorf("failed to parse end_time: %w", err)
	}
	if rec.SyncedAt, err = parseTime(syncedAt); err != nil {
		return nil, fmt.Errorf("failed to parse synced_at: %w", err)
	}
	rec.CrossesMidnight = crosses != 0

	if err := json.Unmarshal([]byte(tasksJSON), &rec.Tasks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshots: %w", err)
	}

	return &rec, nil
}
