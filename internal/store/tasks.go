package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/curlos/statly-backend-sub000/internal/schema"
)

// ExistingTaskIDs reports which of the given ids already exist for the
// user. This is the bulk existence check used by the change selector: it
// fetches only ids, never full rows, so cost scales with the id list and
// not with document size.
func (s *Store) ExistingTaskIDs(ctx context.Context, userID string, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	// SQLite caps bound parameters per statement, so chunk large id
	// lists rather than building one enormous IN clause.
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

		query := fmt.Sprintf(`SELECT id FROM tasks WHERE user_id = ? AND id IN (%s)`, placeholders)
		rows, err := s.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query existing task ids: %w", err)
		}

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan task id: %w", err)
			}
			existing[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to iterate task ids: %w", err)
		}
		rows.Close()
	}

	return existing, nil
}

// UpsertTasks writes a batch of tasks in one transaction.
//
// Every write is an idempotent upsert keyed by (user_id, id), so retrying
// a batch after a partial failure is safe. The DO UPDATE clause is
// guarded on content fields: a task whose stored content already matches
// the incoming one counts as matched rather than modified, which is what
// makes the idempotence property observable in the returned counts.
func (s *Store) UpsertTasks(ctx context.Context, tasks []*schema.Task) (UpsertCounts, error) {
	var counts UpsertCounts
	if len(tasks) == 0 {
		return counts, nil
	}

	userID := tasks[0].UserID
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		if err := task.Validate(); err != nil {
			return counts, fmt.Errorf("invalid task %s: %w", task.ID, err)
		}
		if task.UserID != userID {
			return counts, fmt.Errorf("task %s belongs to a different user", task.ID)
		}
		ids[i] = task.ID
	}

	existing, err := s.ExistingTaskIDs(ctx, userID, ids)
	if err != nil {
		return counts, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO tasks (
		user_id, id, source, title, project_id, parent_id,
		ancestor_ids, modified_time, synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, id) DO UPDATE SET
		source = excluded.source,
		title = excluded.title,
		project_id = excluded.project_id,
		parent_id = excluded.parent_id,
		ancestor_ids = excluded.ancestor_ids,
		modified_time = excluded.modified_time,
		synced_at = excluded.synced_at
	WHERE tasks.title IS NOT excluded.title
	   OR tasks.project_id IS NOT excluded.project_id
	   OR tasks.parent_id IS NOT excluded.parent_id
	   OR tasks.ancestor_ids IS NOT excluded.ancestor_ids
	   OR tasks.modified_time IS NOT excluded.modified_time
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return counts, fmt.Errorf("failed to prepare task upsert: %w", err)
	}
	defer stmt.Close()

	for _, task := range tasks {
		ancestorsJSON, err := json.Marshal(task.AncestorIDs)
		if err != nil {
			// The deferred rollback discards everything written so far,
			// so partially accumulated counts must not escape.
			return UpsertCounts{}, fmt.Errorf("failed to marshal ancestor ids for %s: %w", task.ID, err)
		}

		res, err := stmt.ExecContext(ctx,
			task.UserID,
			task.ID,
			task.Source,
			task.Title,
			stringToNull(task.ProjectID),
			stringToNull(task.ParentID),
			string(ancestorsJSON),
			timeToNullString(task.ModifiedTime),
			formatTime(task.SyncedAt),
		)
		if err != nil {
			return UpsertCounts{}, fmt.Errorf("failed to upsert task %s: %w", task.ID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return UpsertCounts{}, fmt.Errorf("failed to read rows affected for %s: %w", task.ID, err)
		}

		switch {
		case !existing[task.ID]:
			counts.Created++
		case affected > 0:
			counts.Modified++
		default:
			counts.Matched++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertCounts{}, fmt.Errorf("failed to commit task batch: %w", err)
	}

	return counts, nil
}

// GetTaskByID retrieves a single task, or nil if it doesn't exist.
func (s *Store) GetTaskByID(ctx context.Context, userID, id string) (*schema.Task, error) {
	query := `
	SELECT user_id, id, source, title, project_id, parent_id,
	       ancestor_ids, modified_time, synced_at
	FROM tasks WHERE user_id = ? AND id = ?
	`

	row := s.conn.QueryRowContext(ctx, query, userID, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return task, nil
}

// ListTasks returns all tasks for a user, unordered.
func (s *Store) ListTasks(ctx context.Context, userID string) ([]*schema.Task, error) {
	query := `
	SELECT user_id, id, source, title, project_id, parent_id,
	       ancestor_ids, modified_time, synced_at
	FROM tasks WHERE user_id = ?
	`

	rows, err := s.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*schema.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return tasks, nil
}

// TaskCount returns the number of tasks stored for a user.
func (s *Store) TaskCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*schema.Task, error) {
	var (
		task          schema.Task
		projectID     sql.NullString
		parentID      sql.NullString
		ancestorsJSON string
		modifiedTime  sql.NullString
		syncedAt      string
	)

	err := row.Scan(
		&task.UserID,
		&task.ID,
		&task.Source,
		&task.Title,
		&projectID,
		&parentID,
		&ancestorsJSON,
		&modifiedTime,
		&syncedAt,
	)
	if err != nil {
		return nil, err
	}

	task.ProjectID = projectID.String
	task.ParentID = parentID.String
	task.ModifiedTime = nullStringToTime(modifiedTime)

	if err := json.Unmarshal([]byte(ancestorsJSON), &task.AncestorIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ancestor ids: %w", err)
	}

	t, err := parseTime(syncedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse synced_at: %w", err)
	}
	task.SyncedAt = t

	return &task, nil
}
