package schema

import (
	"fmt"
	"time"
)

// Task is a normalized provider task owned by the reconciliation engine.
// Tasks are only ever written by sync runs; deletion is handled elsewhere.
type Task struct {
	// ===== Identity =====
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Source string `json:"source"` // provider that produced this task

	// ===== Content =====
	Title     string `json:"title"`
	ProjectID string `json:"projectId,omitempty"`

	// ===== Hierarchy =====
	ParentID string `json:"parentId,omitempty"`

	// AncestorIDs is the ordered chain [self, parent, ..., root].
	// Derived by the resolver at sync time, never authoritative.
	AncestorIDs []string `json:"ancestorIds"`

	// ===== Timestamps =====
	// ModifiedTime is the provider-reported modification time. Nil means
	// the provider did not report one; such tasks are always resynced.
	ModifiedTime *time.Time `json:"modifiedTime,omitempty"`
	SyncedAt     time.Time  `json:"syncedAt"`
}

// Validate checks that the Task has the fields the store requires.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if t.Source == "" {
		return fmt.Errorf("source is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.AncestorIDs) == 0 || t.AncestorIDs[0] != t.ID {
		return fmt.Errorf("ancestorIds must start with the task's own id")
	}
	return nil
}

// AncestorSet returns a membership map over the ancestor chain, used for
// descendant-inclusion queries. The task's own id is included.
func (t *Task) AncestorSet() map[string]bool {
	set := make(map[string]bool, len(t.AncestorIDs))
	for _, id := range t.AncestorIDs {
		set[id] = true
	}
	return set
}
