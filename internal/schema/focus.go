package schema

import (
	"fmt"
	"time"
)

// TaskSnapshot is the denormalized copy of a task embedded in a focus
// record. It carries the interval-specific duration alongside the task
// fields needed to render the record without a join.
type TaskSnapshot struct {
	TaskID      string   `json:"taskId"`
	Title       string   `json:"title"`
	ProjectID   string   `json:"projectId,omitempty"`
	AncestorIDs []string `json:"ancestorIds"`
	DurationSec int64    `json:"durationSec"`
}

// FocusRecord is a time-tracked focus session covering the half-open
// interval [StartTime, EndTime). CrossesMidnight is computed at write
// time in the user's timezone so read paths can bucket records by local
// calendar day without redoing timezone math.
type FocusRecord struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Source string `json:"source"`

	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	CrossesMidnight bool      `json:"crossesMidnight"`

	Tasks []TaskSnapshot `json:"tasks"`

	SyncedAt time.Time `json:"syncedAt"`
}

// Validate checks that the FocusRecord has the fields the store requires.
func (r *FocusRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if r.Source == "" {
		return fmt.Errorf("source is required")
	}
	if r.StartTime.IsZero() || r.EndTime.IsZero() {
		return fmt.Errorf("startTime and endTime are required")
	}
	if !r.EndTime.After(r.StartTime) {
		return fmt.Errorf("endTime must be after startTime")
	}
	for i, snap := range r.Tasks {
		if snap.TaskID == "" {
			return fmt.Errorf("tasks[%d].taskId is required", i)
		}
		if snap.DurationSec < 0 {
			return fmt.Errorf("tasks[%d].durationSec must not be negative", i)
		}
	}
	return nil
}

// Duration returns the total interval length.
func (r *FocusRecord) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
