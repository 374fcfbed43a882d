package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"

	"github.com/curlos/statly-backend-sub000/internal/store"
)

// ChangedTask carries the current values of a task whose structure or
// content may have changed this run. The propagator diffs these against
// embedded snapshots, so passing an unchanged task is harmless: nothing
// differs, nothing is patched.
type ChangedTask struct {
	Title       string
	ProjectID   string
	AncestorIDs []string
}

// PropagationStore is the slice of the store the propagator needs.
type PropagationStore interface {
	FocusRecordsReferencing(ctx context.Context, userID string, taskIDs []string) ([]store.FocusRecordRef, error)
	PatchFocusSnapshots(ctx context.Context, userID, recordID string, patches []store.SnapshotPatch) error
}

// Propagator pushes task changes into the denormalized snapshots that
// focus records embed.
//
// Snapshots are allowed to be transiently stale between a task changing
// and propagation catching up; a propagation failure widens that window
// but does not corrupt anything, because the next run's heal window
// reselects recently-touched tasks and retries.
type Propagator struct {
	store  PropagationStore
	logger *log.Logger
}

// NewPropagator creates a propagator. If logger is nil, a default logger
// writing to stderr is used.
func NewPropagator(ps PropagationStore, logger *log.Logger) *Propagator {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Propagator{
		store:  ps,
		logger: logger,
	}
}

// Propagate locates every focus record embedding a snapshot of any
// changed task and issues one partial update per affected record,
// rewriting only the fields that actually differ at their snapshot
// index. Returns the number of records patched.
//
// A failed record update is logged and skipped; already-patched records
// are not rolled back.
func (p *Propagator) Propagate(ctx context.Context, userID string, changed map[string]ChangedTask) (int, error) {
	if len(changed) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(changed))
	for id := range changed {
		ids = append(ids, id)
	}

	refs, err := p.store.FocusRecordsReferencing(ctx, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to find records referencing changed tasks: %w", err)
	}

	patched := 0
	for _, ref := range refs {
		var patches []store.SnapshotPatch

		for i, snap := range ref.Snapshots {
			task, ok := changed[snap.TaskID]
			if !ok {
				continue
			}

			patch := store.SnapshotPatch{Index: i}
			dirty := false

			if snap.Title != task.Title {
				title := task.Title
				patch.Title = &title
				dirty = true
			}
			if snap.ProjectID != task.ProjectID {
				projectID := task.ProjectID
				patch.ProjectID = &projectID
				dirty = true
			}
			// Order-sensitive value comparison: a reordered chain is a
			// changed chain.
			if !slices.Equal(snap.AncestorIDs, task.AncestorIDs) {
				patch.AncestorIDs = task.AncestorIDs
				dirty = true
			}

			if dirty {
				patches = append(patches, patch)
			}
		}

		if len(patches) == 0 {
			continue
		}

		if err := p.store.PatchFocusSnapshots(ctx, userID, ref.ID, patches); err != nil {
			p.logger.Printf("Warning: failed to patch snapshots in record %s: %v", ref.ID, err)
			continue
		}
		patched++
	}

	return patched, nil
}
