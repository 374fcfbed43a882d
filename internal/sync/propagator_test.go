package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curlos/statly-backend-sub000/internal/schema"
	"github.com/curlos/statly-backend-sub000/internal/store"
)

type fakePropagationStore struct {
	refs    []store.FocusRecordRef
	refsErr error

	patchCalls map[string][]store.SnapshotPatch
	patchErr   map[string]error
	queried    []string
}

func newFakePropagationStore(refs ...store.FocusRecordRef) *fakePropagationStore {
	return &fakePropagationStore{
		refs:       refs,
		patchCalls: make(map[string][]store.SnapshotPatch),
		patchErr:   make(map[string]error),
	}
}

func (f *fakePropagationStore) FocusRecordsReferencing(_ context.Context, _ string, taskIDs []string) ([]store.FocusRecordRef, error) {
	f.queried = append(f.queried, taskIDs...)
	return f.refs, f.refsErr
}

func (f *fakePropagationStore) PatchFocusSnapshots(_ context.Context, _, recordID string, patches []store.SnapshotPatch) error {
	if err := f.patchErr[recordID]; err != nil {
		return err
	}
	f.patchCalls[recordID] = patches
	return nil
}

func TestPropagatePatchesOnlyChangedSnapshots(t *testing.T) {
	fs := newFakePropagationStore(store.FocusRecordRef{
		ID: "rec-1",
		Snapshots: []schema.TaskSnapshot{
			{TaskID: "t1", Title: "Old title", ProjectID: "p1", AncestorIDs: []string{"t1"}},
			{TaskID: "t2", Title: "Unchanged", ProjectID: "p1", AncestorIDs: []string{"t2"}},
			{TaskID: "t3", Title: "Moved", ProjectID: "p1", AncestorIDs: []string{"t3"}},
		},
	})

	changed := map[string]ChangedTask{
		"t1": {Title: "New title", ProjectID: "p1", AncestorIDs: []string{"t1"}},
		"t2": {Title: "Unchanged", ProjectID: "p1", AncestorIDs: []string{"t2"}},
		"t3": {Title: "Moved", ProjectID: "p1", AncestorIDs: []string{"t3", "parent"}},
	}

	p := NewPropagator(fs, quietLogger())
	patched, err := p.Propagate(context.Background(), "u1", changed)
	require.NoError(t, err)
	assert.Equal(t, 1, patched)

	patches := fs.patchCalls["rec-1"]
	require.Len(t, patches, 2, "identical snapshot must not be rewritten")

	byIndex := make(map[int]store.SnapshotPatch, len(patches))
	for _, patch := range patches {
		byIndex[patch.Index] = patch
	}

	titlePatch, ok := byIndex[0]
	require.True(t, ok)
	require.NotNil(t, titlePatch.Title)
	assert.Equal(t, "New title", *titlePatch.Title)
	assert.Nil(t, titlePatch.ProjectID, "untouched fields stay out of the patch")
	assert.Nil(t, titlePatch.AncestorIDs)

	chainPatch, ok := byIndex[2]
	require.True(t, ok)
	assert.Nil(t, chainPatch.Title)
	assert.Equal(t, []string{"t3", "parent"}, chainPatch.AncestorIDs)
}

func TestPropagateSkipsUntouchedRecords(t *testing.T) {
	fs := newFakePropagationStore(
		store.FocusRecordRef{
			ID: "rec-dirty",
			Snapshots: []schema.TaskSnapshot{
				{TaskID: "t1", Title: "Stale", AncestorIDs: []string{"t1"}},
			},
		},
		store.FocusRecordRef{
			ID: "rec-clean",
			Snapshots: []schema.TaskSnapshot{
				{TaskID: "t1", Title: "Fresh", AncestorIDs: []string{"t1"}},
			},
		},
	)

	p := NewPropagator(fs, quietLogger())
	patched, err := p.Propagate(context.Background(), "u1", map[string]ChangedTask{
		"t1": {Title: "Fresh", AncestorIDs: []string{"t1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, patched)
	assert.Contains(t, fs.patchCalls, "rec-dirty")
	assert.NotContains(t, fs.patchCalls, "rec-clean")
}

func TestPropagateReorderedChainIsAChange(t *testing.T) {
	fs := newFakePropagationStore(store.FocusRecordRef{
		ID: "rec-1",
		Snapshots: []schema.TaskSnapshot{
			{TaskID: "t1", AncestorIDs: []string{"t1", "a", "b"}},
		},
	})

	p := NewPropagator(fs, quietLogger())
	patched, err := p.Propagate(context.Background(), "u1", map[string]ChangedTask{
		"t1": {AncestorIDs: []string{"t1", "b", "a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, patched)
}

func TestPropagateContinuesPastFailedRecord(t *testing.T) {
	fs := newFakePropagationStore(
		store.FocusRecordRef{
			ID:        "rec-bad",
			Snapshots: []schema.TaskSnapshot{{TaskID: "t1", Title: "old"}},
		},
		store.FocusRecordRef{
			ID:        "rec-good",
			Snapshots: []schema.TaskSnapshot{{TaskID: "t1", Title: "old"}},
		},
	)
	fs.patchErr["rec-bad"] = errors.New("write failed")

	p := NewPropagator(fs, quietLogger())
	patched, err := p.Propagate(context.Background(), "u1", map[string]ChangedTask{
		"t1": {Title: "new"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, patched, "failure on one record must not block the rest")
	assert.Contains(t, fs.patchCalls, "rec-good")
}

func TestPropagateNothingChanged(t *testing.T) {
	fs := newFakePropagationStore()

	p := NewPropagator(fs, quietLogger())
	patched, err := p.Propagate(context.Background(), "u1", nil)
	require.NoError(t, err)

	assert.Zero(t, patched)
	assert.Empty(t, fs.queried, "empty change set must not hit the store")
}

func TestPropagateQueryError(t *testing.T) {
	fs := newFakePropagationStore()
	fs.refsErr = errors.New("store unreachable")

	p := NewPropagator(fs, quietLogger())
	_, err := p.Propagate(context.Background(), "u1", map[string]ChangedTask{"t1": {}})
	require.Error(t, err)
}
