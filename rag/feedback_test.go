package rag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedbackRecorder_RecordBySnapshotID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	store := NewMemoryStore(MemoryStoreConfig{}, nil)
	require.NoError(t, store.InsertSnapshot(ctx, testSnapshot("snap-1", "https://app.example.com/login", base)))

	recorder := NewFeedbackRecorder(store, nil)
	result := recorder.Record(ctx, OutcomeRef{SnapshotID: "snap-1"}, "#submit", true)

	assert.Equal(t, RecordStatusRecorded, result.Status)
	assert.Equal(t, "snap-1", result.SnapshotID)

	snap, err := store.SnapshotByID(ctx, "snap-1")
	require.NoError(t, err)
	assert.Len(t, snap.Structure.Elements[1].Outcomes, 1)
}

func TestFeedbackRecorder_ResolvesURLToLatestSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	url := "https://app.example.com/login"

	store := NewMemoryStore(MemoryStoreConfig{}, nil)
	require.NoError(t, store.InsertSnapshot(ctx, testSnapshot("old", url, base)))
	require.NoError(t, store.InsertSnapshot(ctx, testSnapshot("new", url, base.Add(time.Hour))))

	recorder := NewFeedbackRecorder(store, nil)
	result := recorder.Record(ctx, OutcomeRef{URL: url}, "#submit", true)

	assert.Equal(t, RecordStatusRecorded, result.Status)
	assert.Equal(t, "new", result.SnapshotID)

	// 旧快照不被触及
	old, err := store.SnapshotByID(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, old.Structure.Elements[1].Outcomes)
}

func TestFeedbackRecorder_DuplicateReportsAccumulate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	store := NewMemoryStore(MemoryStoreConfig{}, nil)
	require.NoError(t, store.InsertSnapshot(ctx, testSnapshot("snap-1", "https://app.example.com/login", base)))

	recorder := NewFeedbackRecorder(store, nil)
	// 同一结果上报两次记两次尝试
	recorder.Record(ctx, OutcomeRef{SnapshotID: "snap-1"}, "#submit", true)
	recorder.Record(ctx, OutcomeRef{SnapshotID: "snap-1"}, "#submit", true)

	snap, err := store.SnapshotByID(ctx, "snap-1")
	require.NoError(t, err)
	assert.Len(t, snap.Structure.Elements[1].Outcomes, 2)
}

func TestFeedbackRecorder_SoftStatuses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	store := NewMemoryStore(MemoryStoreConfig{}, nil)
	require.NoError(t, store.InsertSnapshot(ctx, testSnapshot("snap-1", "https://app.example.com/login", base)))
	recorder := NewFeedbackRecorder(store, nil)

	tests := []struct {
		name     string
		ref      OutcomeRef
		selector string
		want     RecordStatus
	}{
		{name: "unknown snapshot", ref: OutcomeRef{SnapshotID: "missing"}, selector: "#submit", want: RecordStatusNotFound},
		{name: "unknown url", ref: OutcomeRef{URL: "https://other.example.com"}, selector: "#submit", want: RecordStatusNotFound},
		{name: "unknown selector", ref: OutcomeRef{SnapshotID: "snap-1"}, selector: "#nope", want: RecordStatusNotFound},
		{name: "empty ref", ref: OutcomeRef{}, selector: "#submit", want: RecordStatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := recorder.Record(ctx, tt.ref, tt.selector, true)
			assert.Equal(t, tt.want, result.Status)
		})
	}
}

func TestFeedbackRecorder_StoreFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	recorder := NewFeedbackRecorder(failingStore{}, nil)
	result := recorder.Record(context.Background(), OutcomeRef{SnapshotID: "snap-1"}, "#submit", true)
	assert.Equal(t, RecordStatusUnavailable, result.Status)

	result = recorder.Record(context.Background(), OutcomeRef{URL: "https://app.example.com"}, "#submit", true)
	assert.Equal(t, RecordStatusUnavailable, result.Status)
}
