package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassageID_Deterministic(t *testing.T) {
	a := PassageID("file-abc", "the measurement problem")
	b := PassageID("file-abc", "the measurement problem")
	assert.Equal(t, a, b, "same (file, text) yields the same id")

	assert.NotEqual(t, a, PassageID("file-xyz", "the measurement problem"),
		"different file changes the id")
	assert.NotEqual(t, a, PassageID("file-abc", "a different passage"),
		"different text changes the id")
}

func TestUpsertPassage_StableAcrossRuns(t *testing.T) {
	ctx := context.Background()

	st1 := newTestStore(t)
	id1, err := st1.UpsertPassage(ctx, "file-abc", "supply curves slope upward")
	require.NoError(t, err)

	// A different database, as after a re-index from scratch.
	st2 := newTestStore(t)
	id2, err := st2.UpsertPassage(ctx, "file-abc", "supply curves slope upward")
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "citations survive re-indexing")
}

func TestUpsertPassage_RefreshesLastSeen(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	id, err := st.UpsertPassage(ctx, "file-abc", "text")
	require.NoError(t, err)

	again, err := st.UpsertPassage(ctx, "file-abc", "text")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	var n int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM passages`).Scan(&n))
	assert.Equal(t, 1, n, "re-sighting never duplicates")
}

func TestMarkPassagesStale(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	id, err := st.UpsertPassage(ctx, "file-abc", "text")
	require.NoError(t, err)
	other, err := st.UpsertPassage(ctx, "file-xyz", "text")
	require.NoError(t, err)

	require.NoError(t, st.MarkPassagesStale(ctx, "file-abc"))

	p, err := st.ReadPassage(ctx, id)
	require.NoError(t, err)
	assert.True(t, p.Stale)

	q, err := st.ReadPassage(ctx, other)
	require.NoError(t, err)
	assert.False(t, q.Stale, "other files untouched")
}
