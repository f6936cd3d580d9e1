package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func doc(id string, at time.Time) Document {
	return Document{ID: id, UpdatedAt: at, Fields: map[string][]string{"authorId": {"a"}}}
}

func TestChangesetFoldsModifyIntoPendingAdd(t *testing.T) {
	now := time.Now()
	cs := NewChangeset()

	cs.Apply(DocEvent{Kind: ChangeAdded, Doc: doc("q1", now)})
	cs.Apply(DocEvent{Kind: ChangeModified, Doc: doc("q1", now.Add(time.Second))})

	require.Len(t, cs.Added, 1)
	require.Empty(t, cs.Modified)
	require.Equal(t, now.Add(time.Second), cs.Added["q1"].UpdatedAt)
}

func TestChangesetRemovalSupersedes(t *testing.T) {
	now := time.Now()
	cs := NewChangeset()

	cs.Apply(DocEvent{Kind: ChangeAdded, Doc: doc("q1", now)})
	cs.Apply(DocEvent{Kind: ChangeModified, Doc: doc("q2", now)})
	cs.Apply(DocEvent{Kind: ChangeRemoved, Doc: doc("q1", now.Add(time.Second))})
	cs.Apply(DocEvent{Kind: ChangeRemoved, Doc: doc("q2", now.Add(time.Second))})

	require.Empty(t, cs.Added)
	require.Empty(t, cs.Modified)
	require.Len(t, cs.Removed, 2)
}

func TestChangesetPrefersMostRecentWrite(t *testing.T) {
	now := time.Now()
	cs := NewChangeset()

	cs.Apply(DocEvent{Kind: ChangeModified, Doc: doc("q1", now.Add(time.Second))})
	// a stale observation from another chunk must not win
	cs.Apply(DocEvent{Kind: ChangeModified, Doc: doc("q1", now)})

	require.Equal(t, now.Add(time.Second), cs.Modified["q1"].UpdatedAt)
}

func TestQueryChunking(t *testing.T) {
	ids := make([]string, 23)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	q := Query{Collection: CollectionQuickies, Field: "authorId", In: ids}

	chunks := q.Chunk()
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0].In, 10)
	require.Len(t, chunks[1].In, 10)
	require.Len(t, chunks[2].In, 3)
	for _, c := range chunks {
		require.NoError(t, c.Validate())
	}

	require.Error(t, q.Validate())
	require.ErrorIs(t, q.Validate(), ErrInClauseTooLarge)
}

func TestQueryMatchesMultiValuedField(t *testing.T) {
	q := Query{Collection: CollectionQuickies, Field: "tag", In: []string{"golang", "news"}}

	require.True(t, q.Matches(map[string][]string{"tag": {"cooking", "golang"}}))
	require.False(t, q.Matches(map[string][]string{"tag": {"cooking"}}))
	require.False(t, q.Matches(map[string][]string{"authorId": {"golang"}}))
}
