package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SF-300/vigilant-disco/internal/store"
)

// TestActivityStoreListsNewestFirst covers stage filtering and paging.
func TestActivityStoreListsNewestFirst(t *testing.T) {
	t.Parallel()

	s := NewActivityStore()
	base := time.Unix(1700000000, 0).UTC()
	require.NoError(t, s.AppendActivity(context.Background(), []store.Activity{
		{Stage: "extraction", Text: "one", At: base},
		{Stage: "export", Text: "two", At: base.Add(time.Second)},
		{Stage: "extraction", Text: "three", At: base.Add(2 * time.Second)},
	}))

	all, err := s.ListActivity(context.Background(), "", 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"three", "two", "one"}, texts(all))

	ext, err := s.ListActivity(context.Background(), "extraction", 1, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"one"}, texts(ext))
}

// TestActivityStoreNotesDeduplicate ensures repeated note IDs are ignored.
func TestActivityStoreNotesDeduplicate(t *testing.T) {
	t.Parallel()

	s := NewActivityStore()
	n := store.ExportedNote{NoteID: "p1", Kind: "Meaning"}
	require.NoError(t, s.InsertNotes(context.Background(), []store.ExportedNote{n, n}))
	require.NoError(t, s.InsertNotes(context.Background(), []store.ExportedNote{{NoteID: "p2"}}))
	notes := s.Notes()
	require.Len(t, notes, 2)
	require.Equal(t, "p1", notes[0].NoteID)
}

func texts(in []store.Activity) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		out = append(out, a.Text)
	}
	return out
}
