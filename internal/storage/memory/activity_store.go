package memory

import (
	"context"
	"sync"

	"github.com/SF-300/vigilant-disco/internal/store"
)

// ActivityStore keeps the activity log and exported notes in memory.
type ActivityStore struct {
	mu       sync.RWMutex
	activity []store.Activity
	notes    map[string]store.ExportedNote
	order    []string
}

var (
	_ store.ActivityRepository = (*ActivityStore)(nil)
	_ store.NoteRepository     = (*ActivityStore)(nil)
)

// NewActivityStore constructs an empty ActivityStore.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{notes: make(map[string]store.ExportedNote)}
}

// AppendActivity appends batch in order.
func (s *ActivityStore) AppendActivity(_ context.Context, batch []store.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, batch...)
	return nil
}

// ListActivity returns events newest first. An empty stage matches all.
func (s *ActivityStore) ListActivity(_ context.Context, stage string, limit, offset int) ([]store.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Activity
	skipped := 0
	for i := len(s.activity) - 1; i >= 0; i-- {
		a := s.activity[i]
		if stage != "" && a.Stage != stage {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, a)
	}
	return out, nil
}

// InsertNotes records notes, ignoring IDs already present.
func (s *ActivityStore) InsertNotes(_ context.Context, notes []store.ExportedNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range notes {
		if _, ok := s.notes[n.NoteID]; ok {
			continue
		}
		s.notes[n.NoteID] = n
		s.order = append(s.order, n.NoteID)
	}
	return nil
}

// Notes returns exported notes in insertion order.
func (s *ActivityStore) Notes() []store.ExportedNote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ExportedNote, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.notes[id])
	}
	return out
}
