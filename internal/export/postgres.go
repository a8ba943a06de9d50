package export

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/SF-300/vigilant-disco/internal/cards"
	"github.com/SF-300/vigilant-disco/internal/store"
)

// RepositoryTarget inserts protonotes into a NoteRepository.
type RepositoryTarget struct {
	repo store.NoteRepository
	deck string
	now  func() time.Time
}

// NewRepositoryTarget builds the postgres target around repo.
func NewRepositoryTarget(repo store.NoteRepository, deck string, now func() time.Time) *RepositoryTarget {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &RepositoryTarget{repo: repo, deck: deck, now: now}
}

// Name implements Target.
func (t *RepositoryTarget) Name() string { return TargetPostgres }

// Export implements Target.
func (t *RepositoryTarget) Export(ctx context.Context, note cards.Protonote) error {
	payload, err := cards.MarshalProtonote(note)
	if err != nil {
		return errors.Mark(err, ErrRejected)
	}
	return t.repo.InsertNotes(ctx, []store.ExportedNote{{
		NoteID:     note.NoteID(),
		Kind:       string(note.Kind()),
		Deck:       t.deck,
		Payload:    payload,
		ExportedAt: t.now(),
	}})
}
