package export

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/SF-300/vigilant-disco/internal/ankiconnect"
	"github.com/SF-300/vigilant-disco/internal/cards"
	"github.com/SF-300/vigilant-disco/internal/stage"
)

// AnkiOptions shape the notes created through AnkiConnect.
type AnkiOptions struct {
	Deck string
	Tags []string
	// EscalateUnreachable marks connection failures unrecoverable so the
	// export stage takes the pipeline down instead of skipping the batch.
	EscalateUnreachable bool
}

// AnkiTarget adds one Anki note per protonote.
type AnkiTarget struct {
	client *ankiconnect.Client
	opts   AnkiOptions
	logger *zap.Logger
}

// NewAnkiTarget builds the AnkiConnect target.
func NewAnkiTarget(client *ankiconnect.Client, opts AnkiOptions, logger *zap.Logger) *AnkiTarget {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnkiTarget{client: client, opts: opts, logger: logger.Named("anki")}
}

// Name implements Target.
func (t *AnkiTarget) Name() string { return TargetAnkiConnect }

// Export implements Target.
func (t *AnkiTarget) Export(ctx context.Context, note cards.Protonote) error {
	payload, err := ankiconnect.NoteFrom(note, t.opts.Deck, t.opts.Tags)
	if err != nil {
		return errors.Mark(err, ErrRejected)
	}
	id, err := t.client.AddNote(ctx, payload)
	switch {
	case err == nil:
		t.logger.Debug("anki note added", zap.String("note_id", note.NoteID()), zap.Int64("anki_id", id))
		return nil
	case errors.Is(err, ankiconnect.ErrAPI):
		return errors.Mark(err, ErrRejected)
	case errors.Is(err, ankiconnect.ErrConnection) && t.opts.EscalateUnreachable:
		return errors.Mark(err, stage.ErrUnrecoverable)
	default:
		return err
	}
}
