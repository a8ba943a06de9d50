package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Activity is one persisted progress event.
type Activity struct {
	// OperationID identifies the operation that emitted the event.
	OperationID uuid.UUID
	// Stage is the pipeline stage that owned the operation.
	Stage string
	// Role classifies the event.
	Role string
	// Text is the human readable payload.
	Text string
	// At is when the event was emitted.
	At time.Time
}

// ActivityRepository persists the activity log rendered by the API and UI.
type ActivityRepository interface {
	// AppendActivity stores a batch of events in order.
	AppendActivity(ctx context.Context, batch []Activity) error
	// ListActivity returns events newest first, optionally scoped to one stage.
	ListActivity(ctx context.Context, stage string, limit, offset int) ([]Activity, error)
}

// ExportedNote records one protonote delivered to a store-backed export target.
type ExportedNote struct {
	NoteID     string
	Kind       string
	Deck       string
	Payload    []byte
	ExportedAt time.Time
}

// NoteRepository persists exported notes.
type NoteRepository interface {
	InsertNotes(ctx context.Context, notes []ExportedNote) error
}
