// Package export delivers confirmed protonotes to an external store. The
// target is chosen by configuration: AnkiConnect, Pub/Sub, Postgres or an
// in-process memory recorder.
package export

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/SF-300/vigilant-disco/internal/cards"
)

// Target names accepted by configuration.
const (
	TargetAnkiConnect = "ankiconnect"
	TargetPubSub      = "pubsub"
	TargetPostgres    = "postgres"
	TargetMemory      = "memory"
)

// ErrRejected marks notes the target refused while remaining reachable. The
// export continues with the next note.
var ErrRejected = errors.New("note rejected by export target")

// Target delivers one protonote.
type Target interface {
	Name() string
	Export(ctx context.Context, note cards.Protonote) error
}

// Publisher is satisfied by the memory and pubsub publishers.
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) (string, error)
}

// PublisherTarget publishes every protonote as its tagged JSON document keyed
// by kind.
type PublisherTarget struct {
	name      string
	publisher Publisher
}

// NewPublisherTarget wraps publisher under name (TargetPubSub or TargetMemory).
func NewPublisherTarget(name string, publisher Publisher) *PublisherTarget {
	return &PublisherTarget{name: name, publisher: publisher}
}

// Name implements Target.
func (t *PublisherTarget) Name() string { return t.name }

// Export implements Target.
func (t *PublisherTarget) Export(ctx context.Context, note cards.Protonote) error {
	data, err := cards.MarshalProtonote(note)
	if err != nil {
		return errors.Mark(err, ErrRejected)
	}
	if _, err := t.publisher.Publish(ctx, string(note.Kind()), json.RawMessage(data)); err != nil {
		return errors.Wrapf(err, "publish %s", note.NoteID())
	}
	return nil
}
