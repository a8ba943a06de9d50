package export

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/SF-300/vigilant-disco/internal/ankiconnect"
	"github.com/SF-300/vigilant-disco/internal/cards"
	"github.com/SF-300/vigilant-disco/internal/publisher/memory"
	"github.com/SF-300/vigilant-disco/internal/stage"
	memstore "github.com/SF-300/vigilant-disco/internal/storage/memory"
)

var meaning = cards.MeaningNote{ID: "proto-1", Concept: "gist", Examples: []string{"Get the gist."}}

// TestPublisherTargetKeysByKind ensures the published document round-trips.
func TestPublisherTargetKeysByKind(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	target := NewPublisherTarget(TargetMemory, pub)
	require.Equal(t, TargetMemory, target.Name())
	require.NoError(t, target.Export(context.Background(), meaning))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "Meaning", msgs[0].Key)
	got, err := cards.UnmarshalProtonote(msgs[0].Data)
	require.NoError(t, err)
	require.Equal(t, meaning, got)
}

// TestRepositoryTargetInsertsNote checks the stored record.
func TestRepositoryTargetInsertsNote(t *testing.T) {
	t.Parallel()

	repo := memstore.NewActivityStore()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	target := NewRepositoryTarget(repo, "Vocab", func() time.Time { return at })
	require.NoError(t, target.Export(context.Background(), meaning))

	notes := repo.Notes()
	require.Len(t, notes, 1)
	require.Equal(t, "proto-1", notes[0].NoteID)
	require.Equal(t, "Meaning", notes[0].Kind)
	require.Equal(t, "Vocab", notes[0].Deck)
	require.Equal(t, at, notes[0].ExportedAt)
}

func ankiStub(t *testing.T, reply string) *ankiconnect.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return ankiconnect.New(ankiconnect.Config{URL: srv.URL}, nil)
}

// TestAnkiTargetClassifiesErrors verifies API errors are rejections and
// connection errors escalate only when configured.
func TestAnkiTargetClassifiesErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ok := NewAnkiTarget(ankiStub(t, `{"result": 1, "error": null}`), AnkiOptions{}, nil)
	require.NoError(t, ok.Export(ctx, meaning))

	dup := NewAnkiTarget(ankiStub(t, `{"result": null, "error": "duplicate"}`), AnkiOptions{}, nil)
	err := dup.Export(ctx, meaning)
	require.True(t, errors.Is(err, ErrRejected))

	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()
	client := ankiconnect.New(ankiconnect.Config{URL: url}, nil)

	err = NewAnkiTarget(client, AnkiOptions{}, nil).Export(ctx, meaning)
	require.True(t, errors.Is(err, ankiconnect.ErrConnection))
	require.False(t, errors.Is(err, stage.ErrUnrecoverable))

	err = NewAnkiTarget(client, AnkiOptions{EscalateUnreachable: true}, nil).Export(ctx, meaning)
	require.True(t, errors.Is(err, stage.ErrUnrecoverable))
}

// TestAnkiTargetSendsMappedNote checks deck and tags reach AnkiConnect.
func TestAnkiTargetSendsMappedNote(t *testing.T) {
	t.Parallel()

	seen := make(chan ankiconnect.Note, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Params struct {
				Note ankiconnect.Note `json:"note"`
			} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		seen <- body.Params.Note
		_, _ = w.Write([]byte(`{"result": 7, "error": null}`))
	}))
	t.Cleanup(srv.Close)

	target := NewAnkiTarget(ankiconnect.New(ankiconnect.Config{URL: srv.URL}, nil), AnkiOptions{Deck: "Vocab", Tags: []string{"aicards"}}, nil)
	require.NoError(t, target.Export(context.Background(), cards.EnglishNounNote{ID: "proto-2", Singular: "card", Plural: "cards"}))

	note := <-seen
	require.Equal(t, "Vocab", note.DeckName)
	require.Equal(t, "English Noun", note.ModelName)
	require.Equal(t, []string{"aicards"}, note.Tags)
	require.Equal(t, "cards", note.Fields["Plural"])
}
