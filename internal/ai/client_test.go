package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SF-300/vigilant-disco/internal/cards"
	"github.com/SF-300/vigilant-disco/internal/progress"
	"github.com/SF-300/vigilant-disco/internal/retry"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewImageID() (uuid.UUID, error) { return uuid.New(), nil }

func (s *seqIDs) NewItemID(prefix string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", prefix, s.n), nil
}

type roleRecorder struct {
	events []progress.Event
}

func (r *roleRecorder) Emit(evt progress.Event) { r.events = append(r.events, evt) }

func (r *roleRecorder) roles() []progress.Role {
	out := make([]progress.Role, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Role)
	}
	return out
}

// chatServer answers every completion with content and hands the decoded
// request to the returned channel.
func chatServer(t *testing.T, content string) (*httptest.Server, <-chan chatRequest) {
	t.Helper()
	requests := make(chan chatRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		select {
		case requests <- req:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:           baseURL + "/v1/",
		APIKey:            "sk-test",
		RequestsPerMinute: 6000,
		Burst:             10,
		Retry:             retry.Policy{BaseDelay: time.Millisecond},
	}, nil, &seqIDs{}, zap.NewNop())
	require.NoError(t, err)
	return c
}

// TestExtractFromImage verifies the request shape and the decoded extractions.
func TestExtractFromImage(t *testing.T) {
	t.Parallel()

	srv, requests := chatServer(t, `{"message":"Found two highlights","extractions":[
		{"snippet":"ephemeral","context":"an ephemeral joy","reason":"highlighted","comment":null},
		{"snippet":"  "},
		{"snippet":"mice"}]}`)
	c := newTestClient(t, srv.URL)
	rec := &roleRecorder{}

	got, err := c.ExtractFromImage(context.Background(), cards.Image{Data: []byte("png"), MIMEType: "image/png", Source: "upload"}, rec)
	require.NoError(t, err)
	require.Equal(t, []cards.Extraction{
		{ID: "extract-1", Snippet: "ephemeral", Context: "an ephemeral joy", Reason: "highlighted"},
		{ID: "extract-2", Snippet: "mice"},
	}, got)

	req := <-requests
	require.Equal(t, defaultModel, req.Model)
	require.Equal(t, "json_object", req.ResponseFormat.Type)
	require.Len(t, req.Messages[0].Content, 2)
	require.Equal(t, "data:image/png;base64,cG5n", req.Messages[0].Content[1].ImageURL.URL)

	require.Equal(t, []progress.Role{progress.RoleOCRRequest, progress.RoleOCRResponse}, rec.roles())
	require.Equal(t, "Found two highlights", rec.events[1].Text)
}

// TestGenerateProtonotesGroupsByExtraction checks notes land in their groups.
func TestGenerateProtonotesGroupsByExtraction(t *testing.T) {
	t.Parallel()

	srv, _ := chatServer(t, `{"message":"","protonotes":[
		{"extraction_id":"e2","type":"English Noun","singular":"mouse","plural":"mice"},
		{"extraction_id":"e1","type":"Meaning","id":"keep","concept":"ephemeral","examples":["An ephemeral joy."]},
		{"extraction_id":"e1","type":"Cloze","text":"x"}]}`)
	c := newTestClient(t, srv.URL)
	rec := &roleRecorder{}

	groups, err := c.GenerateProtonotes(context.Background(), []cards.Extraction{
		{ID: "e1", Snippet: "ephemeral"},
		{ID: "e2", Snippet: "mice"},
		{ID: "e3", Snippet: "unused"},
	}, rec)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	require.Equal(t, []cards.Protonote{cards.MeaningNote{ID: "keep", Concept: "ephemeral", Examples: []string{"An ephemeral joy."}}}, groups[0].Notes)
	require.Equal(t, []cards.Protonote{cards.EnglishNounNote{ID: "proto-1", Singular: "mouse", Plural: "mice"}}, groups[1].Notes)
	require.Empty(t, groups[2].Notes)

	require.Equal(t, []progress.Role{progress.RoleGenerationRequest, progress.RoleGenerationResponse, progress.RoleWarning}, rec.roles())
	require.Equal(t, "Found 3 protonotes", rec.events[1].Text)
}

// TestStatusErrorIsReturned ensures non-2xx answers surface the body.
func TestStatusErrorIsReturned(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	_, err := c.ExtractFromImage(context.Background(), cards.Image{Data: []byte("x")}, progress.Discard)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	require.True(t, strings.Contains(statusErr.Body, "quota"))
}

// TestTransientStatusIsRetried verifies a 503 is retried until the endpoint recovers.
func TestTransientStatusIsRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": `{"extractions":[{"snippet":"ok"}]}`}}},
		})
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	got, err := c.ExtractFromImage(context.Background(), cards.Image{Data: []byte("x")}, progress.Discard)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int32(2), calls.Load())
}

// TestClientErrorIsNotRetried ensures a 400 answer is returned after one call.
func TestClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad image", http.StatusBadRequest)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	_, err := c.ExtractFromImage(context.Background(), cards.Image{Data: []byte("x")}, progress.Discard)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.False(t, statusErr.Transient())
	require.Equal(t, int32(1), calls.Load())
}

// TestGenerateProtonotesEmptyInput skips the call entirely.
func TestGenerateProtonotesEmptyInput(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "http://127.0.0.1:1")
	groups, err := c.GenerateProtonotes(context.Background(), nil, progress.Discard)
	require.NoError(t, err)
	require.Nil(t, groups)
}
