package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SF-300/vigilant-disco/internal/cards"
	"github.com/SF-300/vigilant-disco/internal/pipeline"
	"github.com/SF-300/vigilant-disco/internal/policy/ratelimit"
	"github.com/SF-300/vigilant-disco/internal/progress"
	"github.com/SF-300/vigilant-disco/internal/queue"
	"github.com/SF-300/vigilant-disco/internal/service"
	"github.com/SF-300/vigilant-disco/internal/stage"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\nfixture")

// stubPipeline records submissions and serves fixed accumulators.
type stubPipeline struct {
	submitErr   error
	submitted   []string
	delivered   bool
	extractions *stage.Accumulator[cards.Extraction]
	notes       *stage.Accumulator[cards.ExtractionNotes]
}

func newStubPipeline() *stubPipeline {
	return &stubPipeline{
		delivered:   true,
		extractions: stage.NewAccumulator[cards.Extraction](0),
		notes:       stage.NewAccumulator[cards.ExtractionNotes](0),
	}
}

func (s *stubPipeline) SubmitData(_ context.Context, data []byte, mimeType, source string) (cards.Image, error) {
	if s.submitErr != nil {
		return cards.Image{}, s.submitErr
	}
	s.submitted = append(s.submitted, mimeType+"|"+source+"|"+string(data))
	return cards.Image{MIMEType: mimeType, Source: source}, nil
}

func (s *stubPipeline) Confirm(name string) (bool, error) {
	if name != pipeline.StageExtraction && name != pipeline.StageTransformation {
		return false, errors.Wrapf(pipeline.ErrUnknownStage, "confirm %q", name)
	}
	return s.delivered, nil
}

func (s *stubPipeline) Extractions() *stage.Accumulator[cards.Extraction] { return s.extractions }

func (s *stubPipeline) Notes() *stage.Accumulator[cards.ExtractionNotes] { return s.notes }

func do(t *testing.T, h http.Handler, method, target string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	srv := NewServer(newStubPipeline(), nil, Options{Ready: func(context.Context) error { return errors.New("warming up") }})
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/healthz", nil, nil).Code)

	rec := do(t, srv.Handler(), http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "warming up")

	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/metrics", nil, nil).Code)
}

func TestServer_SubmitImageRawBody(t *testing.T) {
	t.Parallel()

	p := newStubPipeline()
	srv := NewServer(p, nil, Options{})
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/images", []byte("raw"), map[string]string{"Content-Type": "image/png"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{"image/png|http|raw"}, p.submitted)
}

func TestServer_SubmitImageMultipart(t *testing.T) {
	t.Parallel()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "page.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("pic"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	p := newStubPipeline()
	srv := NewServer(p, nil, Options{})
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/images", body.Bytes(), map[string]string{"Content-Type": mw.FormDataContentType()})
	require.Equal(t, http.StatusAccepted, rec.Code)
	// multipart.Writer labels file parts application/octet-stream, which is
	// left for content sniffing.
	require.Equal(t, []string{"|http|pic"}, p.submitted)
}

func TestServer_SubmitImageErrors(t *testing.T) {
	t.Parallel()

	p := newStubPipeline()
	srv := NewServer(p, nil, Options{MaxUploadBytes: 4})
	require.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), http.MethodPost, "/v1/images", nil, nil).Code)
	require.Equal(t, http.StatusRequestEntityTooLarge, do(t, srv.Handler(), http.MethodPost, "/v1/images", []byte("too large"), nil).Code)

	p.submitErr = errors.Wrap(queue.ErrFull, "submit image")
	require.Equal(t, http.StatusServiceUnavailable, do(t, srv.Handler(), http.MethodPost, "/v1/images", []byte("ok"), nil).Code)
}

func TestServer_UploadRateLimit(t *testing.T) {
	t.Parallel()

	p := newStubPipeline()
	srv := NewServer(p, nil, Options{UploadLimiter: ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1})})
	require.Equal(t, http.StatusAccepted, do(t, srv.Handler(), http.MethodPost, "/v1/images", []byte("one"), nil).Code)

	rec := do(t, srv.Handler(), http.MethodPost, "/v1/images", []byte("two"), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.Len(t, p.submitted, 1)

	// Listing is not throttled.
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/v1/stages/extraction/items", nil, nil).Code)
}

func TestServer_ListAndMarkItems(t *testing.T) {
	t.Parallel()

	p := newStubPipeline()
	seqs := p.extractions.Add(cards.Extraction{ID: "e1", Snippet: "gist"}, cards.Extraction{ID: "e2", Snippet: "ken"})
	srv := NewServer(p, nil, Options{})

	rec := do(t, srv.Handler(), http.MethodGet, "/v1/stages/extraction/items", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Items []struct {
			Seq    uint64           `json:"seq"`
			Marked bool             `json:"marked"`
			Value  cards.Extraction `json:"value"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Items, 2)
	require.True(t, listed.Items[0].Marked)
	require.Equal(t, "gist", listed.Items[0].Value.Snippet)

	target := "/v1/stages/extraction/items/" + strconv.FormatUint(seqs[1], 10) + "/mark"
	rec = do(t, srv.Handler(), http.MethodPost, target, []byte(`{"marked": false}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, p.extractions.Selected(), 1)

	require.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodPost, "/v1/stages/extraction/items/99/mark", []byte(`{"marked": true}`), nil).Code)
	require.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), http.MethodPost, target, []byte(`{}`), nil).Code)
	require.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), http.MethodPost, "/v1/stages/extraction/items/x/mark", []byte(`{"marked": true}`), nil).Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/v1/stages/extraction/items/mark", []byte(`{"marked": false}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, p.extractions.Selected())

	require.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodGet, "/v1/stages/export/items", nil, nil).Code)
}

func TestServer_Confirm(t *testing.T) {
	t.Parallel()

	p := newStubPipeline()
	srv := NewServer(p, nil, Options{})
	require.Equal(t, http.StatusAccepted, do(t, srv.Handler(), http.MethodPost, "/v1/stages/transformation/confirm", nil, nil).Code)

	p.delivered = false
	require.Equal(t, http.StatusConflict, do(t, srv.Handler(), http.MethodPost, "/v1/stages/extraction/confirm", nil, nil).Code)
	require.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodPost, "/v1/stages/export/confirm", nil, nil).Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	srv := NewServer(newStubPipeline(), nil, Options{APIKey: "secret"})
	require.Equal(t, http.StatusUnauthorized, do(t, srv.Handler(), http.MethodGet, "/v1/stages/extraction/items", nil, nil).Code)
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/v1/stages/extraction/items", nil, map[string]string{"X-API-Key": "secret"}).Code)
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/v1/stages/extraction/items", nil, map[string]string{"Authorization": "Bearer secret"}).Code)
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/healthz", nil, nil).Code)
}

// TestServer_DrivesPipeline submits an image over HTTP and walks it through
// both confirmations using the mock service.
func TestServer_DrivesPipeline(t *testing.T) {
	t.Parallel()

	p, err := pipeline.New(service.NewMock(), progress.Discard, pipeline.Config{}, zap.NewNop())
	require.NoError(t, err)
	h := p.Run(context.Background())
	t.Cleanup(func() { _ = h.Close() })
	srv := NewServer(p, nil, Options{})

	rec := do(t, srv.Handler(), http.MethodPost, "/v1/images", pngHeader, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"mime_type":"image/png"`)

	require.Eventually(t, func() bool { return p.Extractions().Len() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return do(t, srv.Handler(), http.MethodPost, "/v1/stages/extraction/confirm", nil, nil).Code == http.StatusAccepted
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return p.Notes().Len() == 2 }, time.Second, time.Millisecond)

	rec = do(t, srv.Handler(), http.MethodGet, "/v1/stages/transformation/items", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"type":"English Noun"`)
}
