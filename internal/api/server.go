package api

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/SF-300/vigilant-disco/internal/cards"
	"github.com/SF-300/vigilant-disco/internal/metrics"
	"github.com/SF-300/vigilant-disco/internal/pipeline"
	"github.com/SF-300/vigilant-disco/internal/policy/ratelimit"
	"github.com/SF-300/vigilant-disco/internal/queue"
	"github.com/SF-300/vigilant-disco/internal/stage"
)

const (
	defaultMaxUploadBytes = 20 << 20
	requestTimeout        = 60 * time.Second
	uploadSource          = "http"
)

// Pipeline is the part of the pipeline the API drives.
type Pipeline interface {
	SubmitData(ctx context.Context, data []byte, mimeType, source string) (cards.Image, error)
	Confirm(stageName string) (bool, error)
	Extractions() *stage.Accumulator[cards.Extraction]
	Notes() *stage.Accumulator[cards.ExtractionNotes]
}

// Options configure the Server.
type Options struct {
	// APIKey enables X-API-Key authentication on /v1 when set.
	APIKey         string
	MaxUploadBytes int64
	// Ready backs /readyz; nil means always ready.
	Ready func(context.Context) error
	// UploadLimiter bounds image uploads per client address; nil disables it.
	UploadLimiter *ratelimit.Limiter
	Logger        *zap.Logger
}

// Server wires HTTP handlers to the pipeline and activity log.
type Server struct {
	router   chi.Router
	pipeline Pipeline
	activity *ActivityHandler
	opts     Options
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. activity may be
// nil, in which case the activity routes answer 503.
func NewServer(p Pipeline, activity *ActivityHandler, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if activity == nil {
		activity = NewActivityHandler(nil, nil, opts.Logger)
	}
	s := &Server{
		pipeline: p,
		activity: activity,
		opts:     opts,
		logger:   opts.Logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.recoverMiddleware)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.With(uploadLimitMiddleware(opts.UploadLimiter)).Post("/images", s.submitImage)
		r.Route("/stages/{stage}", func(r chi.Router) {
			r.Get("/items", s.listItems)
			r.Post("/items/{seq}/mark", s.markItem)
			r.Post("/items/mark", s.markAll)
			r.Post("/confirm", s.confirm)
		})
		r.Get("/activity", s.activity.ListActivity)
		r.Get("/activity/recent", s.activity.Recent)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// submitImage accepts a multipart "image" field or a raw request body.
func (s *Server) submitImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	data, mimeType, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "image is empty")
		return
	}
	img, err := s.pipeline.SubmitData(r.Context(), data, mimeType, uploadSource)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrFull), errors.Is(err, queue.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			writeError(w, http.StatusRequestTimeout, err.Error())
		default:
			s.logger.Error("submit image failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to submit image")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"image": img})
}

func readUpload(r *http.Request) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, "", errors.Wrap(err, "read body")
		}
		if mediaType == "application/octet-stream" {
			mediaType = ""
		}
		return data, mediaType, nil
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", errors.Wrap(err, "multipart field \"image\"")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", errors.Wrap(err, "read image part")
	}
	partType := header.Header.Get("Content-Type")
	if partType == "application/octet-stream" {
		partType = ""
	}
	return data, partType, nil
}

// itemDTO is one accumulator entry.
type itemDTO[T any] struct {
	Seq     uint64    `json:"seq"`
	Marked  bool      `json:"marked"`
	AddedAt time.Time `json:"added_at"`
	Value   T         `json:"value"`
}

func toItems[T any](entries []stage.Entry[T]) []itemDTO[T] {
	out := make([]itemDTO[T], 0, len(entries))
	for _, e := range entries {
		out = append(out, itemDTO[T]{Seq: e.Seq, Marked: e.Marked, AddedAt: e.AddedAt, Value: e.Value})
	}
	return out
}

// selection is the mark surface shared by both reviewable stages.
type selection interface {
	Mark(seq uint64, marked bool) bool
	MarkAll(marked bool) int
}

func (s *Server) selectionFor(name string) (selection, bool) {
	switch name {
	case pipeline.StageExtraction:
		return s.pipeline.Extractions(), true
	case pipeline.StageTransformation:
		return s.pipeline.Notes(), true
	default:
		return nil, false
	}
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "stage")
	switch name {
	case pipeline.StageExtraction:
		writeJSON(w, http.StatusOK, map[string]any{"stage": name, "items": toItems(s.pipeline.Extractions().Entries())})
	case pipeline.StageTransformation:
		writeJSON(w, http.StatusOK, map[string]any{"stage": name, "items": toItems(s.pipeline.Notes().Entries())})
	default:
		writeError(w, http.StatusNotFound, "stage has no reviewable items")
	}
}

type markRequest struct {
	Marked *bool `json:"marked"`
}

func decodeMark(r *http.Request) (bool, error) {
	var req markRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return false, errors.New("invalid JSON")
	}
	if req.Marked == nil {
		return false, errors.New("marked is required")
	}
	return *req.Marked, nil
}

func (s *Server) markItem(w http.ResponseWriter, r *http.Request) {
	sel, ok := s.selectionFor(chi.URLParam(r, "stage"))
	if !ok {
		writeError(w, http.StatusNotFound, "stage has no reviewable items")
		return
	}
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid seq")
		return
	}
	marked, err := decodeMark(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !sel.Mark(seq, marked) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seq": seq, "marked": marked})
}

func (s *Server) markAll(w http.ResponseWriter, r *http.Request) {
	sel, ok := s.selectionFor(chi.URLParam(r, "stage"))
	if !ok {
		writeError(w, http.StatusNotFound, "stage has no reviewable items")
		return
	}
	marked, err := decodeMark(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": sel.MarkAll(marked), "marked": marked})
}

// confirm answers 202 when the stage was waiting for a confirmation and 409
// when a release was already in progress.
func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "stage")
	delivered, err := s.pipeline.Confirm(name)
	if err != nil {
		if errors.Is(err, pipeline.ErrUnknownStage) {
			writeError(w, http.StatusNotFound, "stage does not take confirmations")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusAccepted
	if !delivered {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"stage": name, "delivered": delivered})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if key != expected {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func uploadLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "upload rate exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
