package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/SF-300/vigilant-disco/internal/progress"
	"github.com/SF-300/vigilant-disco/internal/progress/sinks"
	"github.com/SF-300/vigilant-disco/internal/store"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
	defaultRecentLimit   = 100
	activityTimeout      = 3 * time.Second
)

// ActivityHandler exposes the progress log: the persisted history through an
// ActivityRepository and the live tail through a RecentSink.
type ActivityHandler struct {
	repo    store.ActivityRepository
	recent  *sinks.RecentSink
	timeout time.Duration
	logger  *zap.Logger
}

// NewActivityHandler wires the repository, ring and logger. Either source may
// be nil; its route then answers 503.
func NewActivityHandler(repo store.ActivityRepository, recent *sinks.RecentSink, logger *zap.Logger) *ActivityHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityHandler{
		repo:    repo,
		recent:  recent,
		timeout: activityTimeout,
		logger:  logger,
	}
}

// ListActivity handles GET /v1/activity?stage=&limit=&offset=. It returns
// {"activity": [...]} newest first, 400 for invalid paging, 503 without a
// repository, or 500 if the repository call fails.
func (h *ActivityHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "activity repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultActivityLimit, maxActivityLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stageName := strings.TrimSpace(r.URL.Query().Get("stage"))
	items, err := h.repo.ListActivity(ctx, stageName, limit, offset)
	if err != nil {
		h.logger.Error("list activity failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list activity")
		return
	}
	out := make([]activityDTO, 0, len(items))
	for _, a := range items {
		out = append(out, activityDTO{
			OperationID: a.OperationID.String(),
			Stage:       a.Stage,
			Role:        a.Role,
			Text:        a.Text,
			At:          a.At,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": out})
}

// Recent handles GET /v1/activity/recent?limit=. It returns the newest events
// oldest first, straight from memory.
func (h *ActivityHandler) Recent(w http.ResponseWriter, r *http.Request) {
	if h.recent == nil {
		writeError(w, http.StatusServiceUnavailable, "recent activity unavailable")
		return
	}
	limit, _, err := parseLimitOffset(r, defaultRecentLimit, maxActivityLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events := h.recent.Last(limit)
	out := make([]activityDTO, 0, len(events))
	for _, e := range events {
		out = append(out, eventDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": out})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func eventDTO(e progress.Event) activityDTO {
	return activityDTO{
		OperationID: e.OperationUUID().String(),
		Stage:       e.Stage,
		Role:        string(e.Role),
		Text:        e.Text,
		At:          e.TS,
	}
}

type activityDTO struct {
	OperationID string    `json:"operation_id"`
	Stage       string    `json:"stage,omitempty"`
	Role        string    `json:"role"`
	Text        string    `json:"text"`
	At          time.Time `json:"at"`
}
