package sinks

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/SF-300/vigilant-disco/internal/progress"
	"github.com/SF-300/vigilant-disco/internal/store"
)

// StoreSink persists batches to an ActivityRepository in one call per batch.
type StoreSink struct {
	repo   store.ActivityRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ActivityRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume converts the batch into activity rows and appends them.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil || len(batch) == 0 {
		return nil
	}
	rows := make([]store.Activity, 0, len(batch))
	for _, evt := range batch {
		rows = append(rows, store.Activity{
			OperationID: evt.OperationUUID(),
			Stage:       evt.Stage,
			Role:        string(evt.Role),
			Text:        evt.Text,
			At:          evt.TS,
		})
	}
	if err := s.repo.AppendActivity(ctx, rows); err != nil {
		return errors.Wrap(err, "append activity")
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
