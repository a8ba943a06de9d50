package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/SF-300/vigilant-disco/internal/progress"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Error roles log at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("operation_id", evt.OperationUUID()),
			zap.String("stage", evt.Stage),
			zap.String("role", string(evt.Role)),
			zap.String("text", evt.Text),
			zap.Time("ts", evt.TS),
		}
		if evt.Role == progress.RoleError || evt.Role == progress.RoleWarning {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
