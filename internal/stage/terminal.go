package stage

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SF-300/vigilant-disco/internal/operation"
	"github.com/SF-300/vigilant-disco/internal/progress"
	"github.com/SF-300/vigilant-disco/internal/queue"
)

// TerminalConfig wires the last stage. Fields mean the same as in Config.
type TerminalConfig[In any] struct {
	Name        string
	Inbound     queue.Queue[In]
	Factory     func(ctx context.Context, in In, stream *progress.Stream) *operation.Operation[bool]
	Sink        progress.Emitter
	Escalate    func(error) bool
	MaxInFlight int
	Logger      *zap.Logger
}

// Terminal consumes its inbound queue without releasing anything further.
type Terminal[In any] struct {
	name   string
	ingest *ingestor[In, bool]
	sink   progress.Emitter
	logger *zap.Logger
}

// NewTerminal validates cfg and builds a Terminal.
func NewTerminal[In any](cfg TerminalConfig[In]) (*Terminal[In], error) {
	if cfg.Name == "" {
		return nil, errors.New("stage name is required")
	}
	if cfg.Inbound == nil {
		return nil, errors.Newf("stage %s: inbound queue is required", cfg.Name)
	}
	if cfg.Factory == nil {
		return nil, errors.Newf("stage %s: operation factory is required", cfg.Name)
	}
	if cfg.Sink == nil {
		cfg.Sink = progress.Discard
	}
	if cfg.Escalate == nil {
		cfg.Escalate = EscalateUnrecoverable
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	t := &Terminal[In]{
		name:   cfg.Name,
		sink:   cfg.Sink,
		logger: cfg.Logger.Named("stage").With(zap.String("stage", cfg.Name)),
	}
	t.ingest = &ingestor[In, bool]{
		name:        cfg.Name,
		inbound:     cfg.Inbound,
		factory:     cfg.Factory,
		sink:        cfg.Sink,
		escalate:    cfg.Escalate,
		maxInFlight: cfg.MaxInFlight,
		onResult:    t.finish,
		logger:      t.logger,
	}
	return t, nil
}

// Name returns the stage name.
func (t *Terminal[In]) Name() string {
	return t.name
}

// Run consumes inbound items until ctx ends, the queue closes or a failure
// escalates.
func (t *Terminal[In]) Run(ctx context.Context) error {
	t.logger.Info("stage started")
	defer t.logger.Info("stage stopped")
	return t.ingest.run(ctx)
}

func (t *Terminal[In]) finish(_ context.Context, id uuid.UUID, ok bool) {
	if ok {
		t.logger.Debug("operation completed", zap.Stringer("operation_id", id))
		return
	}
	t.logger.Warn("operation reported failure", zap.Stringer("operation_id", id))
	t.ingest.report(id, progress.RoleWarning, "operation finished without success")
}
