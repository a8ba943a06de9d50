package stage

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SF-300/vigilant-disco/internal/bridge"
	"github.com/SF-300/vigilant-disco/internal/metrics"
	"github.com/SF-300/vigilant-disco/internal/operation"
	"github.com/SF-300/vigilant-disco/internal/progress"
	"github.com/SF-300/vigilant-disco/internal/queue"
)

// Config wires a non-terminal stage.
//   - Name labels progress events, logs and metrics.
//   - Inbound and Outbound are the queues on either side of the stage.
//   - Factory starts the domain operation for one inbound item.
//   - Confirm fires whenever the user confirms the stage.
//   - Sink receives every forwarded progress event (defaults to progress.Discard).
//   - Select picks the entries to release (defaults to the marked ones).
//   - Escalate reports failures that end the stage (defaults to EscalateUnrecoverable).
//   - MaxInFlight caps outstanding operations (default DefaultMaxInFlight).
//   - MaxPending pauses ingestion while that many entries wait (0 disables).
type Config[In, Item any] struct {
	Name        string
	Inbound     queue.Queue[In]
	Outbound    queue.Queue[[]Item]
	Factory     func(ctx context.Context, in In, stream *progress.Stream) *operation.Operation[[]Item]
	Confirm     bridge.Source[struct{}]
	Sink        progress.Emitter
	Select      func([]Entry[Item]) []Entry[Item]
	Escalate    func(error) bool
	MaxInFlight int
	MaxPending  int
	Logger      *zap.Logger
}

// Processor is a stage with confirmation-gated release.
type Processor[In, Item any] struct {
	cfg    Config[In, Item]
	acc    *Accumulator[Item]
	ingest *ingestor[In, []Item]
	logger *zap.Logger
}

// New validates cfg and builds a Processor.
func New[In, Item any](cfg Config[In, Item]) (*Processor[In, Item], error) {
	if cfg.Name == "" {
		return nil, errors.New("stage name is required")
	}
	if cfg.Inbound == nil || cfg.Outbound == nil {
		return nil, errors.Newf("stage %s: inbound and outbound queues are required", cfg.Name)
	}
	if cfg.Factory == nil {
		return nil, errors.Newf("stage %s: operation factory is required", cfg.Name)
	}
	if cfg.Confirm == nil {
		return nil, errors.Newf("stage %s: confirmation source is required", cfg.Name)
	}
	if cfg.Sink == nil {
		cfg.Sink = progress.Discard
	}
	if cfg.Select == nil {
		cfg.Select = SelectMarked[Item]
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
	logger := cfg.Logger.Named("stage").With(zap.String("stage", cfg.Name))
	p := &Processor[In, Item]{
		cfg:    cfg,
		acc:    NewAccumulator[Item](cfg.MaxPending),
		logger: logger,
	}
	p.ingest = &ingestor[In, []Item]{
		name:        cfg.Name,
		inbound:     cfg.Inbound,
		factory:     cfg.Factory,
		sink:        cfg.Sink,
		escalate:    cfg.Escalate,
		maxInFlight: cfg.MaxInFlight,
		waitRoom:    p.acc.WaitRoom,
		onResult:    p.accumulate,
		logger:      logger,
	}
	return p, nil
}

// SelectMarked keeps the entries whose Marked flag is set.
func SelectMarked[T any](entries []Entry[T]) []Entry[T] {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Marked {
			out = append(out, e)
		}
	}
	return out
}

// Name returns the stage name.
func (p *Processor[In, Item]) Name() string {
	return p.cfg.Name
}

// Accumulator exposes the pending results to UI code.
func (p *Processor[In, Item]) Accumulator() *Accumulator[Item] {
	return p.acc
}

// Run executes ingestion and release until ctx ends or either duty fails.
func (p *Processor[In, Item]) Run(ctx context.Context) error {
	p.logger.Info("stage started")
	defer p.logger.Info("stage stopped")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.ingest.run(gctx)
	})
	g.Go(func() error {
		return p.releaseLoop(gctx)
	})
	return g.Wait()
}

func (p *Processor[In, Item]) accumulate(_ context.Context, id uuid.UUID, items []Item) {
	p.acc.Add(items...)
	n := p.acc.Len()
	metrics.SetPending(p.cfg.Name, n)
	p.logger.Debug("results accumulated",
		zap.Stringer("operation_id", id),
		zap.Int("items", len(items)),
		zap.Int("pending", n))
}

func (p *Processor[In, Item]) releaseLoop(ctx context.Context) error {
	for {
		// Confirmations fired while a batch is being released are not seen.
		fut := bridge.NextOccurrence(p.cfg.Confirm)
		if _, err := fut.Await(ctx); err != nil {
			return err
		}
		if err := p.release(ctx); err != nil {
			return err
		}
	}
}

// release forwards the current selection as one batch. Entries are removed
// only after the push succeeded, each exactly once.
func (p *Processor[In, Item]) release(ctx context.Context) error {
	selected := p.cfg.Select(p.acc.Entries())
	if len(selected) == 0 {
		metrics.ObserveRelease(p.cfg.Name, 0)
		p.logger.Debug("confirmation with empty selection ignored")
		return nil
	}
	batch := make([]Item, 0, len(selected))
	seqs := make([]uint64, 0, len(selected))
	for _, e := range selected {
		batch = append(batch, e.Value)
		seqs = append(seqs, e.Seq)
	}
	counter, counts := p.cfg.Outbound.(queue.DropCounter)
	var droppedBefore uint64
	if counts {
		droppedBefore = counter.Dropped()
	}
	if err := p.cfg.Outbound.Push(ctx, batch); err != nil {
		if errors.Is(err, queue.ErrFull) {
			p.logger.Warn("outbound queue full, selection kept", zap.Int("items", len(batch)))
			p.cfg.Sink.Emit(progress.Event{
				Stage: p.cfg.Name,
				Role:  progress.RoleWarning,
				Text:  "next stage is full; confirm again later",
				TS:    p.acc.now().UTC(),
			})
			return nil
		}
		return errors.Wrapf(err, "stage %s release", p.cfg.Name)
	}
	// This stage is the only producer on its outbound queue.
	if counts {
		if dropped := counter.Dropped() - droppedBefore; dropped > 0 {
			p.logger.Warn("outbound queue full, earlier batch discarded", zap.Uint64("batches", dropped))
			p.cfg.Sink.Emit(progress.Event{
				Stage: p.cfg.Name,
				Role:  progress.RoleWarning,
				Text:  fmt.Sprintf("next stage is full; %d earlier confirmed batch(es) discarded", dropped),
				TS:    p.acc.now().UTC(),
			})
		}
	}
	removed := p.acc.Remove(seqs...)
	metrics.ObserveRelease(p.cfg.Name, removed)
	metrics.SetPending(p.cfg.Name, p.acc.Len())
	p.logger.Info("batch released", zap.Int("items", removed))
	return nil
}
