package pipeline

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/SF-300/vigilant-disco/internal/bridge"
	"github.com/SF-300/vigilant-disco/internal/cards"
	"github.com/SF-300/vigilant-disco/internal/clock/system"
	"github.com/SF-300/vigilant-disco/internal/hash/sha256"
	"github.com/SF-300/vigilant-disco/internal/id/uuid"
	"github.com/SF-300/vigilant-disco/internal/metrics"
	"github.com/SF-300/vigilant-disco/internal/operation"
	"github.com/SF-300/vigilant-disco/internal/progress"
	"github.com/SF-300/vigilant-disco/internal/queue"
	"github.com/SF-300/vigilant-disco/internal/queue/memory"
	"github.com/SF-300/vigilant-disco/internal/stage"
	"github.com/SF-300/vigilant-disco/internal/supervisor"
)

// Stage names.
const (
	StageExtraction     = "extraction"
	StageTransformation = "transformation"
	StageExport         = "export"
)

// ErrUnknownStage is returned for stage names other than the confirmable ones.
var ErrUnknownStage = errors.New("unknown stage")

// Config tunes queues and stages.
type Config struct {
	Queues      queue.Config
	MaxInFlight int
	MaxPending  int
	// Escalate decides which operation failures stop the pipeline.
	Escalate func(error) bool
	Clock    cards.Clock
	Hasher   cards.Hasher
	IDs      cards.IDGenerator
}

// Source pushes images into the pipeline until ctx ends.
type Source interface {
	Name() string
	Run(ctx context.Context, submit SubmitFunc) error
}

// SubmitFunc accepts raw image bytes from a source.
type SubmitFunc func(ctx context.Context, data []byte, mimeType string) (cards.Image, error)

// Pipeline owns the queues, confirmation signals and stages.
type Pipeline struct {
	images      *memory.Queue[cards.Image]
	extractions *memory.Queue[[]cards.Extraction]
	notes       *memory.Queue[[]cards.ExtractionNotes]

	confirmExtractions *bridge.Signal[struct{}]
	confirmNotes       *bridge.Signal[struct{}]

	extract   *stage.Processor[cards.Image, cards.Extraction]
	transform *stage.Processor[[]cards.Extraction, cards.ExtractionNotes]
	export    *stage.Terminal[[]cards.ExtractionNotes]

	clock  cards.Clock
	hasher cards.Hasher
	ids    cards.IDGenerator
	logger *zap.Logger
}

// New wires the three stages around svc. Every forwarded progress event goes
// to sink.
func New(svc cards.Service, sink progress.Emitter, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if svc == nil {
		return nil, errors.New("pipeline requires a card service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.Hasher == nil {
		cfg.Hasher = sha256.New()
	}
	if cfg.IDs == nil {
		cfg.IDs = uuid.New()
	}
	p := &Pipeline{
		images:             memory.NewQueue[cards.Image](cfg.Queues),
		extractions:        memory.NewQueue[[]cards.Extraction](cfg.Queues),
		notes:              memory.NewQueue[[]cards.ExtractionNotes](cfg.Queues),
		confirmExtractions: bridge.NewSignal[struct{}](),
		confirmNotes:       bridge.NewSignal[struct{}](),
		clock:              cfg.Clock,
		hasher:             cfg.Hasher,
		ids:                cfg.IDs,
		logger:             logger.Named("pipeline"),
	}

	var err error
	p.extract, err = stage.New(stage.Config[cards.Image, cards.Extraction]{
		Name:        StageExtraction,
		Inbound:     p.images,
		Outbound:    p.extractions,
		Factory:     svc.Extract,
		Confirm:     p.confirmExtractions,
		Sink:        sink,
		Escalate:    cfg.Escalate,
		MaxInFlight: cfg.MaxInFlight,
		MaxPending:  cfg.MaxPending,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	p.transform, err = stage.New(stage.Config[[]cards.Extraction, cards.ExtractionNotes]{
		Name:        StageTransformation,
		Inbound:     p.extractions,
		Outbound:    p.notes,
		Factory:     svc.Transform,
		Confirm:     p.confirmNotes,
		Sink:        sink,
		Escalate:    cfg.Escalate,
		MaxInFlight: cfg.MaxInFlight,
		MaxPending:  cfg.MaxPending,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	p.export, err = stage.NewTerminal(stage.TerminalConfig[[]cards.ExtractionNotes]{
		Name:    StageExport,
		Inbound: p.notes,
		Factory: func(ctx context.Context, groups []cards.ExtractionNotes, stream *progress.Stream) *operation.Operation[bool] {
			return svc.Export(ctx, cards.Flatten(groups), stream)
		},
		Sink:        sink,
		Escalate:    cfg.Escalate,
		MaxInFlight: cfg.MaxInFlight,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Run starts every stage and source in one supervised scope. Closing the
// returned handle stops them all; queues are closed once everything returned.
func (p *Pipeline) Run(ctx context.Context, sources ...Source) *supervisor.Handle {
	tasks := []supervisor.Task{
		{Name: StageExtraction, Run: p.extract.Run},
		{Name: StageTransformation, Run: p.transform.Run},
		{Name: StageExport, Run: p.export.Run},
	}
	for _, src := range sources {
		tasks = append(tasks, supervisor.Task{
			Name: "source/" + src.Name(),
			Run: func(ctx context.Context) error {
				return src.Run(ctx, p.submitFrom(src.Name()))
			},
		})
	}
	p.logger.Info("pipeline starting", zap.Int("sources", len(sources)))
	return supervisor.Run(ctx, supervisor.Options{
		Logger: p.logger,
		Cleanup: []func(){
			p.images.Close,
			p.extractions.Close,
			p.notes.Close,
		},
	}, tasks...)
}

func (p *Pipeline) submitFrom(source string) SubmitFunc {
	return func(ctx context.Context, data []byte, mimeType string) (cards.Image, error) {
		return p.SubmitData(ctx, data, mimeType, source)
	}
}

// SubmitData builds an Image from raw bytes and queues it for extraction.
func (p *Pipeline) SubmitData(ctx context.Context, data []byte, mimeType, source string) (cards.Image, error) {
	if len(data) == 0 {
		return cards.Image{}, errors.New("image is empty")
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	id, err := p.ids.NewImageID()
	if err != nil {
		return cards.Image{}, err
	}
	digest, err := p.hasher.Hash(data)
	if err != nil {
		return cards.Image{}, errors.Wrap(err, "hash image")
	}
	img := cards.Image{
		ID:         id,
		Data:       data,
		MIMEType:   mimeType,
		Source:     source,
		Digest:     digest,
		AcquiredAt: p.clock.Now(),
	}
	if err := p.Submit(ctx, img); err != nil {
		return cards.Image{}, err
	}
	return img, nil
}

// Submit queues img for extraction.
func (p *Pipeline) Submit(ctx context.Context, img cards.Image) error {
	if err := p.images.Push(ctx, img); err != nil {
		return errors.Wrap(err, "submit image")
	}
	metrics.ObserveImage(img.Source)
	p.logger.Debug("image submitted",
		zap.Stringer("image_id", img.ID),
		zap.String("source", img.Source),
		zap.Int("bytes", len(img.Data)))
	return nil
}

// ConfirmExtractions releases the marked extractions to transformation. It
// reports whether the extraction stage was listening.
func (p *Pipeline) ConfirmExtractions() bool {
	return p.confirmExtractions.Emit(struct{}{}) > 0
}

// ConfirmNotes releases the marked protonote groups to export. It reports
// whether the transformation stage was listening.
func (p *Pipeline) ConfirmNotes() bool {
	return p.confirmNotes.Emit(struct{}{}) > 0
}

// Confirm dispatches a confirmation by stage name.
func (p *Pipeline) Confirm(stageName string) (bool, error) {
	switch stageName {
	case StageExtraction:
		return p.ConfirmExtractions(), nil
	case StageTransformation:
		return p.ConfirmNotes(), nil
	default:
		return false, errors.Wrapf(ErrUnknownStage, "confirm %q", stageName)
	}
}

// Extractions exposes the extraction stage accumulator.
func (p *Pipeline) Extractions() *stage.Accumulator[cards.Extraction] {
	return p.extract.Accumulator()
}

// Notes exposes the transformation stage accumulator.
func (p *Pipeline) Notes() *stage.Accumulator[cards.ExtractionNotes] {
	return p.transform.Accumulator()
}

// QueueDepths reports the number of items waiting in front of each stage.
func (p *Pipeline) QueueDepths() map[string]int {
	return map[string]int{
		StageExtraction:     p.images.Len(),
		StageTransformation: p.extractions.Len(),
		StageExport:         p.notes.Len(),
	}
}

// RegisterMetrics exposes queue depth gauges on reg.
func (p *Pipeline) RegisterMetrics(reg prometheus.Registerer) error {
	for name, q := range map[string]interface{ Len() int }{
		"images":      p.images,
		"extractions": p.extractions,
		"notes":       p.notes,
	} {
		if err := metrics.RegisterQueueDepth(reg, name, q.Len); err != nil {
			return errors.Wrapf(err, "register %s queue depth", name)
		}
	}
	return nil
}
