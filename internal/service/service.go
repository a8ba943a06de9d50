// Package service implements cards.Service on top of the AI client, an export
// target and an optional image archive. NewMock provides a deterministic
// stand-in for development.
package service

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SF-300/vigilant-disco/internal/cards"
	"github.com/SF-300/vigilant-disco/internal/export"
	"github.com/SF-300/vigilant-disco/internal/metrics"
	"github.com/SF-300/vigilant-disco/internal/operation"
	"github.com/SF-300/vigilant-disco/internal/progress"
	"github.com/SF-300/vigilant-disco/internal/storage"
	"github.com/SF-300/vigilant-disco/internal/telemetry"
)

// Extractor finds emphasized snippets in an image.
type Extractor interface {
	ExtractFromImage(ctx context.Context, img cards.Image, emit progress.Emitter) ([]cards.Extraction, error)
}

// Generator turns extractions into protonotes.
type Generator interface {
	GenerateProtonotes(ctx context.Context, extractions []cards.Extraction, emit progress.Emitter) ([]cards.ExtractionNotes, error)
}

// Deps wires a Service.
type Deps struct {
	Extractor Extractor
	Generator Generator
	Target    export.Target
	// Archiver is optional; a nil or disabled archiver skips image writes.
	Archiver *storage.Archiver
	Tracer   trace.Tracer
	Logger   *zap.Logger
}

// Service is the production cards.Service.
type Service struct {
	extractor Extractor
	generator Generator
	target    export.Target
	archiver  *storage.Archiver
	tracer    trace.Tracer
	logger    *zap.Logger
}

var _ cards.Service = (*Service)(nil)

// New validates deps and builds a Service.
func New(deps Deps) (*Service, error) {
	switch {
	case deps.Extractor == nil:
		return nil, errors.New("service: extractor is required")
	case deps.Generator == nil:
		return nil, errors.New("service: generator is required")
	case deps.Target == nil:
		return nil, errors.New("service: export target is required")
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		extractor: deps.Extractor,
		generator: deps.Generator,
		target:    deps.Target,
		archiver:  deps.Archiver,
		tracer:    deps.Tracer,
		logger:    deps.Logger.Named("service"),
	}, nil
}

// Extract archives img when enabled and asks the AI for its extractions.
func (s *Service) Extract(ctx context.Context, img cards.Image, stream *progress.Stream) *operation.Operation[[]cards.Extraction] {
	return operation.Start(ctx, stream, func(ctx context.Context, emit progress.Emitter) ([]cards.Extraction, error) {
		ctx, span := s.tracer.Start(ctx, "cards.extract", trace.WithAttributes(
			attribute.String("image.id", img.ID.String()),
			attribute.String("image.mime_type", img.MIMEType),
			attribute.Int("image.bytes", len(img.Data)),
		))
		defer span.End()

		progress.Send(emit, progress.RoleSystem, fmt.Sprintf("Processing image %s (%d bytes)", img.ID, len(img.Data)))
		if uri, err := s.archiver.ArchiveImage(ctx, img); err != nil {
			s.logger.Warn("image archive failed", zap.String("image_id", img.ID.String()), zap.Error(err))
			progress.Send(emit, progress.RoleWarning, "Image could not be archived: "+err.Error())
		} else if uri != "" {
			span.SetAttributes(attribute.String("image.uri", uri))
		}

		out, err := s.extractor.ExtractFromImage(ctx, img, emit)
		if err != nil {
			return nil, spanError(span, err)
		}
		span.SetAttributes(attribute.Int("extractions", len(out)))
		return out, nil
	})
}

// Transform generates protonotes for the confirmed extractions.
func (s *Service) Transform(ctx context.Context, extractions []cards.Extraction, stream *progress.Stream) *operation.Operation[[]cards.ExtractionNotes] {
	return operation.Start(ctx, stream, func(ctx context.Context, emit progress.Emitter) ([]cards.ExtractionNotes, error) {
		ctx, span := s.tracer.Start(ctx, "cards.transform", trace.WithAttributes(
			attribute.Int("extractions", len(extractions)),
		))
		defer span.End()

		progress.Send(emit, progress.RoleSystem, fmt.Sprintf("Generating protonotes for %d extractions", len(extractions)))
		out, err := s.generator.GenerateProtonotes(ctx, extractions, emit)
		if err != nil {
			return nil, spanError(span, err)
		}
		span.SetAttributes(attribute.Int("protonotes", len(cards.Flatten(out))))
		return out, nil
	})
}

// Export sends every protonote to the target. Rejected notes are reported and
// skipped; the result is false when any note was not exported. Other target
// errors fail the operation.
func (s *Service) Export(ctx context.Context, notes []cards.Protonote, stream *progress.Stream) *operation.Operation[bool] {
	return operation.Start(ctx, stream, func(ctx context.Context, emit progress.Emitter) (bool, error) {
		ctx, span := s.tracer.Start(ctx, "cards.export", trace.WithAttributes(
			attribute.String("export.target", s.target.Name()),
			attribute.Int("protonotes", len(notes)),
		))
		defer span.End()

		progress.Send(emit, progress.RoleSystem, fmt.Sprintf("Exporting %d protonotes to %s", len(notes), s.target.Name()))
		exported, rejected := 0, 0
		for _, n := range notes {
			if err := ctx.Err(); err != nil {
				return false, errors.Wrap(err, "export canceled")
			}
			progress.Send(emit, progress.RoleUser, "Exporting protonote "+cards.Describe(n))
			err := s.target.Export(ctx, n)
			switch {
			case err == nil:
				exported++
			case errors.Is(err, export.ErrRejected):
				rejected++
				progress.Send(emit, progress.RoleWarning, fmt.Sprintf("Protonote %s was rejected: %v", n.NoteID(), err))
			default:
				metrics.ObserveExport(s.target.Name(), true, exported)
				metrics.ObserveExport(s.target.Name(), false, len(notes)-exported)
				return false, spanError(span, errors.Wrapf(err, "export %s", n.NoteID()))
			}
		}
		metrics.ObserveExport(s.target.Name(), true, exported)
		metrics.ObserveExport(s.target.Name(), false, rejected)
		span.SetAttributes(attribute.Int("exported", exported), attribute.Int("rejected", rejected))
		progress.Send(emit, progress.RoleExportComplete, fmt.Sprintf("Exported %d of %d protonotes", exported, len(notes)))
		return rejected == 0, nil
	})
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
