package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/SF-300/vigilant-disco/internal/cards"
	idgen "github.com/SF-300/vigilant-disco/internal/id/uuid"
	"github.com/SF-300/vigilant-disco/internal/operation"
	"github.com/SF-300/vigilant-disco/internal/progress"
)

// Mock returns canned extractions and notes and pretends to export.
type Mock struct {
	ids cards.IDGenerator
}

var _ cards.Service = (*Mock)(nil)

// NewMock builds the development service.
func NewMock() *Mock {
	return &Mock{ids: idgen.New()}
}

// Extract returns two fixed extractions for any image.
func (m *Mock) Extract(ctx context.Context, img cards.Image, stream *progress.Stream) *operation.Operation[[]cards.Extraction] {
	return operation.Start(ctx, stream, func(_ context.Context, emit progress.Emitter) ([]cards.Extraction, error) {
		progress.Send(emit, progress.RoleSystem, fmt.Sprintf("Processing image %s (%d bytes)", img.ID, len(img.Data)))
		first, err := m.ids.NewItemID("extract")
		if err != nil {
			return nil, err
		}
		second, err := m.ids.NewItemID("extract")
		if err != nil {
			return nil, err
		}
		out := []cards.Extraction{
			{ID: first, Snippet: "Mock extracted content 1", Context: "This is a mock context for extraction 1"},
			{ID: second, Snippet: "Mock extracted content 2"},
		}
		progress.Send(emit, progress.RoleOCRResponse, fmt.Sprintf("Found %d extractions", len(out)))
		return out, nil
	})
}

// Transform creates one Meaning and one English Noun note per extraction.
func (m *Mock) Transform(ctx context.Context, extractions []cards.Extraction, stream *progress.Stream) *operation.Operation[[]cards.ExtractionNotes] {
	return operation.Start(ctx, stream, func(_ context.Context, emit progress.Emitter) ([]cards.ExtractionNotes, error) {
		progress.Send(emit, progress.RoleSystem, fmt.Sprintf("Generating protonotes for %d extractions", len(extractions)))
		out := make([]cards.ExtractionNotes, 0, len(extractions))
		for _, ex := range extractions {
			meaningID, err := m.ids.NewItemID("proto")
			if err != nil {
				return nil, err
			}
			nounID, err := m.ids.NewItemID("proto")
			if err != nil {
				return nil, err
			}
			concept := "concept"
			if fields := strings.Fields(ex.Snippet); len(fields) > 0 {
				concept = fields[0]
			}
			out = append(out, cards.ExtractionNotes{
				Extraction: ex,
				Notes: []cards.Protonote{
					cards.MeaningNote{ID: meaningID, Concept: concept, Examples: []string{"Example 1", "Example 2"}},
					cards.EnglishNounNote{ID: nounID, Singular: "card", Plural: "cards", Examples: []string{"Example noun usage 1", "Example noun usage 2"}},
				},
			})
		}
		progress.Send(emit, progress.RoleGenerationResponse, fmt.Sprintf("Generated %d protonotes", 2*len(out)))
		return out, nil
	})
}

// Export reports each note and succeeds.
func (m *Mock) Export(ctx context.Context, notes []cards.Protonote, stream *progress.Stream) *operation.Operation[bool] {
	return operation.Start(ctx, stream, func(_ context.Context, emit progress.Emitter) (bool, error) {
		for _, n := range notes {
			progress.Send(emit, progress.RoleUser, "Exporting protonote "+cards.Describe(n))
		}
		progress.Send(emit, progress.RoleExportComplete, fmt.Sprintf("Mock export: would export %d protonotes", len(notes)))
		return true, nil
	})
}
