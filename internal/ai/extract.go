package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/SF-300/vigilant-disco/internal/cards"
	"github.com/SF-300/vigilant-disco/internal/progress"
)

type extractionResult struct {
	Message     string `json:"message"`
	Extractions []struct {
		Snippet string  `json:"snippet"`
		Context *string `json:"context"`
		Reason  *string `json:"reason"`
		Comment *string `json:"comment"`
	} `json:"extractions"`
}

type generationResult struct {
	Message    string            `json:"message"`
	Protonotes []json.RawMessage `json:"protonotes"`
}

// ExtractFromImage asks the model for emphasized snippets in img. The request
// and the model's summary are reported as ocr-request and ocr-response events.
func (c *Client) ExtractFromImage(ctx context.Context, img cards.Image, emit progress.Emitter) ([]cards.Extraction, error) {
	progress.Send(emit, progress.RoleOCRRequest, fmt.Sprintf("Looking for highlights in %s (%d bytes)", describeImage(img), len(img.Data)))

	var res extractionResult
	if err := c.complete(ctx, []contentPart{textPart(ExtractionPrompt), imagePart(img)}, &res); err != nil {
		return nil, errors.Wrap(err, "extract from image")
	}
	progress.Send(emit, progress.RoleOCRResponse, responseText(res.Message, len(res.Extractions), "extraction"))

	out := make([]cards.Extraction, 0, len(res.Extractions))
	for _, e := range res.Extractions {
		if strings.TrimSpace(e.Snippet) == "" {
			continue
		}
		id, err := c.ids.NewItemID("extract")
		if err != nil {
			return nil, err
		}
		out = append(out, cards.Extraction{
			ID:      id,
			Snippet: e.Snippet,
			Context: deref(e.Context),
			Reason:  deref(e.Reason),
			Comment: deref(e.Comment),
		})
	}
	return out, nil
}

// GenerateProtonotes asks the model for protonotes covering extractions and
// groups them per extraction in input order. Extractions the model skipped
// get an empty group.
func (c *Client) GenerateProtonotes(ctx context.Context, extractions []cards.Extraction, emit progress.Emitter) ([]cards.ExtractionNotes, error) {
	if len(extractions) == 0 {
		return nil, nil
	}
	listing, err := json.Marshal(extractions)
	if err != nil {
		return nil, errors.Wrap(err, "marshal extractions")
	}
	progress.Send(emit, progress.RoleGenerationRequest, fmt.Sprintf("Generating protonotes for %d extraction(s)", len(extractions)))

	var res generationResult
	if err := c.complete(ctx, []contentPart{textPart(GenerationPrompt + string(listing))}, &res); err != nil {
		return nil, errors.Wrap(err, "generate protonotes")
	}
	progress.Send(emit, progress.RoleGenerationResponse, responseText(res.Message, len(res.Protonotes), "protonote"))

	groups := make([]cards.ExtractionNotes, len(extractions))
	index := make(map[string]int, len(extractions))
	for i, e := range extractions {
		groups[i].Extraction = e
		index[e.ID] = i
	}
	for _, raw := range res.Protonotes {
		var ref struct {
			ExtractionID string `json:"extraction_id"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			return nil, errors.Wrap(err, "decode protonote reference")
		}
		note, err := cards.UnmarshalProtonote(raw)
		if err != nil {
			progress.Send(emit, progress.RoleWarning, "Skipped a protonote: "+err.Error())
			continue
		}
		if note.NoteID() == "" {
			id, err := c.ids.NewItemID("proto")
			if err != nil {
				return nil, err
			}
			note = cards.WithID(note, id)
		}
		i, ok := index[ref.ExtractionID]
		if !ok {
			// Single-extraction requests need no reference.
			if len(extractions) != 1 {
				progress.Send(emit, progress.RoleWarning, "Skipped a protonote for unknown extraction "+ref.ExtractionID)
				continue
			}
			i = 0
		}
		groups[i].Notes = append(groups[i].Notes, note)
	}
	return groups, nil
}

func describeImage(img cards.Image) string {
	if img.Source != "" {
		return img.Source + " image"
	}
	return "image"
}

func responseText(message string, n int, noun string) string {
	if strings.TrimSpace(message) != "" {
		return message
	}
	if n == 1 {
		return "Found 1 " + noun
	}
	return fmt.Sprintf("Found %d %ss", n, noun)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
