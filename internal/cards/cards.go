package cards

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/SF-300/vigilant-disco/internal/operation"
	"github.com/SF-300/vigilant-disco/internal/progress"
)

// Image is a user supplied picture awaiting extraction.
type Image struct {
	ID         uuid.UUID `json:"id"`
	Data       []byte    `json:"-"`
	MIMEType   string    `json:"mime_type"`
	Source     string    `json:"source"`
	Digest     string    `json:"digest"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Extraction is one emphasized snippet found in an image.
type Extraction struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
	Context string `json:"context,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// Service produces the domain operations run by the three pipeline stages.
// Every returned operation reports through the given stream.
type Service interface {
	Extract(ctx context.Context, img Image, stream *progress.Stream) *operation.Operation[[]Extraction]
	Transform(ctx context.Context, extractions []Extraction, stream *progress.Stream) *operation.Operation[[]ExtractionNotes]
	Export(ctx context.Context, notes []Protonote, stream *progress.Stream) *operation.Operation[bool]
}

// Flatten collects the protonotes of every group in order.
func Flatten(groups []ExtractionNotes) []Protonote {
	var out []Protonote
	for _, g := range groups {
		out = append(out, g.Notes...)
	}
	return out
}
