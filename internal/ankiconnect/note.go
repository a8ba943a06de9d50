package ankiconnect

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/SF-300/vigilant-disco/internal/cards"
)

// DefaultDeck receives notes when no deck is configured.
const DefaultDeck = "Default"

// Note is the addNote payload.
type Note struct {
	DeckName  string            `json:"deckName"`
	ModelName string            `json:"modelName"`
	Fields    map[string]string `json:"fields"`
	Tags      []string          `json:"tags"`
}

// NoteFrom maps a protonote onto an Anki note of the model named after its
// kind.
func NoteFrom(p cards.Protonote, deck string, tags []string) (Note, error) {
	if deck == "" {
		deck = DefaultDeck
	}
	if tags == nil {
		tags = []string{}
	}
	fields := map[string]string{}
	var examples []string
	switch n := p.(type) {
	case cards.MeaningNote:
		fields["Concept"] = n.Concept
		examples = n.Examples
	case cards.EnglishNounNote:
		fields["Singular"] = n.Singular
		fields["Plural"] = n.Plural
		examples = n.Examples
	default:
		return Note{}, errors.Newf("unsupported protonote %T", p)
	}
	for i, ex := range examples {
		if ex != "" {
			fields[fmt.Sprintf("Example %d Sentence", i+1)] = ex
		}
	}
	return Note{
		DeckName:  deck,
		ModelName: string(p.Kind()),
		Fields:    fields,
		Tags:      tags,
	}, nil
}
