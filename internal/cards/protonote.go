package cards

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind discriminates protonote variants. The value doubles as the name of
// the flashcard note type.
type Kind string

// Supported protonote kinds.
const (
	KindMeaning     Kind = "Meaning"
	KindEnglishNoun Kind = "English Noun"
)

// Protonote is a note candidate generated from an extraction. The set of
// implementations is closed: MeaningNote and EnglishNounNote.
type Protonote interface {
	NoteID() string
	Kind() Kind
	protonote()
}

// MeaningNote asks for the meaning of a concept.
type MeaningNote struct {
	ID       string   `json:"id"`
	Concept  string   `json:"concept"`
	Examples []string `json:"examples,omitempty"`
}

// NoteID implements Protonote.
func (n MeaningNote) NoteID() string { return n.ID }

// Kind implements Protonote.
func (MeaningNote) Kind() Kind { return KindMeaning }

func (MeaningNote) protonote() {}

// EnglishNounNote drills singular and plural forms of a noun.
type EnglishNounNote struct {
	ID       string   `json:"id"`
	Singular string   `json:"singular"`
	Plural   string   `json:"plural"`
	Examples []string `json:"examples,omitempty"`
}

// NoteID implements Protonote.
func (n EnglishNounNote) NoteID() string { return n.ID }

// Kind implements Protonote.
func (EnglishNounNote) Kind() Kind { return KindEnglishNoun }

func (EnglishNounNote) protonote() {}

// Describe returns the one-line summary shown in lists and progress logs.
func Describe(p Protonote) string {
	switch n := p.(type) {
	case MeaningNote:
		return fmt.Sprintf("%s: %s", KindMeaning, n.Concept)
	case EnglishNounNote:
		return fmt.Sprintf("%s: %s / %s", KindEnglishNoun, n.Singular, n.Plural)
	default:
		return "unknown protonote"
	}
}

// MarshalProtonote encodes p with a "type" discriminant.
func MarshalProtonote(p Protonote) ([]byte, error) {
	switch n := p.(type) {
	case MeaningNote:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			MeaningNote
		}{KindMeaning, n})
	case EnglishNounNote:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			EnglishNounNote
		}{KindEnglishNoun, n})
	default:
		return nil, errors.Newf("unsupported protonote %T", p)
	}
}

// UnmarshalProtonote decodes a protonote using its "type" discriminant.
func UnmarshalProtonote(data []byte) (Protonote, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "decode protonote type")
	}
	switch Kind(strings.TrimSpace(string(head.Type))) {
	case KindMeaning:
		var n MeaningNote
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, errors.Wrap(err, "decode meaning protonote")
		}
		return n, nil
	case KindEnglishNoun:
		var n EnglishNounNote
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, errors.Wrap(err, "decode english noun protonote")
		}
		return n, nil
	default:
		return nil, errors.Newf("unknown protonote type %q", head.Type)
	}
}

// ExtractionNotes groups the protonotes generated for one extraction.
type ExtractionNotes struct {
	Extraction Extraction
	Notes      []Protonote
}

type extractionNotesJSON struct {
	Extraction Extraction        `json:"extraction"`
	Notes      []json.RawMessage `json:"protonotes"`
}

// MarshalJSON implements json.Marshaler.
func (e ExtractionNotes) MarshalJSON() ([]byte, error) {
	out := extractionNotesJSON{Extraction: e.Extraction, Notes: make([]json.RawMessage, 0, len(e.Notes))}
	for _, n := range e.Notes {
		raw, err := MarshalProtonote(n)
		if err != nil {
			return nil, err
		}
		out.Notes = append(out.Notes, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *ExtractionNotes) UnmarshalJSON(data []byte) error {
	var in extractionNotesJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.Wrap(err, "decode extraction notes")
	}
	notes := make([]Protonote, 0, len(in.Notes))
	for _, raw := range in.Notes {
		n, err := UnmarshalProtonote(raw)
		if err != nil {
			return err
		}
		notes = append(notes, n)
	}
	e.Extraction = in.Extraction
	e.Notes = notes
	return nil
}

// WithID returns a copy of p carrying id.
func WithID(p Protonote, id string) Protonote {
	switch n := p.(type) {
	case MeaningNote:
		n.ID = id
		return n
	case EnglishNounNote:
		n.ID = id
		return n
	default:
		return p
	}
}
