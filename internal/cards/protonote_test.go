package cards

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDescribe verifies each variant maps to its summary.
func TestDescribe(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Meaning: serendipity", Describe(MeaningNote{Concept: "serendipity"}))
	require.Equal(t, "English Noun: mouse / mice", Describe(EnglishNounNote{Singular: "mouse", Plural: "mice"}))
	require.Equal(t, "unknown protonote", Describe(nil))
}

// TestProtonoteJSONDiscriminant ensures the encoded form carries the kind and
// decodes back into the same variant.
func TestProtonoteJSONDiscriminant(t *testing.T) {
	t.Parallel()

	raw, err := MarshalProtonote(EnglishNounNote{ID: "n1", Singular: "leaf", Plural: "leaves"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"English Noun","id":"n1","singular":"leaf","plural":"leaves"}`, string(raw))

	got, err := UnmarshalProtonote(raw)
	require.NoError(t, err)
	require.Equal(t, KindEnglishNoun, got.Kind())
	require.Equal(t, "n1", got.NoteID())

	_, err = UnmarshalProtonote([]byte(`{"type":"Cloze"}`))
	require.ErrorContains(t, err, "unknown protonote type")
}

// TestExtractionNotesJSON decodes a generation response group.
func TestExtractionNotesJSON(t *testing.T) {
	t.Parallel()

	var group ExtractionNotes
	require.NoError(t, json.Unmarshal([]byte(`{
		"extraction": {"id": "e1", "snippet": "ephemeral"},
		"protonotes": [{"type": "Meaning", "id": "p1", "concept": "ephemeral", "examples": ["An ephemeral joy."]}]
	}`), &group))
	require.Equal(t, "ephemeral", group.Extraction.Snippet)
	require.Equal(t, []Protonote{MeaningNote{ID: "p1", Concept: "ephemeral", Examples: []string{"An ephemeral joy."}}}, group.Notes)

	require.Len(t, Flatten([]ExtractionNotes{group, group}), 2)
}

func ExampleDescribe() {
	notes := []Protonote{
		MeaningNote{Concept: "ubiquitous"},
		EnglishNounNote{Singular: "cactus", Plural: "cacti"},
	}
	for _, n := range notes {
		fmt.Println(Describe(n))
	}
	// Output:
	// Meaning: ubiquitous
	// English Noun: cactus / cacti
}
