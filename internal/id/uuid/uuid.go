// Package uuid generates identifiers for images and pipeline items.
package uuid

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Generator implements cards.IDGenerator with time-ordered UUIDv7 values.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewImageID returns a UUIDv7 for an accepted image.
func (Generator) NewImageID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "generate uuid7")
	}
	return id, nil
}

// NewItemID returns "<prefix>-<uuid7>", or the bare UUID for an empty prefix.
func (g Generator) NewItemID(prefix string) (string, error) {
	id, err := g.NewImageID()
	if err != nil {
		return "", err
	}
	if prefix == "" {
		return id.String(), nil
	}
	return prefix + "-" + id.String(), nil
}
