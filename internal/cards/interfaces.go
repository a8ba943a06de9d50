package cards

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Hasher computes content digests for image deduplication and archive keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator creates identifiers for images, extractions and notes.
type IDGenerator interface {
	NewImageID() (uuid.UUID, error)
	NewItemID(prefix string) (string, error)
}
