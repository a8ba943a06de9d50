package progress

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Role classifies who or what produced an Event.
type Role string

// Roles used across the pipeline.
const (
	RoleSystem             Role = "system"
	RoleUser               Role = "user"
	RoleOCR                Role = "ocr"
	RoleOCRRequest         Role = "ocr-request"
	RoleOCRResponse        Role = "ocr-response"
	RoleGenerationRequest  Role = "generation-request"
	RoleGenerationResponse Role = "generation-response"
	RoleExport             Role = "export"
	RoleExportComplete     Role = "export-complete"
	RoleWarning            Role = "warning"
	RoleError              Role = "error"
)

// Event is one increment of an operation's activity.
type Event struct {
	// OperationID identifies the emitting operation using the 16-byte UUID form.
	OperationID [16]byte
	// TS is the UTC timestamp recorded when the event entered its stream.
	TS time.Time
	// Stage names the pipeline stage that owns the operation, if any.
	Stage string
	// Role classifies the event (request sent, response received, ...).
	Role Role
	// Text is the human readable payload.
	Text string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.Role == "" {
		return errors.New("role is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}

// OperationUUID converts the binary operation ID to uuid.UUID for repositories.
func (e Event) OperationUUID() uuid.UUID {
	return uuid.UUID(e.OperationID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// Send emits a role/text pair through e. A nil emitter is ignored.
func Send(e Emitter, role Role, text string) {
	if e == nil {
		return
	}
	e.Emit(Event{Role: role, Text: text})
}
