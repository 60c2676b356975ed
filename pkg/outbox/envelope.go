package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CommandRef identifies the command whose effects the event confirms.
type CommandRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Command    *CommandRef     `json:"command,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// Message is a resolved confirmation ready for a transport.
type Message struct {
	Key        string
	Value      []byte
	Attributes map[string]string
}
