package command

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Command is the identity-bearing unit of work flowing through the stream.
// Payload values are only interpretable through Get and GetList.
type Command struct {
	id        uuid.UUID
	name      string
	timestamp time.Time
	payload   map[string]any
}

// New builds a command with a fresh id and the current timestamp.
func New(name string, payload map[string]any) Command {
	return Command{
		id:        uuid.New(),
		name:      name,
		timestamp: time.Now().UTC(),
		payload:   copyPayload(payload),
	}
}

func restore(id uuid.UUID, name string, timestamp time.Time, payload map[string]any) Command {
	return Command{
		id:        id,
		name:      name,
		timestamp: timestamp,
		payload:   copyPayload(payload),
	}
}

// ID returns the command identifier.
func (c Command) ID() uuid.UUID {
	return c.id
}

// Name returns the command kind used for dispatch.
func (c Command) Name() string {
	return c.name
}

// Timestamp returns when the command was created.
func (c Command) Timestamp() time.Time {
	return c.timestamp
}

// Contains reports whether the payload holds the attribute.
func (c Command) Contains(attribute string) bool {
	_, ok := c.payload[attribute]
	return ok
}

// Attributes returns the payload attribute names in sorted order.
func (c Command) Attributes() []string {
	names := make([]string, 0, len(c.payload))
	for name := range c.payload {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c Command) lookup(attribute string) (any, bool) {
	value, ok := c.payload[attribute]
	return value, ok
}

func copyPayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
