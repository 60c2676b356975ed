// Package registry turns stored outbox rows into transport messages. Each
// supported event type declares its aggregate, topic and how its payload is
// rendered for consumers.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/petstore-backend/pkg/db/models"
	"github.com/angelmondragon/petstore-backend/pkg/enums"
	"github.com/angelmondragon/petstore-backend/pkg/outbox"
	"github.com/angelmondragon/petstore-backend/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string

	// decode parses envelope data and renders the message value.
	decode func(data json.RawMessage) (payload any, value []byte, err error)
}

// ResolvedEvent is an outbox row ready for a transport.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
	Message    outbox.Message
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that can never be published as stored.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func nonRetryable(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

// NewEventRegistry registers pet.created on the confirmation topic.
func NewEventRegistry(confirmationTopic string) (*EventRegistry, error) {
	topic := strings.TrimSpace(confirmationTopic)
	if topic == "" {
		return nil, errors.New("confirmation topic is required")
	}
	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	register(reg, enums.EventPetCreated, enums.AggregatePet, topic, petCreatedValue)
	return reg, nil
}

// register binds an event type to a typed payload T and its renderer.
func register[T any](r *EventRegistry, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string, render func(*T) ([]byte, error)) {
	r.entries[eventType] = EventDescriptor{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		decode: func(data json.RawMessage) (any, []byte, error) {
			payload := new(T)
			if err := json.Unmarshal(data, payload); err != nil {
				return nil, nil, fmt.Errorf("decode %s payload: %w", eventType, err)
			}
			value, err := render(payload)
			if err != nil {
				return nil, nil, err
			}
			return payload, value, nil
		},
	}
}

// The confirmation value is the bare id of the created pet.
func petCreatedValue(event *payloads.PetCreatedEvent) ([]byte, error) {
	if event.ID == uuid.Nil {
		return nil, errors.New("pet_created payload missing id")
	}
	return []byte(event.ID.String()), nil
}

// Topics lists every destination the registry publishes to, without duplicates.
func (r *EventRegistry) Topics() []string {
	seen := map[string]bool{}
	topics := make([]string, 0, len(r.entries))
	for _, desc := range r.entries {
		if !seen[desc.Topic] {
			seen[desc.Topic] = true
			topics = append(topics, desc.Topic)
		}
	}
	return topics
}

// Resolve validates the row and renders its message. Every error is a
// NonRetryableError: a row that fails here fails the same way next time.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, nonRetryable("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, nonRetryable("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, nonRetryable("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, nonRetryable("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nonRetryable("payload missing for %s", event.EventType)
	}

	payload, value, err := desc.decode(envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
		Message: outbox.Message{
			Key:        event.AggregateID.String(),
			Value:      value,
			Attributes: attributes(event, envelope),
		},
	}, nil
}

func attributes(event models.OutboxEvent, envelope outbox.PayloadEnvelope) map[string]string {
	attrs := map[string]string{
		"event_id":       envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if envelope.Command != nil {
		attrs["command_id"] = envelope.Command.ID.String()
		attrs["command_name"] = envelope.Command.Name
	}
	return attrs
}
