package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/petstore-backend/pkg/db/models"
	"github.com/angelmondragon/petstore-backend/pkg/enums"
	"github.com/angelmondragon/petstore-backend/pkg/outbox"
	"github.com/angelmondragon/petstore-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	petID := uuid.New()
	commandID := petID
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPetCreated,
		AggregateType: enums.AggregatePet,
		AggregateID:   petID,
		Payload: mustEnvelope(t, mustMarshal(t, payloads.PetCreatedEvent{ID: petID, CategoryID: 4}),
			&outbox.CommandRef{ID: commandID, Name: "pet-create"}),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "pet-created" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.PetCreatedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.ID != petID || payload.CategoryID != 4 {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if string(resolved.Message.Value) != petID.String() {
		t.Fatalf("expected value to be the pet id, got %q", resolved.Message.Value)
	}
	if resolved.Message.Key != petID.String() {
		t.Fatalf("expected key to be the pet id, got %q", resolved.Message.Key)
	}
	if resolved.Message.Attributes["command_name"] != "pet-create" {
		t.Fatalf("missing command attributes %v", resolved.Message.Attributes)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
}

func TestEventRegistryRejections(t *testing.T) {
	reg := newTestEventRegistry(t)
	petID := uuid.New()
	valid := mustMarshal(t, payloads.PetCreatedEvent{ID: petID})

	tests := []struct {
		name  string
		event models.OutboxEvent
	}{
		{
			name:  "unknown event",
			event: models.OutboxEvent{EventType: "pet_deleted", AggregateType: enums.AggregatePet, AggregateID: petID, Payload: mustEnvelope(t, valid, nil)},
		},
		{
			name:  "aggregate mismatch",
			event: models.OutboxEvent{EventType: enums.EventPetCreated, AggregateType: "category", AggregateID: petID, Payload: mustEnvelope(t, valid, nil)},
		},
		{
			name:  "missing aggregate id",
			event: models.OutboxEvent{EventType: enums.EventPetCreated, AggregateType: enums.AggregatePet, Payload: mustEnvelope(t, valid, nil)},
		},
		{
			name:  "null payload",
			event: models.OutboxEvent{EventType: enums.EventPetCreated, AggregateType: enums.AggregatePet, AggregateID: petID, Payload: mustEnvelope(t, []byte("null"), nil)},
		},
		{
			name:  "payload without id",
			event: models.OutboxEvent{EventType: enums.EventPetCreated, AggregateType: enums.AggregatePet, AggregateID: petID, Payload: mustEnvelope(t, []byte(`{"categoryId":1}`), nil)},
		},
		{
			name:  "broken envelope",
			event: models.OutboxEvent{EventType: enums.EventPetCreated, AggregateType: enums.AggregatePet, AggregateID: petID, Payload: json.RawMessage(`{"data":`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Resolve(tt.event)
			if err == nil {
				t.Fatalf("expected error")
			}
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %T", err)
			}
		})
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry("  "); err == nil {
		t.Fatalf("expected error for empty topic")
	}
	reg := newTestEventRegistry(t)
	if topics := reg.Topics(); len(topics) != 1 || topics[0] != "pet-created" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry("pet-created")
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte, cmd *outbox.CommandRef) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Command:    cmd,
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestEventRegistryTopics(t *testing.T) {
	reg := newTestEventRegistry(t)
	topics := reg.Topics()
	if len(topics) != 1 || topics[0] != "pet-created" {
		t.Fatalf("unexpected topics %v", topics)
	}
}
