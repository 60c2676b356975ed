package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/petstore-backend/pkg/db"
	"github.com/angelmondragon/petstore-backend/pkg/db/models"
	"github.com/angelmondragon/petstore-backend/pkg/enums"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
)

const envelopeVersion = 1

// ErrDuplicateEvent means an event of the same type already exists for the aggregate.
var ErrDuplicateEvent = errors.New("outbox event already queued for aggregate")

type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Command       *CommandRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	if !e.EventType.IsValid() {
		return fmt.Errorf("invalid outbox event type %q", e.EventType)
	}
	if !e.AggregateType.IsValid() {
		return fmt.Errorf("invalid outbox aggregate type %q", e.AggregateType)
	}
	if e.AggregateID == uuid.Nil {
		return errors.New("aggregate id is required")
	}
	return nil
}

// Service queues confirmations in the caller's transaction.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: func() time.Time { return time.Now().UTC() }}
}

// Emit queues the event inside tx so it commits or rolls back with the
// caller's writes. A second event for the same aggregate fails with
// ErrDuplicateEvent.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	row, err := s.buildRow(tx, event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return ErrDuplicateEvent
		}
		return err
	}
	s.logQueued(ctx, row)
	return nil
}

// EmitIfNotExists queues the event unless one already exists for the same
// event type and aggregate, and reports whether a row was written. The insert
// uses ON CONFLICT DO NOTHING so a concurrent duplicate never aborts tx.
func (s *Service) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event DomainEvent) (bool, error) {
	row, err := s.buildRow(tx, event)
	if err != nil {
		return false, err
	}
	inserted, err := s.repo.InsertIfAbsent(tx, row)
	if err != nil || !inserted {
		return false, err
	}
	s.logQueued(ctx, row)
	return true, nil
}

func (s *Service) buildRow(tx *gorm.DB, event DomainEvent) (models.OutboxEvent, error) {
	if tx == nil {
		return models.OutboxEvent{}, errors.New("transaction required")
	}
	if err := event.validate(); err != nil {
		return models.OutboxEvent{}, err
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("marshal %s data: %w", event.EventType, err)
	}

	id := uuid.New()
	envelope := PayloadEnvelope{
		Version:    event.Version,
		EventID:    id.String(),
		OccurredAt: event.OccurredAt,
		Command:    event.Command,
		Data:       data,
	}
	if envelope.Version == 0 {
		envelope.Version = envelopeVersion
	}
	if envelope.OccurredAt.IsZero() {
		envelope.OccurredAt = s.now()
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("marshal envelope: %w", err)
	}

	return models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}, nil
}

func (s *Service) logQueued(ctx context.Context, row models.OutboxEvent) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"event_id":       row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_id":   row.AggregateID.String(),
		"aggregate_type": row.AggregateType,
	}), "outbox event queued")
}
