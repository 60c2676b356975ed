package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/petstore-backend/pkg/backoff"
	"github.com/angelmondragon/petstore-backend/pkg/config"
	"github.com/angelmondragon/petstore-backend/pkg/db/models"
	"github.com/angelmondragon/petstore-backend/pkg/enums"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
	"github.com/angelmondragon/petstore-backend/pkg/outbox"
	"github.com/angelmondragon/petstore-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxErrorBackoff       = 10 * time.Second
)

// Publish outcomes, also used as metric labels.
const (
	outcomePublished    = "published"
	outcomeFailed       = "failed"
	outcomeDeadLettered = "dead_lettered"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

// transport delivers resolved confirmations. Implemented by the Kafka producer
// and the Pub/Sub client.
type transport interface {
	Ping(context.Context) error
	Publish(ctx context.Context, topic string, message outbox.Message) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type outcomeCounter interface {
	Inc(outcome string)
}

type ServiceParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            dbClient
	Transport     transport
	TransportName string
	Repository    outboxRepository
	Registry      registryResolver
	DLQRepository dlqRepository
	Metrics       outcomeCounter
}

// Service drains pet.created outbox rows onto the confirmation transport.
type Service struct {
	logg          *logger.Logger
	db            dbClient
	repo          outboxRepository
	transport     transport
	transportName string
	registry      registryResolver
	dlq           dlqRepository
	metrics       outcomeCounter

	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	required := []struct {
		name string
		ok   bool
	}{
		{"config", params.Config != nil},
		{"logger", params.Logger != nil},
		{"database client", params.DB != nil},
		{"confirmation transport", params.Transport != nil},
		{"outbox repository", params.Repository != nil},
		{"event registry", params.Registry != nil},
		{"dlq repository", params.DLQRepository != nil},
	}
	for _, dep := range required {
		if !dep.ok {
			return nil, fmt.Errorf("%s is required", dep.name)
		}
	}

	s := &Service{
		logg:          params.Logger,
		db:            params.DB,
		repo:          params.Repository,
		transport:     params.Transport,
		transportName: params.TransportName,
		registry:      params.Registry,
		dlq:           params.DLQRepository,
		metrics:       params.Metrics,
		batchSize:     positiveOr(params.Config.Outbox.BatchSize, defaultBatchSize),
		maxAttempts:   positiveOr(params.Config.Outbox.MaxAttempts, defaultMaxAttempts),
		pollInterval:  time.Duration(params.Config.Outbox.PollIntervalMS) * time.Millisecond,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if s.transportName == "" {
		s.transportName = "transport"
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	return s, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	return pingDependency(ctx, s.logg, s.transportName, s.transport.Ping)
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run polls until ctx is canceled. Full batches are followed immediately by
// the next poll; batch errors back off exponentially.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	errBackoff := backoff.New(s.pollInterval, maxErrorBackoff, backoff.DefaultJitter)
	idle := backoff.New(s.pollInterval, s.pollInterval, backoff.DefaultJitter)

	for ctx.Err() == nil {
		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			wait = errBackoff.Next()
			s.logg.Error(s.logg.WithField(ctx, "backoff", wait.String()), "outbox publisher batch error", err)
		case processed:
			errBackoff.Reset()
			continue
		default:
			errBackoff.Reset()
			wait = idle.Next()
		}
		if err := backoff.Sleep(ctx, wait); err != nil {
			break
		}
	}
	s.logg.Info(ctx, "outbox publisher context canceled")
	return ctx.Err()
}

// processBatch claims up to batchSize rows and settles each one inside the
// same transaction. One bad row never blocks the rest of the batch.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0

		for _, event := range events {
			outcome, err := s.settle(ctx, tx, event)
			if err != nil {
				return err
			}
			if s.metrics != nil {
				s.metrics.Inc(outcome)
			}
		}
		return nil
	})
	return processed, err
}

// settle publishes one row and records the result. The returned error is a
// bookkeeping failure that must roll the batch back.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (string, error) {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return outcomeDeadLettered, s.deadLetter(ctx, tx, event, "", enums.OutboxDLQReasonNonRetryable, err)
	}

	topic := resolved.Descriptor.Topic
	logCtx := s.logg.WithFields(ctx, eventFields(event, resolved.Envelope, topic))

	pubErr := s.publish(ctx, topic, resolved.Message)
	if pubErr == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Info(logCtx, "outbox event published")
		return outcomePublished, nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(pubErr, &nonRetry) {
		return outcomeDeadLettered, s.deadLetter(ctx, tx, event, topic, enums.OutboxDLQReasonNonRetryable, pubErr)
	}

	attempt := event.AttemptCount + 1
	if attempt >= s.maxAttempts {
		return outcomeDeadLettered, s.deadLetter(ctx, tx, event, topic, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", pubErr))
	}

	logCtx = s.logg.WithFields(logCtx, map[string]any{"attempt_count": attempt, "error": pubErr.Error()})
	s.logg.Warn(logCtx, "outbox publish failed")
	if err := s.repo.MarkFailedTx(tx, event.ID, pubErr); err != nil {
		return "", fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return outcomeFailed, nil
}

func (s *Service) publish(ctx context.Context, topic string, msg outbox.Message) error {
	if topic == "" {
		return registry.NewNonRetryableError(errors.New("confirmation topic not configured"))
	}
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	return s.transport.Publish(publishCtx, topic, msg)
}

// deadLetter copies the row into outbox_dlq and pins it so it is never fetched again.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, topic string, reason enums.OutboxDLQErrorReason, cause error) error {
	fields := eventFields(event, outbox.PayloadEnvelope{}, topic)
	fields["error_reason"] = reason
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event will not be retried")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      s.now(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
		fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if envelope.Command != nil {
		fields["command_id"] = envelope.Command.ID.String()
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}
