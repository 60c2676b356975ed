package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/petstore-backend/internal/commands/dispatch"
	"github.com/angelmondragon/petstore-backend/pkg/command"
	"github.com/angelmondragon/petstore-backend/pkg/db/models"
	"github.com/angelmondragon/petstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/petstore-backend/pkg/errors"
	"github.com/angelmondragon/petstore-backend/pkg/kafka"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
	"github.com/angelmondragon/petstore-backend/pkg/metrics"
)

// ConsumerName scopes the idempotency markers written by the pipeline.
const ConsumerName = "pet-stream"

type recordSource interface {
	Run(ctx context.Context, fn kafka.RecordFunc) error
}

type commandDecoder interface {
	Decode(record command.Record) (command.Command, error)
}

type idempotencyChecker interface {
	IsProcessed(ctx context.Context, consumer string, commandID uuid.UUID) (bool, error)
	MarkProcessed(ctx context.Context, consumer string, commandID uuid.UUID) error
}

type deadLetterWriter interface {
	Insert(ctx context.Context, entry models.CommandDLQ) error
}

type pipelineMetrics interface {
	Observe(command, outcome string, elapsed time.Duration)
}

// ServiceParams wires the pipeline. Idempotency and Metrics are optional;
// DeadLetters is required when DeadLetterEnabled is set.
type ServiceParams struct {
	Source            recordSource
	Decoder           commandDecoder
	Handler           dispatch.Handler
	Idempotency       idempotencyChecker
	DeadLetters       deadLetterWriter
	DeadLetterEnabled bool
	Metrics           pipelineMetrics
	Logger            *logger.Logger
}

// Service consumes command records, dispatches them and applies the ack policy:
// applied and terminally rejected records are acknowledged, retriable failures are not.
type Service struct {
	source            recordSource
	decoder           commandDecoder
	handler           dispatch.Handler
	idempotency       idempotencyChecker
	deadLetters       deadLetterWriter
	deadLetterEnabled bool
	metrics           pipelineMetrics
	logg              *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Source == nil {
		return nil, errors.New("record source is required")
	}
	if params.Decoder == nil {
		return nil, errors.New("decoder is required")
	}
	if params.Handler == nil {
		return nil, errors.New("handler is required")
	}
	if params.DeadLetterEnabled && params.DeadLetters == nil {
		return nil, errors.New("dead letter repository is required when dead lettering is enabled")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		source:            params.Source,
		decoder:           params.Decoder,
		handler:           params.Handler,
		idempotency:       params.Idempotency,
		deadLetters:       params.DeadLetters,
		deadLetterEnabled: params.DeadLetterEnabled,
		metrics:           params.Metrics,
		logg:              params.Logger,
	}, nil
}

// Run consumes until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.source.Run(ctx, s.process)
}

// process returns nil when the record may be acknowledged.
func (s *Service) process(ctx context.Context, record command.Record) error {
	start := time.Now()
	ctx = s.logg.WithRecord(ctx, record.Topic, record.Partition, record.Offset)
	if len(record.Key) > 0 {
		ctx = s.logg.WithField(ctx, "key", string(record.Key))
	}

	cmd, err := s.decoder.Decode(record)
	if err != nil {
		return s.reject(ctx, record, nil, err, start)
	}
	ctx = s.logg.WithCommand(ctx, cmd.ID().String(), cmd.Name())

	if s.idempotency != nil {
		done, err := s.idempotency.IsProcessed(ctx, ConsumerName, cmd.ID())
		switch {
		case err != nil:
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "idempotency lookup failed")
		case done:
			s.logg.Info(s.finish(ctx, cmd.Name(), metrics.OutcomeDuplicate, start), "command already processed")
			return nil
		}
	}

	if err := s.handler.Handle(ctx, cmd); err != nil {
		return s.reject(ctx, record, &cmd, err, start)
	}

	if s.idempotency != nil {
		if err := s.idempotency.MarkProcessed(ctx, ConsumerName, cmd.ID()); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "idempotency mark failed")
		}
	}
	s.logg.Info(s.finish(ctx, cmd.Name(), metrics.OutcomeProcessed, start), "command processed")
	return nil
}

func (s *Service) reject(ctx context.Context, record command.Record, cmd *command.Command, cause error, start time.Time) error {
	outcome, reason := classify(cause)
	name := commandName(cmd, cause)

	if outcome == metrics.OutcomeRetry {
		s.logg.Error(s.finish(ctx, name, outcome, start), "command failed, awaiting redelivery", cause)
		return cause
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"error": cause.Error(), "reason": string(reason)})
	if s.deadLetterEnabled {
		if err := s.deadLetters.Insert(ctx, deadLetter(record, cmd, name, reason, cause)); err != nil {
			s.logg.Error(s.finish(ctx, name, metrics.OutcomeRetry, start), "dead letter write failed", err)
			return err
		}
	}
	s.logg.Warn(s.finish(ctx, name, outcome, start), "command rejected")
	return nil
}

// finish records the outcome and returns ctx carrying it for the final log line.
func (s *Service) finish(ctx context.Context, name, outcome string, start time.Time) context.Context {
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.Observe(name, outcome, elapsed)
	}
	return s.logg.WithFields(ctx, map[string]any{"outcome": outcome, "duration_ms": elapsed.Milliseconds()})
}

// classify maps a failure to its metric outcome and dead letter reason.
// Anything not known to be terminal is retried.
func classify(err error) (string, enums.CommandDLQReason) {
	switch {
	case errors.Is(err, command.ErrUnknownCommand):
		return metrics.OutcomeUnknownCommand, enums.CommandDLQReasonUnknownCommand
	case errors.Is(err, command.ErrDecode):
		return metrics.OutcomeDecodeError, enums.CommandDLQReasonDecode
	case errors.Is(err, command.ErrAttributeMissing):
		return metrics.OutcomeInvalidPayload, enums.CommandDLQReasonAttributeMissing
	case errors.Is(err, command.ErrTypeMismatch):
		return metrics.OutcomeInvalidPayload, enums.CommandDLQReasonTypeMismatch
	}
	if typed := pkgerrors.As(err); typed != nil && !pkgerrors.IsRetryable(typed) {
		switch typed.Code() {
		case pkgerrors.CodeDecode:
			return metrics.OutcomeDecodeError, enums.CommandDLQReasonDecode
		case pkgerrors.CodeUnknownCommand:
			return metrics.OutcomeUnknownCommand, enums.CommandDLQReasonUnknownCommand
		default:
			return metrics.OutcomeInvalidPayload, enums.CommandDLQReasonInvalidPayload
		}
	}
	return metrics.OutcomeRetry, ""
}

func commandName(cmd *command.Command, err error) string {
	if cmd != nil {
		return cmd.Name()
	}
	var decodeErr *command.DecodeError
	if errors.As(err, &decodeErr) {
		return decodeErr.Name
	}
	return ""
}

func deadLetter(record command.Record, cmd *command.Command, name string, reason enums.CommandDLQReason, cause error) models.CommandDLQ {
	msg := cause.Error()
	entry := models.CommandDLQ{
		Topic:        record.Topic,
		Partition:    record.Partition,
		Offset:       record.Offset,
		RecordKey:    record.Key,
		RawValue:     record.Value,
		ErrorReason:  reason,
		ErrorMessage: &msg,
	}
	if name != "" {
		entry.CommandName = &name
	}
	if cmd != nil {
		id := cmd.ID()
		entry.CommandID = &id
	}
	return cleanDeadLetter(entry)
}
