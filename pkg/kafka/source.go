package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/angelmondragon/petstore-backend/pkg/backoff"
	"github.com/angelmondragon/petstore-backend/pkg/command"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
)

const (
	defaultBackoffBase = time.Second
	defaultBackoffMax  = 30 * time.Second
)

// RecordFunc handles one record. Returning nil marks the offset; returning an
// error leaves it unmarked so the broker redelivers it.
type RecordFunc func(ctx context.Context, record command.Record) error

type consumerGroup interface {
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
	Close() error
}

// SourceParams wires a Source.
type SourceParams struct {
	Group          consumerGroup
	Topics         []string
	Logger         *logger.Logger
	HandlerTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// Source delivers records from a consumer group, one goroutine per claimed
// partition, strictly in partition order.
type Source struct {
	group          consumerGroup
	topics         []string
	logg           *logger.Logger
	handlerTimeout time.Duration
	backoff        *backoff.Backoff
}

// NewSource builds a Source from an existing consumer group.
func NewSource(params SourceParams) (*Source, error) {
	if params.Group == nil {
		return nil, errors.New("consumer group is required")
	}
	if len(params.Topics) == 0 {
		return nil, errors.New("at least one topic is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	timeout := params.HandlerTimeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	base := params.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	ceiling := params.BackoffMax
	if ceiling <= 0 {
		ceiling = defaultBackoffMax
	}
	return &Source{
		group:          params.Group,
		topics:         append([]string(nil), params.Topics...),
		logg:           params.Logger,
		handlerTimeout: timeout,
		backoff:        backoff.New(base, ceiling, backoff.DefaultJitter),
	}, nil
}

// DialSource connects a sarama consumer group for the commands topic.
func DialSource(settings *Settings, logg *logger.Logger, backoffBase, backoffMax time.Duration) (*Source, error) {
	if settings.CommandsTopic == "" {
		return nil, errors.New("commands topic is required")
	}
	group, err := sarama.NewConsumerGroup(settings.Brokers, settings.ConsumerGroup, settings.ConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	source, err := NewSource(SourceParams{
		Group:          group,
		Topics:         []string{settings.CommandsTopic},
		Logger:         logg,
		HandlerTimeout: settings.HandlerTimeout,
		BackoffBase:    backoffBase,
		BackoffMax:     backoffMax,
	})
	if err != nil {
		_ = group.Close()
		return nil, err
	}
	return source, nil
}

// Run consumes until ctx is canceled. Each group session ends when any
// partition handler fails; the next session resumes from the committed offsets.
func (s *Source) Run(ctx context.Context, fn RecordFunc) error {
	if fn == nil {
		return errors.New("record func is required")
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		handler := &groupHandler{fn: fn, logg: s.logg, timeout: s.handlerTimeout}
		err := s.group.Consume(ctx, s.topics, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return err
		}

		if err == nil && !handler.failed.Load() {
			s.backoff.Reset()
			continue
		}

		wait := s.backoff.Next()
		waitCtx := s.logg.WithField(ctx, "backoff", wait.String())
		if err != nil {
			s.logg.Error(waitCtx, "consumer group session failed", err)
		} else {
			s.logg.Warn(waitCtx, "record handling failed, resuming from committed offset")
		}
		if err := backoff.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Close leaves the consumer group.
func (s *Source) Close() error {
	return s.group.Close()
}

type groupHandler struct {
	fn      RecordFunc
	logg    *logger.Logger
	timeout time.Duration
	failed  atomic.Bool
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.logg.Info(h.logg.WithFields(session.Context(), map[string]any{
		"member_id":  session.MemberID(),
		"generation": session.GenerationID(),
		"claims":     session.Claims(),
	}), "partitions assigned")
	return nil
}

func (h *groupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.logg.Info(h.logg.WithField(session.Context(), "member_id", session.MemberID()), "partitions released")
	return nil
}

// ConsumeClaim processes one partition. The next record is not read until the
// previous one returned; a record already handed to fn finishes even when the
// session is canceled.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			// select picks at random when both are ready; a canceled session
			// must not start another record.
			if ctx.Err() != nil {
				return nil
			}
			record := toRecord(msg)

			handlerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
			err := h.fn(handlerCtx, record)
			cancel()
			if err != nil {
				h.failed.Store(true)
				return fmt.Errorf("handle %s: %w", record.Coordinates(), err)
			}
			session.MarkMessage(msg, "")
		}
	}
}

func toRecord(msg *sarama.ConsumerMessage) command.Record {
	headers := make(map[string]string, len(msg.Headers))
	for _, header := range msg.Headers {
		if header == nil {
			continue
		}
		headers[string(header.Key)] = string(header.Value)
	}
	return command.Record{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Timestamp: msg.Timestamp,
	}
}
