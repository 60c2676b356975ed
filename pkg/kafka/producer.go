package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/hashicorp/go-multierror"

	"github.com/angelmondragon/petstore-backend/pkg/command"
	"github.com/angelmondragon/petstore-backend/pkg/outbox"
)

type metadataRefresher interface {
	RefreshMetadata(topics ...string) error
	Close() error
}

// Producer writes commands and confirmations with a synchronous sarama producer.
type Producer struct {
	producer      sarama.SyncProducer
	client        metadataRefresher
	commandsTopic string
}

// NewProducer wraps an existing sync producer. client may be nil.
func NewProducer(producer sarama.SyncProducer, client metadataRefresher, commandsTopic string) (*Producer, error) {
	if producer == nil {
		return nil, errors.New("sync producer is required")
	}
	return &Producer{producer: producer, client: client, commandsTopic: commandsTopic}, nil
}

// DialProducer connects a client and a sync producer on top of it.
func DialProducer(settings *Settings) (*Producer, error) {
	client, err := sarama.NewClient(settings.Brokers, settings.ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create sync producer: %w", err)
	}
	return NewProducer(producer, client, settings.CommandsTopic)
}

// Send publishes the command to the commands topic keyed by its id.
func (p *Producer) Send(ctx context.Context, cmd command.Command) (int32, int64, error) {
	if p.commandsTopic == "" {
		return 0, 0, errors.New("commands topic is not configured")
	}
	value, err := command.Encode(cmd)
	if err != nil {
		return 0, 0, err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.commandsTopic,
		Key:   sarama.StringEncoder(cmd.ID().String()),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(command.HeaderCommandName), Value: []byte(cmd.Name())},
		},
	}
	return p.send(ctx, msg)
}

// Publish delivers a confirmation message to topic.
func (p *Producer) Publish(ctx context.Context, topic string, message outbox.Message) error {
	headers := make([]sarama.RecordHeader, 0, len(message.Attributes))
	for k, v := range message.Attributes {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(message.Value),
		Headers: headers,
	}
	if message.Key != "" {
		msg.Key = sarama.StringEncoder(message.Key)
	}
	_, _, err := p.send(ctx, msg)
	return err
}

// send blocks until the broker acknowledged the write; ctx only guards
// against starting a send after cancellation.
func (p *Producer) send(ctx context.Context, msg *sarama.ProducerMessage) (int32, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("send to %s: %w", msg.Topic, err)
	}
	return partition, offset, nil
}

// Ping refreshes cluster metadata to prove the brokers are reachable.
func (p *Producer) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.client == nil {
		return nil
	}
	return p.client.RefreshMetadata()
}

// Close flushes the producer and releases the client.
func (p *Producer) Close() error {
	var errs *multierror.Error
	if err := p.producer.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("close producer: %w", err))
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close client: %w", err))
		}
	}
	return errs.ErrorOrNil()
}
