package kafka

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/petstore-backend/pkg/command"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
)

// fakePartitionLog replays a partition from the last marked offset on every
// session, the way a broker redelivers uncommitted records.
type fakePartitionLog struct {
	mu       sync.Mutex
	messages []*sarama.ConsumerMessage
	marked   int64
	sessions int
}

func newFakePartitionLog(values ...string) *fakePartitionLog {
	log := &fakePartitionLog{marked: -1}
	for i, v := range values {
		log.messages = append(log.messages, &sarama.ConsumerMessage{
			Topic:     "pet-commands",
			Partition: 0,
			Offset:    int64(i),
			Value:     []byte(v),
			Headers:   []*sarama.RecordHeader{{Key: []byte("command-name"), Value: []byte("pet-create")}},
		})
	}
	return log
}

func (l *fakePartitionLog) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	l.mu.Lock()
	l.sessions++
	start := l.marked + 1
	l.mu.Unlock()

	if start >= int64(len(l.messages)) {
		<-ctx.Done()
		return nil
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	session := &fakeSession{ctx: sessionCtx, log: l}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(l.messages))}
	for _, msg := range l.messages[start:] {
		claim.messages <- msg
	}
	close(claim.messages)

	if err := handler.Setup(session); err != nil {
		return err
	}
	_ = handler.ConsumeClaim(session, claim)
	return handler.Cleanup(session)
}

func (l *fakePartitionLog) Close() error { return nil }

func (l *fakePartitionLog) markedOffset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.marked
}

type fakeSession struct {
	ctx context.Context
	log *fakePartitionLog
}

func (s *fakeSession) Claims() map[string][]int32               { return map[string][]int32{"pet-commands": {0}} }
func (s *fakeSession) MemberID() string                         { return "member-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	if msg.Offset > s.log.marked {
		s.log.marked = msg.Offset
	}
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "pet-commands" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})
}

func newTestSource(t *testing.T, group consumerGroup) *Source {
	t.Helper()
	source, err := NewSource(SourceParams{
		Group:       group,
		Topics:      []string{"pet-commands"},
		Logger:      newTestLogger(),
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	})
	require.NoError(t, err)
	return source
}

func TestSourceDeliversInOrderAndMarks(t *testing.T) {
	log := newFakePartitionLog("a", "b", "c")
	source := newTestSource(t, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []string
	done := make(chan error, 1)
	go func() {
		done <- source.Run(ctx, func(_ context.Context, record command.Record) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, string(record.Value))
			assert.Equal(t, "pet-create", record.Headers["command-name"])
			if len(seen) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("source did not stop")
	}

	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, int64(2), log.markedOffset())
}

func TestSourceRedeliversAfterFailure(t *testing.T) {
	log := newFakePartitionLog("a", "b")
	source := newTestSource(t, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := map[string]int{}
	var order []string
	done := make(chan error, 1)
	go func() {
		done <- source.Run(ctx, func(_ context.Context, record command.Record) error {
			value := string(record.Value)
			attempts[value]++
			order = append(order, value)
			if value == "b" && attempts[value] == 1 {
				return errors.New("store unavailable")
			}
			if value == "b" {
				cancel()
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("source did not stop")
	}

	assert.Equal(t, []string{"a", "b", "b"}, order, "a is marked once, b is redelivered after the failure")
	assert.Equal(t, int64(1), log.markedOffset())
	assert.GreaterOrEqual(t, log.sessions, 2)
}

func TestSourceFinishesInFlightRecordOnCancel(t *testing.T) {
	log := newFakePartitionLog("a", "b")
	source := newTestSource(t, log)

	ctx, cancel := context.WithCancel(context.Background())
	var handlerCtxErr error
	var handled []string
	done := make(chan error, 1)
	go func() {
		done <- source.Run(ctx, func(hctx context.Context, record command.Record) error {
			handled = append(handled, string(record.Value))
			cancel()
			time.Sleep(10 * time.Millisecond)
			handlerCtxErr = hctx.Err()
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("source did not stop")
	}

	assert.NoError(t, handlerCtxErr, "handler context must outlive the consumer context")
	assert.Equal(t, "a", handled[0])
	assert.GreaterOrEqual(t, log.markedOffset(), int64(0), "the in-flight record is still marked")
}

func TestSourceStartsNoRecordAfterCancel(t *testing.T) {
	// Both the done channel and the next message are ready after cancel; repeat
	// so either select branch gets picked.
	for i := 0; i < 20; i++ {
		log := newFakePartitionLog("a", "b", "c")
		source := newTestSource(t, log)

		ctx, cancel := context.WithCancel(context.Background())
		var handled []string
		err := source.Run(ctx, func(_ context.Context, record command.Record) error {
			handled = append(handled, string(record.Value))
			cancel()
			return nil
		})

		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, []string{"a"}, handled)
		require.Equal(t, int64(0), log.markedOffset())
	}
}

func TestNewSourceValidation(t *testing.T) {
	_, err := NewSource(SourceParams{Topics: []string{"t"}, Logger: newTestLogger()})
	assert.Error(t, err)
	_, err = NewSource(SourceParams{Group: newFakePartitionLog(), Logger: newTestLogger()})
	assert.Error(t, err)
	_, err = NewSource(SourceParams{Group: newFakePartitionLog(), Topics: []string{"t"}})
	assert.Error(t, err)

	source := newTestSource(t, newFakePartitionLog())
	assert.Error(t, source.Run(context.Background(), nil))
}
