package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStep(t *testing.T) {
	assert.Equal(t, time.Second, Step(0, time.Second, 4*time.Second))
	assert.Equal(t, 2*time.Second, Step(time.Second, time.Second, 4*time.Second))
	assert.Equal(t, 4*time.Second, Step(3*time.Second, time.Second, 4*time.Second))
	assert.Equal(t, 4*time.Second, Step(4*time.Second, time.Second, 4*time.Second))
}

func TestBackoffNextAndReset(t *testing.T) {
	b := New(10*time.Millisecond, 30*time.Millisecond, 0)

	assert.Equal(t, 10*time.Millisecond, b.Next())
	assert.Equal(t, 20*time.Millisecond, b.Next())
	assert.Equal(t, 30*time.Millisecond, b.Next())
	assert.Equal(t, 30*time.Millisecond, b.Next())

	b.Reset()
	assert.Zero(t, b.Current())
	assert.Equal(t, 10*time.Millisecond, b.Next())
}

func TestBackoffJitterStaysInWindow(t *testing.T) {
	b := New(time.Second, time.Second, DefaultJitter)
	for i := 0; i < 20; i++ {
		d := b.Next()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, time.Second+DefaultJitter)
	}
}

func TestNewRaisesMaxToBase(t *testing.T) {
	b := New(time.Second, time.Millisecond, 0)
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, time.Second, b.Next())
}

func TestSleepHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
