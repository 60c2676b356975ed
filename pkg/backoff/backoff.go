// Package backoff provides the capped exponential delay shared by the command
// source and the outbox publisher.
package backoff

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// DefaultJitter is added on top of every delay, uniformly in [0, DefaultJitter).
const DefaultJitter = 250 * time.Millisecond

// Backoff doubles from Base up to Max. It is safe for concurrent use.
type Backoff struct {
	base   time.Duration
	max    time.Duration
	jitter time.Duration

	mu      sync.Mutex
	current time.Duration
	rng     *rand.Rand
}

// New returns a Backoff. A max below base is raised to base.
func New(base, max, jitter time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if jitter < 0 {
		jitter = 0
	}
	return &Backoff{
		base:   base,
		max:    max,
		jitter: jitter,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next advances the schedule and returns the delay to wait, jitter included.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = Step(b.current, b.base, b.max)
	d := b.current
	if b.jitter > 0 {
		d += time.Duration(b.rng.Int63n(int64(b.jitter)))
	}
	return d
}

// Current is the last un-jittered delay, zero after Reset.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current = 0
	b.mu.Unlock()
}

// Step is the pure schedule: base first, then doubling, capped at max.
func Step(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		return base
	}
	if next := current * 2; next < max {
		return next
	}
	return max
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
