package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/petstore-backend/pkg/redis"
)

// Manager remembers which command ids a consumer has applied.
// Keys follow the `petstore:idempotency:evt:processed:<consumer>:<command_id>` pattern.
//
// The marker is an optimization only: callers check it before handling and set it
// after the handler succeeded, so a crash in between just costs a redundant replay.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds an idempotency guard that keeps markers for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// IsProcessed reports whether a marker exists for the command.
func (m *Manager) IsProcessed(ctx context.Context, consumer string, commandID uuid.UUID) (bool, error) {
	key, err := m.processedKey(consumer, commandID)
	if err != nil {
		return false, err
	}
	return m.store.Exists(ctx, key)
}

// MarkProcessed records the command as applied.
func (m *Manager) MarkProcessed(ctx context.Context, consumer string, commandID uuid.UUID) error {
	key, err := m.processedKey(consumer, commandID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, "1", m.ttl)
}

func (m *Manager) processedKey(consumer string, commandID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if commandID == uuid.Nil {
		return "", errors.New("command id is required")
	}
	scope := fmt.Sprintf("evt:processed:%s", consumer)
	return m.store.IdempotencyKey(scope, commandID.String()), nil
}
