package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/petstore-backend/pkg/config"
)

func TestSetGetExistsLifecycle(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	key := client.IdempotencyKey("evt:processed:pet-stream", "abc")
	exists, err := client.Exists(ctx, key)
	if err != nil {
		t.Fatalf("exists failed: %v", err)
	}
	if exists {
		t.Fatalf("expected key to be absent")
	}

	if err := client.Set(ctx, key, "1", time.Hour); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if mock.ttls[key] != time.Hour {
		t.Fatalf("expected ttl to be forwarded, got %v", mock.ttls[key])
	}
	if exists, _ := client.Exists(ctx, key); !exists {
		t.Fatalf("expected key to exist after set")
	}
	value, err := client.Get(ctx, key)
	if err != nil || value != "1" {
		t.Fatalf("unexpected get %q err=%v", value, err)
	}

	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, key); !IsNil(err) {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestSetNXOnlyOnce(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	first, err := client.SetNX(ctx, "k", "1", time.Minute)
	if err != nil || !first {
		t.Fatalf("expected first SetNX to win, got %v err=%v", first, err)
	}
	second, err := client.SetNX(ctx, "k", "1", time.Minute)
	if err != nil || second {
		t.Fatalf("expected second SetNX to lose, got %v err=%v", second, err)
	}
}

func TestDeleteIfValueOnlyRemovesOwnedKey(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	_ = client.Set(ctx, "lock", "owner-a", time.Minute)

	deleted, err := client.DeleteIfValue(ctx, "lock", "owner-b")
	if err != nil || deleted {
		t.Fatalf("foreign owner must not delete, got %v err=%v", deleted, err)
	}
	deleted, err = client.DeleteIfValue(ctx, "lock", "owner-a")
	if err != nil || !deleted {
		t.Fatalf("owner should delete, got %v err=%v", deleted, err)
	}
	if _, ok := mock.data["lock"]; ok {
		t.Fatalf("lock still present")
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatalf("expected error for uninitialized client")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on empty client should be a no-op, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "petstore:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.IdempotencyKey("scope", ""); got != "petstore:idempotency:scope" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
	if got := client.LockKey("retention-worker", "PROD"); got != "petstore:lock:retention-worker:prod" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := Key(); got != "petstore" {
		t.Fatalf("bare namespace expected, got %s", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatalf("expected error without url or address")
	}

	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2", PoolSize: 7, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DB != 2 || opts.PoolSize != 7 || opts.DialTimeout != time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6379", DB: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "cache:6379" || opts.DB != 3 {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestIsNil(t *testing.T) {
	if !IsNil(fmt.Errorf("get: %w", redis.Nil)) {
		t.Fatalf("expected wrapped redis.Nil to match")
	}
	if IsNil(errors.New("timeout")) {
		t.Fatalf("unexpected match")
	}
}

type mockCmdable struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		ttls: make(map[string]time.Duration),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if script != compareAndDelete || len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
	}
	if m.data[keys[0]] != fmt.Sprint(args[0]) {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(m.data, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}
