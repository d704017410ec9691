package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/redis/go-redis/v9"
)

// mockRedisClient implements RedisClient for testing
type mockRedisClient struct {
	mu      sync.RWMutex
	data    map[string]string
	flushes int
	closed  bool
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{data: make(map[string]string)}
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value.(string)
	return redis.NewStatusCmd(ctx, "set")
}

func (m *mockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			delete(m.data, key)
			removed++
		}
	}
	cmd := redis.NewIntCmd(ctx, "del")
	cmd.SetVal(removed)
	return cmd
}

func (m *mockRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusCmd(ctx, "ping")
}

func (m *mockRedisClient) FlushDB(ctx context.Context) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]string)
	m.flushes++
	return redis.NewStatusCmd(ctx, "flushdb")
}

func (m *mockRedisClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

func (m *mockRedisClient) get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	return v, ok
}

func TestMirrorApply(t *testing.T) {
	mock := newMockRedisClient()
	mirror := NewMirrorWithClient(mock, log.NewNopLogger())
	ctx := context.Background()

	if err := mirror.Apply(ctx, "a", "1", true); err != nil {
		t.Fatalf("Apply live failed: %v", err)
	}
	if v, ok := mock.get("a"); !ok || v != "1" {
		t.Errorf("Expected mirrored value '1', got %q (ok=%v)", v, ok)
	}

	if err := mirror.Apply(ctx, "a", "", false); err != nil {
		t.Fatalf("Apply tombstone failed: %v", err)
	}
	if _, ok := mock.get("a"); ok {
		t.Error("Expected key to be deleted from mirror")
	}
}

func TestMirrorRefresh(t *testing.T) {
	mock := newMockRedisClient()
	mirror := NewMirrorWithClient(mock, log.NewNopLogger())
	ctx := context.Background()

	mirror.Apply(ctx, "stale", "old", true)

	if err := mirror.Refresh(ctx, map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if mock.flushes != 1 {
		t.Errorf("Expected 1 flush, got %d", mock.flushes)
	}
	if _, ok := mock.get("stale"); ok {
		t.Error("Expected stale key to be dropped by refresh")
	}
	if v, _ := mock.get("a"); v != "1" {
		t.Errorf("Expected 'a' -> '1' after refresh, got %q", v)
	}
	if v, _ := mock.get("b"); v != "2" {
		t.Errorf("Expected 'b' -> '2' after refresh, got %q", v)
	}
}
