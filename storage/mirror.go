package storage

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis used by the mirror, so tests
// can substitute a mock.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	FlushDB(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Mirror pushes the dictionary's resolved live values into a local
// Redis instance so legacy clients can read current state with plain
// GETs. The dictionary remains the source of truth; the mirror holds
// no history and is rebuilt wholesale after a merge.
type Mirror struct {
	client RedisClient
	logger log.Logger
}

// NewMirror connects to Redis at addr and verifies the connection.
func NewMirror(addr string, db int, logger log.Logger) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis mirror")
	}

	return &Mirror{client: client, logger: logger}, nil
}

// NewMirrorWithClient wraps an existing client. Used by tests.
func NewMirrorWithClient(client RedisClient, logger log.Logger) *Mirror {
	return &Mirror{client: client, logger: logger}
}

// Apply reflects a single write: live values are SET, tombstoned keys
// are DELed.
func (m *Mirror) Apply(ctx context.Context, key, value string, live bool) error {
	if live {
		return errors.Wrapf(m.client.Set(ctx, key, value, 0).Err(), "failed to mirror SET %q", key)
	}
	return errors.Wrapf(m.client.Del(ctx, key).Err(), "failed to mirror DEL %q", key)
}

// Refresh rebuilds the mirror from a full resolved view: the live
// key/value pairs to keep. Everything else in the mirror DB is
// dropped. Called after a merge swaps in a new dictionary instance.
func (m *Mirror) Refresh(ctx context.Context, live map[string]string) error {
	if err := m.client.FlushDB(ctx).Err(); err != nil {
		return errors.Wrap(err, "failed to flush mirror")
	}
	for key, value := range live {
		if err := m.client.Set(ctx, key, value, 0).Err(); err != nil {
			return errors.Wrapf(err, "failed to mirror key %q during refresh", key)
		}
	}
	level.Debug(m.logger).Log("msg", "mirror refreshed", "keys", len(live))
	return nil
}

// Close releases the Redis connection.
func (m *Mirror) Close() error {
	return m.client.Close()
}
