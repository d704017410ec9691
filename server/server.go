package server

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/luoyjx/crdt-dict/config"
	"github.com/luoyjx/crdt-dict/crdt"
	"github.com/luoyjx/crdt-dict/operation"
	"github.com/luoyjx/crdt-dict/storage"
)

// Snapshot is the wire format replicas exchange: one side's full state,
// enough to rebuild an equal dictionary and merge it into another.
type Snapshot struct {
	ReplicaID string                          `json:"replica_id"`
	Tombstone string                          `json:"tombstone"`
	Histories map[string][]crdt.Entry[string] `json:"histories"`
}

// Server owns a single string dictionary and serializes all access to
// it behind a RWMutex; the dictionary itself is deliberately not
// thread-safe. Every mutation is persisted to the Bolt snapshot store,
// recorded in the operation log, and optionally reflected into the
// Redis mirror.
type Server struct {
	mu        sync.RWMutex
	dict      *crdt.Dictionary[string, string]
	store     *storage.BoltStore
	mirror    *storage.Mirror // nil when the mirror is disabled
	opLog     *operation.Log
	replicaID string
	clock     crdt.Clock
	logger    log.Logger
	metrics   *Metrics
}

// NewServer builds a server from cfg, reloading any state persisted in
// cfg.DataDir. A data directory created with a different tombstone
// sentinel is rejected: mixing sentinels would corrupt merge semantics.
func NewServer(cfg *config.Config, logger log.Logger, metrics *Metrics) (*Server, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}

	store, err := storage.OpenBoltStore(cfg.GetStorePath())
	if err != nil {
		return nil, err
	}

	storedTombstone, _, hasMeta, err := store.LoadMeta()
	if err != nil {
		store.Close()
		return nil, err
	}
	if hasMeta && storedTombstone != cfg.Tombstone {
		store.Close()
		return nil, errors.Errorf(
			"data directory %s was written with tombstone %q, configured tombstone is %q",
			cfg.DataDir, storedTombstone, cfg.Tombstone)
	}
	if err := store.SaveMeta(cfg.Tombstone, cfg.ReplicaID); err != nil {
		store.Close()
		return nil, err
	}

	histories, err := store.LoadHistories()
	if err != nil {
		store.Close()
		return nil, err
	}
	dict := crdt.FromHistories(cfg.Tombstone, histories).WithLogger(logger)

	opLog, err := operation.NewLog(cfg.GetOpLogPath())
	if err != nil {
		store.Close()
		return nil, err
	}

	var mirror *storage.Mirror
	if cfg.MirrorEnabled {
		mirror, err = storage.NewMirror(cfg.RedisAddr, cfg.RedisDB, logger)
		if err != nil {
			store.Close()
			opLog.Close()
			return nil, err
		}
	}

	s := &Server{
		dict:      dict,
		store:     store,
		mirror:    mirror,
		opLog:     opLog,
		replicaID: cfg.ReplicaID,
		clock:     crdt.WallClock,
		logger:    logger,
		metrics:   metrics,
	}

	if s.mirror != nil {
		if err := s.mirror.Refresh(context.Background(), s.liveViewLocked()); err != nil {
			level.Warn(logger).Log("msg", "failed to seed mirror from reloaded state", "err", err)
		}
	}

	level.Info(logger).Log("msg", "server initialized", "replica_id", s.replicaID,
		"keys_live", dict.Size(), "keys_tracked", dict.SizeWithRemoved())

	return s, nil
}

// WithClock replaces the server's time source. Used by tests.
func (s *Server) WithClock(clock crdt.Clock) *Server {
	s.clock = clock
	s.dict.WithClock(clock)
	return s
}

// ReplicaID returns this instance's identity.
func (s *Server) ReplicaID() string {
	return s.replicaID
}

// Get returns the current logical value of key.
func (s *Server) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dict.Get(key)
}

// Set writes value under key. When timestamp is nil the server's clock
// supplies one. Returns the prior logical value. Writing the tombstone
// sentinel itself is rejected: the sentinel design cannot distinguish
// such a value from a removal.
func (s *Server) Set(key, value string, timestamp *int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == s.dict.Tombstone() {
		return "", false, errors.Errorf("value collides with the tombstone sentinel")
	}

	ts := s.resolveTimestamp(timestamp)
	prev, had := s.dict.PutAt(key, value, ts)

	if err := s.persistKeyLocked(key); err != nil {
		return prev, had, err
	}
	if err := s.opLog.Append(operation.NewOp(operation.TypeSet, key, value, ts, s.replicaID)); err != nil {
		return prev, had, errors.Wrap(err, "failed to log SET")
	}
	if s.mirror != nil {
		if err := s.mirror.Apply(context.Background(), key, value, true); err != nil {
			level.Warn(s.logger).Log("msg", "mirror write failed", "key", key, "err", err)
		}
	}

	s.metrics.Sets.Add(1)
	return prev, had, nil
}

// Del tombstones the given keys and returns how many were live before.
// When timestamp is nil the server's clock supplies one per key.
func (s *Server) Del(keys []string, timestamp *int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for _, key := range keys {
		ts := s.resolveTimestamp(timestamp)
		if _, had := s.dict.RemoveAt(key, ts); had {
			removed++
		}

		if err := s.persistKeyLocked(key); err != nil {
			return removed, err
		}
		if err := s.opLog.Append(operation.NewOp(operation.TypeRemove, key, "", ts, s.replicaID)); err != nil {
			return removed, errors.Wrap(err, "failed to log REMOVE")
		}
		if s.mirror != nil {
			if err := s.mirror.Apply(context.Background(), key, "", false); err != nil {
				level.Warn(s.logger).Log("msg", "mirror delete failed", "key", key, "err", err)
			}
		}
	}

	s.metrics.Removes.Add(float64(len(keys)))
	return removed, nil
}

// Exists returns how many of the given keys are currently live.
func (s *Server) Exists(keys ...string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, key := range keys {
		if _, ok := s.dict.Get(key); ok {
			n++
		}
	}
	return n
}

// Keys returns the live keys.
func (s *Server) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dict.Keys()
}

// Size returns the number of live keys.
func (s *Server) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dict.Size()
}

// SizeWithRemoved returns the number of keys ever written, tombstoned
// ones included.
func (s *Server) SizeWithRemoved() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dict.SizeWithRemoved()
}

// IsEmpty reports whether no key is live.
func (s *Server) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dict.IsEmpty()
}

// Dump serializes the full dictionary state for another replica to
// merge.
func (s *Server) Dump() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ReplicaID: s.replicaID,
		Tombstone: s.dict.Tombstone(),
		Histories: s.dict.Snapshot(),
	}
	data, err := json.Marshal(snap)
	return data, errors.Wrap(err, "failed to encode snapshot")
}

// Merge decodes a peer snapshot and merges it into this instance. On
// success the merged dictionary atomically replaces the current one
// and is persisted; on any failure the current state is untouched.
func (s *Server) Merge(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		s.metrics.MergeFailures.Add(1)
		return errors.Wrap(err, "failed to decode snapshot")
	}

	other := crdt.FromHistories(snap.Tombstone, snap.Histories)
	merged, err := s.dict.Merge(other)
	if err != nil {
		s.metrics.MergeFailures.Add(1)
		return err
	}

	if err := s.store.SaveSnapshot(merged.Snapshot()); err != nil {
		s.metrics.MergeFailures.Add(1)
		return err
	}
	s.dict = merged.WithClock(s.clock)

	ts := s.clock()
	if err := s.opLog.Append(operation.NewOp(operation.TypeMerge, "", snap.ReplicaID, ts, s.replicaID)); err != nil {
		return errors.Wrap(err, "failed to log MERGE")
	}
	if s.mirror != nil {
		if err := s.mirror.Refresh(context.Background(), s.liveViewLocked()); err != nil {
			level.Warn(s.logger).Log("msg", "mirror refresh after merge failed", "err", err)
		}
	}

	s.metrics.Merges.Add(1)
	level.Info(s.logger).Log("msg", "merged peer snapshot", "peer", snap.ReplicaID,
		"keys_live", s.dict.Size(), "keys_tracked", s.dict.SizeWithRemoved())

	return nil
}

// Close releases the server's resources.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SaveSnapshot(s.dict.Snapshot()); err != nil {
		return errors.Wrap(err, "failed to save state on close")
	}
	if err := s.store.Close(); err != nil {
		return errors.Wrap(err, "failed to close snapshot store")
	}
	if err := s.opLog.Close(); err != nil {
		return errors.Wrap(err, "failed to close operation log")
	}
	if s.mirror != nil {
		if err := s.mirror.Close(); err != nil {
			return errors.Wrap(err, "failed to close mirror")
		}
	}
	return nil
}

// resolveTimestamp picks an explicit client timestamp over the clock.
func (s *Server) resolveTimestamp(timestamp *int64) int64 {
	if timestamp != nil {
		return *timestamp
	}
	return s.clock()
}

// persistKeyLocked saves one key's history. Callers hold s.mu.
func (s *Server) persistKeyLocked(key string) error {
	return s.store.SaveHistory(key, s.dict.History(key))
}

// liveViewLocked resolves the live key/value pairs. Callers hold s.mu.
func (s *Server) liveViewLocked() map[string]string {
	live := make(map[string]string, s.dict.Size())
	for _, key := range s.dict.Keys() {
		if v, ok := s.dict.Get(key); ok {
			live[key] = v
		}
	}
	return live
}
