package storage

import (
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"

	"github.com/luoyjx/crdt-dict/crdt"
)

var (
	bucketHistories = []byte("histories")
	bucketMeta      = []byte("meta")

	metaTombstone = []byte("tombstone")
	metaReplicaID = []byte("replica_id")
)

// BoltStore persists the dictionary's full per-key histories in a Bolt
// database: one bucket mapping key to its JSON-encoded entry slice and
// one bucket for instance metadata. Histories are stored whole, never
// pruned, so a reload reconstructs the exact CRDT state including
// tombstoned keys.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// OpenBoltStore opens (or creates) the snapshot store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open snapshot store")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketHistories); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create buckets")
	}

	return &BoltStore{db: db, path: path}, nil
}

// SaveMeta records the tombstone sentinel and replica ID this store
// belongs to. Both are checked on reload so a data directory is never
// silently reused with an incompatible sentinel.
func (s *BoltStore) SaveMeta(tombstone, replicaID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if err := b.Put(metaTombstone, []byte(tombstone)); err != nil {
			return err
		}
		return b.Put(metaReplicaID, []byte(replicaID))
	})
	return errors.Wrap(err, "failed to save metadata")
}

// LoadMeta returns the stored tombstone sentinel and replica ID.
// ok is false when the store has never been written.
func (s *BoltStore) LoadMeta() (tombstone, replicaID string, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		t := b.Get(metaTombstone)
		if t == nil {
			return nil
		}
		ok = true
		tombstone = string(t)
		replicaID = string(b.Get(metaReplicaID))
		return nil
	})
	if err != nil {
		return "", "", false, errors.Wrap(err, "failed to load metadata")
	}
	return tombstone, replicaID, ok, nil
}

// SaveHistory persists the full history of a single key. Called after
// every write; histories are small relative to write frequency and the
// encode-whole-slice approach keeps recovery trivial.
func (s *BoltStore) SaveHistory(key string, entries []crdt.Entry[string]) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "failed to marshal history")
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistories).Put([]byte(key), data)
	})
	return errors.Wrapf(err, "failed to save history for key %q", key)
}

// SaveSnapshot persists every key's history in a single transaction.
// Used after a merge, when many keys may have changed at once.
func (s *BoltStore) SaveSnapshot(histories map[string][]crdt.Entry[string]) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistories)
		for key, entries := range histories {
			data, err := json.Marshal(entries)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "failed to save snapshot")
}

// LoadHistories reads every persisted key history.
func (s *BoltStore) LoadHistories() (map[string][]crdt.Entry[string], error) {
	histories := make(map[string][]crdt.Entry[string])

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistories).ForEach(func(k, v []byte) error {
			var entries []crdt.Entry[string]
			if err := json.Unmarshal(v, &entries); err != nil {
				return errors.Wrapf(err, "corrupt history for key %q", string(k))
			}
			histories[string(k)] = entries
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load histories")
	}
	return histories, nil
}

// Path returns the on-disk location of the store.
func (s *BoltStore) Path() string {
	return s.path
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
