package crdt

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// ErrTombstoneMismatch is returned by Merge when the two dictionaries
// were constructed with different tombstone sentinels. Callers are
// expected to branch on it with errors.Is.
var ErrTombstoneMismatch = errors.New("tombstone sentinels differ")

// Entry is a single timestamped write in a key's history. An entry
// whose value equals the dictionary's tombstone sentinel records a
// logical deletion at that timestamp.
type Entry[V comparable] struct {
	Timestamp int64 `json:"timestamp"`
	Value     V     `json:"value"`
}

// Dictionary is a Last-Writer-Wins Element Dictionary: a state-based
// CRDT mapping keys to values. Each key owns the full ordered history
// of its timestamped writes; the current value of a key is the entry
// with the greatest timestamp, and deletions are tombstone writes
// rather than removals. Two independently mutated dictionaries
// converge by Merge without coordination.
//
// Histories only grow. Nothing ever prunes old entries; garbage
// collection of historical revisions is deliberately out of scope.
//
// A Dictionary is not safe for concurrent use. Callers mutating one
// instance from multiple goroutines must serialize access themselves,
// the way the server package does with a sync.RWMutex.
type Dictionary[K comparable, V comparable] struct {
	// histories maps each key to its entries, sorted descending by
	// timestamp so the current value is always histories[key][0].
	// Invariant: a key present in the map has a non-empty history.
	histories map[K][]Entry[V]
	tombstone V
	clock     Clock
	logger    log.Logger
}

// NewDictionary returns an empty dictionary using the given tombstone
// sentinel to mark deletions. The clock defaults to WallClock and the
// trace sink to a no-op logger.
func NewDictionary[K comparable, V comparable](tombstone V) *Dictionary[K, V] {
	return &Dictionary[K, V]{
		histories: make(map[K][]Entry[V]),
		tombstone: tombstone,
		clock:     WallClock,
		logger:    log.NewNopLogger(),
	}
}

// FromHistories returns a dictionary pre-populated with the given
// per-key histories. The input is deep-copied; entries may arrive in
// any order and are sorted descending by timestamp. Where the input
// holds several entries at the same timestamp for one key, the one
// appearing later in the slice wins. Keys with empty histories are
// dropped.
func FromHistories[K comparable, V comparable](tombstone V, histories map[K][]Entry[V]) *Dictionary[K, V] {
	d := NewDictionary[K, V](tombstone)
	for key, entries := range histories {
		h := make([]Entry[V], 0, len(entries))
		for _, e := range entries {
			h = insertEntry(h, e)
		}
		if len(h) > 0 {
			d.histories[key] = h
		}
	}
	return d
}

// WithClock replaces the dictionary's time source and returns the
// dictionary, so construction can be chained. Used by tests to pin
// deterministic timestamps.
func (d *Dictionary[K, V]) WithClock(clock Clock) *Dictionary[K, V] {
	d.clock = clock
	return d
}

// WithLogger replaces the dictionary's trace sink and returns the
// dictionary. The sink observes state transitions only; it has no
// effect on correctness.
func (d *Dictionary[K, V]) WithLogger(logger log.Logger) *Dictionary[K, V] {
	d.logger = logger
	return d
}

// Tombstone returns the deletion sentinel this dictionary was
// constructed with.
func (d *Dictionary[K, V]) Tombstone() V {
	return d.tombstone
}

// Get returns the logical value of key: the value of the entry with
// the greatest timestamp, or ok=false if the key was never written or
// its most recent entry is a tombstone.
func (d *Dictionary[K, V]) Get(key K) (V, bool) {
	var zero V
	h, ok := d.histories[key]
	if !ok {
		return zero, false
	}
	head := h[0]
	if head.Value == d.tombstone {
		return zero, false
	}
	return head.Value, true
}

// Put writes value under key at the current clock time and returns the
// logical value the key held immediately before the write (ok=false if
// the key was absent or tombstoned).
func (d *Dictionary[K, V]) Put(key K, value V) (V, bool) {
	return d.PutAt(key, value, d.clock())
}

// PutAt writes value under key at an explicit timestamp. An existing
// entry at exactly that timestamp is overwritten in place: the write
// that physically happens last wins locally. The return value is the
// prior logical value, captured before the write.
func (d *Dictionary[K, V]) PutAt(key K, value V, timestamp int64) (V, bool) {
	prev, had := d.Get(key)
	d.histories[key] = insertEntry(d.histories[key], Entry[V]{Timestamp: timestamp, Value: value})
	level.Debug(d.logger).Log("msg", "put", "key", key, "timestamp", timestamp, "tombstone", value == d.tombstone)
	return prev, had
}

// Remove appends a tombstone entry for key at the current clock time.
// The key's prior entries are preserved so later merges still resolve
// correctly. Returns the value that was logically present before the
// removal (ok=false if the key was already absent or tombstoned).
func (d *Dictionary[K, V]) Remove(key K) (V, bool) {
	return d.RemoveAt(key, d.clock())
}

// RemoveAt appends a tombstone entry for key at an explicit timestamp.
func (d *Dictionary[K, V]) RemoveAt(key K, timestamp int64) (V, bool) {
	return d.PutAt(key, d.tombstone, timestamp)
}

// Merge combines this dictionary with other into a brand-new instance;
// neither input is mutated. The merged history of each key is the
// union of both sides' entries, preserving full timestamp provenance,
// so Merge is commutative and associative in logical state and
// idempotent. Where both sides hold an entry at the same timestamp for
// the same key, other's entry wins.
//
// Merging fails with ErrTombstoneMismatch when the two dictionaries
// use different tombstone sentinels; no new instance is produced.
func (d *Dictionary[K, V]) Merge(other *Dictionary[K, V]) (*Dictionary[K, V], error) {
	if d.tombstone != other.tombstone {
		return nil, fmt.Errorf("cannot merge dictionaries: %w (%v vs %v)",
			ErrTombstoneMismatch, d.tombstone, other.tombstone)
	}

	merged := make(map[K][]Entry[V], len(d.histories))
	for key, h := range d.histories {
		merged[key] = append([]Entry[V](nil), h...)
	}
	for key, h := range other.histories {
		dst := merged[key]
		for _, e := range h {
			dst = insertEntry(dst, e)
		}
		merged[key] = dst
	}

	level.Debug(d.logger).Log("msg", "merge", "left_keys", len(d.histories),
		"right_keys", len(other.histories), "merged_keys", len(merged))

	return &Dictionary[K, V]{
		histories: merged,
		tombstone: d.tombstone,
		clock:     d.clock,
		logger:    d.logger,
	}, nil
}

// IsEmpty reports whether every key's logical value is absent, i.e.
// the dictionary holds no live keys.
func (d *Dictionary[K, V]) IsEmpty() bool {
	for key := range d.histories {
		if _, ok := d.Get(key); ok {
			return false
		}
	}
	return true
}

// Size returns the number of live keys: keys whose logical value is
// not absent.
func (d *Dictionary[K, V]) Size() int {
	n := 0
	for key := range d.histories {
		if _, ok := d.Get(key); ok {
			n++
		}
	}
	return n
}

// SizeWithRemoved returns the number of keys ever written, including
// keys whose most recent entry is a tombstone.
func (d *Dictionary[K, V]) SizeWithRemoved() int {
	return len(d.histories)
}

// Keys returns the live keys in no particular order.
func (d *Dictionary[K, V]) Keys() []K {
	keys := make([]K, 0, len(d.histories))
	for key := range d.histories {
		if _, ok := d.Get(key); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// Snapshot returns a deep copy of every key's history, tombstoned keys
// included. The result feeds persistence and the snapshot wire format
// and can rebuild an equal dictionary via FromHistories.
func (d *Dictionary[K, V]) Snapshot() map[K][]Entry[V] {
	out := make(map[K][]Entry[V], len(d.histories))
	for key, h := range d.histories {
		out[key] = append([]Entry[V](nil), h...)
	}
	return out
}

// History returns a copy of the full entry history of key, most recent
// first, or nil if the key was never written.
func (d *Dictionary[K, V]) History(key K) []Entry[V] {
	h, ok := d.histories[key]
	if !ok {
		return nil
	}
	return append([]Entry[V](nil), h...)
}

// insertEntry inserts e into h, keeping h sorted descending by
// timestamp with at most one entry per timestamp. An existing entry at
// e.Timestamp is overwritten: the entry inserted last wins.
func insertEntry[V comparable](h []Entry[V], e Entry[V]) []Entry[V] {
	i := sort.Search(len(h), func(i int) bool { return h[i].Timestamp <= e.Timestamp })
	if i < len(h) && h[i].Timestamp == e.Timestamp {
		h[i].Value = e.Value
		return h
	}
	h = append(h, Entry[V]{})
	copy(h[i+1:], h[i:])
	h[i] = e
	return h
}
