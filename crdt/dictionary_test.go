package crdt

import (
	"testing"
)

// fakeClock returns a Clock that hands out strictly increasing
// timestamps starting at start.
func fakeClock(start int64) Clock {
	next := start
	return func() int64 {
		next++
		return next
	}
}

// ============================================
// Read path
// ============================================

func TestGetUnknownKey(t *testing.T) {
	d := NewDictionary[string, string]("").WithClock(fakeClock(0))

	if v, ok := d.Get("missing"); ok {
		t.Errorf("Expected no value for unknown key, got %q", v)
	}
}

func TestPutThenGet(t *testing.T) {
	d := NewDictionary[string, string]("").WithClock(fakeClock(0))

	if _, had := d.Put("a", "1"); had {
		t.Error("Expected no prior value for fresh key")
	}
	v, ok := d.Get("a")
	if !ok {
		t.Fatal("Get returned not ok for freshly written key")
	}
	if v != "1" {
		t.Errorf("Expected '1', got %q", v)
	}
}

func TestPutReturnsPriorLogicalValue(t *testing.T) {
	d := NewDictionary[string, string]("").WithClock(fakeClock(0))

	d.Put("a", "1")
	prev, had := d.Put("a", "2")
	if !had {
		t.Fatal("Expected prior value before second put")
	}
	if prev != "1" {
		t.Errorf("Expected prior value '1', got %q", prev)
	}

	d.Remove("a")
	if _, had := d.Put("a", "3"); had {
		t.Error("Expected no prior value after remove")
	}
}

// ============================================
// Last-writer-wins by timestamp
// ============================================

func TestLastWriterWinsByTimestampNotCallOrder(t *testing.T) {
	d := NewDictionary[string, string]("")

	// Newer timestamp written first, older one second.
	d.PutAt("a", "new", 200)
	d.PutAt("a", "old", 100)

	v, ok := d.Get("a")
	if !ok {
		t.Fatal("Expected live value")
	}
	if v != "new" {
		t.Errorf("Expected 'new' to win by timestamp, got %q", v)
	}
}

func TestPutSameTimestampOverwritesInPlace(t *testing.T) {
	d := NewDictionary[string, string]("")

	d.PutAt("a", "first", 100)
	d.PutAt("a", "second", 100)

	if v, _ := d.Get("a"); v != "second" {
		t.Errorf("Expected last local write at identical timestamp to win, got %q", v)
	}
	if n := len(d.History("a")); n != 1 {
		t.Errorf("Expected a single entry at the shared timestamp, got %d", n)
	}
}

// ============================================
// Remove and tombstones
// ============================================

func TestRemoveHidesKey(t *testing.T) {
	d := NewDictionary[string, string]("").WithClock(fakeClock(0))

	d.Put("a", "1")
	prev, had := d.Remove("a")
	if !had || prev != "1" {
		t.Errorf("Expected remove to return prior value '1', got %q (had=%v)", prev, had)
	}
	if _, ok := d.Get("a"); ok {
		t.Error("Expected no value after remove")
	}
	if !d.IsEmpty() {
		t.Error("Expected dictionary to be empty after removing its only key")
	}
}

func TestRemoveAbsentKey(t *testing.T) {
	d := NewDictionary[string, string]("").WithClock(fakeClock(0))

	if _, had := d.Remove("ghost"); had {
		t.Error("Expected no prior value when removing an absent key")
	}
	// The tombstone still counts as a written key.
	if n := d.SizeWithRemoved(); n != 1 {
		t.Errorf("Expected SizeWithRemoved 1, got %d", n)
	}
}

func TestReinsertAfterRemove(t *testing.T) {
	d := NewDictionary[string, string]("").WithClock(fakeClock(0))

	d.Put("a", "1")
	d.Remove("a")
	d.Put("a", "2")

	v, ok := d.Get("a")
	if !ok {
		t.Fatal("Expected key to be live again after re-put")
	}
	if v != "2" {
		t.Errorf("Expected '2', got %q", v)
	}
}

func TestRemovePreservesHistory(t *testing.T) {
	d := NewDictionary[string, string]("").WithClock(fakeClock(0))

	d.Put("a", "1")
	d.Put("a", "2")
	d.Remove("a")

	if n := len(d.History("a")); n != 3 {
		t.Errorf("Expected 3 retained entries, got %d", n)
	}
}

// ============================================
// Size accounting
// ============================================

func TestSizeCountsOnlyLiveKeys(t *testing.T) {
	d := NewDictionary[string, string]("").WithClock(fakeClock(0))

	d.Put("a", "1")
	d.Put("b", "2")
	d.Remove("a")

	if n := d.Size(); n != 1 {
		t.Errorf("Expected Size 1, got %d", n)
	}
	if n := d.SizeWithRemoved(); n != 2 {
		t.Errorf("Expected SizeWithRemoved 2, got %d", n)
	}
	if d.IsEmpty() {
		t.Error("Expected dictionary with one live key to be non-empty")
	}

	keys := d.Keys()
	if len(keys) != 1 || keys[0] != "b" {
		t.Errorf("Expected live keys [b], got %v", keys)
	}
}

func TestIsEmptyOnFreshDictionary(t *testing.T) {
	d := NewDictionary[string, int](-1)

	if !d.IsEmpty() {
		t.Error("Expected fresh dictionary to be empty")
	}
	if n := d.Size(); n != 0 {
		t.Errorf("Expected Size 0, got %d", n)
	}
}

// ============================================
// Bulk initialization and snapshots
// ============================================

func TestFromHistoriesSortsAndResolves(t *testing.T) {
	histories := map[string][]Entry[string]{
		"a": {
			{Timestamp: 300, Value: "newest"},
			{Timestamp: 100, Value: "oldest"},
			{Timestamp: 200, Value: "middle"},
		},
		"empty": {},
	}
	d := FromHistories("", histories)

	if v, _ := d.Get("a"); v != "newest" {
		t.Errorf("Expected 'newest', got %q", v)
	}
	if n := d.SizeWithRemoved(); n != 1 {
		t.Errorf("Expected empty history to be dropped, SizeWithRemoved=%d", n)
	}
}

func TestFromHistoriesDuplicateTimestampLastWins(t *testing.T) {
	d := FromHistories("", map[string][]Entry[string]{
		"a": {
			{Timestamp: 100, Value: "first"},
			{Timestamp: 100, Value: "second"},
		},
	})

	if v, _ := d.Get("a"); v != "second" {
		t.Errorf("Expected later duplicate to win, got %q", v)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	d := NewDictionary[string, string]("").WithClock(fakeClock(0))
	d.Put("a", "1")
	d.Put("b", "2")
	d.Remove("b")

	restored := FromHistories(d.Tombstone(), d.Snapshot())

	for _, key := range []string{"a", "b"} {
		v1, ok1 := d.Get(key)
		v2, ok2 := restored.Get(key)
		if v1 != v2 || ok1 != ok2 {
			t.Errorf("Key %q differs after round trip: (%q,%v) vs (%q,%v)", key, v1, ok1, v2, ok2)
		}
	}
	if restored.SizeWithRemoved() != d.SizeWithRemoved() {
		t.Error("Expected identical key counts after round trip")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	d := NewDictionary[string, string]("").WithClock(fakeClock(0))
	d.Put("a", "1")

	snap := d.Snapshot()
	snap["a"][0].Value = "mutated"

	if v, _ := d.Get("a"); v != "1" {
		t.Errorf("Snapshot mutation leaked into dictionary: got %q", v)
	}
}
