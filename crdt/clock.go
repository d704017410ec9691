package crdt

import "time"

// Clock supplies the current timestamp for writes that do not carry an
// explicit one. Timestamps are treated as opaque, totally ordered
// integers; in production they are wall-clock milliseconds.
type Clock func() int64

// WallClock returns the current wall-clock time in milliseconds since
// the Unix epoch. It is the default Clock of a Dictionary.
func WallClock() int64 {
	return time.Now().UnixMilli()
}
