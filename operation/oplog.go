package operation

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Op types recorded in the log.
const (
	TypeSet    = "SET"
	TypeRemove = "REMOVE"
	TypeMerge  = "MERGE"
)

// Op is a single dictionary mutation, recorded for audit and for
// answering "what happened since" questions. The log is an observer:
// replaying it is never needed for correctness because the Bolt
// snapshot carries the full CRDT state.
type Op struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Key       string `json:"key,omitempty"`
	Value     string `json:"value,omitempty"`
	Timestamp int64  `json:"timestamp"`
	ReplicaID string `json:"replica_id"`
}

// NewOp returns an Op with a fresh unique ID.
func NewOp(opType, key, value string, timestamp int64, replicaID string) *Op {
	return &Op{
		ID:        uuid.NewString(),
		Type:      opType,
		Key:       key,
		Value:     value,
		Timestamp: timestamp,
		ReplicaID: replicaID,
	}
}

// Log is an append-only operation log, one JSON document per line.
type Log struct {
	path string
	file *os.File
	w    *bufio.Writer
	ops  []*Op
}

// NewLog opens the log at path, loading any existing operations.
func NewLog(path string) (*Log, error) {
	l := &Log{path: path}

	if err := l.load(); err != nil {
		return nil, errors.Wrap(err, "failed to load operation log")
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open operation log for appending")
	}
	l.file = file
	l.w = bufio.NewWriter(file)

	return l, nil
}

// Append records op at the end of the log and flushes it to disk.
func (l *Log) Append(op *Op) error {
	data, err := json.Marshal(op)
	if err != nil {
		return errors.Wrap(err, "failed to marshal operation")
	}

	if _, err := l.w.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "failed to append operation")
	}
	if err := l.w.Flush(); err != nil {
		return errors.Wrap(err, "failed to flush operation log")
	}

	l.ops = append(l.ops, op)
	return nil
}

// Since returns all operations with a timestamp strictly greater than
// the given one.
func (l *Log) Since(timestamp int64) []*Op {
	var ops []*Op
	for _, op := range l.ops {
		if op.Timestamp > timestamp {
			ops = append(ops, op)
		}
	}
	return ops
}

// Len returns the number of recorded operations.
func (l *Log) Len() int {
	return len(l.ops)
}

// load reads the existing log, skipping lines that fail to decode so a
// torn final write does not block startup.
func (l *Log) load() error {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var op Op
		if err := json.Unmarshal(line, &op); err != nil {
			continue
		}
		l.ops = append(l.ops, &op)
	}

	return scanner.Err()
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	if err := l.w.Flush(); err != nil {
		return errors.Wrap(err, "failed to flush operation log")
	}
	return l.file.Close()
}
