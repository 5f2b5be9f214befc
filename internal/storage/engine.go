package storage

import (
	"context"
	"errors"
)

// ErrConditionFailed is returned by Commit when a batch condition does not hold.
// Nothing from the batch is applied.
var ErrConditionFailed = errors.New("batch condition failed")

// KV is a row returned by a scan
type KV struct {
	Key   []byte
	Value []byte
}

// ScanRange selects rows with Lower <= key < Upper
type ScanRange struct {
	Lower   []byte
	Upper   []byte
	Limit   int // 0 means unbounded
	Reverse bool
}

// PrefixRange selects every row under prefix
func PrefixRange(prefix []byte) ScanRange {
	return ScanRange{Lower: prefix, Upper: PrefixEnd(prefix)}
}

// Engine is the storage boundary the stores are written against
type Engine interface {
	Committer

	// NewBatch creates a batch that commits through this engine
	NewBatch() *Batch

	// Get returns the row value and whether it exists
	Get(ctx context.Context, key []byte) ([]byte, bool, error)

	// Scan returns the rows in range, in key order or reversed
	Scan(ctx context.Context, r ScanRange) ([]KV, error)

	Ping(ctx context.Context) error
	Close() error
}
