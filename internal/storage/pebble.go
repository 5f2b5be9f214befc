package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	storeerrors "github.com/devrev/pairdb/entitystore/internal/errors"
)

// Sharded commit locks serialize condition checks against writes of the same keys
const commitLockShards = 256

// PebbleConfig holds pebble engine configuration
type PebbleConfig struct {
	DataDir     string
	InMemory    bool
	SyncWrites  bool
	CacheSizeMB int64
}

// PebbleEngine implements Engine on a pebble LSM. Batch commits are atomic, and
// conditions are evaluated under per-key shard locks immediately before the write.
type PebbleEngine struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	logger    *zap.Logger
	locks     [commitLockShards]sync.Mutex
	closed    atomic.Bool
}

// NewPebbleEngine opens (or creates) the store described by cfg
func NewPebbleEngine(cfg *PebbleConfig, logger *zap.Logger) (*PebbleEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cacheSize := cfg.CacheSizeMB
	if cacheSize <= 0 {
		cacheSize = 64
	}
	cache := pebble.NewCache(cacheSize << 20)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:  cache,
		Logger: logger.Named("pebble").Sugar(),
	}
	dir := cfg.DataDir
	if cfg.InMemory {
		opts.FS = vfs.NewMem()
		dir = ""
	} else if dir == "" {
		return nil, fmt.Errorf("pebble data dir is required")
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, storeerrors.StorageUnavailable("failed to open pebble store", err).
			WithDetail("data_dir", dir)
	}

	writeOpts := pebble.NoSync
	if cfg.SyncWrites {
		writeOpts = pebble.Sync
	}

	logger.Info("Pebble engine opened",
		zap.String("data_dir", dir),
		zap.Bool("in_memory", cfg.InMemory),
		zap.Bool("sync_writes", cfg.SyncWrites))

	return &PebbleEngine{
		db:        db,
		writeOpts: writeOpts,
		logger:    logger,
	}, nil
}

// NewBatch creates a batch that commits through this engine
func (e *PebbleEngine) NewBatch() *Batch {
	return NewBatch(e)
}

// Get returns the row value and whether it exists
func (e *PebbleEngine) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := e.check(ctx); err != nil {
		return nil, false, err
	}
	return e.get(key)
}

func (e *PebbleEngine) get(key []byte) ([]byte, bool, error) {
	value, closer, err := e.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeerrors.StorageUnavailable("pebble get failed", err)
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Scan returns the rows in range
func (e *PebbleEngine) Scan(ctx context.Context, r ScanRange) ([]KV, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}

	iter, err := e.db.NewIter(&pebble.IterOptions{
		LowerBound: r.Lower,
		UpperBound: r.Upper,
	})
	if err != nil {
		return nil, storeerrors.StorageUnavailable("pebble iterator failed", err)
	}
	defer iter.Close()

	var rows []KV
	valid := iter.First()
	step := iter.Next
	if r.Reverse {
		valid = iter.Last()
		step = iter.Prev
	}
	for ; valid; valid = step() {
		rows = append(rows, KV{
			Key:   bytes.Clone(iter.Key()),
			Value: bytes.Clone(iter.Value()),
		})
		if r.Limit > 0 && len(rows) >= r.Limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, storeerrors.StorageUnavailable("pebble scan failed", err)
	}
	return rows, nil
}

// Commit applies every op of b in one pebble batch. Conditions are checked while
// holding the shard locks of every key the batch reads or writes.
func (e *PebbleEngine) Commit(ctx context.Context, b *Batch) error {
	if err := e.check(ctx); err != nil {
		return err
	}

	unlock := e.lockKeys(b)
	defer unlock()

	for _, cond := range b.Conditions() {
		current, exists, err := e.get(cond.Key)
		if err != nil {
			return err
		}
		if exists != cond.Exists || (exists && !bytes.Equal(current, cond.Value)) {
			return fmt.Errorf("%w: key %x", ErrConditionFailed, cond.Key)
		}
	}

	pb := e.db.NewBatch()
	defer pb.Close()

	for _, op := range b.Ops() {
		var err error
		switch op.Kind {
		case OpPut:
			err = pb.Set(op.Key, op.Value, nil)
		case OpDelete:
			err = pb.Delete(op.Key, nil)
		default:
			err = fmt.Errorf("unknown op kind %d", op.Kind)
		}
		if err != nil {
			return storeerrors.InternalError("failed to stage batch op", err)
		}
	}

	if err := pb.Commit(e.writeOpts); err != nil {
		return storeerrors.StorageUnavailable("pebble batch commit failed", err).
			WithDetail("ops", b.Len())
	}
	return nil
}

// lockKeys acquires the shard locks of all keys in ascending shard order
func (e *PebbleEngine) lockKeys(b *Batch) func() {
	seen := make(map[uint64]struct{})
	for _, c := range b.Conditions() {
		seen[xxhash.Sum64(c.Key)%commitLockShards] = struct{}{}
	}
	for _, op := range b.Ops() {
		seen[xxhash.Sum64(op.Key)%commitLockShards] = struct{}{}
	}
	shards := make([]uint64, 0, len(seen))
	for s := range seen {
		shards = append(shards, s)
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i] < shards[j] })

	for _, s := range shards {
		e.locks[s].Lock()
	}
	return func() {
		for i := len(shards) - 1; i >= 0; i-- {
			e.locks[shards[i]].Unlock()
		}
	}
}

// Ping reports whether the engine can serve requests
func (e *PebbleEngine) Ping(ctx context.Context) error {
	return e.check(ctx)
}

// Close closes the engine; later calls fail with StorageUnavailable
func (e *PebbleEngine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.logger.Info("Closing pebble engine")
	return e.db.Close()
}

func (e *PebbleEngine) check(ctx context.Context) error {
	if e.closed.Load() {
		return storeerrors.StorageUnavailable("pebble engine is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return storeerrors.StorageUnavailable("request canceled", err)
	}
	return nil
}
