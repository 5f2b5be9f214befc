package storage

import (
	"context"
	"fmt"
)

// OpKind is the kind of a pending row write
type OpKind uint8

const (
	OpPut OpKind = iota
	OpDelete
)

// Op is one pending row write
type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
}

// Condition guards a commit: the key must hold Value, or be absent when Exists is false
type Condition struct {
	Key    []byte
	Value  []byte
	Exists bool
}

// Committer applies a batch atomically
type Committer interface {
	Commit(ctx context.Context, b *Batch) error
}

// Batch accumulates row writes across partitions. Nothing is visible until Execute
// succeeds, and then everything is. A Batch is not safe for concurrent use.
type Batch struct {
	committer  Committer
	ops        []Op
	conditions []Condition
	hooks      []func()
}

// NewBatch creates an empty batch bound to a committer
func NewBatch(c Committer) *Batch {
	return &Batch{committer: c}
}

// Put stages a row write
func (b *Batch) Put(key, value []byte) *Batch {
	b.ops = append(b.ops, Op{Kind: OpPut, Key: key, Value: value})
	return b
}

// Delete stages a row removal. Removing an absent row is a no-op.
func (b *Batch) Delete(key []byte) *Batch {
	b.ops = append(b.ops, Op{Kind: OpDelete, Key: key})
	return b
}

// Expect requires key to still hold value at commit time
func (b *Batch) Expect(key, value []byte) *Batch {
	b.conditions = append(b.conditions, Condition{Key: key, Value: value, Exists: true})
	return b
}

// ExpectAbsent requires key to be absent at commit time
func (b *Batch) ExpectAbsent(key []byte) *Batch {
	b.conditions = append(b.conditions, Condition{Key: key})
	return b
}

// OnCommit registers fn to run after the batch commits successfully
func (b *Batch) OnCommit(fn func()) *Batch {
	b.hooks = append(b.hooks, fn)
	return b
}

// MergeShallow takes ownership of other's pending ops, conditions and hooks
// without re-validating them. other is left empty.
func (b *Batch) MergeShallow(other *Batch) *Batch {
	if other == nil || other == b {
		return b
	}
	b.ops = append(b.ops, other.ops...)
	b.conditions = append(b.conditions, other.conditions...)
	b.hooks = append(b.hooks, other.hooks...)
	other.reset()
	return b
}

// Ops returns the pending writes in staging order
func (b *Batch) Ops() []Op {
	return b.ops
}

// Conditions returns the pending commit conditions
func (b *Batch) Conditions() []Condition {
	return b.conditions
}

// Len returns the number of pending writes
func (b *Batch) Len() int {
	return len(b.ops)
}

// IsEmpty reports whether the batch has nothing to commit
func (b *Batch) IsEmpty() bool {
	return len(b.ops) == 0 && len(b.conditions) == 0
}

// Execute commits every pending write atomically. On success the batch is emptied
// and the commit hooks run; on failure it keeps its contents so the caller may
// retry or discard it.
func (b *Batch) Execute(ctx context.Context) error {
	if b.committer == nil {
		return fmt.Errorf("batch has no committer")
	}
	if !b.IsEmpty() {
		if err := b.committer.Commit(ctx, b); err != nil {
			return err
		}
	}
	hooks := b.hooks
	b.reset()
	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (b *Batch) reset() {
	b.ops = nil
	b.conditions = nil
	b.hooks = nil
}
