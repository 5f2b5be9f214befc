package mvcc

import (
	"context"
	"sync"

	storeerrors "github.com/devrev/pairdb/entitystore/internal/errors"
	"github.com/devrev/pairdb/entitystore/internal/model"
	"github.com/devrev/pairdb/entitystore/internal/util/workerpool"
)

// DefaultChunkSize is used when a stream is created with a non-positive chunk size
const DefaultChunkSize = 100

// FieldStream is a single-pass pull iterator over the fields of a stored entity
// version. The scan runs once on the I/O pool when Next is first called and hands
// fixed-size chunks over a buffer of one, so at most two chunks are live at a time.
type FieldStream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	pool      *workerpool.WorkerPool
	entities  EntityStore
	scope     model.CollectionScope
	id        model.ID
	version   model.Version
	chunkSize int

	startOnce sync.Once
	chunks    chan []model.Field
	errc      chan error
	err       error
	done      bool
}

// NewFieldStream prepares a stream over the newest stored row of id at or below
// version. Nothing is read until Next is called.
func NewFieldStream(
	ctx context.Context,
	pool *workerpool.WorkerPool,
	entities EntityStore,
	scope model.CollectionScope,
	id model.ID,
	version model.Version,
	chunkSize int,
) *FieldStream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	ctx, cancel := context.WithCancel(ctx)
	return &FieldStream{
		ctx:       ctx,
		cancel:    cancel,
		pool:      pool,
		entities:  entities,
		scope:     scope,
		id:        id,
		version:   version,
		chunkSize: chunkSize,
		chunks:    make(chan []model.Field, 1),
		errc:      make(chan error, 1),
	}
}

// Next returns the next chunk. It returns false once the fields are exhausted, the
// scan failed or the stream was closed; Err tells them apart.
func (s *FieldStream) Next() ([]model.Field, bool) {
	if s.done {
		return nil, false
	}
	s.startOnce.Do(s.start)

	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, true
		}
		select {
		case err := <-s.errc:
			s.err = err
		default:
		}
	case <-s.ctx.Done():
		s.err = s.ctx.Err()
	}
	s.done = true
	s.cancel()
	return nil, false
}

// Err returns the error that ended the stream, if any
func (s *FieldStream) Err() error {
	return s.err
}

// Close stops the producer. Further calls to Next return false.
func (s *FieldStream) Close() {
	s.done = true
	s.cancel()
}

func (s *FieldStream) start() {
	err := s.pool.Submit(s.ctx, workerpool.Task{
		Name: "field-stream",
		Ctx:  s.ctx,
		Fn:   s.produce,
	})
	if err != nil {
		s.errc <- storeerrors.StorageUnavailable("field stream could not be scheduled", err)
		close(s.chunks)
	}
}

func (s *FieldStream) produce(ctx context.Context) error {
	defer close(s.chunks)

	rows, err := s.entities.Load(ctx, s.scope, s.id, s.version, 1)
	if err != nil {
		s.errc <- err
		return err
	}
	if len(rows) == 0 || !rows[0].HasPayload() {
		return nil
	}

	fields := rows[0].Payload.Fields
	for start := 0; start < len(fields); start += s.chunkSize {
		end := min(start+s.chunkSize, len(fields))
		chunk := make([]model.Field, end-start)
		copy(chunk, fields[start:end])

		select {
		case s.chunks <- chunk:
		case <-ctx.Done():
			s.errc <- ctx.Err()
			return ctx.Err()
		}
	}
	return nil
}
