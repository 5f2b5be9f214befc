package mvcc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/entitystore/internal/model"
	"github.com/devrev/pairdb/entitystore/internal/util/workerpool"
)

func newTestPool(t *testing.T) *workerpool.WorkerPool {
	t.Helper()
	pool := workerpool.New(workerpool.Config{Name: "io", Workers: 2, QueueSize: 4, Logger: zap.NewNop()})
	t.Cleanup(func() { _ = pool.Stop(time.Second) })
	return pool
}

func writeFields(t *testing.T, s *testStores, n int) (model.ID, model.Version) {
	t.Helper()
	id := model.NewID("doc")
	v := mustVersion(t)
	fields := make([]model.Field, n)
	for i := range fields {
		fields[i] = model.Field{Name: fmt.Sprintf("f%03d", i), Value: float64(i)}
	}
	b, err := s.entities.Write(testScope, &model.Entity{ID: id, Version: v, Stage: model.StageCommitted, Payload: model.NewPayload(fields...)})
	require.NoError(t, err)
	require.NoError(t, b.Execute(context.Background()))
	return id, v
}

func TestFieldStream_ChunkCounts(t *testing.T) {
	const chunk = 4

	for _, n := range []int{0, 1, chunk, chunk + 1, 10 * chunk} {
		t.Run(fmt.Sprintf("fields=%d", n), func(t *testing.T) {
			s := newTestStores(t)
			id, v := writeFields(t, s, n)

			stream := NewFieldStream(context.Background(), newTestPool(t), s.entities, testScope, id, v, chunk)
			defer stream.Close()

			seen := make(map[string]int)
			chunks := 0
			for {
				fields, ok := stream.Next()
				if !ok {
					break
				}
				chunks++
				assert.LessOrEqual(t, len(fields), chunk)
				for _, f := range fields {
					seen[f.Name]++
				}
			}
			require.NoError(t, stream.Err())

			assert.Equal(t, (n+chunk-1)/chunk, chunks)
			assert.Len(t, seen, n)
			for name, count := range seen {
				assert.Equal(t, 1, count, "field %s visited once", name)
			}

			_, ok := stream.Next()
			assert.False(t, ok, "stream is single pass")
		})
	}
}

func TestFieldStream_MissingRowIsEmpty(t *testing.T) {
	s := newTestStores(t)
	stream := NewFieldStream(context.Background(), newTestPool(t), s.entities, testScope, model.NewID("doc"), mustVersion(t), 10)

	_, ok := stream.Next()
	assert.False(t, ok)
	assert.NoError(t, stream.Err())
}

func TestFieldStream_ScanFailureSurfaces(t *testing.T) {
	s := newTestStores(t)
	id, v := writeFields(t, s, 3)
	require.NoError(t, s.engine.Close())

	stream := NewFieldStream(context.Background(), newTestPool(t), s.entities, testScope, id, v, 2)
	_, ok := stream.Next()
	assert.False(t, ok)
	assert.Error(t, stream.Err())
}

func TestFieldStream_CloseStopsProducer(t *testing.T) {
	s := newTestStores(t)
	id, v := writeFields(t, s, 20)
	pool := newTestPool(t)

	stream := NewFieldStream(context.Background(), pool, s.entities, testScope, id, v, 1)
	first, ok := stream.Next()
	require.True(t, ok)
	assert.Len(t, first, 1)

	stream.Close()
	_, ok = stream.Next()
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return pool.Stats().Active == 0 }, time.Second, 5*time.Millisecond)
}
