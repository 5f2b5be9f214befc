package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	storeerrors "github.com/devrev/pairdb/entitystore/internal/errors"
	"github.com/devrev/pairdb/entitystore/internal/index"
	"github.com/devrev/pairdb/entitystore/internal/model"
	"github.com/devrev/pairdb/entitystore/internal/mvcc"
	"github.com/devrev/pairdb/entitystore/internal/repair"
	"github.com/devrev/pairdb/entitystore/internal/storage"
	"github.com/devrev/pairdb/entitystore/internal/util/workerpool"
)

const repairTimeout = time.Minute

var scope = model.NewCollectionScope("app", "users")

// faultyEngine fails commits touching a partition on demand and counts accesses
type faultyEngine struct {
	*storage.PebbleEngine
	failPartition atomic.Int32
	calls         atomic.Int64
}

func (f *faultyEngine) NewBatch() *storage.Batch {
	return storage.NewBatch(f)
}

func (f *faultyEngine) Commit(ctx context.Context, b *storage.Batch) error {
	f.calls.Add(1)
	if p := byte(f.failPartition.Load()); p != 0 {
		for _, op := range b.Ops() {
			if storage.Partition(op.Key) == p {
				return storeerrors.StorageUnavailable("injected outage", nil)
			}
		}
	}
	return f.PebbleEngine.Commit(ctx, b)
}

func (f *faultyEngine) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	f.calls.Add(1)
	return f.PebbleEngine.Get(ctx, key)
}

func (f *faultyEngine) Scan(ctx context.Context, r storage.ScanRange) ([]storage.KV, error) {
	f.calls.Add(1)
	return f.PebbleEngine.Scan(ctx, r)
}

// flakyUniques fails claim lookups for one field name until healed
type flakyUniques struct {
	mvcc.UniqueValueStore
	failField atomic.Value
}

func (f *flakyUniques) heal() {
	f.failField.Store("")
}

func (f *flakyUniques) Load(ctx context.Context, s model.CollectionScope, field model.Field) (*model.UniqueValue, error) {
	if name, _ := f.failField.Load().(string); name != "" && field.Name == name {
		return nil, errors.New("injected lookup failure")
	}
	return f.UniqueValueStore.Load(ctx, s, field)
}

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) Schedule(ctx context.Context, msg *repair.Message, timeout time.Duration) (*repair.Message, error) {
	args := m.Called(ctx, msg, timeout)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *mockScheduler) Start(msg *repair.Message) {
	m.Called(msg)
}

type options struct {
	registerHandlers bool
	retainVersions   int
	failClaimField   string
	scheduler        Scheduler
}

type harness struct {
	engine   *faultyEngine
	logs     *mvcc.EngineLogEntryStore
	entities *mvcc.EngineEntityStore
	uniques  *mvcc.EngineUniqueValueStore
	flaky    *flakyUniques
	store    *repair.MemoryStore
	proc     *repair.Processor
	idx      *index.MemoryIndex
	p        *Pipeline
}

func newHarness(t *testing.T, opts options) *harness {
	t.Helper()
	pebbleEngine, err := storage.NewPebbleEngine(&storage.PebbleConfig{InMemory: true}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pebbleEngine.Close() })
	engine := &faultyEngine{PebbleEngine: pebbleEngine}

	ioPool := workerpool.New(workerpool.Config{Name: "io", Workers: 4, QueueSize: 16})
	repairPool := workerpool.New(workerpool.Config{Name: "repair", Workers: 2, QueueSize: 64})
	t.Cleanup(func() {
		_ = repairPool.Stop(time.Second)
		_ = ioPool.Stop(time.Second)
	})

	h := &harness{
		engine:   engine,
		logs:     mvcc.NewLogEntryStore(engine),
		entities: mvcc.NewEntityStore(engine),
		store:    repair.NewMemoryStore(),
		idx:      index.NewMemoryIndex(),
	}
	h.uniques = mvcc.NewUniqueValueStore(engine, h.logs)
	h.proc = repair.NewProcessor(repair.Config{}, h.store, repairPool, nil, zap.NewNop())

	var uniques mvcc.UniqueValueStore = h.uniques
	if opts.failClaimField != "" {
		h.flaky = &flakyUniques{UniqueValueStore: h.uniques}
		h.flaky.failField.Store(opts.failClaimField)
		uniques = h.flaky
	}
	var scheduler Scheduler = h.proc
	if opts.scheduler != nil {
		scheduler = opts.scheduler
	}

	h.p, err = NewPipeline(
		Config{RepairTimeout: repairTimeout, ChunkSize: 2, RetainVersions: opts.retainVersions},
		h.logs, h.entities, uniques, scheduler,
		index.NewClientNotifier(h.idx, nil, zap.NewNop()),
		ioPool, nil, zap.NewNop(),
	)
	require.NoError(t, err)

	if opts.registerHandlers {
		for kind, handler := range h.p.Handlers() {
			h.proc.Register(kind, handler)
		}
	}
	return h
}

func person(name string, age int) *model.Entity {
	return &model.Entity{
		ID: model.NewID("user"),
		Payload: model.NewPayload(
			model.Field{Name: "name", Value: name, Unique: true},
			model.Field{Name: "age", Value: age},
		),
	}
}

func (h *harness) logEntry(t *testing.T, id model.ID, v model.Version) *model.LogEntry {
	t.Helper()
	entry, err := h.logs.Load(context.Background(), scope, id, v)
	require.NoError(t, err)
	return entry
}

func (h *harness) claim(t *testing.T, name string) *model.UniqueValue {
	t.Helper()
	claim, err := h.uniques.Load(context.Background(), scope, model.Field{Name: "name", Value: name})
	require.NoError(t, err)
	return claim
}

func (h *harness) messages(t *testing.T, kind repair.Kind) []*repair.Message {
	t.Helper()
	due, err := h.store.Due(context.Background(), time.Now().Add(24*time.Hour), 0)
	require.NoError(t, err)
	var out []*repair.Message
	for _, msg := range due {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (h *harness) snapshot(t *testing.T) map[string]string {
	t.Helper()
	rows, err := h.engine.PebbleEngine.Scan(context.Background(), storage.ScanRange{})
	require.NoError(t, err)
	out := make(map[string]string, len(rows))
	for _, kv := range rows {
		out[string(kv.Key)] = string(kv.Value)
	}
	return out
}

func TestDelete_ReleasesClaimsMarksRowAndSchedulesRepair(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})

	e1, err := h.p.Create(ctx, scope, person("alice", 30))
	require.NoError(t, err)
	require.NotNil(t, h.claim(t, "alice"))

	before := time.Now()
	deleted, err := h.p.Delete(ctx, scope, e1)
	require.NoError(t, err)
	after := time.Now()

	assert.Equal(t, e1.ID, deleted.ID)
	assert.Equal(t, e1.Version, deleted.Version)
	assert.Equal(t, model.StageCommitted, deleted.Stage)
	assert.False(t, deleted.HasPayload())

	entry := h.logEntry(t, e1.ID, e1.Version)
	require.NotNil(t, entry)
	assert.Equal(t, model.StageCommitted, entry.Stage)
	assert.Equal(t, model.StatusDeleted, entry.Status)

	assert.Nil(t, h.claim(t, "alice"))

	rows, err := h.entities.Load(ctx, scope, e1.ID, e1.Version, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, e1.Version, rows[0].Version)
	assert.False(t, rows[0].HasPayload(), "row kept with payload cleared")

	msgs := h.messages(t, KindEntityDelete)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Deadline.Before(before.Add(2*repairTimeout)))
	assert.False(t, msgs[0].Deadline.After(after.Add(2*repairTimeout)))

	var ev EntityEvent
	require.NoError(t, msgs[0].Decode(&ev))
	assert.Equal(t, scope, ev.Scope)
	assert.Equal(t, e1.Version, ev.Version)
	assert.Equal(t, e1.ID, ev.Entity.ID)

	_, err = h.p.Load(ctx, scope, e1.ID)
	assert.True(t, storeerrors.IsNotFound(err))
}

func TestDelete_ReleasedValueCanBeClaimedAgain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})

	e1, err := h.p.Create(ctx, scope, person("alice", 30))
	require.NoError(t, err)
	_, err = h.p.Create(ctx, scope, person("alice", 31))
	require.True(t, storeerrors.IsConstraintViolation(err), "got %v", err)

	_, err = h.p.Delete(ctx, scope, e1)
	require.NoError(t, err)

	e2, err := h.p.Create(ctx, scope, person("alice", 25))
	require.NoError(t, err)

	claim := h.claim(t, "alice")
	require.NotNil(t, claim)
	assert.Equal(t, model.Owner{ID: e2.ID, Version: e2.Version}, claim.Owner)
}

func TestDelete_LogWriteOutageSchedulesNothing(t *testing.T) {
	ctx := context.Background()
	sched := &mockScheduler{}
	sched.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	sched.On("Start", mock.Anything).Return()
	h := newHarness(t, options{scheduler: sched})

	e1, err := h.p.Create(ctx, scope, person("alice", 30))
	require.NoError(t, err)
	sched.AssertNumberOfCalls(t, "Schedule", 1)

	h.engine.failPartition.Store(int32(mvcc.PartitionLog))
	_, err = h.p.Delete(ctx, scope, e1)
	require.Error(t, err)
	assert.True(t, storeerrors.IsStorageUnavailable(err), "got %v", err)

	h.engine.failPartition.Store(0)
	sched.AssertNumberOfCalls(t, "Schedule", 1)
	sched.AssertNumberOfCalls(t, "Start", 1)

	entry := h.logEntry(t, e1.ID, e1.Version)
	require.NotNil(t, entry)
	assert.Equal(t, model.StatusActive, entry.Status)
	require.NotNil(t, h.claim(t, "alice"), "no claim removed")

	loaded, err := h.p.Load(ctx, scope, e1.ID)
	require.NoError(t, err)
	assert.True(t, loaded.HasPayload())
}

func TestCreate_ConcurrentClaimsExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})

	const writers = 8
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		mu       sync.Mutex
		winners  []*model.Entity
		losers   []model.ID
		failures []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(age int) {
			defer wg.Done()
			e := person("bob", age)
			<-start
			out, err := h.p.Create(ctx, scope, e)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				losers = append(losers, e.ID)
				failures = append(failures, err)
				return
			}
			winners = append(winners, out)
		}(i)
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	for _, err := range failures {
		assert.True(t, storeerrors.IsConstraintViolation(err), "got %v", err)
	}

	claim := h.claim(t, "bob")
	require.NotNil(t, claim)
	assert.Equal(t, winners[0].ID, claim.Owner.ID)

	for _, id := range losers {
		history, err := h.logs.History(ctx, scope, id, 0)
		require.NoError(t, err)
		assert.Empty(t, history, "STARTED entry of the loser is rolled back")
		_, err = h.p.Load(ctx, scope, id)
		assert.True(t, storeerrors.IsNotFound(err))
	}
}

func TestDelete_ClaimLookupFailureDoesNotAbort(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{failClaimField: "email"})

	e := &model.Entity{
		ID: model.NewID("user"),
		Payload: model.NewPayload(
			model.Field{Name: "name", Value: "carol", Unique: true},
			model.Field{Name: "email", Value: "carol@example.com", Unique: true},
			model.Field{Name: "age", Value: 41},
		),
	}
	e1, err := h.p.Create(ctx, scope, e)
	require.NoError(t, err)

	_, err = h.p.Delete(ctx, scope, e1)
	require.NoError(t, err)

	entry := h.logEntry(t, e1.ID, e1.Version)
	assert.Equal(t, model.StatusDeleted, entry.Status)
	assert.Nil(t, h.claim(t, "carol"))

	email := model.Field{Name: "email", Value: "carol@example.com", Unique: true}
	stale, err := h.uniques.Load(ctx, scope, email)
	require.NoError(t, err)
	require.NotNil(t, stale, "claim whose lookup failed is left behind")

	// the stale claim is inactive since its owner is deleted
	reuse := &model.Entity{ID: model.NewID("user"), Payload: model.NewPayload(email)}
	_, err = h.p.Create(ctx, scope, reuse)
	assert.NoError(t, err)
}

func TestDelete_RequiresPayload(t *testing.T) {
	h := newHarness(t, options{})
	v, err := model.NewVersion()
	require.NoError(t, err)

	calls := h.engine.calls.Load()
	_, err = h.p.Delete(context.Background(), scope, &model.Entity{ID: model.NewID("user"), Version: v})
	assert.True(t, storeerrors.IsInvalidState(err), "got %v", err)
	assert.Equal(t, calls, h.engine.calls.Load(), "no storage access")
}

func TestDelete_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})

	e1, err := h.p.Create(ctx, scope, person("dave", 50))
	require.NoError(t, err)

	_, err = h.p.Delete(ctx, scope, e1)
	require.NoError(t, err)
	first := h.snapshot(t)

	_, err = h.p.Delete(ctx, scope, e1)
	require.NoError(t, err)
	assert.Equal(t, first, h.snapshot(t))
	assert.Len(t, h.messages(t, KindEntityDelete), 2)
}

func TestDeleteHandler_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{failClaimField: "email"})

	e := &model.Entity{
		ID: model.NewID("user"),
		Payload: model.NewPayload(
			model.Field{Name: "name", Value: "erin", Unique: true},
			model.Field{Name: "email", Value: "erin@example.com", Unique: true},
		),
	}
	e1, err := h.p.Create(ctx, scope, e)
	require.NoError(t, err)
	_, err = h.p.Delete(ctx, scope, e1)
	require.NoError(t, err)

	msgs := h.messages(t, KindEntityDelete)
	require.Len(t, msgs, 1)
	handler := h.p.Handlers()[KindEntityDelete]

	h.flaky.heal()

	require.NoError(t, handler.Handle(ctx, msgs[0]))
	once := h.snapshot(t)
	require.NoError(t, handler.Handle(ctx, msgs[0]))
	assert.Equal(t, once, h.snapshot(t), "second run changes nothing")

	rows, err := h.entities.Load(ctx, scope, e1.ID, e1.Version, 1)
	require.NoError(t, err)
	assert.Empty(t, rows, "marked row physically removed")

	stale, err := h.uniques.Load(ctx, scope, model.Field{Name: "email", Value: "erin@example.com"})
	require.NoError(t, err)
	assert.Nil(t, stale, "claim left by the delete is swept")

	entry := h.logEntry(t, e1.ID, e1.Version)
	assert.Equal(t, model.StatusDeleted, entry.Status, "log entry kept")
}

func TestRepair_EndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{registerHandlers: true, retainVersions: 1})

	e1, err := h.p.Create(ctx, scope, person("frank", 20))
	require.NoError(t, err)

	update := person("franklin", 21)
	update.ID = e1.ID
	e2, err := h.p.Update(ctx, scope, update)
	require.NoError(t, err)
	assert.Equal(t, 1, e2.Version.Compare(e1.Version))

	assert.Eventually(t, func() bool {
		n, err := h.store.Count(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond, "immediate attempts acknowledge every message")

	rows, err := h.entities.Load(ctx, scope, e1.ID, e2.Version, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1, "older version row pruned")
	assert.Equal(t, e2.Version, rows[0].Version)

	_, err = h.p.LoadVersion(ctx, scope, e1.ID, e1.Version)
	assert.True(t, storeerrors.IsNotFound(err))

	require.NoError(t, h.idx.Refresh(ctx))
	docs, err := h.idx.SearchEntity(ctx, scope, e1.ID)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, e2.Version, docs[len(docs)-1].Version)

	_, err = h.p.Delete(ctx, scope, e2)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		n, err := h.store.Count(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	rows, err = h.entities.Load(ctx, scope, e1.ID, e2.Version, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func (h *harness) indexMessage(t *testing.T, v model.Version) *repair.Message {
	t.Helper()
	for _, msg := range h.messages(t, KindEntityIndex) {
		var ev EntityEvent
		require.NoError(t, msg.Decode(&ev))
		if ev.Version == v {
			return msg
		}
	}
	require.FailNow(t, "no index message", "version %s", v)
	return nil
}

func TestIndexHandler_LateRedeliveryOfSupersededVersion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})
	handler := h.p.Handlers()[KindEntityIndex]

	e1, err := h.p.Create(ctx, scope, person("jane", 40))
	require.NoError(t, err)
	next := person("jane", 41)
	next.ID = e1.ID
	e2, err := h.p.Update(ctx, scope, next)
	require.NoError(t, err)

	require.NoError(t, handler.Handle(ctx, h.indexMessage(t, e2.Version)))
	require.NoError(t, handler.Handle(ctx, h.indexMessage(t, e1.Version)))
	require.NoError(t, h.idx.Refresh(ctx))

	docs, err := h.idx.SearchEntity(ctx, scope, e1.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, e2.Version, docs[0].Version)

	_, err = h.p.Delete(ctx, scope, e2)
	require.NoError(t, err)
	deletes := h.messages(t, KindEntityDelete)
	require.Len(t, deletes, 1)
	require.NoError(t, h.p.Handlers()[KindEntityDelete].Handle(ctx, deletes[0]))

	require.NoError(t, handler.Handle(ctx, h.indexMessage(t, e1.Version)))
	require.NoError(t, h.idx.Refresh(ctx))

	_, err = h.p.Load(ctx, scope, e1.ID)
	assert.True(t, storeerrors.IsNotFound(err))
	docs, err = h.idx.SearchEntity(ctx, scope, e1.ID)
	require.NoError(t, err)
	assert.Empty(t, docs, "deleted entity stays out of search")
}

func TestWrite_Lifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})

	_, err := h.p.Update(ctx, scope, person("gina", 30))
	assert.True(t, storeerrors.IsInvalidState(err), "update of a missing entity")

	_, err = h.p.Create(ctx, scope, &model.Entity{ID: model.NewID("user")})
	assert.True(t, storeerrors.IsInvalidState(err), "payload required")

	e1, err := h.p.Create(ctx, scope, person("gina", 30))
	require.NoError(t, err)
	assert.Equal(t, model.StageCommitted, e1.Stage)

	dup := person("other", 1)
	dup.ID = e1.ID
	_, err = h.p.Create(ctx, scope, dup)
	assert.True(t, storeerrors.IsInvalidState(err), "create of a live entity")

	stale := person("gina", 31)
	stale.ID = e1.ID
	stale.Version = e1.Version
	_, err = h.p.Update(ctx, scope, stale)
	assert.Equal(t, storeerrors.ErrCodeInvalidArgument, storeerrors.GetCode(err), "version must advance")

	renamed := person("georgina", 31)
	renamed.ID = e1.ID
	e2, err := h.p.Update(ctx, scope, renamed)
	require.NoError(t, err)

	assert.Nil(t, h.claim(t, "gina"), "changed value released")
	claim := h.claim(t, "georgina")
	require.NotNil(t, claim)
	assert.Equal(t, e2.Version, claim.Owner.Version)

	same := person("georgina", 32)
	same.ID = e1.ID
	e3, err := h.p.Update(ctx, scope, same)
	require.NoError(t, err)
	claim = h.claim(t, "georgina")
	require.NotNil(t, claim)
	assert.Equal(t, e3.Version, claim.Owner.Version, "unchanged value moves to the new version")

	loaded, err := h.p.Load(ctx, scope, e1.ID)
	require.NoError(t, err)
	assert.Equal(t, e3.Version, loaded.Version)
	age, ok := loaded.Payload.Field("age")
	require.True(t, ok)
	assert.Equal(t, float64(32), age.Value)

	older, err := h.p.LoadVersion(ctx, scope, e1.ID, e1.Version)
	require.NoError(t, err, "older versions stay readable without retention")
	name, _ := older.Payload.Field("name")
	assert.Equal(t, "gina", name.Value)
}

func TestUpdate_MintsPastClockAheadVersion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})

	ahead, err := model.NewVersion()
	require.NoError(t, err)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(time.Now().Add(time.Hour).UnixMilli()))
	copy(ahead[:6], buf[2:])

	e := person("ike", 30)
	e.Version = ahead
	e1, err := h.p.Create(ctx, scope, e)
	require.NoError(t, err)
	require.Equal(t, ahead, e1.Version)

	next := person("ike", 31)
	next.ID = e1.ID
	e2, err := h.p.Update(ctx, scope, next)
	require.NoError(t, err)
	assert.Equal(t, 1, e2.Version.Compare(e1.Version), "minted version passes the latest one")

	loaded, err := h.p.Load(ctx, scope, e1.ID)
	require.NoError(t, err)
	assert.Equal(t, e2.Version, loaded.Version)
	age, ok := loaded.Payload.Field("age")
	require.True(t, ok)
	assert.Equal(t, float64(31), age.Value)

	claim := h.claim(t, "ike")
	require.NotNil(t, claim)
	assert.Equal(t, e2.Version, claim.Owner.Version)
}

func TestWrite_CommitOutageRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})

	h.engine.failPartition.Store(int32(mvcc.PartitionEntity))
	e := person("hank", 60)
	_, err := h.p.Create(ctx, scope, e)
	assert.True(t, storeerrors.IsStorageUnavailable(err), "got %v", err)
	h.engine.failPartition.Store(0)

	history, err := h.logs.History(ctx, scope, e.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Nil(t, h.claim(t, "hank"))
	assert.Empty(t, h.messages(t, KindEntityIndex))
}

func TestApply_RejectsBadInput(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()

	tests := []struct {
		name  string
		scope model.CollectionScope
		op    Operation
		e     *model.Entity
		code  storeerrors.ErrorCode
	}{
		{name: "empty scope", scope: model.CollectionScope{}, op: OpCreate, e: person("ivy", 1), code: storeerrors.ErrCodeInvalidArgument},
		{name: "unknown op", scope: scope, op: Operation("merge"), e: person("ivy", 1), code: storeerrors.ErrCodeInvalidArgument},
		{name: "nil entity", scope: scope, op: OpDelete, code: storeerrors.ErrCodeInvalidState},
		{name: "non scalar unique", scope: scope, op: OpCreate, e: &model.Entity{
			ID:      model.NewID("user"),
			Payload: model.NewPayload(model.Field{Name: "tags", Value: []string{"x"}, Unique: true}),
		}, code: storeerrors.ErrCodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.p.Apply(ctx, tt.scope, tt.e, tt.op)
			assert.Equal(t, tt.code, storeerrors.GetCode(err), fmt.Sprint(err))
		})
	}
}
