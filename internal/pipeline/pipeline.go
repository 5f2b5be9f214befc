package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	storeerrors "github.com/devrev/pairdb/entitystore/internal/errors"
	"github.com/devrev/pairdb/entitystore/internal/index"
	"github.com/devrev/pairdb/entitystore/internal/metrics"
	"github.com/devrev/pairdb/entitystore/internal/model"
	"github.com/devrev/pairdb/entitystore/internal/mvcc"
	"github.com/devrev/pairdb/entitystore/internal/repair"
	"github.com/devrev/pairdb/entitystore/internal/storage"
	"github.com/devrev/pairdb/entitystore/internal/util/workerpool"
	"github.com/devrev/pairdb/entitystore/internal/validation"
)

// Operation is a mutation applied by the pipeline
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Scheduler hands deferred work to the repair processor
type Scheduler interface {
	Schedule(ctx context.Context, msg *repair.Message, timeout time.Duration) (*repair.Message, error)
	Start(msg *repair.Message)
}

// Config holds pipeline configuration
type Config struct {
	RepairTimeout  time.Duration // repair deadline is twice this
	ChunkSize      int           // field stream chunk size
	RetainVersions int           // entity rows kept per id; 0 keeps all
	CacheSize      int           // entity version cache entries
}

type cacheKey struct {
	scope   model.CollectionScope
	id      model.ID
	version model.Version
}

// Pipeline applies staged mutations to versioned entities. Every mutation writes
// its log entry ahead of the entity row and a version is only visible once its log
// entry is COMMITTED.
type Pipeline struct {
	cfg       Config
	logs      mvcc.LogEntryStore
	entities  mvcc.EntityStore
	uniques   mvcc.UniqueValueStore
	scheduler Scheduler
	notifier  index.Notifier
	io        *workerpool.WorkerPool
	validator *validation.Validator
	cache     *lru.Cache[cacheKey, *model.Entity]
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewPipeline creates a pipeline. notifier may be nil when no search index is
// attached.
func NewPipeline(
	cfg Config,
	logs mvcc.LogEntryStore,
	entities mvcc.EntityStore,
	uniques mvcc.UniqueValueStore,
	scheduler Scheduler,
	notifier index.Notifier,
	io *workerpool.WorkerPool,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Pipeline, error) {
	if cfg.RepairTimeout <= 0 {
		cfg.RepairTimeout = 30 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = mvcc.DefaultChunkSize
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}

	cache, err := lru.New[cacheKey, *model.Entity](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity cache: %w", err)
	}

	return &Pipeline{
		cfg:       cfg,
		logs:      logs,
		entities:  entities,
		uniques:   uniques,
		scheduler: scheduler,
		notifier:  notifier,
		io:        io,
		validator: validation.NewValidator(),
		cache:     cache,
		metrics:   m,
		logger:    logger,
	}, nil
}

// Apply runs op for entity and returns the committed version. Failures surface as
// StorageUnavailable, ConstraintViolation or InvalidState.
func (p *Pipeline) Apply(ctx context.Context, scope model.CollectionScope, entity *model.Entity, op Operation) (result *model.Entity, err error) {
	start := time.Now()
	defer func() { p.metrics.RecordOperation(string(op), start, err) }()

	if err := p.validator.ValidateScope(scope); err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, storeerrors.InvalidState("no entity given")
	}

	switch op {
	case OpCreate, OpUpdate:
		return p.write(ctx, scope, entity, op)
	case OpDelete:
		return p.delete(ctx, scope, entity)
	default:
		return nil, storeerrors.InvalidArgument(fmt.Sprintf("unknown operation %q", op), nil)
	}
}

// Create stores the first version of a new entity
func (p *Pipeline) Create(ctx context.Context, scope model.CollectionScope, entity *model.Entity) (*model.Entity, error) {
	return p.Apply(ctx, scope, entity, OpCreate)
}

// Update stores a new version of an existing entity
func (p *Pipeline) Update(ctx context.Context, scope model.CollectionScope, entity *model.Entity) (*model.Entity, error) {
	return p.Apply(ctx, scope, entity, OpUpdate)
}

// Delete marks entity's version deleted and releases its unique claims
func (p *Pipeline) Delete(ctx context.Context, scope model.CollectionScope, entity *model.Entity) (*model.Entity, error) {
	return p.Apply(ctx, scope, entity, OpDelete)
}

// Load returns the newest visible version of id
func (p *Pipeline) Load(ctx context.Context, scope model.CollectionScope, id model.ID) (*model.Entity, error) {
	latest, err := p.latestCommitted(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if latest == nil || !latest.Visible() {
		return nil, storeerrors.NotFound(scope.String(), id.String())
	}
	return p.loadRow(ctx, scope, id, latest.Version)
}

// LoadVersion returns one version of id if it is visible
func (p *Pipeline) LoadVersion(ctx context.Context, scope model.CollectionScope, id model.ID, version model.Version) (*model.Entity, error) {
	entry, err := p.logs.Load(ctx, scope, id, version)
	if err != nil {
		return nil, err
	}
	if entry == nil || !entry.Visible() {
		return nil, storeerrors.NotFound(scope.String(), id.String()).
			WithDetail("version", version.String())
	}
	return p.loadRow(ctx, scope, id, version)
}

func (p *Pipeline) loadRow(ctx context.Context, scope model.CollectionScope, id model.ID, version model.Version) (*model.Entity, error) {
	key := cacheKey{scope: scope, id: id, version: version}
	if cached, ok := p.cache.Get(key); ok {
		p.metrics.RecordCacheLookup(true)
		out := *cached
		return &out, nil
	}
	p.metrics.RecordCacheLookup(false)

	rows, err := p.entities.Load(ctx, scope, id, version, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].Version != version || !rows[0].HasPayload() {
		return nil, storeerrors.NotFound(scope.String(), id.String()).
			WithDetail("version", version.String())
	}

	p.cache.Add(key, rows[0])
	out := *rows[0]
	return &out, nil
}

// latestCommitted returns the newest COMMITTED log entry of id, whatever its status
func (p *Pipeline) latestCommitted(ctx context.Context, scope model.CollectionScope, id model.ID) (*model.LogEntry, error) {
	history, err := p.logs.History(ctx, scope, id, 0)
	if err != nil {
		return nil, err
	}
	for i := range history {
		if history[i].Stage == model.StageCommitted {
			return &history[i], nil
		}
	}
	return nil, nil
}

func (p *Pipeline) invalidate(scope model.CollectionScope, id model.ID, version model.Version) {
	p.cache.Remove(cacheKey{scope: scope, id: id, version: version})
}

func (p *Pipeline) execute(ctx context.Context, b *storage.Batch) error {
	err := b.Execute(ctx)
	p.metrics.RecordBatchCommit(err)
	return err
}

// commitError maps a failed batch execution to the error the caller sees
func commitError(err error, msg string) error {
	if errors.Is(err, storage.ErrConditionFailed) {
		return storeerrors.ConstraintViolation("unique value", "a concurrent writer", err)
	}
	if storeerrors.IsStoreError(err) {
		return err
	}
	return storeerrors.StorageUnavailable(msg, err)
}

// scheduleRepair persists the deferred follow-up of a committed mutation and
// makes one immediate attempt. Failures are logged: the mutation itself has
// already committed.
func (p *Pipeline) scheduleRepair(ctx context.Context, kind repair.Kind, scope model.CollectionScope, entity *model.Entity) {
	if p.scheduler == nil {
		return
	}

	msg, err := repair.NewMessage(kind, EntityEvent{Scope: scope, Version: entity.Version, Entity: entity})
	if err == nil {
		msg, err = p.scheduler.Schedule(ctx, msg, 2*p.cfg.RepairTimeout)
	}
	if err != nil {
		p.logger.Error("Failed to schedule repair message",
			zap.String("kind", string(kind)),
			zap.String("scope", scope.String()),
			zap.Stringer("entity_id", entity.ID),
			zap.Stringer("version", entity.Version),
			zap.Error(err))
		return
	}
	p.scheduler.Start(msg)
}
