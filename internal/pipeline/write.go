package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	storeerrors "github.com/devrev/pairdb/entitystore/internal/errors"
	"github.com/devrev/pairdb/entitystore/internal/model"
	"github.com/devrev/pairdb/entitystore/internal/storage"
)

// write stores a new version. The STARTED log entry commits alone first; the
// entity row, the claims and the COMMITTED log entry then commit together.
func (p *Pipeline) write(ctx context.Context, scope model.CollectionScope, entity *model.Entity, op Operation) (*model.Entity, error) {
	if !entity.HasPayload() {
		return nil, storeerrors.InvalidState("entity has no payload to write").
			WithDetail("entity_id", entity.ID.String())
	}
	if entity.ID.IsZero() {
		return nil, storeerrors.InvalidArgument("entity id is required", nil)
	}
	if err := p.validator.ValidatePayload(entity.Payload); err != nil {
		return nil, err
	}

	latest, err := p.latestCommitted(ctx, scope, entity.ID)
	if err != nil {
		return nil, commitError(err, "failed to read entity log")
	}
	live := latest != nil && latest.Status != model.StatusDeleted

	switch {
	case op == OpCreate && live:
		return nil, storeerrors.InvalidState("entity already exists").
			WithDetail("entity_id", entity.ID.String())
	case op == OpUpdate && !live:
		return nil, storeerrors.InvalidState("entity does not exist").
			WithDetail("entity_id", entity.ID.String())
	}

	version := entity.Version
	if version.IsZero() {
		// the latest version may come from a caller or from a clock ahead of ours
		if latest != nil {
			version, err = model.NewVersionAfter(latest.Version)
		} else {
			version, err = model.NewVersion()
		}
		if err != nil {
			return nil, storeerrors.InternalError("failed to mint version", err)
		}
	} else if latest != nil && version.Compare(latest.Version) <= 0 {
		return nil, storeerrors.InvalidArgument(
			fmt.Sprintf("version %s is not newer than %s", version, latest.Version), nil)
	}

	committed := &model.Entity{
		ID:      entity.ID,
		Version: version,
		Stage:   model.StageCommitted,
		Payload: entity.Payload,
	}

	started, err := model.NewLogEntry(entity.ID, version, model.StageStarted, model.StatusActive)
	if err != nil {
		return nil, storeerrors.InternalError("failed to build log entry", err)
	}
	if err := p.execute(ctx, p.logs.Write(scope, started)); err != nil {
		return nil, commitError(err, "failed to write log entry")
	}

	var previous *model.LogEntry
	if op == OpUpdate {
		previous = latest
	}
	batch, err := p.stageCommit(ctx, scope, committed, previous)
	if err == nil {
		if err = p.execute(ctx, batch); err != nil {
			err = commitError(err, "failed to commit entity")
		}
	}
	if err != nil {
		p.logger.Warn("Entity write failed, rolling back",
			zap.String("scope", scope.String()),
			zap.Stringer("entity_id", entity.ID),
			zap.Stringer("version", version),
			zap.String("operation", string(op)),
			zap.Error(err))
		p.rollback(ctx, scope, entity.ID, version)
		return nil, err
	}

	p.scheduleRepair(ctx, KindEntityIndex, scope, committed)

	out := *committed
	return &out, nil
}

// stageCommit builds the batch that makes the version visible: entity row, claims,
// released claims of the previous version and the COMMITTED log entry
func (p *Pipeline) stageCommit(ctx context.Context, scope model.CollectionScope, entity *model.Entity, previous *model.LogEntry) (*storage.Batch, error) {
	batch, err := p.entities.Write(scope, entity)
	if err != nil {
		return nil, err
	}

	owner := model.Owner{ID: entity.ID, Version: entity.Version}
	for _, field := range entity.Payload.UniqueFields() {
		claim, err := p.uniques.Register(ctx, scope, field, owner)
		if err != nil {
			if storeerrors.IsConstraintViolation(err) {
				return nil, err
			}
			return nil, commitError(err, "failed to register unique value")
		}
		batch.MergeShallow(claim)
	}

	if previous != nil {
		p.releaseChanged(ctx, scope, entity, previous.Version, batch)
	}

	entry, err := model.NewLogEntry(entity.ID, entity.Version, model.StageCommitted, model.StatusActive)
	if err != nil {
		return nil, storeerrors.InternalError("failed to build log entry", err)
	}
	return batch.MergeShallow(p.logs.Write(scope, entry)), nil
}

// releaseChanged stages removal of claims the previous version held on unique
// values the new version no longer carries. Failures are logged and skipped.
func (p *Pipeline) releaseChanged(ctx context.Context, scope model.CollectionScope, entity *model.Entity, previous model.Version, b *storage.Batch) {
	rows, err := p.entities.Load(ctx, scope, entity.ID, previous, 1)
	if err != nil || len(rows) == 0 || !rows[0].HasPayload() {
		if err != nil {
			p.logger.Warn("Failed to load previous version, its claims stay until reused",
				zap.String("scope", scope.String()),
				zap.Stringer("entity_id", entity.ID),
				zap.Error(err))
		}
		return
	}

	for _, old := range rows[0].Payload.UniqueFields() {
		if current, ok := entity.Payload.Field(old.Name); ok && current.Unique && sameValue(old, current) {
			continue
		}
		if _, err := p.releaseClaim(ctx, scope, entity.ID, previous, old, b); err != nil {
			p.metrics.RecordClaimReleaseFailure()
			p.logger.Warn("Failed to release changed unique value",
				zap.String("scope", scope.String()),
				zap.Stringer("entity_id", entity.ID),
				zap.String("field", old.Name),
				zap.Error(err))
		}
	}
}

func sameValue(a, b model.Field) bool {
	av, aerr := a.CanonicalValue()
	bv, berr := b.CanonicalValue()
	return aerr == nil && berr == nil && bytes.Equal(av, bv)
}

// rollback removes the STARTED log entry of a version that failed to commit. The
// version stays invisible if this fails too.
func (p *Pipeline) rollback(ctx context.Context, scope model.CollectionScope, id model.ID, version model.Version) {
	err := p.execute(context.WithoutCancel(ctx), p.logs.Delete(scope, id, version))
	p.metrics.RecordRollback(err)
	if err != nil {
		p.logger.Error("Failed to roll back log entry",
			zap.String("scope", scope.String()),
			zap.Stringer("entity_id", id),
			zap.Stringer("version", version),
			zap.Error(err))
	}
}
