package pipeline

import (
	"context"

	"go.uber.org/zap"

	storeerrors "github.com/devrev/pairdb/entitystore/internal/errors"
	"github.com/devrev/pairdb/entitystore/internal/model"
	"github.com/devrev/pairdb/entitystore/internal/mvcc"
	"github.com/devrev/pairdb/entitystore/internal/storage"
)

// delete marks one version deleted. The log entry, the unique claim removals and
// the payload-clearing mark commit in one batch; physical removal of the row is
// left to the KindEntityDelete repair message.
func (p *Pipeline) delete(ctx context.Context, scope model.CollectionScope, entity *model.Entity) (*model.Entity, error) {
	if !entity.HasPayload() {
		return nil, storeerrors.InvalidState("entity has no payload to delete").
			WithDetail("entity_id", entity.ID.String())
	}
	if entity.ID.IsZero() || entity.Version.IsZero() {
		return nil, storeerrors.InvalidArgument("delete requires an entity id and version", nil)
	}

	id, version := entity.ID, entity.Version

	entry, err := model.NewLogEntry(id, version, model.StageCommitted, model.StatusDeleted)
	if err != nil {
		return nil, storeerrors.InternalError("failed to build delete log entry", err)
	}
	logBatch := p.logs.Write(scope, entry)

	// the mark is staged now and committed with the log entry
	markBatch := p.entities.Mark(scope, id, version)

	released := p.releaseClaims(ctx, scope, id, version, logBatch)

	logBatch.MergeShallow(markBatch)
	logBatch.OnCommit(func() { p.invalidate(scope, id, version) })

	if err := p.execute(ctx, logBatch); err != nil {
		p.logger.Error("Failed to commit delete",
			zap.String("scope", scope.String()),
			zap.Stringer("entity_id", id),
			zap.Stringer("version", version),
			zap.Error(err))
		return nil, commitError(err, "failed to commit delete")
	}

	p.logger.Debug("Entity version marked deleted",
		zap.String("scope", scope.String()),
		zap.Stringer("entity_id", id),
		zap.Stringer("version", version),
		zap.Int("claims_released", released))

	p.scheduleRepair(ctx, KindEntityDelete, scope, entity)

	return &model.Entity{ID: id, Version: version, Stage: model.StageCommitted}, nil
}

// releaseClaims streams the stored fields of the version and stages the removal
// of every claim the entity holds into b. Lookup failures are logged and skipped;
// a stale claim only delays reuse of its value and the repair handler sweeps it.
func (p *Pipeline) releaseClaims(ctx context.Context, scope model.CollectionScope, id model.ID, version model.Version, b *storage.Batch) int {
	stream := mvcc.NewFieldStream(ctx, p.io, p.entities, scope, id, version, p.cfg.ChunkSize)
	defer stream.Close()

	released := 0
	for {
		fields, ok := stream.Next()
		if !ok {
			break
		}
		for _, field := range fields {
			if _, err := field.CanonicalValue(); err != nil {
				continue
			}
			ok, err := p.releaseClaim(ctx, scope, id, version, field, b)
			if err != nil {
				p.metrics.RecordClaimReleaseFailure()
				p.logger.Error("Failed to release unique value",
					zap.String("scope", scope.String()),
					zap.Stringer("entity_id", id),
					zap.String("field", field.Name),
					zap.Error(err))
				continue
			}
			if ok {
				released++
			}
		}
	}

	if err := stream.Err(); err != nil {
		p.metrics.RecordClaimReleaseFailure()
		p.logger.Error("Failed to stream entity fields, claims left for repair",
			zap.String("scope", scope.String()),
			zap.Stringer("entity_id", id),
			zap.Stringer("version", version),
			zap.Error(err))
	}
	return released
}

// releaseClaim stages the removal of field's claim when it is held by id at or
// before version
func (p *Pipeline) releaseClaim(ctx context.Context, scope model.CollectionScope, id model.ID, version model.Version, field model.Field, b *storage.Batch) (bool, error) {
	claim, err := p.uniques.Load(ctx, scope, field)
	if err != nil || claim == nil {
		return false, err
	}
	if claim.Owner.ID != id || claim.Owner.Version.Compare(version) > 0 {
		return false, nil
	}

	del, err := p.uniques.Delete(scope, claim)
	if err != nil {
		return false, err
	}
	b.MergeShallow(del)
	return true, nil
}
