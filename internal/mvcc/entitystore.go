package mvcc

import (
	"context"
	"encoding/json"

	storeerrors "github.com/devrev/pairdb/entitystore/internal/errors"
	"github.com/devrev/pairdb/entitystore/internal/model"
	"github.com/devrev/pairdb/entitystore/internal/storage"
)

// EntityStore persists entity version rows
type EntityStore interface {
	// Write stages the version row with its payload
	Write(scope model.CollectionScope, entity *model.Entity) (*storage.Batch, error)

	// Mark stages a tombstone: the row stays, its payload is cleared
	Mark(scope model.CollectionScope, id model.ID, version model.Version) *storage.Batch

	// Load returns up to limit versions of id, newest first, starting at version
	Load(ctx context.Context, scope model.CollectionScope, id model.ID, version model.Version, limit int) ([]*model.Entity, error)

	// Delete stages physical removal of the row
	Delete(scope model.CollectionScope, id model.ID, version model.Version) *storage.Batch
}

type entityRecord struct {
	Stage   model.Stage    `json:"stage"`
	Payload *model.Payload `json:"payload,omitempty"`
}

// EngineEntityStore implements EntityStore on a storage engine
type EngineEntityStore struct {
	engine storage.Engine
}

// NewEntityStore creates an entity version store
func NewEntityStore(engine storage.Engine) *EngineEntityStore {
	return &EngineEntityStore{engine: engine}
}

func (s *EngineEntityStore) Write(scope model.CollectionScope, entity *model.Entity) (*storage.Batch, error) {
	value, err := json.Marshal(entityRecord{Stage: entity.Stage, Payload: entity.Payload})
	if err != nil {
		return nil, storeerrors.InvalidArgument("entity payload is not serializable", err).
			WithDetail("entity_id", entity.ID.String())
	}
	return s.engine.NewBatch().Put(versionKey(PartitionEntity, scope, entity.ID, entity.Version), value), nil
}

func (s *EngineEntityStore) Mark(scope model.CollectionScope, id model.ID, version model.Version) *storage.Batch {
	// a mark carries only the stage and a nil payload; encoding cannot fail
	value, _ := json.Marshal(entityRecord{Stage: model.StageCommitted})
	return s.engine.NewBatch().Put(versionKey(PartitionEntity, scope, id, version), value)
}

func (s *EngineEntityStore) Load(ctx context.Context, scope model.CollectionScope, id model.ID, version model.Version, limit int) ([]*model.Entity, error) {
	r := upToVersion(PartitionEntity, scope, id, version)
	r.Reverse = true
	r.Limit = limit

	rows, err := s.engine.Scan(ctx, r)
	if err != nil {
		return nil, err
	}

	entities := make([]*model.Entity, 0, len(rows))
	for _, row := range rows {
		_, v, err := versionFromKey(row.Key)
		if err != nil {
			return nil, storeerrors.CorruptedData("bad entity key", err)
		}
		var rec entityRecord
		if err := json.Unmarshal(row.Value, &rec); err != nil {
			return nil, storeerrors.CorruptedData("bad entity record", err).
				WithDetail("entity_id", id.String())
		}
		entities = append(entities, &model.Entity{
			ID:      id,
			Version: v,
			Stage:   rec.Stage,
			Payload: rec.Payload,
		})
	}
	return entities, nil
}

func (s *EngineEntityStore) Delete(scope model.CollectionScope, id model.ID, version model.Version) *storage.Batch {
	return s.engine.NewBatch().Delete(versionKey(PartitionEntity, scope, id, version))
}
