package mvcc

import (
	"context"
	"encoding/json"

	storeerrors "github.com/devrev/pairdb/entitystore/internal/errors"
	"github.com/devrev/pairdb/entitystore/internal/model"
	"github.com/devrev/pairdb/entitystore/internal/storage"
)

// UniqueValueStore holds the claims that bind a field value to one entity version.
// It takes no locks: Register stages a conditional write and the engine resolves
// races when the batch commits.
type UniqueValueStore interface {
	// Load returns the claim on the field's value, or nil when unclaimed
	Load(ctx context.Context, scope model.CollectionScope, field model.Field) (*model.UniqueValue, error)

	// Delete stages removal of the claim. The batch fails with
	// storage.ErrConditionFailed if the claim changed owner meanwhile.
	Delete(scope model.CollectionScope, claim *model.UniqueValue) (*storage.Batch, error)

	// Register stages a claim of the field's value for owner. It fails with
	// ConstraintViolation when another entity holds an active claim.
	Register(ctx context.Context, scope model.CollectionScope, field model.Field, owner model.Owner) (*storage.Batch, error)
}

// EngineUniqueValueStore implements UniqueValueStore on a storage engine. Claim
// activity is judged from the owner's log entry.
type EngineUniqueValueStore struct {
	engine storage.Engine
	logs   LogEntryStore
}

// NewUniqueValueStore creates a unique value store
func NewUniqueValueStore(engine storage.Engine, logs LogEntryStore) *EngineUniqueValueStore {
	return &EngineUniqueValueStore{engine: engine, logs: logs}
}

func (s *EngineUniqueValueStore) Load(ctx context.Context, scope model.CollectionScope, field model.Field) (*model.UniqueValue, error) {
	claim, _, err := s.load(ctx, scope, field)
	return claim, err
}

func (s *EngineUniqueValueStore) load(ctx context.Context, scope model.CollectionScope, field model.Field) (*model.UniqueValue, []byte, error) {
	key, err := uniqueKey(scope, field)
	if err != nil {
		return nil, nil, storeerrors.InvalidArgument("field cannot be claimed", err)
	}
	raw, found, err := s.engine.Get(ctx, key)
	if err != nil || !found {
		return nil, nil, err
	}

	var owner model.Owner
	if err := json.Unmarshal(raw, &owner); err != nil {
		return nil, nil, storeerrors.CorruptedData("bad unique value record", err).
			WithDetail("field", field.Name)
	}
	return &model.UniqueValue{Scope: scope, Field: field, Owner: owner}, raw, nil
}

func (s *EngineUniqueValueStore) Delete(scope model.CollectionScope, claim *model.UniqueValue) (*storage.Batch, error) {
	key, err := uniqueKey(scope, claim.Field)
	if err != nil {
		return nil, storeerrors.InvalidArgument("field cannot be claimed", err)
	}
	// Register writes exactly this encoding, so a moved claim no longer matches
	owner, err := json.Marshal(claim.Owner)
	if err != nil {
		return nil, storeerrors.InternalError("failed to encode claim owner", err)
	}
	return s.engine.NewBatch().Expect(key, owner).Delete(key), nil
}

func (s *EngineUniqueValueStore) Register(ctx context.Context, scope model.CollectionScope, field model.Field, owner model.Owner) (*storage.Batch, error) {
	current, raw, err := s.load(ctx, scope, field)
	if err != nil {
		return nil, err
	}

	key, err := uniqueKey(scope, field)
	if err != nil {
		return nil, storeerrors.InvalidArgument("field cannot be claimed", err)
	}

	b := s.engine.NewBatch()
	if current == nil {
		b.ExpectAbsent(key)
	} else {
		if current.Owner.ID != owner.ID {
			active, err := s.active(ctx, scope, current.Owner)
			if err != nil {
				return nil, err
			}
			if active {
				return nil, storeerrors.ConstraintViolation(field.Name, current.Owner.String(), nil)
			}
		}
		// the stale or own claim is replaced only if nobody changed it meanwhile
		b.Expect(key, raw)
	}

	value, err := json.Marshal(owner)
	if err != nil {
		return nil, storeerrors.InternalError("failed to encode claim owner", err)
	}
	return b.Put(key, value), nil
}

// active reports whether the owning version still holds its claim. A missing log
// entry means the owner never committed or was cleaned up.
func (s *EngineUniqueValueStore) active(ctx context.Context, scope model.CollectionScope, owner model.Owner) (bool, error) {
	entry, err := s.logs.Load(ctx, scope, owner.ID, owner.Version)
	if err != nil {
		return false, err
	}
	return entry != nil && entry.Status != model.StatusDeleted, nil
}
