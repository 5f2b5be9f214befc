package mvcc

import (
	"fmt"

	"github.com/devrev/pairdb/entitystore/internal/model"
	"github.com/devrev/pairdb/entitystore/internal/storage"
)

// Partitions of the storage keyspace
const (
	PartitionLog    byte = 'l' // {scope}{id type}{id uuid}{version}
	PartitionEntity byte = 'e' // {scope}{id type}{id uuid}{version}
	PartitionUnique byte = 'u' // {scope}{field name}{canonical value}
)

func scopedKey(partition byte, scope model.CollectionScope) *storage.KeyBuilder {
	return storage.NewKey(partition).String(scope.Application).String(scope.Name)
}

func idPrefix(partition byte, scope model.CollectionScope, id model.ID) []byte {
	return scopedKey(partition, scope).String(id.Type).Fixed(id.UUID[:]).Key()
}

func versionKey(partition byte, scope model.CollectionScope, id model.ID, version model.Version) []byte {
	return scopedKey(partition, scope).String(id.Type).Fixed(id.UUID[:]).Fixed(version[:]).Key()
}

// versionFromKey extracts the trailing version of a log or entity key
func versionFromKey(key []byte) (model.ID, model.Version, error) {
	r := storage.ReadKey(key)
	_ = r.String()
	_ = r.String()
	idType := r.String()
	rawID := r.Fixed(16)
	rawVersion := r.Fixed(16)
	if err := r.Err(); err != nil {
		return model.ID{}, model.Version{}, fmt.Errorf("malformed version key: %w", err)
	}
	var id model.ID
	id.Type = idType
	copy(id.UUID[:], rawID)
	var v model.Version
	copy(v[:], rawVersion)
	return id, v, nil
}

// upToVersion selects every version of id up to and including version
func upToVersion(partition byte, scope model.CollectionScope, id model.ID, version model.Version) storage.ScanRange {
	return storage.ScanRange{
		Lower: idPrefix(partition, scope, id),
		Upper: append(versionKey(partition, scope, id, version), 0x00),
	}
}

func uniqueKey(scope model.CollectionScope, field model.Field) ([]byte, error) {
	value, err := field.CanonicalValue()
	if err != nil {
		return nil, err
	}
	return scopedKey(PartitionUnique, scope).String(field.Name).Bytes(value).Key(), nil
}
