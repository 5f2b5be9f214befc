package mvcc

import (
	"context"
	"encoding/json"

	storeerrors "github.com/devrev/pairdb/entitystore/internal/errors"
	"github.com/devrev/pairdb/entitystore/internal/model"
	"github.com/devrev/pairdb/entitystore/internal/storage"
)

// LogEntryStore persists the write-ahead stage/status record of each version
type LogEntryStore interface {
	// Write stages the entry; nothing is stored until the batch executes
	Write(scope model.CollectionScope, entry model.LogEntry) *storage.Batch

	// Load returns the entry for one version, or nil when absent
	Load(ctx context.Context, scope model.CollectionScope, id model.ID, version model.Version) (*model.LogEntry, error)

	// History returns entries of id newest first; limit 0 returns all
	History(ctx context.Context, scope model.CollectionScope, id model.ID, limit int) ([]model.LogEntry, error)

	// Delete stages removal of one version's entry
	Delete(scope model.CollectionScope, id model.ID, version model.Version) *storage.Batch
}

type logRecord struct {
	Stage  model.Stage  `json:"stage"`
	Status model.Status `json:"status"`
}

// EngineLogEntryStore implements LogEntryStore on a storage engine
type EngineLogEntryStore struct {
	engine storage.Engine
}

// NewLogEntryStore creates a log entry store
func NewLogEntryStore(engine storage.Engine) *EngineLogEntryStore {
	return &EngineLogEntryStore{engine: engine}
}

func (s *EngineLogEntryStore) Write(scope model.CollectionScope, entry model.LogEntry) *storage.Batch {
	// logRecord holds two strings; encoding cannot fail
	value, _ := json.Marshal(logRecord{Stage: entry.Stage, Status: entry.Status})
	return s.engine.NewBatch().Put(versionKey(PartitionLog, scope, entry.ID, entry.Version), value)
}

func (s *EngineLogEntryStore) Load(ctx context.Context, scope model.CollectionScope, id model.ID, version model.Version) (*model.LogEntry, error) {
	raw, found, err := s.engine.Get(ctx, versionKey(PartitionLog, scope, id, version))
	if err != nil || !found {
		return nil, err
	}
	entry, err := decodeLogEntry(id, version, raw)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *EngineLogEntryStore) History(ctx context.Context, scope model.CollectionScope, id model.ID, limit int) ([]model.LogEntry, error) {
	r := storage.PrefixRange(idPrefix(PartitionLog, scope, id))
	r.Reverse = true
	r.Limit = limit

	rows, err := s.engine.Scan(ctx, r)
	if err != nil {
		return nil, err
	}

	entries := make([]model.LogEntry, 0, len(rows))
	for _, row := range rows {
		_, version, err := versionFromKey(row.Key)
		if err != nil {
			return nil, storeerrors.CorruptedData("bad log entry key", err)
		}
		entry, err := decodeLogEntry(id, version, row.Value)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *EngineLogEntryStore) Delete(scope model.CollectionScope, id model.ID, version model.Version) *storage.Batch {
	return s.engine.NewBatch().Delete(versionKey(PartitionLog, scope, id, version))
}

func decodeLogEntry(id model.ID, version model.Version, raw []byte) (model.LogEntry, error) {
	var rec logRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.LogEntry{}, storeerrors.CorruptedData("bad log entry record", err)
	}
	entry, err := model.NewLogEntry(id, version, rec.Stage, rec.Status)
	if err != nil {
		return model.LogEntry{}, storeerrors.CorruptedData("log entry outside transition table", err)
	}
	return entry, nil
}
