package index

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/entitystore/internal/metrics"
	"github.com/devrev/pairdb/entitystore/internal/model"
)

// Document is the searchable projection of one entity version
type Document struct {
	ID       string                `json:"id"`
	Scope    model.CollectionScope `json:"scope"`
	EntityID model.ID              `json:"entity_id"`
	Version  model.Version         `json:"version"`
	Fields   map[string]any        `json:"fields,omitempty"`
}

// DocumentID derives the document id of an entity version
func DocumentID(scope model.CollectionScope, id model.ID, version model.Version) string {
	return scope.String() + "/" + id.String() + "@" + version.String()
}

// NewDocument projects an entity version into a document
func NewDocument(scope model.CollectionScope, entity *model.Entity) Document {
	doc := Document{
		ID:       DocumentID(scope, entity.ID, entity.Version),
		Scope:    scope,
		EntityID: entity.ID,
		Version:  entity.Version,
	}
	if entity.HasPayload() {
		doc.Fields = make(map[string]any, len(entity.Payload.Fields))
		for _, f := range entity.Payload.Fields {
			doc.Fields[f.Name] = f.Value
		}
	}
	return doc
}

// Client is the search engine boundary. Writes become searchable after Refresh.
type Client interface {
	Put(ctx context.Context, doc Document) error
	// Delete removes a document; deleting an absent document is not an error
	Delete(ctx context.Context, docID string) error
	Refresh(ctx context.Context) error
	// SearchEntity returns the searchable documents of an entity
	SearchEntity(ctx context.Context, scope model.CollectionScope, id model.ID) ([]Document, error)
}

// Notifier is told about committed mutations so the search index can settle
type Notifier interface {
	// Index makes version searchable and retires documents of older versions
	Index(ctx context.Context, scope model.CollectionScope, entity *model.Entity) error
	// Deindex removes the document of a deleted version
	Deindex(ctx context.Context, scope model.CollectionScope, id model.ID, version model.Version) error
}

// ClientNotifier implements Notifier on top of a Client. Both operations are
// idempotent.
type ClientNotifier struct {
	client  Client
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewClientNotifier creates a notifier
func NewClientNotifier(client Client, m *metrics.Metrics, logger *zap.Logger) *ClientNotifier {
	return &ClientNotifier{client: client, metrics: m, logger: logger}
}

func (n *ClientNotifier) Index(ctx context.Context, scope model.CollectionScope, entity *model.Entity) (err error) {
	defer func() { n.metrics.RecordIndexNotification("index", err) }()

	if err := n.client.Put(ctx, NewDocument(scope, entity)); err != nil {
		return fmt.Errorf("failed to index %s: %w", entity.ID, err)
	}

	docs, err := n.client.SearchEntity(ctx, scope, entity.ID)
	if err != nil {
		return fmt.Errorf("failed to search documents of %s: %w", entity.ID, err)
	}
	for _, doc := range docs {
		if doc.Version.Compare(entity.Version) >= 0 {
			continue
		}
		if err := n.client.Delete(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to retire document %s: %w", doc.ID, err)
		}
		n.logger.Debug("Retired superseded document",
			zap.String("doc_id", doc.ID),
			zap.Stringer("version", entity.Version))
	}
	return nil
}

func (n *ClientNotifier) Deindex(ctx context.Context, scope model.CollectionScope, id model.ID, version model.Version) (err error) {
	defer func() { n.metrics.RecordIndexNotification("deindex", err) }()

	if err := n.client.Delete(ctx, DocumentID(scope, id, version)); err != nil {
		return fmt.Errorf("failed to deindex %s@%s: %w", id, version, err)
	}
	return nil
}
