package index

import (
	"context"
	"sort"
	"sync"

	"github.com/devrev/pairdb/entitystore/internal/model"
)

type pendingOp struct {
	doc    Document
	delete bool
}

// MemoryIndex is an in-process Client. Like a real search engine it only exposes
// writes to searches after Refresh.
type MemoryIndex struct {
	mu      sync.RWMutex
	visible map[string]Document
	pending []pendingOp
}

// NewMemoryIndex creates an empty index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{visible: make(map[string]Document)}
}

func (m *MemoryIndex) Put(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, pendingOp{doc: doc})
	return nil
}

func (m *MemoryIndex) Delete(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, pendingOp{doc: Document{ID: docID}, delete: true})
	return nil
}

func (m *MemoryIndex) Refresh(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.pending {
		if op.delete {
			delete(m.visible, op.doc.ID)
			continue
		}
		m.visible[op.doc.ID] = op.doc
	}
	m.pending = nil
	return nil
}

func (m *MemoryIndex) SearchEntity(_ context.Context, scope model.CollectionScope, id model.ID) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var docs []Document
	for _, doc := range m.visible {
		if doc.Scope == scope && doc.EntityID == id {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Version.Compare(docs[j].Version) < 0 })
	return docs, nil
}

// Len returns the number of searchable documents
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.visible)
}
