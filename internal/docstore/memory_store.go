package docstore

import (
	"context"
	"sync"
)

// MemoryStore keeps documents in-process. It backs tests and local runs.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
	// collections listed here reject filtered + ordered queries with
	// ErrIndexRequired, mimicking a backend without the composite index.
	unindexed map[string]struct{}
}

type memoryCollection struct {
	docs  map[string]map[string]any
	order []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memoryCollection),
		unindexed:   make(map[string]struct{}),
	}
}

// RequireIndex marks a collection as missing its composite index so combined
// filter + order queries fail with ErrIndexRequired.
func (m *MemoryStore) RequireIndex(collection string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unindexed[collection] = struct{}{}
}

// Get returns documents matching the query in insertion order unless ordered.
func (m *MemoryStore) Get(_ context.Context, collection string, q Query) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.unindexed[collection]; ok && q.FilterField != "" && q.OrderBy != "" {
		return nil, ErrIndexRequired
	}
	col, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}
	docs := make([]Document, 0, len(col.order))
	for _, id := range col.order {
		if fields, ok := col.docs[id]; ok {
			docs = append(docs, Document{ID: id, Fields: cloneFields(fields)})
		}
	}
	return Apply(docs, q), nil
}

// GetDoc returns a single document by id.
func (m *MemoryStore) GetDoc(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, ok := m.collections[collection]
	if !ok {
		return Document{}, ErrNotFound
	}
	fields, ok := col.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Fields: cloneFields(fields)}, nil
}

// Add stores a new document under a generated id.
func (m *MemoryStore) Add(_ context.Context, collection string, fields map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := NewDocID()
	col := m.collection(collection)
	col.docs[id] = cloneFields(fields)
	col.order = append(col.order, id)
	return id, nil
}

// Update rewrites named fields of an existing document.
func (m *MemoryStore) Update(_ context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.collections[collection]
	if !ok {
		return ErrNotFound
	}
	existing, ok := col.docs[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range fields {
		existing[k] = v
	}
	return nil
}

// Set writes a document at a known id, merging when requested.
func (m *MemoryStore) Set(_ context.Context, collection, id string, fields map[string]any, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col := m.collection(collection)
	existing, ok := col.docs[id]
	if !ok {
		col.docs[id] = cloneFields(fields)
		col.order = append(col.order, id)
		return nil
	}
	if !merge {
		col.docs[id] = cloneFields(fields)
		return nil
	}
	for k, v := range fields {
		existing[k] = v
	}
	return nil
}

// Delete removes a document; deleting a missing id is ErrNotFound.
func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.collections[collection]
	if !ok {
		return ErrNotFound
	}
	if _, ok := col.docs[id]; !ok {
		return ErrNotFound
	}
	delete(col.docs, id)
	for i, existing := range col.order {
		if existing == id {
			col.order = append(col.order[:i], col.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) collection(name string) *memoryCollection {
	col, ok := m.collections[name]
	if !ok {
		col = &memoryCollection{docs: make(map[string]map[string]any)}
		m.collections[name] = col
	}
	return col
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
