package index

import (
	"context"
	"sort"
	"sync"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/embedding"
)

// MemoryIndex is an exhaustive in-memory index.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]Entry
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{
		dimension: dimension,
		entries:   make(map[string]Entry),
	}
}

// Upsert adds or replaces entries. Vectors are stored normalized.
func (m *MemoryIndex) Upsert(ctx context.Context, entries []Entry) error {
	if err := validateEntries(m.dimension, entries); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		v := append([]float32(nil), e.Vector...)
		m.entries[e.Product.ID] = Entry{Product: e.Product, Vector: embedding.Normalize(v)}
	}
	return nil
}

// Delete removes entries by ID.
func (m *MemoryIndex) Delete(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

// DeleteAll empties the index.
func (m *MemoryIndex) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]Entry)
	m.mu.Unlock()
	return nil
}

// Query scores every entry that passes the filter.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := validateQuery(m.dimension, vector, topK); err != nil {
		return nil, err
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.entries))
	for _, e := range m.entries {
		if !filter.Matches(e.Product) {
			continue
		}
		matches = append(matches, Match{
			Product:    e.Product,
			Similarity: NormalizeCosine(cosine(vector, e.Vector)),
		})
	}
	m.mu.RUnlock()

	sortMatches(matches)
	return truncate(matches, topK), nil
}

// Get returns a product by ID.
func (m *MemoryIndex) Get(ctx context.Context, id string) (domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return domain.Product{}, domain.ProductNotFoundError(id)
	}
	return e.Product, nil
}

// All returns every product ordered by ID.
func (m *MemoryIndex) All(ctx context.Context) ([]domain.Product, error) {
	m.mu.RLock()
	out := make([]domain.Product, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Product)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Count returns the number of entries.
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Dimension returns the accepted vector length.
func (m *MemoryIndex) Dimension() int {
	return m.dimension
}

// Close is a no-op.
func (m *MemoryIndex) Close() error {
	return nil
}

// Discard drops all entries.
func (m *MemoryIndex) Discard(ctx context.Context) error {
	return m.DeleteAll(ctx)
}
