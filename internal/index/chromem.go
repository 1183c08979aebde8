package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

const (
	metaCategoryKey = "category_key"
	metaBrandKey    = "brand_key"
)

var errNoEmbeddingFunc = errors.New("chromem collection only accepts precomputed embeddings")

// ChromemIndex stores vectors in a chromem-go collection. Product records
// are kept alongside so listing does not need a query vector.
type ChromemIndex struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	dimension  int
	products   map[string]domain.Product
}

// NewChromemIndex creates an index backed by a fresh in-memory chromem collection.
func NewChromemIndex(dimension int) (*ChromemIndex, error) {
	db := chromem.NewDB()
	name := "products-" + uuid.NewString()

	col, err := db.CreateCollection(name, map[string]string{"kind": "products"}, noEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("create chromem collection: %w", err)
	}

	return &ChromemIndex{
		db:         db,
		collection: col,
		name:       name,
		dimension:  dimension,
		products:   make(map[string]domain.Product),
	}, nil
}

func noEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// Upsert adds or replaces documents.
func (c *ChromemIndex) Upsert(ctx context.Context, entries []Entry) error {
	if err := validateEntries(c.dimension, entries); err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, chromem.Document{
			ID:        e.Product.ID,
			Metadata:  metadataFor(e.Product),
			Embedding: append([]float32(nil), e.Vector...),
			Content:   e.Product.EmbeddingText(),
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.collection.AddDocuments(ctx, docs, 4); err != nil {
		return domain.IndexUnavailableError("chromem add documents", err)
	}
	for _, e := range entries {
		c.products[e.Product.ID] = e.Product
	}
	return nil
}

// Delete removes documents by ID.
func (c *ChromemIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return domain.IndexUnavailableError("chromem delete", err)
	}
	for _, id := range ids {
		delete(c.products, id)
	}
	return nil
}

// DeleteAll recreates the collection.
func (c *ChromemIndex) DeleteAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.DeleteCollection(c.name); err != nil {
		return domain.IndexUnavailableError("chromem delete collection", err)
	}
	col, err := c.db.CreateCollection(c.name, map[string]string{"kind": "products"}, noEmbeddingFunc)
	if err != nil {
		return domain.IndexUnavailableError("chromem create collection", err)
	}
	c.collection = col
	c.products = make(map[string]domain.Product)
	return nil
}

// Query runs an exhaustive chromem search. Category and brand are pushed into
// the chromem metadata filter; the price window is applied afterwards.
func (c *ChromemIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := validateQuery(c.dimension, vector, topK); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	n := c.collection.Count()
	if n == 0 {
		return []Match{}, nil
	}

	// chromem cannot score a zero vector; every candidate is equally similar.
	if isZero(vector) {
		matches := make([]Match, 0, len(c.products))
		for _, p := range c.products {
			if filter.Matches(p) {
				matches = append(matches, Match{Product: p, Similarity: NormalizeCosine(0)})
			}
		}
		sortMatches(matches)
		return truncate(matches, topK), nil
	}

	// All matching documents are requested so ties at the topK boundary
	// resolve by ID rather than by chromem's internal order.
	results, err := c.collection.QueryEmbedding(ctx, vector, n, whereFor(filter), nil)
	if err != nil {
		return nil, domain.IndexUnavailableError("chromem query", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		p, ok := c.products[r.ID]
		if !ok || !filter.Matches(p) {
			continue
		}
		matches = append(matches, Match{Product: p, Similarity: NormalizeCosine(float64(r.Similarity))})
	}

	sortMatches(matches)
	return truncate(matches, topK), nil
}

// Get returns a product by ID.
func (c *ChromemIndex) Get(ctx context.Context, id string) (domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	if !ok {
		return domain.Product{}, domain.ProductNotFoundError(id)
	}
	return p, nil
}

// All returns every product ordered by ID.
func (c *ChromemIndex) All(ctx context.Context) ([]domain.Product, error) {
	c.mu.RLock()
	out := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Count returns the number of documents.
func (c *ChromemIndex) Count(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collection.Count(), nil
}

// Dimension returns the accepted vector length.
func (c *ChromemIndex) Dimension() int {
	return c.dimension
}

// Close is a no-op; the collection lives in memory.
func (c *ChromemIndex) Close() error {
	return nil
}

// Discard deletes the underlying collection.
func (c *ChromemIndex) Discard(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.products = make(map[string]domain.Product)
	return c.db.DeleteCollection(c.name)
}

func metadataFor(p domain.Product) map[string]string {
	return map[string]string{
		"name":          p.Name,
		"category":      p.Category,
		"brand":         p.Brand,
		metaCategoryKey: strings.ToLower(p.Category),
		metaBrandKey:    strings.ToLower(p.Brand),
	}
}

func whereFor(f Filter) map[string]string {
	where := map[string]string{}
	if c := strings.TrimSpace(f.Category); c != "" {
		where[metaCategoryKey] = strings.ToLower(c)
	}
	if b := strings.TrimSpace(f.Brand); b != "" {
		where[metaBrandKey] = strings.ToLower(b)
	}
	if len(where) == 0 {
		return nil
	}
	return where
}
