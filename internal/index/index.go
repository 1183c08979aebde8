// Package index provides the product vector index and its backends.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

// Index stores product embeddings and answers filtered top-K queries.
type Index interface {
	// Upsert inserts or replaces entries by product ID.
	Upsert(ctx context.Context, entries []Entry) error

	// Delete removes entries by product ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids ...string) error

	// DeleteAll empties the index.
	DeleteAll(ctx context.Context) error

	// Query returns at most topK matches ordered by similarity desc, ID asc.
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)

	// Get returns a product by ID or a ProductNotFound error.
	Get(ctx context.Context, id string) (domain.Product, error)

	// All returns every indexed product ordered by ID.
	All(ctx context.Context) ([]domain.Product, error)

	// Count returns the number of indexed products.
	Count(ctx context.Context) (int, error)

	// Dimension returns the vector length the index accepts.
	Dimension() int

	// Close releases resources.
	Close() error
}

// Discarder is implemented by backends that hold state which must be torn down
// once the index is swapped out.
type Discarder interface {
	Discard(ctx context.Context) error
}

// Entry is a product with its embedding.
type Entry struct {
	Product domain.Product
	Vector  []float32
}

// Filter restricts query candidates. Category and brand compare case-insensitively.
type Filter struct {
	MinPrice *float64
	MaxPrice *float64
	Category string
	Brand    string
}

// FilterFromQuery builds the index filter for a recommendation query.
func FilterFromQuery(q domain.Query) Filter {
	return Filter{MinPrice: q.MinPrice, MaxPrice: q.MaxPrice, Category: q.Category, Brand: q.Brand}
}

// WithoutPrice returns a copy of the filter with the price window removed.
func (f Filter) WithoutPrice() Filter {
	f.MinPrice, f.MaxPrice = nil, nil
	return f
}

// Matches reports whether p satisfies the filter.
func (f Filter) Matches(p domain.Product) bool {
	// Written as negations so a NaN price falls outside any window.
	if f.MinPrice != nil && !(p.Price >= *f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && !(p.Price <= *f.MaxPrice) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(strings.TrimSpace(f.Category), p.Category) {
		return false
	}
	if f.Brand != "" && !strings.EqualFold(strings.TrimSpace(f.Brand), p.Brand) {
		return false
	}
	return true
}

// Match is a query result. Similarity is cosine similarity mapped to [0, 1].
type Match struct {
	Product    domain.Product
	Similarity float64
}

// NormalizeCosine maps cosine similarity from [-1, 1] to [0, 1].
func NormalizeCosine(cos float64) float64 {
	if math.IsNaN(cos) {
		cos = 0
	}
	cos = math.Max(-1, math.Min(1, cos))
	return (cos + 1) / 2
}

// cosine returns the cosine similarity of a and b. A zero vector on either
// side yields 0.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// sortMatches orders by similarity desc, then product ID asc.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Product.ID < matches[j].Product.ID
	})
}

func truncate(matches []Match, topK int) []Match {
	if topK < len(matches) {
		return matches[:topK]
	}
	return matches
}

func checkDimension(dim int, v []float32) error {
	if len(v) != dim {
		return domain.ConfigError("product index",
			fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, dim, len(v)))
	}
	return nil
}

// validateEntries rejects entries that would corrupt the index.
func validateEntries(dim int, entries []Entry) error {
	for _, e := range entries {
		if e.Product.ID == "" {
			return domain.ValidationError("index entry has empty product id", nil)
		}
		if err := checkDimension(dim, e.Vector); err != nil {
			return err
		}
		if isZero(e.Vector) {
			return domain.ValidationError(fmt.Sprintf("product %q has a zero embedding", e.Product.ID), nil)
		}
	}
	return nil
}

func validateQuery(dim int, vector []float32, topK int) error {
	if topK < 1 {
		return domain.ValidationError("top_k must be positive", nil)
	}
	return checkDimension(dim, vector)
}
