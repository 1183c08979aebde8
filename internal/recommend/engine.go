// Package recommend orchestrates retrieval, scoring and ranking of products
// and compares product pairs.
package recommend

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/cache"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/generator"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/index"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/ranking"
)

// QueryEmbedder embeds a single query text.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Config holds engine settings.
type Config struct {
	HeadroomFactor   int
	MaxLimit         int
	IndexTimeout     time.Duration
	GeneratorTimeout time.Duration
	Currency         string
}

// Engine answers recommendation and comparison requests against the live
// index. It holds no per-request state and is safe for concurrent use.
type Engine struct {
	logger    *observability.Logger
	embedder  QueryEmbedder
	index     index.Index
	scorer    *ranking.Scorer
	cache     *cache.ResponseCache
	generator generator.TextGenerator
	config    Config
}

// NewEngine creates a recommendation engine. cache and gen may be nil.
func NewEngine(
	logger *observability.Logger,
	cfg Config,
	embedder QueryEmbedder,
	idx index.Index,
	scorer *ranking.Scorer,
	responses *cache.ResponseCache,
	gen generator.TextGenerator,
) *Engine {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.HeadroomFactor < 1 {
		cfg.HeadroomFactor = 5
	}
	if cfg.MaxLimit < 1 {
		cfg.MaxLimit = 100
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = 5 * time.Second
	}
	if cfg.GeneratorTimeout <= 0 {
		cfg.GeneratorTimeout = 10 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "TND"
	}
	if scorer == nil {
		scorer = ranking.NewScorer(ranking.DefaultWeights())
	}
	return &Engine{
		logger:    logger,
		embedder:  embedder,
		index:     idx,
		scorer:    scorer,
		cache:     responses,
		generator: gen,
		config:    cfg,
	}
}

// Recommend returns up to limit products for q. Relevance decides which
// products make the cut; sort_mode only reorders the selected set.
func (e *Engine) Recommend(ctx context.Context, q domain.Query, limit int) (result *domain.RankedList, err error) {
	ctx, span := observability.StartSpan(ctx, "recommend.Recommend",
		attribute.String("sort_mode", string(q.SortMode)),
		attribute.Int("limit", limit))
	defer func() { observability.EndSpan(span, err) }()

	if err = q.Validate(); err != nil {
		return nil, err
	}
	if limit < 1 {
		err = domain.ValidationError(fmt.Sprintf("limit must be at least 1, got %d", limit), nil)
		return nil, err
	}
	if limit > e.config.MaxLimit {
		err = domain.ValidationError(fmt.Sprintf("limit must be at most %d, got %d", e.config.MaxLimit, limit), nil)
		return nil, err
	}
	q.SortMode, _ = domain.ParseSortMode(string(q.SortMode))

	key := ""
	if e.cache != nil {
		key = e.cache.RecommendKey(e.generation(), q, limit)
		if cached, ok := e.cache.GetRanked(ctx, key); ok {
			return cached, nil
		}
	}

	vector, err := e.embedder.EmbedOne(ctx, q.Text())
	if err != nil {
		return nil, err
	}

	topK := max(limit*e.config.HeadroomFactor, limit)
	filter := index.FilterFromQuery(q)

	// Candidates matching everything but the price window give TotalFound.
	found, err := e.query(ctx, vector, topK, filter.WithoutPrice())
	if err != nil {
		return nil, err
	}
	windowed := found
	if filter.MinPrice != nil || filter.MaxPrice != nil {
		if windowed, err = e.query(ctx, vector, topK, filter); err != nil {
			return nil, err
		}
	}

	products := make([]domain.Product, len(windowed))
	sims := make([]float64, len(windowed))
	for i, m := range windowed {
		products[i] = m.Product
		sims[i] = m.Similarity
	}
	scored := e.scorer.ScoreAll(products, sims, q)
	ranking.Sort(scored)

	result = &domain.RankedList{
		Items:            scored[:min(limit, len(scored))],
		TotalFound:       len(found),
		TotalAfterFilter: len(scored),
	}
	switch q.SortMode {
	case domain.SortPriceAsc:
		ranking.SortByPrice(result.Items, false)
	case domain.SortPriceDesc:
		ranking.SortByPrice(result.Items, true)
	}

	e.logger.WithContext(ctx).Debug().
		Int("found", result.TotalFound).
		Int("after_filter", result.TotalAfterFilter).
		Int("returned", len(result.Items)).
		Msg("Recommendation computed")

	if e.cache != nil {
		if err := e.cache.SetRanked(ctx, key, result); err != nil {
			e.logger.WithContext(ctx).Debug().Err(err).Msg("Failed to cache recommendation")
		}
	}
	return result, nil
}

// Product returns a product from the live index.
func (e *Engine) Product(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.IndexTimeout)
	defer cancel()
	return e.index.Get(ctx, id)
}

// FindCheaper returns the most relevant product of the same category as ref
// that is strictly cheaper than ref. ok is false when none exists or when
// ref has no category to match against.
func (e *Engine) FindCheaper(ctx context.Context, ref domain.Product) (domain.Product, bool, error) {
	category := strings.TrimSpace(ref.Category)
	if ref.Price <= 0 || category == "" {
		return domain.Product{}, false, nil
	}
	maxPrice := ref.Price
	list, err := e.Recommend(ctx, domain.Query{
		FreeText: ref.Name,
		Category: category,
		MaxPrice: &maxPrice,
	}, min(10, e.config.MaxLimit))
	if err != nil {
		return domain.Product{}, false, err
	}
	for _, c := range list.Items {
		if c.Product.ID != ref.ID && c.Product.Price < ref.Price &&
			strings.EqualFold(c.Product.Category, category) {
			return c.Product, true, nil
		}
	}
	return domain.Product{}, false, nil
}

func (e *Engine) query(ctx context.Context, vector []float32, topK int, filter index.Filter) ([]index.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.IndexTimeout)
	defer cancel()
	return e.index.Query(ctx, vector, topK, filter)
}

// generation identifies the catalog snapshot for cache keys.
func (e *Engine) generation() string {
	if g, ok := e.index.(interface{ Generation() string }); ok {
		return g.Generation()
	}
	return "static"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
