// Package engine assembles the shop engine components behind one Go API.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/budget"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/cache"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/cart"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/embedding"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/generator"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/index"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/ingest"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/ranking"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/recommend"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/storage"
)

// Version is the engine release reported by health checks and the CLI.
const Version = "0.4.0"

// Engine is the in-process shop engine: ingestion, recommendation,
// comparison and budget-aware carts over one live product index.
type Engine struct {
	config      *config.Config
	logger      *observability.Logger
	db          *sql.DB
	handle      *index.Handle
	gateway     *embedding.Gateway
	pipeline    *ingest.Pipeline
	recommender *recommend.Engine
	responses   *cache.ResponseCache
	carts       *cart.Service
	closers     []func() error
}

// New wires an engine from cfg. The index starts empty; call Rebuild to load
// the persisted catalog or Ingest to publish a new one.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (e *Engine, err error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	e = &Engine{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	// Catalog database
	e.db, err = storage.Open(ctx, storage.OpenConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.DatabaseDSN(),
		MaxOpenConns:    maxOpenConns(cfg),
		MaxIdleConns:    cfg.Database.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.Postgres.ConnMaxLifetime,
		JournalMode:     cfg.Database.SQLite.JournalMode,
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	e.closers = append(e.closers, e.db.Close)

	applied, err := storage.Migrate(ctx, e.db, cfg.Database.Driver)
	if err != nil {
		return nil, fmt.Errorf("migrate catalog database: %w", err)
	}
	if len(applied) > 0 {
		logger.Info().Strs("migrations", applied).Msg("Applied catalog migrations")
	}

	// Embeddings
	provider, err := newProvider(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	e.gateway = embedding.NewGateway(provider, embedding.GatewayConfig{
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
		Timeout:     cfg.Embedding.Timeout,
		RateLimit:   cfg.Embedding.RateLimit,
	}, logger)

	// Index
	vectorDB, err := e.vectorDB(ctx)
	if err != nil {
		return nil, err
	}
	build, err := index.NewBuilder(index.BuilderConfig{
		Backend:     cfg.Index.Backend,
		Dimension:   cfg.Embedding.Dimension,
		TablePrefix: cfg.Index.PGVector.TablePrefix,
	}, vectorDB)
	if err != nil {
		return nil, err
	}
	initial, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("create initial index: %w", err)
	}
	e.handle = index.NewHandle(initial)
	e.closers = append(e.closers, func() error { return index.Discard(context.Background(), e.handle.Current()) })

	// Response cache and shared redis connection
	cacheClient, redisConn, err := e.cacheClient()
	if err != nil {
		return nil, err
	}
	e.responses = cache.NewResponseCache(cacheClient, logger, cache.ResponseCacheConfig{
		RecommendTTL:  cfg.Cache.TTL,
		ComparisonTTL: 6 * cfg.Cache.TTL,
		Enabled:       true,
	})

	// Ranking and recommendation
	weights := ranking.Weights{
		Similarity: cfg.Ranking.VectorWeight,
		Keyword:    cfg.Ranking.KeywordWeight,
		PriceFit:   cfg.Ranking.PriceWeight,
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	e.recommender = recommend.NewEngine(logger, recommend.Config{
		HeadroomFactor:   cfg.Ranking.HeadroomFactor,
		MaxLimit:         cfg.Ranking.MaxLimit,
		IndexTimeout:     cfg.Index.Timeout,
		GeneratorTimeout: cfg.Generator.Timeout,
		Currency:         cfg.Budget.Currency,
	}, e.gateway, e.handle, ranking.NewScorer(weights, cfg.Ranking.ExtraStopwords...), e.responses, e.textGenerator())

	// Ingestion
	e.pipeline = ingest.NewPipeline(logger, ingest.PipelineConfig{
		PriceTolerance:       cfg.Ingestion.PriceTolerance,
		MaxDescriptionLength: cfg.Ingestion.MaxDescriptionLength,
		Persist:              cfg.Ingestion.Persist,
	}, e.gateway, e.handle, build,
		storage.NewProductRepository(e.db, cfg.Database.Driver),
		storage.NewIngestRunRepository(e.db, cfg.Database.Driver))

	// Carts
	store, err := e.cartStore(redisConn)
	if err != nil {
		return nil, err
	}
	explainer := budget.NewExplainer(budget.Config{
		Thresholds: budget.Thresholds{
			Low:    cfg.Budget.WarningLow,
			Medium: cfg.Budget.WarningMedium,
			High:   cfg.Budget.WarningHigh,
		},
		Currency:       cfg.Budget.Currency,
		MaxSuggestions: cfg.Budget.MaxSuggestions,
	}, logger)
	e.carts = cart.NewService(logger, store, e.recommender, explainer, e.recommender)

	logger.Info().
		Str("index_backend", cfg.Index.Backend).
		Str("embedding_model", e.gateway.Model()).
		Int("dimension", e.gateway.Dimension()).
		Str("cache", cfg.Cache.Driver).
		Str("cart_store", cfg.Cart.Store).
		Msg("Shop engine ready")
	return e, nil
}

func maxOpenConns(cfg *config.Config) int {
	if cfg.Database.Driver == "sqlite" {
		return cfg.Database.SQLite.MaxOpenConns
	}
	return cfg.Database.Postgres.MaxOpenConns
}

func newProvider(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	if cfg.Provider == "mock" {
		return embedding.NewMockClient(cfg.Dimension), nil
	}
	client, err := embedding.NewClient(embedding.Config{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		Dimension:  cfg.Dimension,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, domain.ConfigError("embedding provider", err)
	}
	return client, nil
}

// vectorDB returns the connection the pgvector backend uses, reusing the
// catalog database when both point at the same postgres.
func (e *Engine) vectorDB(ctx context.Context) (storage.DB, error) {
	if e.config.Index.Backend != "pgvector" {
		return nil, nil
	}
	dsn := e.config.PGVectorDSN()
	if e.config.Database.Driver == "postgres" && dsn == e.config.Database.Postgres.DSN {
		return e.db, nil
	}
	db, err := storage.Open(ctx, storage.OpenConfig{
		Driver:       "postgres",
		DSN:          dsn,
		MaxOpenConns: e.config.Database.Postgres.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open pgvector database: %w", err)
	}
	e.closers = append(e.closers, db.Close)
	return db, nil
}

func (e *Engine) cacheClient() (cache.Client, *redis.Client, error) {
	cfg := e.config
	needRedis := cfg.Cache.Driver == "redis" || cfg.Cart.Store == "redis"

	var rc *cache.RedisClient
	if needRedis {
		var err error
		rc, err = cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		e.closers = append(e.closers, rc.Close)
	}

	if cfg.Cache.Driver == "redis" {
		return rc, rc.Redis(), nil
	}
	mem := cache.NewMemoryClient(cfg.Cache.MaxEntries)
	e.closers = append(e.closers, mem.Close)
	if rc != nil {
		return mem, rc.Redis(), nil
	}
	return mem, nil, nil
}

func (e *Engine) cartStore(conn *redis.Client) (cart.Store, error) {
	if e.config.Cart.Store != "redis" {
		return cart.NewMemoryStore(e.config.Cart.SessionTTL), nil
	}
	if conn == nil {
		return nil, domain.ConfigError("redis cart store requires a redis connection", nil)
	}
	return cart.NewRedisStore(conn, "", e.config.Cart.SessionTTL), nil
}

// textGenerator returns nil when generation is disabled or misconfigured;
// comparisons then use their numeric fallback.
func (e *Engine) textGenerator() generator.TextGenerator {
	cfg := e.config.Generator
	if !cfg.Enabled {
		return nil
	}
	gen, err := generator.NewLangChainGenerator(generator.Config{
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
		Timeout:  cfg.Timeout,
		Currency: e.config.Budget.Currency,
	}, e.logger)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Comparison text generation disabled")
		return nil
	}
	return gen
}

// Close releases every connection the engine opened, newest first.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Ingest normalizes, deduplicates, embeds and publishes records as the new
// catalog.
func (e *Engine) Ingest(ctx context.Context, source string, records []domain.RawProductRecord) (*domain.IngestReport, error) {
	return e.pipeline.Ingest(ctx, source, records)
}

// IngestCSV reads a collaborator CSV and ingests its rows.
func (e *Engine) IngestCSV(ctx context.Context, source string, r io.Reader) (*domain.IngestReport, error) {
	rows, err := ingest.ReadCSV(r)
	if err != nil {
		return nil, domain.ValidationError(fmt.Sprintf("read csv: %v", err), err)
	}
	return ingest.IngestRecords(ctx, e.pipeline, source, rows)
}

// Rebuild re-embeds the persisted catalog into a fresh index generation.
func (e *Engine) Rebuild(ctx context.Context) (int, error) {
	return e.pipeline.Rebuild(ctx)
}

// RemoveProducts deletes products from the live index and the catalog.
func (e *Engine) RemoveProducts(ctx context.Context, ids ...string) error {
	return e.pipeline.Remove(ctx, ids...)
}

// Recommend ranks catalog products for q.
func (e *Engine) Recommend(ctx context.Context, q domain.Query, limit int) (*domain.RankedList, error) {
	return e.recommender.Recommend(ctx, q, limit)
}

// Compare contrasts two catalog products.
func (e *Engine) Compare(ctx context.Context, idA, idB string) (*domain.Comparison, error) {
	return e.recommender.Compare(ctx, idA, idB)
}

// Product returns one catalog product.
func (e *Engine) Product(ctx context.Context, id string) (domain.Product, error) {
	return e.recommender.Product(ctx, id)
}

// CartCreate starts a cart. An empty sessionID gets a generated one.
func (e *Engine) CartCreate(ctx context.Context, sessionID string, budgetAmount float64) (*cart.Result, error) {
	return e.carts.Create(ctx, sessionID, budgetAmount)
}

// CartGet returns a cart and its budget status.
func (e *Engine) CartGet(ctx context.Context, sessionID string) (*cart.Result, error) {
	return e.carts.Get(ctx, sessionID)
}

// CartAdd adds a product to a cart and explains the budget impact.
func (e *Engine) CartAdd(ctx context.Context, sessionID, productID string, quantity int) (*cart.AddResult, error) {
	return e.carts.Add(ctx, sessionID, productID, quantity)
}

// CartPreview explains what adding a product would do without adding it.
func (e *Engine) CartPreview(ctx context.Context, sessionID, productID string, quantity int) (*domain.ImpactReport, error) {
	if quantity < 1 {
		return nil, domain.ValidationError("quantity must be at least 1", nil)
	}
	current, err := e.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	product, err := e.recommender.Product(ctx, productID)
	if err != nil {
		return nil, err
	}
	report := e.carts.Explainer().ExplainItemImpact(current.Cart, product, quantity)
	return &report, nil
}

// CartUpdate sets a line's quantity; zero or less removes it.
func (e *Engine) CartUpdate(ctx context.Context, sessionID, productID string, quantity int) (*cart.Result, error) {
	return e.carts.SetQuantity(ctx, sessionID, productID, quantity)
}

// CartDecrease lowers a line's quantity.
func (e *Engine) CartDecrease(ctx context.Context, sessionID, productID string, amount int) (*cart.Result, error) {
	return e.carts.Decrease(ctx, sessionID, productID, amount)
}

// CartRemove drops a line.
func (e *Engine) CartRemove(ctx context.Context, sessionID, productID string) (*cart.Result, error) {
	return e.carts.Remove(ctx, sessionID, productID)
}

// CartClear empties a cart.
func (e *Engine) CartClear(ctx context.Context, sessionID string) (*cart.Result, error) {
	return e.carts.Clear(ctx, sessionID)
}

// CartSetBudget changes a cart's budget.
func (e *Engine) CartSetBudget(ctx context.Context, sessionID string, budgetAmount float64) (*cart.Result, error) {
	return e.carts.SetBudget(ctx, sessionID, budgetAmount)
}

// CartDelete drops a cart.
func (e *Engine) CartDelete(ctx context.Context, sessionID string) error {
	return e.carts.Delete(ctx, sessionID)
}

// CartOptimize suggests how to bring a cart back within budget.
func (e *Engine) CartOptimize(ctx context.Context, sessionID string) (*domain.OptimizationReport, error) {
	return e.carts.Optimize(ctx, sessionID)
}

// CartSummary describes a cart's composition.
func (e *Engine) CartSummary(ctx context.Context, sessionID string) (*domain.ShoppingSummary, error) {
	return e.carts.Summary(ctx, sessionID)
}

// Health reports the engine's index and cache state.
type Health struct {
	Status          string           `json:"status"`
	Version         string           `json:"version"`
	IndexGeneration string           `json:"index_generation"`
	IndexBuiltAt    time.Time        `json:"index_built_at"`
	Products        int              `json:"products"`
	EmbeddingModel  string           `json:"embedding_model"`
	Cache           cache.CacheStats `json:"cache"`
}

// Health returns the engine health. Status is "degraded" when the index
// cannot be counted.
func (e *Engine) Health(ctx context.Context) Health {
	h := Health{
		Status:          "healthy",
		Version:         Version,
		IndexGeneration: e.handle.Generation(),
		IndexBuiltAt:    e.handle.BuiltAt(),
		EmbeddingModel:  e.gateway.Model(),
		Cache:           e.responses.Stats(),
	}
	n, err := e.handle.Count(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Index count failed")
		h.Status = "degraded"
		return h
	}
	h.Products = n
	return h
}
