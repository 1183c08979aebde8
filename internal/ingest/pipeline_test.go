package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/embedding"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/index"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/storage"
)

const testDim = 32

// poisonEmbedder fails any batch containing a text with "poison" in it.
type poisonEmbedder struct {
	inner *embedding.MockClient
}

func (p poisonEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, "poison") {
			return nil, errors.New("provider rejected input")
		}
	}
	return p.inner.Embed(ctx, texts)
}

func (p poisonEmbedder) Model() string  { return "poison" }
func (p poisonEmbedder) Dimension() int { return p.inner.Dimension() }

type downEmbedder struct{}

func (downEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}
func (downEmbedder) Model() string  { return "down" }
func (downEmbedder) Dimension() int { return testDim }

type fixture struct {
	pipeline *Pipeline
	handle   *index.Handle
	products *storage.ProductRepository
	runs     *storage.IngestRunRepository
}

func newFixture(t *testing.T, provider embedding.Embedder) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.OpenConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = storage.Migrate(ctx, db, "sqlite")
	require.NoError(t, err)

	build, err := index.NewBuilder(index.BuilderConfig{Backend: "memory", Dimension: testDim}, nil)
	require.NoError(t, err)

	f := &fixture{
		handle:   index.NewHandle(index.NewMemoryIndex(testDim)),
		products: storage.NewProductRepository(db, "sqlite"),
		runs:     storage.NewIngestRunRepository(db, "sqlite"),
	}
	gateway := embedding.NewGateway(provider, embedding.GatewayConfig{BatchSize: 4, Concurrency: 2}, nil)
	f.pipeline = NewPipeline(nil, PipelineConfig{Persist: true}, gateway, f.handle, build, f.products, f.runs)
	return f
}

func sampleRecords() []domain.RawProductRecord {
	return RawRecords([]CSVRow{
		{URL: "https://s/milk", Name: "Milk 1L", Category: "Dairy", Price: "3.5"},
		{URL: "https://s/milk-premium", Name: "Milk 1L Premium", Category: "Dairy", Price: "6"},
		{URL: "https://s/bread-a", Name: "Bread", Category: "Bakery", Price: "1.00"},
		{URL: "https://s/bread-b", Name: "bread", Category: "Bakery", Price: "1.005"},
		{URL: "https://s/broken", Name: "", Price: "2"},
		{URL: "https://s/nan", Name: "Cheese", Price: "n/a"},
	})
}

func TestPipeline_Ingest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, embedding.NewMockClient(testDim))
	before := f.handle.Generation()

	report, err := f.pipeline.Ingest(ctx, "catalog.csv", sampleRecords())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Accepted)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.DuplicateCount)
	assert.Zero(t, report.EmbedFailures)
	assert.Len(t, report.Errors, 2)
	assert.NotEqual(t, before, f.handle.Generation())

	n, err := f.handle.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stored, err := f.products.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stored)

	run, err := f.runs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, run.RunID)
	assert.Equal(t, "catalog.csv", run.Source)
	assert.Equal(t, 1, run.DuplicateCount)
}

func TestPipeline_ReingestReplacesCatalog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, embedding.NewMockClient(testDim))

	_, err := f.pipeline.Ingest(ctx, "first", sampleRecords())
	require.NoError(t, err)
	old := f.handle.Current()

	report, err := f.pipeline.Ingest(ctx, "second", RawRecords([]MarketplaceRecord{{ID: 1, Name: "Laptop", Price: 999}}))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)

	all, err := f.handle.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "mkt-1", all[0].ID)

	n, err := old.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "previous generation is discarded")
}

func TestPipeline_SkipsFailedEmbeddings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, poisonEmbedder{inner: embedding.NewMockClient(testDim)})

	records := append(sampleRecords()[:3], domain.RawProductRecord{
		ID: "bad", Name: "poison apple", Price: "2",
	})
	report, err := f.pipeline.Ingest(ctx, "catalog", records)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Accepted)
	assert.Equal(t, 1, report.EmbedFailures)
	assert.Equal(t, 1, report.Skipped)

	_, err = f.handle.Get(ctx, "bad")
	assert.True(t, errors.Is(err, domain.ErrProductNotFound), "failed product must not be indexed")
}

func TestPipeline_ProviderDownKeepsLiveIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, downEmbedder{})
	live := index.NewMemoryIndex(testDim)
	require.NoError(t, live.Upsert(ctx, []index.Entry{
		{Product: domain.Product{ID: "keep", Name: "Keep", Price: 1}, Vector: unitVector(testDim)},
	}))
	f.handle.Swap(live)
	gen := f.handle.Generation()

	report, err := f.pipeline.Ingest(ctx, "catalog", sampleRecords())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmbeddingUnavailable))
	assert.Zero(t, report.Accepted)
	assert.Equal(t, gen, f.handle.Generation())

	_, err = f.handle.Get(ctx, "keep")
	assert.NoError(t, err)
}

func TestPipeline_SkipsNonFinitePrices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, embedding.NewMockClient(testDim))

	report, err := f.pipeline.Ingest(ctx, "pandas.csv", RawRecords([]CSVRow{
		{URL: "https://s/milk", Name: "Milk 1L", Category: "Dairy", Price: "3.5"},
		{URL: "https://s/cheese", Name: "Cheese", Category: "Dairy", Price: "nan"},
		{URL: "https://s/butter", Name: "Butter", Category: "Dairy", Price: "Inf"},
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, 2, report.Skipped)

	minPrice, maxPrice := 1.0, 5.0
	matches, err := f.handle.Query(ctx, unitVector(testDim), 10, index.Filter{MinPrice: &minPrice, MaxPrice: &maxPrice})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Milk 1L", matches[0].Product.Name)
}

func TestPipeline_AllMalformedKeepsCatalog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, embedding.NewMockClient(testDim))

	_, err := f.pipeline.Ingest(ctx, "good", sampleRecords())
	require.NoError(t, err)
	gen := f.handle.Generation()

	report, err := f.pipeline.Ingest(ctx, "bad", RawRecords([]CSVRow{
		{URL: "https://s/x", Name: "", Price: "2"},
		{URL: "https://s/y", Name: "Yogurt", Price: "n/a"},
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Zero(t, report.Accepted)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, gen, f.handle.Generation())

	n, err := f.handle.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stored, err := f.products.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stored)
}

func TestPipeline_RebuildFromStoredCatalog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, embedding.NewMockClient(testDim))

	require.NoError(t, f.products.Upsert(ctx, []domain.Product{
		{ID: "a", Name: "Milk", Category: "Dairy", Price: 3},
		{ID: "b", Name: "Bread", Category: "Bakery", Price: 1},
	}))

	n, err := f.pipeline.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p, err := f.handle.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "Bread", p.Name)

	require.NoError(t, f.pipeline.Remove(ctx, "a"))
	count, err := f.products.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	_, err = f.handle.Get(ctx, "a")
	assert.True(t, errors.Is(err, domain.ErrProductNotFound))
}

func unitVector(dim int) []float32 {
	v := make([]float32, dim)
	v[0] = 1
	return v
}
