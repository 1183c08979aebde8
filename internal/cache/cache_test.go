package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func TestMemoryClient_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	_, err := c.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrCacheMiss))

	require.NoError(t, c.Set(ctx, "a:1", []byte("one"), time.Minute))
	require.NoError(t, c.Set(ctx, "a:2", []byte("two"), time.Minute))
	require.NoError(t, c.Set(ctx, "b:1", []byte("three"), time.Minute))

	v, err := c.Get(ctx, "a:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), v)

	require.NoError(t, c.DeleteByPrefix(ctx, "a:"))
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Delete(ctx, "b:1"))
	assert.Zero(t, c.Len())
}

func TestMemoryClient_ExpiryAndEviction(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(2)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "gone", []byte("x"), -time.Second))
	_, err := c.Get(ctx, "gone")
	assert.True(t, errors.Is(err, ErrCacheMiss))

	require.NoError(t, c.Set(ctx, "short", []byte("x"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("y"), time.Hour))
	assert.Equal(t, 2, c.Len())

	// "gone" has the earliest expiry and makes room.
	_, err = c.Get(ctx, "long")
	assert.NoError(t, err)
	_, err = c.Get(ctx, "short")
	assert.NoError(t, err)
}

func TestResponseCache_RankedRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryClient(100)
	defer mem.Close()
	rc := NewResponseCache(mem, nil, DefaultResponseCacheConfig())

	q := domain.Query{FreeText: "Milk", MaxPrice: ptr(5)}
	key := rc.RecommendKey("gen-1", q, 10)
	assert.Equal(t, key, rc.RecommendKey("gen-1", domain.Query{FreeText: " milk ", MaxPrice: ptr(5)}, 10))
	assert.NotEqual(t, key, rc.RecommendKey("gen-2", q, 10))
	assert.NotEqual(t, key, rc.RecommendKey("gen-1", q, 11))
	assert.NotEqual(t, key, rc.RecommendKey("gen-1", domain.Query{FreeText: "Milk", MinPrice: ptr(5)}, 10))

	_, ok := rc.GetRanked(ctx, key)
	assert.False(t, ok)

	list := &domain.RankedList{
		Items:            []domain.ScoredCandidate{{Product: domain.Product{ID: "a", Price: 3.5}, CompositeScore: 0.9}},
		TotalFound:       2,
		TotalAfterFilter: 1,
	}
	require.NoError(t, rc.SetRanked(ctx, key, list))

	got, ok := rc.GetRanked(ctx, key)
	require.True(t, ok)
	assert.Equal(t, list.Items[0].Product.ID, got.Items[0].Product.ID)
	assert.Equal(t, 1, got.TotalAfterFilter)

	stats := rc.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)

	require.NoError(t, rc.Invalidate(ctx))
	_, ok = rc.GetRanked(ctx, key)
	assert.False(t, ok)
}

func TestResponseCache_SkipsFallbackComparisons(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryClient(100)
	defer mem.Close()
	rc := NewResponseCache(mem, nil, DefaultResponseCacheConfig())

	key := rc.ComparisonKey("g", "a", "b")
	assert.NotEqual(t, key, rc.ComparisonKey("g", "b", "a"))

	require.NoError(t, rc.SetComparison(ctx, key, &domain.Comparison{Generated: false}))
	_, ok := rc.GetComparison(ctx, key)
	assert.False(t, ok)

	require.NoError(t, rc.SetComparison(ctx, key, &domain.Comparison{Generated: true, Recommendation: "take a"}))
	got, ok := rc.GetComparison(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "take a", got.Recommendation)
}

func TestResponseCache_DisabledIsNoop(t *testing.T) {
	rc := NewResponseCache(nil, nil, DefaultResponseCacheConfig())
	require.NoError(t, rc.SetRanked(context.Background(), "k", &domain.RankedList{}))
	_, ok := rc.GetRanked(context.Background(), "k")
	assert.False(t, ok)
	assert.False(t, rc.Stats().Enabled)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "cart:abc", Key("cart", "abc"))
	assert.Equal(t, "x", Key("x"))
}
