package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
)

// ResponseCache caches recommendation and comparison results. Keys embed the
// index generation, so a catalog swap makes older entries unreachable.
type ResponseCache struct {
	client Client
	logger *observability.Logger
	config ResponseCacheConfig

	hits   atomic.Int64
	misses atomic.Int64
}

// ResponseCacheConfig configures the response cache.
type ResponseCacheConfig struct {
	// RecommendTTL bounds how long a ranked list is served from cache
	RecommendTTL time.Duration
	// ComparisonTTL bounds how long a comparison is served from cache
	ComparisonTTL time.Duration
	// KeyPrefix is the cache key prefix
	KeyPrefix string
	// Enabled controls whether caching is active
	Enabled bool
}

// DefaultResponseCacheConfig returns default cache configuration.
func DefaultResponseCacheConfig() ResponseCacheConfig {
	return ResponseCacheConfig{
		RecommendTTL:  5 * time.Minute,
		ComparisonTTL: 30 * time.Minute,
		KeyPrefix:     "response:",
		Enabled:       true,
	}
}

// NewResponseCache creates a new response cache. A nil client disables it.
func NewResponseCache(client Client, logger *observability.Logger, config ResponseCacheConfig) *ResponseCache {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "response:"
	}
	if config.RecommendTTL == 0 {
		config.RecommendTTL = 5 * time.Minute
	}
	if config.ComparisonTTL == 0 {
		config.ComparisonTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &ResponseCache{
		client: client,
		logger: logger,
		config: config,
	}
}

// RecommendKey builds a deterministic key for a recommendation request.
func (c *ResponseCache) RecommendKey(generation string, q domain.Query, limit int) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(q.FreeText)),
		strings.ToLower(strings.TrimSpace(q.Name)),
		strings.ToLower(strings.TrimSpace(q.Description)),
		strings.ToLower(strings.TrimSpace(q.Category)),
		strings.ToLower(strings.TrimSpace(q.Brand)),
		formatBound(q.MinPrice),
		formatBound(q.MaxPrice),
		string(q.SortMode),
		strconv.Itoa(limit),
	}
	return c.config.KeyPrefix + Key("rec", generation, digest(parts))
}

// ComparisonKey builds a key for a product pair. Order matters because the
// comparison is presented as A against B.
func (c *ResponseCache) ComparisonKey(generation, idA, idB string) string {
	return c.config.KeyPrefix + Key("cmp", generation, digest([]string{idA, idB}))
}

// GetRanked returns a cached ranked list.
func (c *ResponseCache) GetRanked(ctx context.Context, key string) (*domain.RankedList, bool) {
	var out domain.RankedList
	if !c.get(ctx, key, &out) {
		return nil, false
	}
	return &out, true
}

// SetRanked caches a ranked list.
func (c *ResponseCache) SetRanked(ctx context.Context, key string, list *domain.RankedList) error {
	return c.set(ctx, key, list, c.config.RecommendTTL)
}

// GetComparison returns a cached comparison.
func (c *ResponseCache) GetComparison(ctx context.Context, key string) (*domain.Comparison, bool) {
	var out domain.Comparison
	if !c.get(ctx, key, &out) {
		return nil, false
	}
	return &out, true
}

// SetComparison caches a comparison. Fallback comparisons are not cached so
// a recovered generator gets another chance.
func (c *ResponseCache) SetComparison(ctx context.Context, key string, cmp *domain.Comparison) error {
	if !cmp.Generated {
		return nil
	}
	return c.set(ctx, key, cmp, c.config.ComparisonTTL)
}

// Invalidate drops every cached response.
func (c *ResponseCache) Invalidate(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	c.logger.Info().Str("prefix", c.config.KeyPrefix).Msg("Invalidating response cache")
	return c.client.DeleteByPrefix(ctx, c.config.KeyPrefix)
}

// Stats returns cache statistics.
func (c *ResponseCache) Stats() CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	stats := CacheStats{Enabled: c.enabled(), Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// CacheStats contains cache statistics.
type CacheStats struct {
	Enabled bool    `json:"enabled"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func (c *ResponseCache) enabled() bool {
	return c != nil && c.config.Enabled && c.client != nil
}

func (c *ResponseCache) get(ctx context.Context, key string, dst interface{}) bool {
	if !c.enabled() {
		return false
	}

	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Debug().Err(err).Str("key", key).Msg("Cache get error")
		}
		c.misses.Add(1)
		return false
	}

	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached response")
		c.misses.Add(1)
		return false
	}

	c.hits.Add(1)
	c.logger.Debug().Str("key", key).Msg("Cache hit")
	return true
}

func (c *ResponseCache) set(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	if !c.enabled() {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache response")
		return err
	}

	c.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("Cached response")
	return nil
}

func formatBound(b *float64) string {
	if b == nil {
		return "-"
	}
	return strconv.FormatFloat(*b, 'f', -1, 64)
}

func digest(parts []string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}
