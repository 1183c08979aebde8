//go:build integration

package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

// containerConfig starts postgres with pgvector and redis, and returns a
// config that puts the catalog, index, cache and carts on them.
func containerConfig(t *testing.T) *config.Config {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg17",
		postgres.WithDatabase("shop_engine_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	redisContainer, err := redis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	})

	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Database.Driver = "postgres"
	cfg.Database.Postgres.DSN = dsn
	cfg.Index.Backend = "pgvector"
	cfg.Cache.Driver = "redis"
	cfg.Cache.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort.Port())
	cfg.Cart.Store = "redis"
	cfg.Embedding.Dimension = 64
	cfg.Embedding.RateLimit = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestIntegration_PostgresPGVectorRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	cfg := containerConfig(t)

	e, err := New(ctx, cfg, nil)
	require.NoError(t, err)

	report, err := e.IngestCSV(ctx, "catalog.csv", strings.NewReader(catalogCSV))
	require.NoError(t, err)
	require.Equal(t, 5, report.Accepted)

	maxPrice := 5.0
	list, err := e.Recommend(ctx, domain.Query{FreeText: "milk", Category: "dairy", MaxPrice: &maxPrice}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, list.Items)
	assert.Equal(t, "Milk 1L", list.Items[0].Product.Name)

	// Served from the redis response cache the second time.
	_, err = e.Recommend(ctx, domain.Query{FreeText: "milk", Category: "dairy", MaxPrice: &maxPrice}, 5)
	require.NoError(t, err)
	assert.Positive(t, e.Health(ctx).Cache.Hits)

	cheese := productID(t, e, "Cheese 200g")
	created, err := e.CartCreate(ctx, "it-session", 30)
	require.NoError(t, err)
	_, err = e.CartAdd(ctx, created.Cart.SessionID, cheese, 3)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// A restarted engine rebuilds the index from postgres and finds the cart
	// in redis.
	restarted, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = restarted.Close() })

	n, err := restarted.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, restarted.Health(ctx).Products)

	got, err := restarted.CartGet(ctx, "it-session")
	require.NoError(t, err)
	require.Len(t, got.Cart.Items, 1)
	assert.Equal(t, 3, got.Cart.Items[0].Quantity)
	assert.Equal(t, domain.BudgetOver, got.Status.Status)

	report2, err := restarted.CartOptimize(ctx, "it-session")
	require.NoError(t, err)
	assert.True(t, report2.NeedsOptimization)
}
