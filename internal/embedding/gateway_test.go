package embedding

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

// flakyEmbedder fails any call whose input contains a text with the poison marker.
type flakyEmbedder struct {
	*MockClient
	calls atomic.Int32
	mu    sync.Mutex
	sizes []int
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.sizes = append(f.sizes, len(texts))
	f.mu.Unlock()
	for _, t := range texts {
		if strings.Contains(t, "poison") {
			return nil, errors.New("upstream 502")
		}
	}
	return f.MockClient.Embed(ctx, texts)
}

type wrongDimEmbedder struct{ *MockClient }

func (w wrongDimEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

type slowEmbedder struct{ *MockClient }

func (s slowEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Second):
		return s.MockClient.Embed(ctx, texts)
	}
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestGateway_EmbedBatch_OrderAndBlanks(t *testing.T) {
	provider := &flakyEmbedder{MockClient: NewMockClient(16)}
	gw := NewGateway(provider, GatewayConfig{BatchSize: 2, Concurrency: 3}, nil)

	texts := []string{"red shoes", "", "blue shirt", "   ", "red shoes"}
	vecs, err := gw.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	assert.Equal(t, make([]float32, 16), vecs[1])
	assert.Equal(t, make([]float32, 16), vecs[3])
	assert.Equal(t, vecs[0], vecs[4])
	assert.InDelta(t, 1.0, norm(vecs[0]), 1e-5)
	assert.NotEqual(t, vecs[0], vecs[2])

	// 3 non-blank texts with batch size 2 means two provider calls.
	assert.Equal(t, int32(2), provider.calls.Load())
}

func TestGateway_EmbedBatch_AllBlankSkipsProvider(t *testing.T) {
	provider := &flakyEmbedder{MockClient: NewMockClient(8)}
	gw := NewGateway(provider, GatewayConfig{}, nil)

	vec, err := gw.EmbedOne(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Zero(t, provider.calls.Load())
}

func TestGateway_EmbedBatch_ProviderFailure(t *testing.T) {
	gw := NewGateway(&flakyEmbedder{MockClient: NewMockClient(8)}, GatewayConfig{BatchSize: 10}, nil)

	_, err := gw.EmbedBatch(context.Background(), []string{"ok", "poison pill"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmbeddingUnavailable))

	var de *domain.DomainError
	require.True(t, errors.As(err, &de))
	assert.True(t, de.Retryable())
}

func TestGateway_EmbedBatch_Timeout(t *testing.T) {
	gw := NewGateway(slowEmbedder{NewMockClient(8)}, GatewayConfig{Timeout: 20 * time.Millisecond}, nil)

	_, err := gw.EmbedOne(context.Background(), "laptop")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmbeddingUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestGateway_DimensionMismatchIsConfigError(t *testing.T) {
	gw := NewGateway(wrongDimEmbedder{NewMockClient(8)}, GatewayConfig{}, nil)

	_, err := gw.EmbedOne(context.Background(), "laptop")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
	assert.True(t, errors.Is(err, domain.ErrDimensionMismatch))
	assert.False(t, errors.Is(err, domain.ErrEmbeddingUnavailable))
}

func TestGateway_EmbedEach_IsolatesFailures(t *testing.T) {
	provider := &flakyEmbedder{MockClient: NewMockClient(8)}
	gw := NewGateway(provider, GatewayConfig{BatchSize: 4}, nil)

	texts := []string{"phone", "poison case", "charger", ""}
	vecs, errs := gw.EmbedEach(context.Background(), texts)

	require.Len(t, errs, len(texts))
	assert.NoError(t, errs[0])
	assert.Error(t, errs[1])
	assert.True(t, errors.Is(errs[1], domain.ErrEmbeddingUnavailable))
	assert.NoError(t, errs[2])
	assert.NoError(t, errs[3])

	assert.NotNil(t, vecs[0])
	assert.Nil(t, vecs[1])
	assert.NotNil(t, vecs[2])
	assert.Len(t, vecs[3], 8)
}

func TestGateway_EmbedEach_AllOK(t *testing.T) {
	gw := NewGateway(NewMockClient(8), GatewayConfig{BatchSize: 1, Concurrency: 4}, nil)

	vecs, errs := gw.EmbedEach(context.Background(), []string{"a", "b", "c"})
	assert.Nil(t, errs)
	assert.Len(t, vecs, 3)
}

func TestMockClient_Deterministic(t *testing.T) {
	m := NewMockClient(32)
	a, err := m.Embed(context.Background(), []string{"Gaming Laptop 16GB"})
	require.NoError(t, err)
	b, err := m.Embed(context.Background(), []string{"gaming laptop 16gb"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
