package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Embed_SortsByIndexAndRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var req EmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input)

		_ = json.NewEncoder(w).Encode(EmbeddingResponse{Data: []EmbeddingData{
			{Index: 1, Embedding: []float32{0, 1}},
			{Index: 0, Embedding: []float32{1, 0}},
		}})
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "secret", BaseURL: srv.URL, Dimension: 2, MaxRetries: 2})
	require.NoError(t, err)

	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_Embed_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
