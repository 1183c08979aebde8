package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// MockClient is a deterministic offline embedder. Each token is hashed into a
// bucket, so texts sharing words land close together.
type MockClient struct {
	dimension int
}

// NewMockClient creates a mock client with the given dimension.
func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = 768
	}
	return &MockClient{dimension: dimension}
}

// Embed generates hashed bag-of-words embeddings.
func (c *MockClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, c.dimension)
		for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		}) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			sum := h.Sum32()
			sign := float32(1)
			if sum&1 == 1 {
				sign = -1
			}
			v[int(sum>>1)%c.dimension] += sign
		}
		embeddings[i] = Normalize(v)
	}
	return embeddings, nil
}

// Model returns the mock model name.
func (c *MockClient) Model() string {
	return "mock-embedding-model"
}

// Dimension returns the embedding dimension.
func (c *MockClient) Dimension() int {
	return c.dimension
}

// Normalize scales v to unit length in place. Zero vectors are returned as-is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * norm)
	}
	return v
}
