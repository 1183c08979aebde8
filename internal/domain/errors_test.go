package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_IsMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("recommend: %w", EmbeddingUnavailableError("provider timeout", errors.New("deadline exceeded")))

	assert.True(t, errors.Is(err, ErrEmbeddingUnavailable))
	assert.False(t, errors.Is(err, ErrIndexUnavailable))
	assert.False(t, errors.Is(err, ErrValidation))

	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.True(t, de.Retryable())
}

func TestDomainError_NotFoundNamesID(t *testing.T) {
	err := ProductNotFoundError("sku-42")
	assert.True(t, errors.Is(err, ErrProductNotFound))
	assert.Contains(t, err.Error(), "sku-42")
	assert.False(t, err.Retryable())

	cartErr := CartNotFoundError("sess-1")
	assert.True(t, errors.Is(cartErr, ErrCartNotFound))
	assert.False(t, errors.Is(cartErr, ErrProductNotFound))
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"embedding", EmbeddingUnavailableError("dial tcp 10.0.0.3:443", nil), "search temporarily unavailable"},
		{"index", IndexUnavailableError("pq: connection refused", nil), "search temporarily unavailable"},
		{"validation", ValidationError("limit must be positive", nil), "limit must be positive"},
		{"plain", errors.New("boom"), "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestQuery_Validate(t *testing.T) {
	lo, hi := 100.0, 50.0
	err := Query{MinPrice: &lo, MaxPrice: &hi}.Validate()
	assert.True(t, errors.Is(err, ErrValidation))

	neg := -1.0
	assert.Error(t, Query{MinPrice: &neg}.Validate())
	assert.Error(t, Query{SortMode: "cheapest"}.Validate())
	assert.NoError(t, Query{FreeText: "laptop", SortMode: SortPriceAsc}.Validate())
}

func TestQuery_InWindow(t *testing.T) {
	lo, hi := 10.0, 20.0
	q := Query{MinPrice: &lo, MaxPrice: &hi}

	assert.True(t, q.InWindow(10))
	assert.True(t, q.InWindow(20))
	assert.False(t, q.InWindow(9.99))
	assert.False(t, q.InWindow(20.01))
	assert.True(t, Query{}.InWindow(1e9))
}

func TestCart_TotalAndClone(t *testing.T) {
	c := &Cart{Items: []CartItem{
		{ProductID: "a", UnitPrice: 10.5, Quantity: 2},
		{ProductID: "b", UnitPrice: 3, Quantity: 1},
	}}
	assert.InDelta(t, 24.0, c.Total(), 1e-9)
	assert.Equal(t, 3, c.TotalQuantity())
	assert.Equal(t, 1, c.IndexOf("b"))
	assert.Equal(t, -1, c.IndexOf("z"))

	clone := c.Clone()
	clone.Items[0].Quantity = 9
	assert.Equal(t, 2, c.Items[0].Quantity)
}

func TestTypeOf(t *testing.T) {
	wrapped := fmt.Errorf("add: %w", CartNotFoundError("s1"))
	assert.Equal(t, ErrorTypeCartNotFound, TypeOf(wrapped))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
	assert.True(t, errors.Is(NewError(TypeOf(wrapped), "cart gone", nil), ErrCartNotFound))
}
