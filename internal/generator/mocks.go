package generator

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

// MockTextGenerator is a testify mock of TextGenerator.
type MockTextGenerator struct {
	mock.Mock
}

// CompareProducts records the call and returns the configured result.
func (m *MockTextGenerator) CompareProducts(ctx context.Context, a, b domain.Product) (*ProsCons, error) {
	args := m.Called(ctx, a, b)
	out, _ := args.Get(0).(*ProsCons)
	return out, args.Error(1)
}

var _ TextGenerator = (*MockTextGenerator)(nil)
