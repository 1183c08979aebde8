package cart

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/budget"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

type catalog map[string]domain.Product

func (c catalog) Product(_ context.Context, id string) (domain.Product, error) {
	p, ok := c[id]
	if !ok {
		return domain.Product{}, domain.ProductNotFoundError(id)
	}
	return p, nil
}

func testCatalog() catalog {
	return catalog{
		"milk":   {ID: "milk", Name: "Milk 1L", Category: "Dairy", Price: 3.5, Market: "carrefour"},
		"cheese": {ID: "cheese", Name: "Cheese", Category: "Dairy", Price: 10, Market: "monoprix"},
		"bread":  {ID: "bread", Name: "Bread", Category: "Bakery", Price: 0.25},
	}
}

func newTestService(finder budget.CheaperFinder) *Service {
	return NewService(nil, NewMemoryStore(time.Hour), testCatalog(), budget.NewExplainer(budget.DefaultConfig(), nil), finder)
}

func TestService_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestService(nil)

	created, err := s.Create(ctx, "", 50)
	require.NoError(t, err)
	assert.NotEmpty(t, created.Cart.SessionID)
	assert.Equal(t, domain.BudgetSafe, created.Status.Status)

	got, err := s.Get(ctx, created.Cart.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, got.Cart.Budget)
	assert.Empty(t, got.Cart.Items)

	_, err = s.Create(ctx, "s", -1)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	_, err = s.Create(ctx, "s", math.NaN())
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrCartNotFound))
}

func TestService_AddMergesAndReportsImpact(t *testing.T) {
	ctx := context.Background()
	s := newTestService(nil)
	_, err := s.Create(ctx, "s1", 20)
	require.NoError(t, err)

	res, err := s.Add(ctx, "s1", "milk", 2)
	require.NoError(t, err)
	assert.True(t, res.Impact.CanAdd)
	assert.Equal(t, 7.0, res.Impact.NewTotal)

	res, err = s.Add(ctx, "s1", "milk", 1)
	require.NoError(t, err)
	require.Len(t, res.Cart.Items, 1)
	assert.Equal(t, 3, res.Cart.Items[0].Quantity)
	assert.Equal(t, 10.5, res.Status.Total)

	res, err = s.Add(ctx, "s1", "cheese", 1)
	require.NoError(t, err)
	assert.False(t, res.Impact.CanAdd, "20.50 exceeds 20")
	assert.Equal(t, domain.BudgetOver, res.Status.Status)
	assert.Len(t, res.Cart.Items, 2, "over-budget adds still happen")
}

func TestService_AddRejects(t *testing.T) {
	ctx := context.Background()
	s := newTestService(nil)
	_, err := s.Create(ctx, "s1", 20)
	require.NoError(t, err)

	_, err = s.Add(ctx, "s1", "milk", 0)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = s.Add(ctx, "s1", "caviar", 1)
	assert.True(t, errors.Is(err, domain.ErrProductNotFound))

	_, err = s.Add(ctx, "nobody", "milk", 1)
	assert.True(t, errors.Is(err, domain.ErrCartNotFound))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got.Cart.Items)
}

func TestService_QuantityOperations(t *testing.T) {
	ctx := context.Background()
	s := newTestService(nil)
	_, err := s.Create(ctx, "s1", 100)
	require.NoError(t, err)
	_, err = s.Add(ctx, "s1", "milk", 1)
	require.NoError(t, err)
	_, err = s.Add(ctx, "s1", "bread", 4)
	require.NoError(t, err)

	res, err := s.SetQuantity(ctx, "s1", "milk", 5)
	require.NoError(t, err)
	assert.Equal(t, 18.5, res.Status.Total)

	res, err = s.Decrease(ctx, "s1", "bread", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cart.Items[1].Quantity)

	res, err = s.Decrease(ctx, "s1", "bread", 1)
	require.NoError(t, err)
	assert.Len(t, res.Cart.Items, 1)

	_, err = s.Decrease(ctx, "s1", "bread", 1)
	assert.True(t, errors.Is(err, domain.ErrProductNotFound))
	_, err = s.Decrease(ctx, "s1", "milk", 0)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	res, err = s.SetQuantity(ctx, "s1", "milk", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Cart.Items)
	assert.Zero(t, res.Status.Total)

	_, err = s.SetQuantity(ctx, "s1", "milk", 2)
	assert.True(t, errors.Is(err, domain.ErrProductNotFound))
}

func TestService_RemoveClearAndBudget(t *testing.T) {
	ctx := context.Background()
	s := newTestService(nil)
	_, err := s.Create(ctx, "s1", 10)
	require.NoError(t, err)
	_, err = s.Add(ctx, "s1", "milk", 1)
	require.NoError(t, err)
	_, err = s.Add(ctx, "s1", "cheese", 1)
	require.NoError(t, err)

	res, err := s.Remove(ctx, "s1", "cheese")
	require.NoError(t, err)
	assert.Equal(t, "milk", res.Cart.Items[0].ProductID)

	_, err = s.Remove(ctx, "s1", "cheese")
	assert.NoError(t, err)

	res, err = s.SetBudget(ctx, "s1", 3)
	require.NoError(t, err)
	assert.Equal(t, domain.BudgetOver, res.Status.Status)

	res, err = s.Clear(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, res.Cart.Items)
	assert.Equal(t, 3.0, res.Cart.Budget)

	require.NoError(t, s.Delete(ctx, "s1"))
	_, err = s.Get(ctx, "s1")
	assert.True(t, errors.Is(err, domain.ErrCartNotFound))
}

func TestService_TotalMatchesLines(t *testing.T) {
	ctx := context.Background()
	s := newTestService(nil)
	_, err := s.Create(ctx, "s1", 1000)
	require.NoError(t, err)

	ops := []func() (*Result, error){
		func() (*Result, error) { r, err := s.Add(ctx, "s1", "milk", 3); return resultOf(r), err },
		func() (*Result, error) { r, err := s.Add(ctx, "s1", "bread", 7); return resultOf(r), err },
		func() (*Result, error) { return s.Decrease(ctx, "s1", "milk", 1) },
		func() (*Result, error) { r, err := s.Add(ctx, "s1", "cheese", 2); return resultOf(r), err },
		func() (*Result, error) { return s.Remove(ctx, "s1", "bread") },
		func() (*Result, error) { return s.SetQuantity(ctx, "s1", "cheese", 9) },
		func() (*Result, error) { r, err := s.Add(ctx, "s1", "bread", 1); return resultOf(r), err },
	}
	for i, op := range ops {
		res, err := op()
		require.NoError(t, err, "op %d", i)

		var want float64
		for _, item := range res.Cart.Items {
			want += item.UnitPrice * float64(item.Quantity)
		}
		assert.InDelta(t, want, res.Status.Total, 0.005, "op %d", i)
	}
}

func TestService_ConcurrentAddsSameSession(t *testing.T) {
	ctx := context.Background()
	s := newTestService(nil)
	_, err := s.Create(ctx, "s1", 1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Add(ctx, "s1", "bread", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Cart.Items, 1)
	assert.Equal(t, 50, got.Cart.Items[0].Quantity)
	assert.Zero(t, s.locks.active(), "session locks are released")
}

func TestService_Optimize(t *testing.T) {
	ctx := context.Background()
	finder := budget.CheaperFinderFunc(func(_ context.Context, ref domain.Product) (domain.Product, bool, error) {
		if ref.ID == "cheese" {
			return domain.Product{ID: "cheese-basic", Name: "Basic cheese", Category: "Dairy", Price: 7}, true, nil
		}
		return domain.Product{}, false, nil
	})
	s := newTestService(finder)
	_, err := s.Create(ctx, "s1", 20)
	require.NoError(t, err)
	_, err = s.Add(ctx, "s1", "cheese", 3)
	require.NoError(t, err)

	report, err := s.Optimize(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, report.NeedsOptimization)
	require.Len(t, report.Suggestions, 3)

	var reduce *domain.Alternative
	for i := range report.Suggestions {
		if report.Suggestions[i].Strategy == domain.StrategyReduceQuantity {
			reduce = &report.Suggestions[i]
		}
	}
	require.NotNil(t, reduce)
	assert.Equal(t, 2, reduce.NewQuantity)
	assert.Equal(t, 10.0, reduce.Savings)

	summary, err := s.Summary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalQuantity)
	assert.Equal(t, map[string]float64{"monoprix": 30}, summary.ByMarket)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, &domain.Cart{SessionID: "s1", Budget: 5}))
	c, err := store.Get(ctx, "s1")
	require.NoError(t, err)

	c.Budget = 99
	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, again.Budget, "callers get copies")

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, "s1")
	assert.True(t, errors.Is(err, domain.ErrCartNotFound))
}

func resultOf(r *AddResult) *Result {
	if r == nil {
		return nil
	}
	return &r.Result
}
