package budget

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

type mockFinder struct {
	mock.Mock
}

func (m *mockFinder) FindCheaper(ctx context.Context, ref domain.Product) (domain.Product, bool, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(domain.Product), args.Bool(1), args.Error(2)
}

func cartOf(budget float64, items ...domain.CartItem) *domain.Cart {
	return &domain.Cart{SessionID: "s1", Budget: budget, Items: items}
}

func line(id string, price float64, qty int) domain.CartItem {
	return domain.CartItem{ProductID: id, ProductName: "Item " + id, Category: "Dairy", UnitPrice: price, Quantity: qty}
}

func TestClassify(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)

	tests := []struct {
		name     string
		total    float64
		budget   float64
		level    domain.BudgetLevel
		severity domain.Severity
	}{
		{"empty", 0, 50, domain.BudgetSafe, domain.SeverityNone},
		{"below low", 37, 50, domain.BudgetSafe, domain.SeverityNone},
		{"low boundary", 37.5, 50, domain.BudgetWarning, domain.SeverityLow},
		{"medium boundary", 42.5, 50, domain.BudgetWarning, domain.SeverityMedium},
		{"high boundary", 47.5, 50, domain.BudgetWarning, domain.SeverityHigh},
		{"exactly at budget", 50, 50, domain.BudgetWarning, domain.SeverityHigh},
		{"over", 50.01, 50, domain.BudgetOver, domain.SeverityCritical},
		{"one millime over", 10.004, 10, domain.BudgetOver, domain.SeverityCritical},
		{"millimes under high", 94.996, 100, domain.BudgetWarning, domain.SeverityMedium},
		{"summed float noise at budget", 3.1 + 3.1 + 3.1, 9.3, domain.BudgetWarning, domain.SeverityHigh},
		{"zero budget with items", 1, 0, domain.BudgetOver, domain.SeverityCritical},
		{"zero budget empty", 0, 0, domain.BudgetSafe, domain.SeverityNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, severity := e.Classify(tt.total, tt.budget)
			assert.Equal(t, tt.level, level)
			assert.Equal(t, tt.severity, severity)
		})
	}
}

func TestAnalyzeBudgetStatus_NearlyExhausted(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)

	status := e.AnalyzeBudgetStatus(cartOf(50, line("a", 48, 1)))
	assert.Equal(t, domain.BudgetWarning, status.Status)
	assert.Equal(t, domain.SeverityHigh, status.Severity)
	assert.Equal(t, 96.0, status.PercentageUsed)
	assert.Equal(t, 4.0, status.RemainingPercentage)
	assert.Equal(t, 2.0, status.Remaining)
	assert.Zero(t, status.Overspend)
	assert.Equal(t, 1, status.ItemCount)
	assert.Contains(t, status.Explanation, "96.0%")
	assert.Contains(t, status.Recommendations[0], "2.00 TND")
}

func TestAnalyzeBudgetStatus_EmptyAndOver(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)

	empty := e.AnalyzeBudgetStatus(cartOf(50))
	assert.Equal(t, domain.BudgetSafe, empty.Status)
	assert.Zero(t, empty.PercentageUsed)
	assert.Zero(t, empty.AverageItemPrice)
	assert.NotEmpty(t, empty.Explanation)

	over := e.AnalyzeBudgetStatus(cartOf(20, line("a", 10, 3)))
	assert.Equal(t, domain.BudgetOver, over.Status)
	assert.Equal(t, 10.0, over.Overspend)
	assert.Equal(t, -10.0, over.Remaining)
	assert.Equal(t, 30.0, over.AverageItemPrice)
	assert.Contains(t, over.Recommendations[0], "10.00 TND")
}

func TestAnalyzeBudgetStatus_Millimes(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)
	cart := cartOf(10, line("a", 2.501, 4))

	status := e.AnalyzeBudgetStatus(cart)
	assert.Equal(t, domain.BudgetOver, status.Status)
	assert.Equal(t, domain.SeverityCritical, status.Severity)
	assert.Equal(t, 10.004, status.Total)
	assert.Equal(t, 0.004, status.Overspend)
	assert.Equal(t, -0.004, status.Remaining)

	report := e.Optimize(context.Background(), cart, nil)
	assert.Equal(t, domain.BudgetOver, report.Status.Status)
	assert.True(t, report.NeedsOptimization)
	assert.NotEmpty(t, report.Suggestions)

	atBudget := e.AnalyzeBudgetStatus(cartOf(9.3, line("b", 3.1, 3)))
	assert.Equal(t, domain.BudgetWarning, atBudget.Status)
	assert.Zero(t, atBudget.Overspend)
}

func TestExplainItemImpact_CannotAdd(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)

	r := e.ExplainItemImpact(cartOf(50, line("a", 48, 1)), domain.Product{ID: "p", Name: "Cheese", Price: 5}, 1)
	assert.False(t, r.CanAdd)
	assert.True(t, r.WouldExceed)
	assert.Equal(t, 53.0, r.NewTotal)
	assert.Equal(t, 106.0, r.NewPercentage)
	assert.Equal(t, -3.0, r.NewRemaining)
	assert.Contains(t, r.Explanation, "3.00 TND over budget")
}

func TestExplainItemImpact_WarnAndSafe(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)
	cart := cartOf(100, line("a", 40, 1))

	warn := e.ExplainItemImpact(cart, domain.Product{ID: "p", Name: "Oil", Price: 25}, 2)
	assert.True(t, warn.CanAdd)
	assert.True(t, warn.WouldWarn)
	assert.Equal(t, 90.0, warn.NewPercentage)

	safe := e.ExplainItemImpact(cart, domain.Product{ID: "p", Name: "Oil", Price: 5}, 1)
	assert.True(t, safe.CanAdd)
	assert.False(t, safe.WouldWarn)
	assert.Equal(t, 55.0, safe.NewRemaining)

	exact := e.ExplainItemImpact(cart, domain.Product{ID: "p", Name: "Oil", Price: 60}, 1)
	assert.True(t, exact.CanAdd, "reaching the budget exactly is allowed")
}

func TestExplainItemImpact_Monotonic(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)
	cart := cartOf(50, line("a", 12.3, 2))
	p := domain.Product{ID: "p", Name: "Yogurt", Price: 0.45}

	prev := e.ExplainItemImpact(cart, p, 1).NewTotal
	for qty := 2; qty <= 50; qty++ {
		got := e.ExplainItemImpact(cart, p, qty).NewTotal
		assert.GreaterOrEqual(t, got, prev, "qty %d", qty)
		prev = got
	}
}

func TestOptimizationSuggestions_OverBudget(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)
	cart := cartOf(20, line("a", 10, 3))

	finder := &mockFinder{}
	finder.On("FindCheaper", mock.Anything, mock.MatchedBy(func(p domain.Product) bool { return p.ID == "a" })).
		Return(domain.Product{ID: "b", Name: "Budget milk", Price: 7}, true, nil)

	out := e.OptimizationSuggestions(context.Background(), cart, finder)
	require.Len(t, out, 3)

	assert.Equal(t, domain.StrategyRemove, out[0].Strategy)
	assert.Equal(t, 30.0, out[0].Savings)
	assert.Equal(t, domain.ConfidenceHigh, out[0].Confidence)
	assert.Zero(t, out[0].NewTotal)

	assert.Equal(t, domain.StrategyReduceQuantity, out[1].Strategy)
	assert.Equal(t, 2, out[1].NewQuantity)
	assert.Equal(t, 10.0, out[1].Savings)
	assert.Equal(t, 20.0, out[1].NewTotal)

	assert.Equal(t, domain.StrategyReplace, out[2].Strategy)
	assert.Equal(t, "b", out[2].ReplacementID)
	assert.Equal(t, 9.0, out[2].Savings)
	assert.Equal(t, domain.ConfidenceMedium, out[2].Confidence)

	finder.AssertExpectations(t)
}

func TestOptimizationSuggestions_NoReduceForSingleUnits(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)
	cart := cartOf(10, line("a", 8, 1), line("b", 4, 1))

	out := e.OptimizationSuggestions(context.Background(), cart, nil)
	require.Len(t, out, 1)
	assert.Equal(t, domain.StrategyRemove, out[0].Strategy)
	assert.Equal(t, "a", out[0].ProductID)
}

func TestOptimizationSuggestions_OnlyWhenNeeded(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)
	finder := &mockFinder{}

	out := e.OptimizationSuggestions(context.Background(), cartOf(50, line("a", 10, 4)), finder)
	assert.Empty(t, out, "80% is a low warning")
	finder.AssertNotCalled(t, "FindCheaper", mock.Anything, mock.Anything)

	out = e.OptimizationSuggestions(context.Background(), cartOf(50, line("a", 12, 4)), nil)
	assert.NotEmpty(t, out, "96% is a high warning")
}

func TestOptimizationSuggestions_FinderErrorsAreSkipped(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)
	finder := &mockFinder{}
	finder.On("FindCheaper", mock.Anything, mock.Anything).
		Return(domain.Product{}, false, errors.New("index down"))

	out := e.OptimizationSuggestions(context.Background(), cartOf(5, line("a", 3, 2)), finder)
	for _, s := range out {
		assert.NotEqual(t, domain.StrategyReplace, s.Strategy)
	}
	assert.Len(t, out, 2)
}

func TestOptimizationSuggestions_IgnoresNonCheaperMatches(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)
	finder := CheaperFinderFunc(func(_ context.Context, ref domain.Product) (domain.Product, bool, error) {
		return domain.Product{ID: "same-price", Price: ref.Price}, true, nil
	})

	out := e.OptimizationSuggestions(context.Background(), cartOf(5, line("a", 6, 1)), finder)
	require.Len(t, out, 1)
	assert.Equal(t, domain.StrategyRemove, out[0].Strategy)
}

func TestOptimizationSuggestions_SafetyAndCap(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)
	finder := CheaperFinderFunc(func(_ context.Context, ref domain.Product) (domain.Product, bool, error) {
		return domain.Product{ID: ref.ID + "-cheap", Name: "cheap", Price: ref.Price / 2}, true, nil
	})
	cart := cartOf(30,
		line("a", 9.99, 3), line("b", 4.5, 2), line("c", 12, 1), line("d", 0.75, 6), line("e", 2, 5),
	)

	out := e.OptimizationSuggestions(context.Background(), cart, finder)
	require.Len(t, out, 5)
	for i, s := range out {
		assert.GreaterOrEqual(t, s.NewTotal, 0.0)
		assert.Greater(t, s.Savings, 0.0)
		if s.Strategy == domain.StrategyReduceQuantity {
			assert.GreaterOrEqual(t, s.NewQuantity, 1)
		}
		if i > 0 {
			assert.GreaterOrEqual(t, out[i-1].Savings, s.Savings)
		}
	}
}

func TestOptimize_NeedsOptimization(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)

	report := e.Optimize(context.Background(), cartOf(50, line("a", 43, 1)), nil)
	assert.True(t, report.NeedsOptimization, "86% needs attention")
	assert.Empty(t, report.Suggestions)

	report = e.Optimize(context.Background(), cartOf(20, line("a", 10, 3)), nil)
	assert.True(t, report.NeedsOptimization)
	assert.Equal(t, 30.0, report.PotentialSavings)

	report = e.Optimize(context.Background(), cartOf(100, line("a", 10, 1)), nil)
	assert.False(t, report.NeedsOptimization)
}

func TestShoppingSummary(t *testing.T) {
	e := NewExplainer(DefaultConfig(), nil)

	empty := e.ShoppingSummary(cartOf(10))
	assert.Zero(t, empty.ItemCount)
	assert.Nil(t, empty.MostExpensive)

	a := line("a", 10, 2)
	a.Market = "mytek"
	b := line("b", 3, 1)
	b.Market = "jumia"
	c := line("c", 1.5, 4)

	s := e.ShoppingSummary(cartOf(100, a, b, c))
	assert.Equal(t, 3, s.ItemCount)
	assert.Equal(t, 7, s.TotalQuantity)
	assert.Equal(t, 29.0, s.Total)
	assert.InDelta(t, 9.67, s.AverageItemPrice, 1e-9)
	assert.Equal(t, "a", s.MostExpensive.ProductID)
	assert.Equal(t, "b", s.Cheapest.ProductID)
	assert.Equal(t, map[string]float64{"mytek": 20, "jumia": 3, "unknown": 6}, s.ByMarket)
}
