// Package budget classifies carts against their budget and explains the
// effect of cart changes in plain language.
package budget

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
)

// Thresholds are the percentage-used boundaries of the warning severities.
type Thresholds struct {
	Low    float64
	Medium float64
	High   float64
}

// Config configures the explainer.
type Config struct {
	Thresholds     Thresholds
	Currency       string
	MaxSuggestions int
}

// DefaultConfig returns thresholds 75/85/95, TND and five suggestions.
func DefaultConfig() Config {
	return Config{
		Thresholds:     Thresholds{Low: 75, Medium: 85, High: 95},
		Currency:       "TND",
		MaxSuggestions: 5,
	}
}

// CheaperFinder looks up a strictly cheaper product comparable to ref.
type CheaperFinder interface {
	FindCheaper(ctx context.Context, ref domain.Product) (domain.Product, bool, error)
}

// CheaperFinderFunc adapts a function to CheaperFinder.
type CheaperFinderFunc func(ctx context.Context, ref domain.Product) (domain.Product, bool, error)

// FindCheaper calls f.
func (f CheaperFinderFunc) FindCheaper(ctx context.Context, ref domain.Product) (domain.Product, bool, error) {
	return f(ctx, ref)
}

// Explainer produces budget statuses, impact reports and optimization
// suggestions. It holds no cart state and is safe for concurrent use.
type Explainer struct {
	config Config
	logger *observability.Logger
}

// NewExplainer creates an explainer. Zero config fields take defaults.
func NewExplainer(cfg Config, logger *observability.Logger) *Explainer {
	def := DefaultConfig()
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = def.MaxSuggestions
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Explainer{config: cfg, logger: logger}
}

// Config returns the explainer's configuration.
func (e *Explainer) Config() Config {
	return e.config
}

// percentUsed is total/budget*100, rounded to 1e-6 so that values like
// 42.5/50 classify exactly on their threshold. A non-positive budget
// reports 0.
func percentUsed(total, budget float64) float64 {
	if budget <= 0 {
		return 0
	}
	return math.Round(total/budget*100*1e6) / 1e6
}

// Classify maps a total and budget to a status and severity. It works on
// the unrounded total: a cart one millime over budget is over.
func (e *Explainer) Classify(total, budget float64) (domain.BudgetLevel, domain.Severity) {
	pct := percentUsed(total, budget)
	t := e.config.Thresholds
	switch {
	case total-budget > moneyEpsilon:
		return domain.BudgetOver, domain.SeverityCritical
	case pct >= t.High:
		return domain.BudgetWarning, domain.SeverityHigh
	case pct >= t.Medium:
		return domain.BudgetWarning, domain.SeverityMedium
	case pct >= t.Low:
		return domain.BudgetWarning, domain.SeverityLow
	default:
		return domain.BudgetSafe, domain.SeverityNone
	}
}

// AnalyzeBudgetStatus classifies the cart and explains where it stands.
func (e *Explainer) AnalyzeBudgetStatus(cart *domain.Cart) domain.BudgetStatus {
	total := cart.Total()
	pct := percentUsed(total, cart.Budget)
	level, severity := e.Classify(total, cart.Budget)

	status := domain.BudgetStatus{
		Status:              level,
		Severity:            severity,
		PercentageUsed:      round1(pct),
		RemainingPercentage: round1(100 - pct),
		Total:               roundMoney(total),
		Budget:              cart.Budget,
		Remaining:           roundMoney(cart.Budget - total),
		Overspend:           roundMoney(math.Max(0, total-cart.Budget)),
		ItemCount:           len(cart.Items),
	}
	if len(cart.Items) > 0 {
		status.AverageItemPrice = round2(total / float64(len(cart.Items)))
	}
	status.Explanation = e.statusExplanation(status)
	status.Recommendations = e.statusRecommendations(status)
	return status
}

func (e *Explainer) statusExplanation(s domain.BudgetStatus) string {
	cur := e.config.Currency
	switch s.Severity {
	case domain.SeverityCritical:
		return fmt.Sprintf("Budget exceeded: you are %.2f %s over your budget. Your cart total is %.2f %s but your budget is %.2f %s. Remove items or pick cheaper alternatives to get back within budget.",
			s.Overspend, cur, s.Total, cur, s.Budget, cur)
	case domain.SeverityHigh:
		return fmt.Sprintf("Almost over budget: you have used %.1f%% of your budget (%.2f %s out of %.2f %s). Only %.2f %s is left.",
			s.PercentageUsed, s.Total, cur, s.Budget, cur, s.Remaining, cur)
	case domain.SeverityMedium:
		return fmt.Sprintf("Approaching your budget limit: you have spent %.1f%% of your budget. %.2f %s remains out of %.2f %s.",
			s.PercentageUsed, s.Remaining, cur, s.Budget, cur)
	case domain.SeverityLow:
		return fmt.Sprintf("Budget alert: you have used %.1f%% of your budget and have %.2f %s left to spend.",
			s.PercentageUsed, s.Remaining, cur)
	default:
		return fmt.Sprintf("Within budget: you have used %.1f%% of your budget. %.2f %s remains out of %.2f %s.",
			s.PercentageUsed, s.Remaining, cur, s.Budget, cur)
	}
}

func (e *Explainer) statusRecommendations(s domain.BudgetStatus) []string {
	cur := e.config.Currency
	switch s.Severity {
	case domain.SeverityCritical:
		return []string{
			fmt.Sprintf("Remove items worth at least %.2f %s", s.Overspend, cur),
			"Look for cheaper alternatives to your most expensive items",
			"Compare prices across markets",
			"Reduce quantities of non-essential items",
		}
	case domain.SeverityHigh:
		return []string{
			fmt.Sprintf("You can only add items worth up to %.2f %s", s.Remaining, cur),
			"Avoid adding expensive items",
			"Review your cart for non-essentials",
		}
	case domain.SeverityMedium:
		return []string{
			fmt.Sprintf("You have %.2f %s left for additional items", s.Remaining, cur),
			"Compare prices before adding more",
		}
	case domain.SeverityLow:
		return []string{
			fmt.Sprintf("You have %.2f %s remaining", s.Remaining, cur),
			"You are on track",
		}
	default:
		return []string{
			fmt.Sprintf("You can still add items worth up to %.2f %s", s.Remaining, cur),
		}
	}
}

// ExplainItemImpact describes what adding quantity units of product would do
// to the cart. The cart is not modified.
func (e *Explainer) ExplainItemImpact(cart *domain.Cart, product domain.Product, quantity int) domain.ImpactReport {
	cur := e.config.Currency
	itemCost := product.Price * float64(quantity)
	newTotal := cart.Total() + itemCost
	newPct := percentUsed(newTotal, cart.Budget)

	r := domain.ImpactReport{
		ProductID:     product.ID,
		ItemCost:      roundMoney(itemCost),
		NewTotal:      roundMoney(newTotal),
		NewRemaining:  roundMoney(cart.Budget - newTotal),
		NewPercentage: round1(newPct),
		WouldExceed:   newTotal-cart.Budget > moneyEpsilon,
		WouldWarn:     newPct >= e.config.Thresholds.Medium,
	}
	r.CanAdd = !r.WouldExceed

	switch {
	case r.WouldExceed:
		over := roundMoney(newTotal - cart.Budget)
		r.Explanation = fmt.Sprintf("Adding %dx %s (%.2f %s) would put you %.2f %s over budget. Your total would be %.2f %s against a budget of %.2f %s.",
			quantity, product.Name, r.ItemCost, cur, over, cur, r.NewTotal, cur, cart.Budget, cur)
		r.Suggestion = fmt.Sprintf("Remove %.2f %s worth of items first, or choose a cheaper alternative.", over, cur)
	case r.WouldWarn:
		r.Explanation = fmt.Sprintf("Adding %dx %s (%.2f %s) would use %.1f%% of your budget, leaving %.2f %s.",
			quantity, product.Name, r.ItemCost, cur, r.NewPercentage, r.NewRemaining, cur)
		r.Suggestion = "Consider whether this item is essential before adding it."
	default:
		r.Explanation = fmt.Sprintf("Adding %dx %s (%.2f %s) would use %.1f%% of your budget, leaving %.2f %s.",
			quantity, product.Name, r.ItemCost, cur, r.NewPercentage, r.NewRemaining, cur)
		r.Suggestion = "This item fits comfortably within your budget."
	}
	return r
}

// OptimizationSuggestions proposes ways to bring an over-budget or nearly
// exhausted cart back under control. Carts in any other state get none.
// finder may be nil, in which case no replacements are proposed.
func (e *Explainer) OptimizationSuggestions(ctx context.Context, cart *domain.Cart, finder CheaperFinder) []domain.Alternative {
	total := cart.Total()
	level, severity := e.Classify(total, cart.Budget)
	if level != domain.BudgetOver && severity != domain.SeverityHigh {
		return []domain.Alternative{}
	}
	if len(cart.Items) == 0 {
		return []domain.Alternative{}
	}

	cur := e.config.Currency
	lines := append([]domain.CartItem(nil), cart.Items...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].LineTotal() > lines[j].LineTotal() })

	var out []domain.Alternative
	add := func(a domain.Alternative) {
		a.Savings = roundMoney(a.Savings)
		a.NewTotal = roundMoney(math.Max(0, total-a.Savings))
		out = append(out, a)
	}

	top := lines[0]
	add(domain.Alternative{
		Strategy:    domain.StrategyRemove,
		ProductID:   top.ProductID,
		ProductName: top.ProductName,
		Savings:     top.LineTotal(),
		Confidence:  domain.ConfidenceHigh,
		Explanation: fmt.Sprintf("Remove %s (%.2f %s), your most expensive item.", top.ProductName, top.LineTotal(), cur),
	})

	if finder != nil {
		for _, line := range lines[:min(3, len(lines))] {
			alt, ok, err := finder.FindCheaper(ctx, productOf(line))
			if err != nil {
				e.logger.Warn().Err(err).Product(line.ProductID).Msg("Cheaper alternative lookup failed")
				continue
			}
			if !ok || alt.ID == line.ProductID || alt.Price >= line.UnitPrice {
				continue
			}
			savings := (line.UnitPrice - alt.Price) * float64(line.Quantity)
			add(domain.Alternative{
				Strategy:        domain.StrategyReplace,
				ProductID:       line.ProductID,
				ProductName:     line.ProductName,
				ReplacementID:   alt.ID,
				ReplacementName: alt.Name,
				Savings:         savings,
				Confidence:      domain.ConfidenceMedium,
				Explanation: fmt.Sprintf("Replace %s (%.2f %s) with %s (%.2f %s) to save %.2f %s.",
					line.ProductName, line.UnitPrice, cur, alt.Name, alt.Price, cur, roundMoney(savings), cur),
			})
		}
	}

	for _, line := range lines[:min(2, len(lines))] {
		if line.Quantity <= 1 {
			continue
		}
		add(domain.Alternative{
			Strategy:    domain.StrategyReduceQuantity,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			NewQuantity: line.Quantity - 1,
			Savings:     line.UnitPrice,
			Confidence:  domain.ConfidenceMedium,
			Explanation: fmt.Sprintf("Reduce %s from %d to %d to save %.2f %s.",
				line.ProductName, line.Quantity, line.Quantity-1, line.UnitPrice, cur),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Savings > out[j].Savings })
	if len(out) > e.config.MaxSuggestions {
		out = out[:e.config.MaxSuggestions]
	}
	return out
}

// Optimize bundles the cart status with its optimization suggestions.
func (e *Explainer) Optimize(ctx context.Context, cart *domain.Cart, finder CheaperFinder) domain.OptimizationReport {
	status := e.AnalyzeBudgetStatus(cart)
	suggestions := e.OptimizationSuggestions(ctx, cart, finder)

	// Suggestions are alternatives, so the best single one bounds the savings.
	var best float64
	for _, s := range suggestions {
		best = math.Max(best, s.Savings)
	}
	return domain.OptimizationReport{
		Status:            status,
		NeedsOptimization: status.Status == domain.BudgetOver || percentUsed(cart.Total(), cart.Budget) >= e.config.Thresholds.Medium,
		Suggestions:       suggestions,
		PotentialSavings:  best,
	}
}

// ShoppingSummary describes the cart's composition.
func (e *Explainer) ShoppingSummary(cart *domain.Cart) domain.ShoppingSummary {
	summary := domain.ShoppingSummary{
		ItemCount:     len(cart.Items),
		TotalQuantity: cart.TotalQuantity(),
		Total:         roundMoney(cart.Total()),
		Status:        e.AnalyzeBudgetStatus(cart),
	}
	if len(cart.Items) == 0 {
		return summary
	}

	summary.AverageItemPrice = round2(summary.Total / float64(len(cart.Items)))
	most := lo.MaxBy(cart.Items, func(a, b domain.CartItem) bool { return a.LineTotal() > b.LineTotal() })
	cheapest := lo.MinBy(cart.Items, func(a, b domain.CartItem) bool { return a.LineTotal() < b.LineTotal() })
	summary.MostExpensive = &most
	summary.Cheapest = &cheapest

	byMarket := lo.GroupBy(cart.Items, func(item domain.CartItem) string {
		if item.Market == "" {
			return "unknown"
		}
		return item.Market
	})
	summary.ByMarket = lo.MapValues(byMarket, func(items []domain.CartItem, _ string) float64 {
		return roundMoney(lo.SumBy(items, func(item domain.CartItem) float64 { return item.LineTotal() }))
	})
	return summary
}

func productOf(item domain.CartItem) domain.Product {
	return domain.Product{
		ID:       item.ProductID,
		Name:     item.ProductName,
		Category: item.Category,
		Brand:    item.Brand,
		Market:   item.Market,
		Price:    item.UnitPrice,
	}
}

// moneyEpsilon absorbs float noise in summed line totals, far below a millime.
const moneyEpsilon = 1e-9

// roundMoney rounds an amount to millimes.
func roundMoney(v float64) float64 { return math.Round(v*1000) / 1000 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round1(v float64) float64 { return math.Round(v*10) / 10 }
