package recommend

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
)

// Compare contrasts two products. Both must exist; after that it always
// returns a comparison, falling back to a price-only explanation when the
// text generator is absent or fails.
func (e *Engine) Compare(ctx context.Context, idA, idB string) (cmp *domain.Comparison, err error) {
	ctx, span := observability.StartSpan(ctx, "recommend.Compare",
		attribute.String("product_a", idA),
		attribute.String("product_b", idB))
	defer func() { observability.EndSpan(span, err) }()

	idA, idB = strings.TrimSpace(idA), strings.TrimSpace(idB)
	if idA == "" || idB == "" {
		err = domain.ValidationError("two product ids are required", nil)
		return nil, err
	}

	key := ""
	if e.cache != nil {
		key = e.cache.ComparisonKey(e.generation(), idA, idB)
		if cached, ok := e.cache.GetComparison(ctx, key); ok {
			return cached, nil
		}
	}

	a, err := e.Product(ctx, idA)
	if err != nil {
		return nil, err
	}
	b, err := e.Product(ctx, idB)
	if err != nil {
		return nil, err
	}

	cmp = numericComparison(a, b)

	if e.generator != nil {
		genCtx, cancel := context.WithTimeout(ctx, e.config.GeneratorTimeout)
		text, gerr := e.generator.CompareProducts(genCtx, a, b)
		cancel()
		if gerr == nil && text != nil {
			cmp.ProsA, cmp.ConsA = text.ProsA, text.ConsA
			cmp.ProsB, cmp.ConsB = text.ProsB, text.ConsB
			cmp.Recommendation = text.Recommendation
			cmp.Generated = true
		} else {
			e.logger.WithContext(ctx).Warn().Err(gerr).
				Str("product_a", idA).
				Str("product_b", idB).
				Msg("Comparison text generation failed, using price comparison only")
		}
	}
	if !cmp.Generated {
		e.applyFallback(cmp)
	}

	if e.cache != nil {
		if err := e.cache.SetComparison(ctx, key, cmp); err != nil {
			e.logger.WithContext(ctx).Debug().Err(err).
				Str("product_a", idA).
				Str("product_b", idB).
				Msg("Failed to cache comparison")
		}
	}
	return cmp, nil
}

func numericComparison(a, b domain.Product) *domain.Comparison {
	cmp := &domain.Comparison{
		ProductA:        a,
		ProductB:        b,
		PriceDifference: round2(math.Abs(a.Price - b.Price)),
		SameCategory:    a.Category != "" && strings.EqualFold(a.Category, b.Category),
		SameBrand:       a.Brand != "" && strings.EqualFold(a.Brand, b.Brand),
	}
	if expensive := math.Max(a.Price, b.Price); expensive > 0 {
		cmp.PricePercentage = round2(math.Abs(a.Price-b.Price) / expensive * 100)
	}
	switch {
	case a.Price < b.Price:
		cmp.CheaperID = a.ID
	case b.Price < a.Price:
		cmp.CheaperID = b.ID
	}
	return cmp
}

// applyFallback fills deterministic pros, cons and a recommendation derived
// from the numbers alone.
func (e *Engine) applyFallback(cmp *domain.Comparison) {
	a, b := cmp.ProductA, cmp.ProductB
	cur := e.config.Currency

	cmp.ProsA, cmp.ConsA = fallbackProsCons(a, b, cmp)
	cmp.ProsB, cmp.ConsB = fallbackProsCons(b, a, cmp)

	switch cmp.CheaperID {
	case "":
		cmp.Recommendation = fmt.Sprintf("Price comparison only: both cost %.2f %s.", a.Price, cur)
	default:
		cheaper, other := a, b
		if cmp.CheaperID == b.ID {
			cheaper, other = b, a
		}
		cmp.Recommendation = fmt.Sprintf("Price comparison only: %s is cheaper than %s by %.2f %s (%.1f%%).",
			cheaper.Name, other.Name, cmp.PriceDifference, cur, cmp.PricePercentage)
	}
}

func fallbackProsCons(p, other domain.Product, cmp *domain.Comparison) (pros, cons []string) {
	pros, cons = []string{}, []string{}
	switch {
	case cmp.CheaperID == p.ID:
		pros = append(pros, fmt.Sprintf("Cheaper by %.2f (%.1f%%)", cmp.PriceDifference, cmp.PricePercentage))
	case cmp.CheaperID == other.ID:
		cons = append(cons, fmt.Sprintf("Costs %.2f more (%.1f%%)", cmp.PriceDifference, cmp.PricePercentage))
	default:
		pros = append(pros, "Same price")
	}
	if p.Brand != "" {
		pros = append(pros, "Brand: "+p.Brand)
	}
	if strings.TrimSpace(p.Description) == "" {
		cons = append(cons, "Limited product information")
	}
	return pros, cons
}
