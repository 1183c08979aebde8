package ingest

import (
	"math"
	"strings"
	"unicode"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

// DefaultPriceTolerance is the relative price difference under which two
// listings with the same normalized name are treated as one product.
const DefaultPriceTolerance = 0.01

// NormalizeName lowercases s, drops punctuation and symbols, and collapses
// runs of whitespace to a single space.
func NormalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Dedupe collapses near-duplicate products using DefaultPriceTolerance.
func Dedupe(products []domain.Product) []domain.Product {
	kept, _ := DedupeWithTolerance(products, DefaultPriceTolerance)
	return kept
}

// DedupeWithTolerance keeps the first-seen product of every duplicate group
// and reports how many were dropped. Input order is preserved and the input
// slice is not modified.
func DedupeWithTolerance(products []domain.Product, tolerance float64) ([]domain.Product, int) {
	kept := make([]domain.Product, 0, len(products))
	seen := make(map[string][]float64, len(products))
	dropped := 0

	for _, p := range products {
		key := NormalizeName(p.Name)
		duplicate := false
		for _, price := range seen[key] {
			if pricesClose(price, p.Price, tolerance) {
				duplicate = true
				break
			}
		}
		if duplicate {
			dropped++
			continue
		}
		seen[key] = append(seen[key], p.Price)
		kept = append(kept, p)
	}
	return kept, dropped
}

// pricesClose reports |a-b|/max(a,b) < tolerance. Two zero prices are close.
func pricesClose(a, b, tolerance float64) bool {
	hi := math.Max(a, b)
	if hi == 0 {
		return true
	}
	return math.Abs(a-b)/hi < tolerance
}
