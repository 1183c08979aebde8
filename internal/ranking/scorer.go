// Package ranking scores recommendation candidates and orders them
// deterministically.
package ranking

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

// Epsilon is the tolerance under which two composite scores are equal.
const Epsilon = 1e-9

// Weights blends the three scoring factors. They must sum to 1.
type Weights struct {
	Similarity float64 `yaml:"similarity" json:"similarity"`
	Keyword    float64 `yaml:"keyword" json:"keyword"`
	PriceFit   float64 `yaml:"price_fit" json:"price_fit"`
}

// DefaultWeights returns 0.60 similarity, 0.25 keyword, 0.15 price fit.
func DefaultWeights() Weights {
	return Weights{Similarity: 0.60, Keyword: 0.25, PriceFit: 0.15}
}

// Validate checks that weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	if w.Similarity < 0 || w.Keyword < 0 || w.PriceFit < 0 {
		return domain.ConfigError("ranking weights must be non-negative", nil)
	}
	if sum := w.Similarity + w.Keyword + w.PriceFit; math.Abs(sum-1) > 1e-6 {
		return domain.ConfigError(fmt.Sprintf("ranking weights sum to %.4f, want 1", sum), nil)
	}
	return nil
}

// Scorer computes composite relevance scores. It is safe for concurrent use.
type Scorer struct {
	weights   Weights
	stopwords map[string]struct{}
}

// NewScorer creates a scorer. extraStopwords extend the built-in list.
func NewScorer(weights Weights, extraStopwords ...string) *Scorer {
	stop := make(map[string]struct{}, len(defaultStopwords)+len(extraStopwords))
	for _, list := range [][]string{defaultStopwords, extraStopwords} {
		for _, w := range list {
			stop[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
		}
	}
	return &Scorer{weights: weights, stopwords: stop}
}

// Weights returns the scorer's weights.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Tokens lowercases text, splits it on anything that is not a letter or a
// digit and drops stopwords and tokens shorter than two runes. Repeated
// tokens are kept once.
func (s *Scorer) Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := lo.Filter(fields, func(tok string, _ int) bool {
		if utf8.RuneCountInString(tok) < 2 {
			return false
		}
		_, stop := s.stopwords[tok]
		return !stop
	})
	return lo.Uniq(tokens)
}

// KeywordScore is the fraction of tokens found as substrings of the
// product's name, category and brand.
func KeywordScore(tokens []string, p domain.Product) float64 {
	if len(tokens) == 0 {
		return 0
	}
	haystack := strings.ToLower(p.Name + " " + p.Category + " " + p.Brand)
	hits := lo.CountBy(tokens, func(tok string) bool { return strings.Contains(haystack, tok) })
	return float64(hits) / float64(len(tokens))
}

// PriceFit is the hard-filter price fit: 1 inside the query window (or when
// the query has no window) and 0 outside it.
func PriceFit(price float64, q domain.Query) float64 {
	if q.InWindow(price) {
		return 1
	}
	return 0
}

// SoftPriceFit decays linearly with the relative distance from the nearest
// bound, floored at 0. It is kept for callers that prefer to surface
// near-miss items instead of dropping them.
func SoftPriceFit(price float64, q domain.Query) float64 {
	switch {
	case q.MinPrice != nil && price < *q.MinPrice:
		return decay(*q.MinPrice-price, *q.MinPrice)
	case q.MaxPrice != nil && price > *q.MaxPrice:
		return decay(price-*q.MaxPrice, *q.MaxPrice)
	}
	return 1
}

func decay(distance, bound float64) float64 {
	if bound <= 0 {
		return 0
	}
	return math.Max(0, 1-distance/bound)
}

// InWindow reports whether p survives the query's price window.
func (s *Scorer) InWindow(p domain.Product, q domain.Query) bool {
	return q.InWindow(p.Price)
}

// Score computes the candidate's factor scores and composite.
func (s *Scorer) Score(p domain.Product, similarity float64, q domain.Query) domain.ScoredCandidate {
	return s.score(p, similarity, s.Tokens(q.FreeText), q)
}

// ScoreAll scores products against q, tokenizing the query once. Products
// outside the price window are dropped.
func (s *Scorer) ScoreAll(products []domain.Product, similarities []float64, q domain.Query) []domain.ScoredCandidate {
	tokens := s.Tokens(q.FreeText)
	out := make([]domain.ScoredCandidate, 0, len(products))
	for i, p := range products {
		if !s.InWindow(p, q) {
			continue
		}
		out = append(out, s.score(p, similarities[i], tokens, q))
	}
	return out
}

func (s *Scorer) score(p domain.Product, similarity float64, tokens []string, q domain.Query) domain.ScoredCandidate {
	c := domain.ScoredCandidate{
		Product:          p,
		VectorSimilarity: lo.Clamp(similarity, 0, 1),
		KeywordScore:     KeywordScore(tokens, p),
		PriceFitScore:    PriceFit(p.Price, q),
	}
	c.CompositeScore = s.weights.Similarity*c.VectorSimilarity +
		s.weights.Keyword*c.KeywordScore +
		s.weights.PriceFit*c.PriceFitScore
	return c
}

// Less orders by composite score descending, then price ascending, then ID
// ascending. Scores within Epsilon are equal.
func Less(a, b domain.ScoredCandidate) bool {
	if math.Abs(a.CompositeScore-b.CompositeScore) > Epsilon {
		return a.CompositeScore > b.CompositeScore
	}
	if a.Product.Price != b.Product.Price {
		return a.Product.Price < b.Product.Price
	}
	return a.Product.ID < b.Product.ID
}

// Sort orders candidates by relevance using Less.
func Sort(candidates []domain.ScoredCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool { return Less(candidates[i], candidates[j]) })
}

// SortByPrice reorders candidates by price, ID ascending on ties.
func SortByPrice(candidates []domain.ScoredCandidate, descending bool) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].Product, candidates[j].Product
		if a.Price != b.Price {
			if descending {
				return a.Price > b.Price
			}
			return a.Price < b.Price
		}
		return a.ID < b.ID
	})
}
