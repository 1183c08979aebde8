// Package domain holds the core types shared by the shop engine components.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// SortMode controls the final ordering of a recommendation result.
type SortMode string

const (
	SortRelevance SortMode = "relevance"
	SortPriceAsc  SortMode = "price_asc"
	SortPriceDesc SortMode = "price_desc"
)

// ParseSortMode parses a sort mode, defaulting empty input to relevance.
func ParseSortMode(s string) (SortMode, error) {
	switch SortMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortRelevance:
		return SortRelevance, nil
	case SortPriceAsc:
		return SortPriceAsc, nil
	case SortPriceDesc:
		return SortPriceDesc, nil
	}
	return "", ValidationError(fmt.Sprintf("unknown sort mode %q", s), nil)
}

// BudgetLevel is the coarse budget classification of a cart.
type BudgetLevel string

const (
	BudgetSafe    BudgetLevel = "safe"
	BudgetWarning BudgetLevel = "warning"
	BudgetOver    BudgetLevel = "over"
)

// Severity grades how close a cart is to its budget.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Strategy names an optimization suggestion kind.
type Strategy string

const (
	StrategyRemove         Strategy = "remove"
	StrategyReplace        Strategy = "replace"
	StrategyReduceQuantity Strategy = "reduce_quantity"
)

// Confidence grades how safe an optimization suggestion is to apply.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Product is a single catalog entry. Its embedding lives in the index.
type Product struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Category    string    `json:"category" db:"category"`
	Brand       string    `json:"brand" db:"brand"`
	Price       float64   `json:"price" db:"price"`
	ImageURL    string    `json:"image_url,omitempty" db:"image_url"`
	SourceURL   string    `json:"source_url,omitempty" db:"source_url"`
	Market      string    `json:"market,omitempty" db:"market"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// EmbeddingText is the text embedded for the product.
func (p Product) EmbeddingText() string {
	parts := make([]string, 0, 4)
	for _, s := range []string{p.Name, p.Category, p.Brand, p.Description} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// RawProductRecord is the normalized shape every corpus source is mapped to
// before validation. Price stays textual until ingestion parses it.
type RawProductRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Brand       string `json:"brand"`
	Price       string `json:"price"`
	ImageURL    string `json:"image_url"`
	SourceURL   string `json:"source_url"`
	Market      string `json:"market"`
}

// Query is a recommendation request.
type Query struct {
	FreeText    string   `json:"free_text,omitempty"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	MinPrice    *float64 `json:"min_price,omitempty"`
	MaxPrice    *float64 `json:"max_price,omitempty"`
	SortMode    SortMode `json:"sort_mode,omitempty"`
}

// Validate checks the price window and sort mode.
func (q Query) Validate() error {
	if q.MinPrice != nil && *q.MinPrice < 0 {
		return ValidationError("min_price must be non-negative", nil)
	}
	if q.MaxPrice != nil && *q.MaxPrice < 0 {
		return ValidationError("max_price must be non-negative", nil)
	}
	if q.MinPrice != nil && q.MaxPrice != nil && *q.MinPrice > *q.MaxPrice {
		return ValidationError(fmt.Sprintf("min_price %.2f exceeds max_price %.2f", *q.MinPrice, *q.MaxPrice), nil)
	}
	if _, err := ParseSortMode(string(q.SortMode)); err != nil {
		return err
	}
	return nil
}

// Text is the free text used for embedding and keyword matching.
func (q Query) Text() string {
	parts := make([]string, 0, 5)
	for _, s := range []string{q.FreeText, q.Name, q.Description, q.Category, q.Brand} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// InWindow reports whether price falls within the query's price bounds.
func (q Query) InWindow(price float64) bool {
	if q.MinPrice != nil && price < *q.MinPrice {
		return false
	}
	if q.MaxPrice != nil && price > *q.MaxPrice {
		return false
	}
	return true
}

// ScoredCandidate is a product with its per-factor and composite scores.
type ScoredCandidate struct {
	Product          Product `json:"product"`
	VectorSimilarity float64 `json:"vector_similarity"`
	KeywordScore     float64 `json:"keyword_score"`
	PriceFitScore    float64 `json:"price_fit_score"`
	CompositeScore   float64 `json:"composite_score"`
}

// RankedList is the result of a recommendation query.
type RankedList struct {
	Items            []ScoredCandidate `json:"items"`
	TotalFound       int               `json:"total_found"`
	TotalAfterFilter int               `json:"total_after_filter"`
}

// Comparison contrasts two products.
type Comparison struct {
	ProductA        Product  `json:"product_a"`
	ProductB        Product  `json:"product_b"`
	PriceDifference float64  `json:"price_difference"`
	PricePercentage float64  `json:"price_percentage"`
	CheaperID       string   `json:"cheaper_id,omitempty"`
	SameCategory    bool     `json:"same_category"`
	SameBrand       bool     `json:"same_brand"`
	ProsA           []string `json:"pros_a"`
	ConsA           []string `json:"cons_a"`
	ProsB           []string `json:"pros_b"`
	ConsB           []string `json:"cons_b"`
	Recommendation  string   `json:"recommendation"`
	Generated       bool     `json:"generated"`
}

// IngestReport summarizes an ingestion run.
type IngestReport struct {
	RunID          string        `json:"run_id"`
	Accepted       int           `json:"accepted"`
	Skipped        int           `json:"skipped"`
	DuplicateCount int           `json:"duplicate_count"`
	EmbedFailures  int           `json:"embed_failures"`
	Errors         []string      `json:"errors,omitempty"`
	Duration       time.Duration `json:"duration"`
}
