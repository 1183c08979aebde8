package domain

import "time"

// CartItem is one line in a cart.
type CartItem struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Category    string  `json:"category"`
	Brand       string  `json:"brand"`
	Market      string  `json:"market,omitempty"`
	UnitPrice   float64 `json:"unit_price"`
	Quantity    int     `json:"quantity"`
}

// LineTotal is unit price times quantity.
func (i CartItem) LineTotal() float64 {
	return i.UnitPrice * float64(i.Quantity)
}

// Cart is a session's shopping cart. Items keep insertion order.
type Cart struct {
	SessionID string     `json:"session_id"`
	Items     []CartItem `json:"items"`
	Budget    float64    `json:"budget"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Total recomputes the cart total from its lines.
func (c *Cart) Total() float64 {
	var total float64
	for _, item := range c.Items {
		total += item.LineTotal()
	}
	return total
}

// TotalQuantity sums quantities across lines.
func (c *Cart) TotalQuantity() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// IndexOf returns the line index holding productID, or -1.
func (c *Cart) IndexOf(productID string) int {
	for i, item := range c.Items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy safe to hand to callers.
func (c *Cart) Clone() *Cart {
	out := *c
	out.Items = append([]CartItem(nil), c.Items...)
	return &out
}

// BudgetStatus is the classified state of a cart against its budget.
type BudgetStatus struct {
	Status              BudgetLevel `json:"status"`
	Severity            Severity    `json:"severity"`
	PercentageUsed      float64     `json:"percentage_used"`
	RemainingPercentage float64     `json:"remaining_percentage"`
	Total               float64     `json:"total"`
	Budget              float64     `json:"budget"`
	Remaining           float64     `json:"remaining"`
	Overspend           float64     `json:"overspend"`
	ItemCount           int         `json:"item_count"`
	AverageItemPrice    float64     `json:"average_item_price"`
	Explanation         string      `json:"explanation"`
	Recommendations     []string    `json:"recommendations"`
}

// ImpactReport describes what adding a product would do to the budget.
type ImpactReport struct {
	ProductID     string  `json:"product_id"`
	ItemCost      float64 `json:"item_cost"`
	NewTotal      float64 `json:"new_total"`
	NewRemaining  float64 `json:"new_remaining"`
	NewPercentage float64 `json:"new_percentage"`
	CanAdd        bool    `json:"can_add"`
	WouldExceed   bool    `json:"would_exceed"`
	WouldWarn     bool    `json:"would_warn"`
	Explanation   string  `json:"explanation"`
	Suggestion    string  `json:"suggestion,omitempty"`
}

// Alternative is one optimization suggestion for a cart.
type Alternative struct {
	Strategy        Strategy   `json:"strategy"`
	ProductID       string     `json:"product_id"`
	ProductName     string     `json:"product_name"`
	ReplacementID   string     `json:"replacement_id,omitempty"`
	ReplacementName string     `json:"replacement_name,omitempty"`
	NewQuantity     int        `json:"new_quantity,omitempty"`
	Savings         float64    `json:"savings"`
	NewTotal        float64    `json:"new_total"`
	Confidence      Confidence `json:"confidence"`
	Explanation     string     `json:"explanation"`
}

// OptimizationReport bundles a cart's status with its suggestions.
type OptimizationReport struct {
	Status            BudgetStatus  `json:"status"`
	NeedsOptimization bool          `json:"needs_optimization"`
	Suggestions       []Alternative `json:"suggestions"`
	PotentialSavings  float64       `json:"potential_savings"`
}

// ShoppingSummary is a descriptive overview of a cart.
type ShoppingSummary struct {
	ItemCount        int                `json:"item_count"`
	TotalQuantity    int                `json:"total_quantity"`
	Total            float64            `json:"total"`
	AverageItemPrice float64            `json:"average_item_price"`
	MostExpensive    *CartItem          `json:"most_expensive,omitempty"`
	Cheapest         *CartItem          `json:"cheapest,omitempty"`
	ByMarket         map[string]float64 `json:"by_market,omitempty"`
	Status           BudgetStatus       `json:"status"`
}
