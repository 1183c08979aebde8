package cart

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/budget"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
)

// ProductLookup resolves catalog products by ID.
type ProductLookup interface {
	Product(ctx context.Context, id string) (domain.Product, error)
}

// Result is a cart after a mutation together with its budget status.
type Result struct {
	Cart   *domain.Cart        `json:"cart"`
	Status domain.BudgetStatus `json:"budget_status"`
}

// AddResult additionally carries the impact analysis computed against the
// cart as it was before the add.
type AddResult struct {
	Result
	Impact domain.ImpactReport `json:"impact"`
}

// Service applies cart operations. Operations on one session are serialized;
// different sessions never contend.
type Service struct {
	logger    *observability.Logger
	store     Store
	products  ProductLookup
	explainer *budget.Explainer
	finder    budget.CheaperFinder
	locks     *sessionLocks
	now       func() time.Time
}

// NewService creates a cart service. finder may be nil to disable
// replacement suggestions.
func NewService(logger *observability.Logger, store Store, products ProductLookup, explainer *budget.Explainer, finder budget.CheaperFinder) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		logger:    logger,
		store:     store,
		products:  products,
		explainer: explainer,
		finder:    finder,
		locks:     newSessionLocks(),
		now:       time.Now,
	}
}

// Create starts a cart with the given budget. An empty sessionID gets a
// generated one. An existing cart for the session is replaced.
func (s *Service) Create(ctx context.Context, sessionID string, budgetAmount float64) (*Result, error) {
	if math.IsNaN(budgetAmount) || math.IsInf(budgetAmount, 0) || budgetAmount < 0 {
		return nil, domain.ValidationError("budget must be a non-negative number", nil)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	now := s.now().UTC()
	c := &domain.Cart{
		SessionID: sessionID,
		Items:     []domain.CartItem{},
		Budget:    budgetAmount,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Put(ctx, c); err != nil {
		return nil, err
	}

	s.logger.WithSession(sessionID).Info().Money("budget", budgetAmount).Msg("Cart created")
	return s.result(c), nil
}

// Get returns the session's cart and its budget status.
func (s *Service) Get(ctx context.Context, sessionID string) (*Result, error) {
	c, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.result(c), nil
}

// Add puts quantity units of a catalog product into the cart, merging with
// an existing line for the same product. Adding is never refused on budget
// grounds; the impact report tells the caller what it did.
func (s *Service) Add(ctx context.Context, sessionID, productID string, quantity int) (res *AddResult, err error) {
	ctx, span := observability.StartSpan(ctx, "cart.Add",
		attribute.String("session_id", sessionID),
		attribute.String("product_id", productID),
		attribute.Int("quantity", quantity))
	defer func() { observability.EndSpan(span, err) }()

	if quantity < 1 {
		return nil, domain.ValidationError("quantity must be at least 1", nil)
	}
	product, err := s.products.Product(ctx, productID)
	if err != nil {
		return nil, err
	}

	var impact domain.ImpactReport
	r, err := s.mutate(ctx, sessionID, func(c *domain.Cart) error {
		impact = s.explainer.ExplainItemImpact(c, product, quantity)
		if i := c.IndexOf(product.ID); i >= 0 {
			c.Items[i].Quantity += quantity
			return nil
		}
		c.Items = append(c.Items, domain.CartItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Category:    product.Category,
			Brand:       product.Brand,
			Market:      product.Market,
			UnitPrice:   product.Price,
			Quantity:    quantity,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithSession(sessionID).Info().
		Product(product.ID).
		Int("quantity", quantity).
		Bool("within_budget", impact.CanAdd).
		Msg("Item added to cart")
	return &AddResult{Result: *r, Impact: impact}, nil
}

// SetQuantity replaces a line's quantity. A quantity of zero or less removes
// the line.
func (s *Service) SetQuantity(ctx context.Context, sessionID, productID string, quantity int) (*Result, error) {
	return s.mutate(ctx, sessionID, func(c *domain.Cart) error {
		i := c.IndexOf(productID)
		if i < 0 {
			if quantity <= 0 {
				return nil
			}
			return domain.ProductNotFoundError(productID)
		}
		if quantity <= 0 {
			c.Items = removeAt(c.Items, i)
			return nil
		}
		c.Items[i].Quantity = quantity
		return nil
	})
}

// Decrease lowers a line's quantity by amount, removing it when it reaches
// zero.
func (s *Service) Decrease(ctx context.Context, sessionID, productID string, amount int) (*Result, error) {
	if amount < 1 {
		return nil, domain.ValidationError("amount must be at least 1", nil)
	}
	return s.mutate(ctx, sessionID, func(c *domain.Cart) error {
		i := c.IndexOf(productID)
		if i < 0 {
			return domain.ProductNotFoundError(productID)
		}
		c.Items[i].Quantity -= amount
		if c.Items[i].Quantity <= 0 {
			c.Items = removeAt(c.Items, i)
		}
		return nil
	})
}

// Remove drops a product's line. Removing an absent product is a no-op.
func (s *Service) Remove(ctx context.Context, sessionID, productID string) (*Result, error) {
	return s.mutate(ctx, sessionID, func(c *domain.Cart) error {
		if i := c.IndexOf(productID); i >= 0 {
			c.Items = removeAt(c.Items, i)
		}
		return nil
	})
}

// Clear empties the cart and keeps its budget.
func (s *Service) Clear(ctx context.Context, sessionID string) (*Result, error) {
	return s.mutate(ctx, sessionID, func(c *domain.Cart) error {
		c.Items = []domain.CartItem{}
		return nil
	})
}

// SetBudget changes the cart's budget.
func (s *Service) SetBudget(ctx context.Context, sessionID string, budgetAmount float64) (*Result, error) {
	if math.IsNaN(budgetAmount) || math.IsInf(budgetAmount, 0) || budgetAmount < 0 {
		return nil, domain.ValidationError("budget must be a non-negative number", nil)
	}
	return s.mutate(ctx, sessionID, func(c *domain.Cart) error {
		c.Budget = budgetAmount
		return nil
	})
}

// Delete drops the session's cart.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	unlock := s.locks.lock(sessionID)
	defer unlock()
	return s.store.Delete(ctx, sessionID)
}

// Optimize returns the cart's optimization report.
func (s *Service) Optimize(ctx context.Context, sessionID string) (*domain.OptimizationReport, error) {
	c, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	report := s.explainer.Optimize(ctx, c, s.finder)
	return &report, nil
}

// Summary returns the cart's shopping summary.
func (s *Service) Summary(ctx context.Context, sessionID string) (*domain.ShoppingSummary, error) {
	c, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	summary := s.explainer.ShoppingSummary(c)
	return &summary, nil
}

// Explainer returns the budget explainer the service uses.
func (s *Service) Explainer() *budget.Explainer {
	return s.explainer
}

// mutate loads, changes and stores a cart under the session lock. The cart
// is not stored when fn fails.
func (s *Service) mutate(ctx context.Context, sessionID string, fn func(c *domain.Cart) error) (*Result, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	c, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = s.now().UTC()
	if err := s.store.Put(ctx, c); err != nil {
		return nil, err
	}
	return s.result(c), nil
}

func (s *Service) result(c *domain.Cart) *Result {
	return &Result{Cart: c, Status: s.explainer.AnalyzeBudgetStatus(c)}
}

func removeAt(items []domain.CartItem, i int) []domain.CartItem {
	out := make([]domain.CartItem, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...)
}

// sessionLocks hands out one mutex per active session and forgets it once
// no caller holds or waits for it.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

func (l *sessionLocks) lock(sessionID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[sessionID]
	if !ok {
		entry = &sessionLock{}
		l.locks[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, sessionID)
		}
		l.mu.Unlock()
	}
}

func (l *sessionLocks) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
