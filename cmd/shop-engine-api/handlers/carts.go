package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/shop-engine/pkg/engine"
)

// CartHandler serves budget-aware cart sessions.
type CartHandler struct {
	logger *observability.Logger
	engine *engine.Engine
}

// NewCartHandler creates a new cart handler.
func NewCartHandler(logger *observability.Logger, eng *engine.Engine) *CartHandler {
	return &CartHandler{logger: logger, engine: eng}
}

// CreateCartDTO represents the API request to start a cart.
type CreateCartDTO struct {
	SessionID string  `json:"session_id,omitempty"`
	Budget    float64 `json:"budget"`
}

// CartItemDTO represents a line mutation.
type CartItemDTO struct {
	ProductID string `json:"product_id,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
	Amount    int    `json:"amount,omitempty"`
}

// BudgetDTO represents a budget change.
type BudgetDTO struct {
	Budget float64 `json:"budget"`
}

func sessionID(r *http.Request) string { return chi.URLParam(r, "sessionId") }

func productID(r *http.Request) string { return chi.URLParam(r, "productId") }

// Create handles POST /carts.
func (h *CartHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCartDTO
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.CartCreate(r.Context(), req.SessionID, req.Budget)
	if err != nil {
		writeDomainError(w, h.logger, "cart_create", err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, res)
}

// Get handles GET /carts/{sessionId}.
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.CartGet(r.Context(), sessionID(r))
	if err != nil {
		writeDomainError(w, h.logger, "cart_get", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// Delete handles DELETE /carts/{sessionId}.
func (h *CartHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CartDelete(r.Context(), sessionID(r)); err != nil {
		writeDomainError(w, h.logger, "cart_delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Add handles POST /carts/{sessionId}/items.
func (h *CartHandler) Add(w http.ResponseWriter, r *http.Request) {
	req := CartItemDTO{Quantity: 1}
	if !decode(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "product_id is required", "")
		return
	}
	res, err := h.engine.CartAdd(r.Context(), sessionID(r), req.ProductID, req.Quantity)
	if err != nil {
		writeDomainError(w, h.logger, "cart_add", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// Preview handles POST /carts/{sessionId}/preview.
func (h *CartHandler) Preview(w http.ResponseWriter, r *http.Request) {
	req := CartItemDTO{Quantity: 1}
	if !decode(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "product_id is required", "")
		return
	}
	report, err := h.engine.CartPreview(r.Context(), sessionID(r), req.ProductID, req.Quantity)
	if err != nil {
		writeDomainError(w, h.logger, "cart_preview", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, report)
}

// Update handles PUT /carts/{sessionId}/items/{productId}.
func (h *CartHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req CartItemDTO
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.CartUpdate(r.Context(), sessionID(r), productID(r), req.Quantity)
	if err != nil {
		writeDomainError(w, h.logger, "cart_update", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// Decrease handles POST /carts/{sessionId}/items/{productId}/decrease.
func (h *CartHandler) Decrease(w http.ResponseWriter, r *http.Request) {
	req := CartItemDTO{Amount: 1}
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.CartDecrease(r.Context(), sessionID(r), productID(r), req.Amount)
	if err != nil {
		writeDomainError(w, h.logger, "cart_decrease", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// Remove handles DELETE /carts/{sessionId}/items/{productId}.
func (h *CartHandler) Remove(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.CartRemove(r.Context(), sessionID(r), productID(r))
	if err != nil {
		writeDomainError(w, h.logger, "cart_remove", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// Clear handles DELETE /carts/{sessionId}/items.
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.CartClear(r.Context(), sessionID(r))
	if err != nil {
		writeDomainError(w, h.logger, "cart_clear", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// SetBudget handles PUT /carts/{sessionId}/budget.
func (h *CartHandler) SetBudget(w http.ResponseWriter, r *http.Request) {
	var req BudgetDTO
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.CartSetBudget(r.Context(), sessionID(r), req.Budget)
	if err != nil {
		writeDomainError(w, h.logger, "cart_budget", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// Optimize handles GET /carts/{sessionId}/optimize.
func (h *CartHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.CartOptimize(r.Context(), sessionID(r))
	if err != nil {
		writeDomainError(w, h.logger, "cart_optimize", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, report)
}

// Summary handles GET /carts/{sessionId}/summary.
func (h *CartHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.CartSummary(r.Context(), sessionID(r))
	if err != nil {
		writeDomainError(w, h.logger, "cart_summary", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, summary)
}
