// Package rpc serves the shop engine over Connect with JSON messages.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/cart"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
)

// ServiceName is the fully-qualified Connect service name.
const ServiceName = "shop.v1.ShopService"

// Procedure paths.
const (
	RecommendProcedure      = "/" + ServiceName + "/Recommend"
	CompareProcedure        = "/" + ServiceName + "/Compare"
	CreateCartProcedure     = "/" + ServiceName + "/CreateCart"
	GetCartProcedure        = "/" + ServiceName + "/GetCart"
	AddToCartProcedure      = "/" + ServiceName + "/AddToCart"
	UpdateCartProcedure     = "/" + ServiceName + "/UpdateCart"
	RemoveFromCartProcedure = "/" + ServiceName + "/RemoveFromCart"
	ClearCartProcedure      = "/" + ServiceName + "/ClearCart"
	OptimizeCartProcedure   = "/" + ServiceName + "/OptimizeCart"
)

// Backend is the engine surface the service exposes.
type Backend interface {
	Recommend(ctx context.Context, q domain.Query, limit int) (*domain.RankedList, error)
	Compare(ctx context.Context, idA, idB string) (*domain.Comparison, error)
	CartCreate(ctx context.Context, sessionID string, budget float64) (*cart.Result, error)
	CartGet(ctx context.Context, sessionID string) (*cart.Result, error)
	CartAdd(ctx context.Context, sessionID, productID string, quantity int) (*cart.AddResult, error)
	CartUpdate(ctx context.Context, sessionID, productID string, quantity int) (*cart.Result, error)
	CartRemove(ctx context.Context, sessionID, productID string) (*cart.Result, error)
	CartClear(ctx context.Context, sessionID string) (*cart.Result, error)
	CartOptimize(ctx context.Context, sessionID string) (*domain.OptimizationReport, error)
}

// ShopService implements the Connect shop service.
type ShopService struct {
	logger  *observability.Logger
	backend Backend
}

// NewShopService creates a new shop service.
func NewShopService(logger *observability.Logger, backend Backend) *ShopService {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ShopService{logger: logger, backend: backend}
}

// RecommendRequest represents the Recommend request message.
type RecommendRequest struct {
	Query domain.Query `json:"query"`
	Limit int32        `json:"limit"`
}

// CompareRequest represents the Compare request message.
type CompareRequest struct {
	ProductIDA string `json:"product_id_a"`
	ProductIDB string `json:"product_id_b"`
}

// CartRequest addresses a cart and optionally one of its lines.
type CartRequest struct {
	SessionID string  `json:"session_id"`
	ProductID string  `json:"product_id,omitempty"`
	Quantity  int32   `json:"quantity,omitempty"`
	Budget    float64 `json:"budget,omitempty"`
}

// Recommend handles recommendation queries.
func (s *ShopService) Recommend(ctx context.Context, req *connect.Request[RecommendRequest]) (*connect.Response[domain.RankedList], error) {
	msg := req.Msg
	limit := int(msg.Limit)
	if limit == 0 {
		limit = 10
	}
	list, err := s.backend.Recommend(ctx, msg.Query, limit)
	if err != nil {
		return nil, s.toConnectError("Recommend", err)
	}
	return connect.NewResponse(list), nil
}

// Compare handles product comparisons.
func (s *ShopService) Compare(ctx context.Context, req *connect.Request[CompareRequest]) (*connect.Response[domain.Comparison], error) {
	if req.Msg.ProductIDA == "" || req.Msg.ProductIDB == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("product_id_a and product_id_b are required"))
	}
	cmp, err := s.backend.Compare(ctx, req.Msg.ProductIDA, req.Msg.ProductIDB)
	if err != nil {
		return nil, s.toConnectError("Compare", err)
	}
	return connect.NewResponse(cmp), nil
}

// CreateCart starts a cart with a budget.
func (s *ShopService) CreateCart(ctx context.Context, req *connect.Request[CartRequest]) (*connect.Response[cart.Result], error) {
	return s.cartCall("CreateCart", func() (*cart.Result, error) {
		return s.backend.CartCreate(ctx, req.Msg.SessionID, req.Msg.Budget)
	})
}

// GetCart returns a cart.
func (s *ShopService) GetCart(ctx context.Context, req *connect.Request[CartRequest]) (*connect.Response[cart.Result], error) {
	if req.Msg.SessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session_id is required"))
	}
	return s.cartCall("GetCart", func() (*cart.Result, error) {
		return s.backend.CartGet(ctx, req.Msg.SessionID)
	})
}

// AddToCart adds a product and reports its budget impact.
func (s *ShopService) AddToCart(ctx context.Context, req *connect.Request[CartRequest]) (*connect.Response[cart.AddResult], error) {
	msg := req.Msg
	if msg.SessionID == "" || msg.ProductID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session_id and product_id are required"))
	}
	qty := int(msg.Quantity)
	if qty == 0 {
		qty = 1
	}
	res, err := s.backend.CartAdd(ctx, msg.SessionID, msg.ProductID, qty)
	if err != nil {
		return nil, s.toConnectError("AddToCart", err)
	}
	return connect.NewResponse(res), nil
}

// UpdateCart sets a line's quantity.
func (s *ShopService) UpdateCart(ctx context.Context, req *connect.Request[CartRequest]) (*connect.Response[cart.Result], error) {
	return s.cartCall("UpdateCart", func() (*cart.Result, error) {
		return s.backend.CartUpdate(ctx, req.Msg.SessionID, req.Msg.ProductID, int(req.Msg.Quantity))
	})
}

// RemoveFromCart drops a line.
func (s *ShopService) RemoveFromCart(ctx context.Context, req *connect.Request[CartRequest]) (*connect.Response[cart.Result], error) {
	return s.cartCall("RemoveFromCart", func() (*cart.Result, error) {
		return s.backend.CartRemove(ctx, req.Msg.SessionID, req.Msg.ProductID)
	})
}

// ClearCart empties a cart.
func (s *ShopService) ClearCart(ctx context.Context, req *connect.Request[CartRequest]) (*connect.Response[cart.Result], error) {
	return s.cartCall("ClearCart", func() (*cart.Result, error) {
		return s.backend.CartClear(ctx, req.Msg.SessionID)
	})
}

// OptimizeCart returns optimization suggestions.
func (s *ShopService) OptimizeCart(ctx context.Context, req *connect.Request[CartRequest]) (*connect.Response[domain.OptimizationReport], error) {
	report, err := s.backend.CartOptimize(ctx, req.Msg.SessionID)
	if err != nil {
		return nil, s.toConnectError("OptimizeCart", err)
	}
	return connect.NewResponse(report), nil
}

func (s *ShopService) cartCall(op string, fn func() (*cart.Result, error)) (*connect.Response[cart.Result], error) {
	res, err := fn()
	if err != nil {
		return nil, s.toConnectError(op, err)
	}
	return connect.NewResponse(res), nil
}

// toConnectError maps domain errors to Connect codes. Dependency failures
// carry only the user-safe message.
func (s *ShopService) toConnectError(op string, err error) error {
	code := CodeFor(err)
	if code == connect.CodeInternal || code == connect.CodeUnavailable {
		s.logger.Error().Err(err).Str("procedure", op).Msg("Request failed")
	}
	return connect.NewError(code, errors.New(domain.UserMessage(err)))
}

// CodeFor returns the Connect code for a domain error.
func CodeFor(err error) connect.Code {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return connect.CodeInvalidArgument
	case errors.Is(err, domain.ErrProductNotFound), errors.Is(err, domain.ErrCartNotFound):
		return connect.CodeNotFound
	case errors.Is(err, domain.ErrEmbeddingUnavailable), errors.Is(err, domain.ErrIndexUnavailable):
		return connect.CodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	}
	return connect.CodeInternal
}

// JSONCodec encodes plain Go message structs as JSON.
type JSONCodec struct{}

// Name implements connect.Codec.
func (JSONCodec) Name() string { return "json" }

// Marshal implements connect.Codec.
func (JSONCodec) Marshal(msg any) ([]byte, error) { return json.Marshal(msg) }

// Unmarshal implements connect.Codec.
func (JSONCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}

// Handler returns the service mounted under "/shop.v1.ShopService/".
func (s *ShopService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(RecommendProcedure, connect.NewUnaryHandler(RecommendProcedure, s.Recommend, opts...))
	mux.Handle(CompareProcedure, connect.NewUnaryHandler(CompareProcedure, s.Compare, opts...))
	mux.Handle(CreateCartProcedure, connect.NewUnaryHandler(CreateCartProcedure, s.CreateCart, opts...))
	mux.Handle(GetCartProcedure, connect.NewUnaryHandler(GetCartProcedure, s.GetCart, opts...))
	mux.Handle(AddToCartProcedure, connect.NewUnaryHandler(AddToCartProcedure, s.AddToCart, opts...))
	mux.Handle(UpdateCartProcedure, connect.NewUnaryHandler(UpdateCartProcedure, s.UpdateCart, opts...))
	mux.Handle(RemoveFromCartProcedure, connect.NewUnaryHandler(RemoveFromCartProcedure, s.RemoveFromCart, opts...))
	mux.Handle(ClearCartProcedure, connect.NewUnaryHandler(ClearCartProcedure, s.ClearCart, opts...))
	mux.Handle(OptimizeCartProcedure, connect.NewUnaryHandler(OptimizeCartProcedure, s.OptimizeCart, opts...))
	return "/" + ServiceName + "/", mux
}
