// Package main provides the API router setup.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/spherical/libs/shop-engine/cmd/shop-engine-api/handlers"
	"github.com/spherical-ai/spherical/libs/shop-engine/cmd/shop-engine-api/middleware"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/api/rpc"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/shop-engine/pkg/engine"
)

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg config.ServerConfig, eng *engine.Engine) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.WriteTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.WriteTimeout))
	}

	catalogHandler := handlers.NewCatalogHandler(logger, eng)
	cartHandler := handlers.NewCartHandler(logger, eng)

	// Health check (unauthenticated)
	r.Get("/health", catalogHandler.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.APIKey))

		// Connect RPC surface
		path, rpcHandler := rpc.NewShopService(logger, eng).Handler()
		r.Handle(path+"*", rpcHandler)

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/recommend", catalogHandler.Recommend)
			r.Post("/compare", catalogHandler.Compare)

			r.Post("/ingest", catalogHandler.Ingest)
			r.Post("/index/rebuild", catalogHandler.Rebuild)

			r.Route("/products/{productId}", func(r chi.Router) {
				r.Get("/", catalogHandler.Product)
				r.Delete("/", catalogHandler.RemoveProduct)
			})

			r.Post("/carts", cartHandler.Create)
			r.Route("/carts/{sessionId}", func(r chi.Router) {
				r.Get("/", cartHandler.Get)
				r.Delete("/", cartHandler.Delete)
				r.Put("/budget", cartHandler.SetBudget)
				r.Post("/preview", cartHandler.Preview)
				r.Get("/optimize", cartHandler.Optimize)
				r.Get("/summary", cartHandler.Summary)

				r.Route("/items", func(r chi.Router) {
					r.Post("/", cartHandler.Add)
					r.Delete("/", cartHandler.Clear)
					r.Put("/{productId}", cartHandler.Update)
					r.Delete("/{productId}", cartHandler.Remove)
					r.Post("/{productId}/decrease", cartHandler.Decrease)
				})
			})
		})
	})

	return r
}
