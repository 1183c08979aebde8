package handlers

import (
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/shop-engine/pkg/engine"
)

const (
	defaultLimit     = 10
	maxUploadBytes   = 32 << 20
	defaultCSVSource = "api-upload"
)

// CatalogHandler serves recommendation, comparison and ingestion requests.
type CatalogHandler struct {
	logger *observability.Logger
	engine *engine.Engine
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(logger *observability.Logger, eng *engine.Engine) *CatalogHandler {
	return &CatalogHandler{logger: logger, engine: eng}
}

// RecommendRequestDTO represents the API request for recommendations.
type RecommendRequestDTO struct {
	Query domain.Query `json:"query"`
	Limit int          `json:"limit,omitempty"`
}

// CompareRequestDTO represents the API request for a comparison.
type CompareRequestDTO struct {
	ProductIDA string `json:"product_id_a"`
	ProductIDB string `json:"product_id_b"`
}

// Health handles GET /health.
func (h *CatalogHandler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.engine.Health(r.Context())
	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, h.logger, status, health)
}

// Recommend handles POST /recommend.
func (h *CatalogHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req RecommendRequestDTO
	if !decode(w, r, &req) {
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultLimit
	}

	list, err := h.engine.Recommend(r.Context(), req.Query, req.Limit)
	if err != nil {
		writeDomainError(w, h.logger, "recommend", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, list)
}

// Compare handles POST /compare.
func (h *CatalogHandler) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequestDTO
	if !decode(w, r, &req) {
		return
	}
	if req.ProductIDA == "" || req.ProductIDB == "" {
		writeError(w, http.StatusBadRequest, "product_id_a and product_id_b are required", "")
		return
	}

	cmp, err := h.engine.Compare(r.Context(), req.ProductIDA, req.ProductIDB)
	if err != nil {
		writeDomainError(w, h.logger, "compare", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, cmp)
}

// Product handles GET /products/{productId}.
func (h *CatalogHandler) Product(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Product(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		writeDomainError(w, h.logger, "product", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, p)
}

// RemoveProduct handles DELETE /products/{productId}.
func (h *CatalogHandler) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RemoveProducts(r.Context(), chi.URLParam(r, "productId")); err != nil {
		writeDomainError(w, h.logger, "remove_product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Ingest handles POST /ingest. The body is either a raw CSV document or a
// multipart form with a "file" field; the optional "source" query parameter
// labels the run.
func (h *CatalogHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = defaultCSVSource
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	var body io.Reader = r.Body
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file field is required", err.Error())
			return
		}
		defer file.Close()
		body = file
		if r.URL.Query().Get("source") == "" {
			source = header.Filename
		}
	}

	report, err := h.engine.IngestCSV(r.Context(), source, body)
	if err != nil {
		writeDomainError(w, h.logger, "ingest", err)
		return
	}
	h.logger.Info().
		Str("source", source).
		Int("accepted", report.Accepted).
		Int("duplicates", report.DuplicateCount).
		Msg("Catalog ingested")
	writeJSON(w, h.logger, http.StatusOK, report)
}

// Rebuild handles POST /index/rebuild.
func (h *CatalogHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Rebuild(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, "rebuild", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"products":   n,
		"generation": h.engine.Health(r.Context()).IndexGeneration,
	})
}
