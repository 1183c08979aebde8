// Package handlers provides HTTP handlers for the Shop Engine API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
)

const maxBodyBytes = 1 << 20

// StatusFor maps a domain error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrProductNotFound), errors.Is(err, domain.ErrCartNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmbeddingUnavailable), errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, logger *observability.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeDomainError reports err with the user-safe message only. Server-side
// failures are logged with their full cause.
func writeDomainError(w http.ResponseWriter, logger *observability.Logger, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("operation", op).Msg("Request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error":   domain.UserMessage(err),
		"message": domain.UserMessage(err),
	}
	if t := domain.TypeOf(err); t != "" && t != domain.ErrorTypeConfig {
		resp["type"] = string(t)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}
