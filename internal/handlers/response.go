// Package handlers contains the HTTP handlers of the document API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"docsearch/internal/contextutil"
	"docsearch/internal/embedding"
	"docsearch/internal/extractor"
	"docsearch/internal/indexer"
	"docsearch/internal/search"
	"docsearch/internal/service"
	"docsearch/internal/vectorstore"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeJSON writes v with the given status code.
func writeJSON(ctx context.Context, w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Success: false,
		Error:   message,
	})
}

// statusFor maps an error from the service layer to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, search.ErrInvalidQuery),
		errors.Is(err, search.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vectorstore.ErrIndexUnavailable),
		errors.Is(err, indexer.ErrPipelineClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, extractor.ErrExtraction),
		errors.Is(err, indexer.ErrNoContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, embedding.ErrEmbeddingFailed),
		errors.Is(err, embedding.ErrModelUnavailable),
		errors.Is(err, service.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleServiceError logs err and writes the matching error response.
// Internal errors are reported with defaultMsg instead of their text.
func handleServiceError(ctx context.Context, w http.ResponseWriter, err error, defaultMsg string) {
	logger := contextutil.LoggerFromContext(ctx)
	status := statusFor(err)

	msg := err.Error()
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		msg = "Validation error: " + validationErr.Error()
	case status == http.StatusInternalServerError:
		msg = defaultMsg
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "status", status, "error", err)
	} else {
		logger.WarnContext(ctx, "request rejected", "status", status, "error", err)
	}
	writeError(w, status, msg)
}
