package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"docsearch/internal/embedding"
	"docsearch/internal/extractor"
	"docsearch/internal/indexer"
	"docsearch/internal/search"
	"docsearch/internal/service"
	"docsearch/internal/vectorstore"
)

var errIndexDown = fmt.Errorf("reindex: %w", vectorstore.ErrIndexUnavailable)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &service.ValidationError{Field: "file", Message: "is required"}, http.StatusBadRequest},
		{"invalid input", service.ErrInvalidInput, http.StatusBadRequest},
		{"empty query", search.ErrInvalidQuery, http.StatusBadRequest},
		{"bad filter", fmt.Errorf("%w: bad json", search.ErrInvalidFilter), http.StatusBadRequest},
		{"not found", fmt.Errorf("%w: document 4", service.ErrNotFound), http.StatusNotFound},
		{"index unavailable", errIndexDown, http.StatusServiceUnavailable},
		{"pipeline closed", indexer.ErrPipelineClosed, http.StatusServiceUnavailable},
		{"extraction", &extractor.ExtractionError{Path: "a.pdf", Format: "pdf", Err: errors.New("eof")}, http.StatusUnprocessableEntity},
		{"no content", indexer.ErrNoContent, http.StatusUnprocessableEntity},
		{"embedding failed", fmt.Errorf("%w: %w", embedding.ErrEmbeddingFailed, errors.New("timeout")), http.StatusBadGateway},
		{"model unavailable", embedding.ErrModelUnavailable, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestHandleServiceError_HidesInternalErrors(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(context.Background(), w, errors.New("sql: connection refused"), "Failed to get document")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("handleServiceError() status = %v, want %v", w.Code, http.StatusInternalServerError)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response error = %v", err)
	}
	if resp.Success {
		t.Error("handleServiceError() success = true, want false")
	}
	if resp.Error != "Failed to get document" {
		t.Errorf("handleServiceError() error = %q, want %q", resp.Error, "Failed to get document")
	}
}

func TestHandleServiceError_ValidationMessage(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(context.Background(), w, &service.ValidationError{Field: "employee_id", Message: "is required"}, "")

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response error = %v", err)
	}
	want := "Validation error: validation error on field employee_id: is required"
	if resp.Error != want {
		t.Errorf("handleServiceError() error = %q, want %q", resp.Error, want)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}
