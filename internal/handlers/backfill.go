package handlers

import (
	"context"
	"net/http"

	"docsearch/internal/contextutil"
	"docsearch/internal/indexer"
)

// Backfiller embeds every active document missing from the index.
type Backfiller interface {
	IndexAll(ctx context.Context) (*indexer.BackfillStats, error)
}

// BackfillResponse reports the outcome of an embedding backfill.
type BackfillResponse struct {
	Success bool `json:"success"`
	// Count is the number of documents embedded by this run.
	Count int                    `json:"count"`
	Stats *indexer.BackfillStats `json:"stats"`
}

// BackfillHandler handles HTTP requests for generating missing embeddings.
type BackfillHandler struct {
	backfiller Backfiller
}

// NewBackfillHandler creates a new BackfillHandler.
func NewBackfillHandler(backfiller Backfiller) *BackfillHandler {
	return &BackfillHandler{backfiller: backfiller}
}

// ServeHTTP handles GET /documents/admin/generate-embeddings. The backfill
// runs synchronously within the request.
func (h *BackfillHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	logger.InfoContext(ctx, "embedding backfill triggered via API")
	stats, err := h.backfiller.IndexAll(ctx)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to generate embeddings")
		return
	}

	writeJSON(ctx, w, http.StatusOK, BackfillResponse{
		Success: true,
		Count:   stats.Indexed,
		Stats:   stats,
	})
}
