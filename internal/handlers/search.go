package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"docsearch/internal/search"
)

// SearchResponse is the body of a successful semantic search.
type SearchResponse struct {
	Success   bool         `json:"success"`
	Results   []search.Hit `json:"results"`
	TotalHits int          `json:"total_hits"`
}

// SearchHandler handles semantic search requests. When the route carries a
// {department} parameter it replaces any department in the filter.
type SearchHandler struct {
	engine search.Engine
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(engine search.Engine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

// ServeHTTP handles GET /documents/search/semantic and
// GET /documents/search/semantic/department/{department}.
func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	opts, err := parseSearchOptions(r)
	if err != nil {
		handleServiceError(ctx, w, err, "")
		return
	}

	res, err := h.engine.SemanticSearch(ctx, r.URL.Query().Get("query"), opts)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to search documents")
		return
	}

	hits := res.Hits
	if hits == nil {
		hits = []search.Hit{}
	}
	writeJSON(ctx, w, http.StatusOK, SearchResponse{
		Success:   true,
		Results:   hits,
		TotalHits: res.TotalHits,
	})
}

func parseSearchOptions(r *http.Request) (search.Options, error) {
	q := r.URL.Query()
	var opts search.Options

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return opts, fmt.Errorf("%w: limit must be a non-negative integer", search.ErrInvalidFilter)
		}
		opts.Limit = limit
	}

	filter, err := search.ParseFilter(q.Get("filter"))
	if err != nil {
		return opts, err
	}
	opts.Filter = filter

	if raw := chi.URLParam(r, "department"); raw != "" {
		dept, err := url.PathUnescape(raw)
		if err != nil {
			return opts, fmt.Errorf("%w: %v", search.ErrInvalidFilter, err)
		}
		if dept = strings.TrimSpace(dept); dept != "" {
			opts.Filter.Departments = []string{dept}
		}
	}
	return opts, nil
}
