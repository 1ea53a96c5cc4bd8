// Package search answers semantic queries over the document index.
package search

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_engine.go -package=mocks docsearch/internal/search Engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"docsearch/internal/contextutil"
	"docsearch/internal/embedding"
	"docsearch/internal/storage"
	"docsearch/internal/vectorstore"
)

// Engine runs semantic searches.
type Engine interface {
	// SemanticSearch embeds query and returns the nearest documents that
	// match opts.Filter, best first.
	SemanticSearch(ctx context.Context, query string, opts Options) (*Result, error)
}

// DocumentChecker looks up relational document rows.
type DocumentChecker interface {
	GetByID(ctx context.Context, id int64) (*storage.Document, error)
}

type engine struct {
	embedder embedding.Embedder
	store    vectorstore.Store
	docs     DocumentChecker
	logger   *slog.Logger
}

// EngineOption configures the engine returned by NewEngine.
type EngineOption func(*engine)

// WithDocumentCheck drops hits whose relational row is missing or
// soft-deleted, covering index deletes that failed after a soft delete.
func WithDocumentCheck(docs DocumentChecker) EngineOption {
	return func(e *engine) {
		e.docs = docs
	}
}

// NewEngine creates a search engine.
func NewEngine(embedder embedding.Embedder, store vectorstore.Store, opts ...EngineOption) Engine {
	e := &engine{
		embedder: embedder,
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// SemanticSearch implements Engine.
func (e *engine) SemanticSearch(ctx context.Context, query string, opts Options) (*Result, error) {
	logger := contextutil.LoggerFromContextOr(ctx, e.logger)

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}
	limit := clampLimit(opts.Limit)

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	found, err := e.store.Search(ctx, vec, vectorstore.SearchOptions{K: limit, Filter: opts.Filter})
	if err != nil {
		return nil, err
	}

	res := &Result{Hits: make([]Hit, 0, len(found.Hits)), TotalHits: found.TotalHits}
	for _, h := range found.Hits {
		if !e.isActive(ctx, h.DocumentID) {
			res.TotalHits--
			continue
		}
		res.Hits = append(res.Hits, Hit{
			ID:            h.DocumentID,
			Title:         h.Title,
			Description:   h.Description,
			FileName:      h.FileName,
			FilePath:      h.FilePath,
			EmployeeName:  h.EmployeeName,
			EmployeeID:    h.EmployeeID,
			Department:    h.Department,
			CreatedAt:     h.CreatedAt,
			UpdatedAt:     h.UpdatedAt,
			SemanticScore: h.Score,
		})
	}
	if res.TotalHits < len(res.Hits) {
		res.TotalHits = len(res.Hits)
	}

	sort.SliceStable(res.Hits, func(i, j int) bool {
		return res.Hits[i].SemanticScore > res.Hits[j].SemanticScore
	})

	logger.InfoContext(ctx, "semantic search completed",
		"limit", limit,
		"departments", opts.Filter.Departments,
		"results", len(res.Hits),
		"total_hits", res.TotalHits,
	)
	return res, nil
}

// isActive reports whether the relational row for id is live. Lookup errors
// other than not found keep the hit.
func (e *engine) isActive(ctx context.Context, id int64) bool {
	if e.docs == nil {
		return true
	}
	_, err := e.docs.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		contextutil.LoggerFromContextOr(ctx, e.logger).WarnContext(ctx, "dropping hit for deleted document", "document_id", id)
		return false
	}
	return true
}
