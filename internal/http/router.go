package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docsearch/internal/handlers"
	"docsearch/internal/search"
	"docsearch/internal/service"
	"docsearch/internal/vectorstore"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Documents   service.DocumentService
	Search      search.Engine
	Backfiller  handlers.Backfiller
	DB          handlers.Pinger
	VectorStore vectorstore.Store
	// MaxUploadBytes caps upload bodies; zero keeps the handler default.
	MaxUploadBytes int64
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(CORS)

	documentHandler := handlers.NewDocumentHandler(deps.Documents, handlers.WithMaxUploadBytes(deps.MaxUploadBytes))
	searchHandler := handlers.NewSearchHandler(deps.Search)
	backfillHandler := handlers.NewBackfillHandler(deps.Backfiller)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.VectorStore)

	r.Method(http.MethodGet, "/health", healthHandler)

	r.Route("/documents", func(r chi.Router) {
		r.Post("/upload", documentHandler.Upload)

		r.Method(http.MethodGet, "/search/semantic", searchHandler)
		r.Method(http.MethodGet, "/search/semantic/department/{department}", searchHandler)

		r.Method(http.MethodGet, "/admin/generate-embeddings", backfillHandler)
		r.Method(http.MethodPost, "/admin/generate-embeddings", backfillHandler)

		r.Get("/{id}", documentHandler.Get)
		r.Put("/{id}/soft-delete", documentHandler.SoftDelete)
		r.Post("/{id}/reindex", documentHandler.Reindex)
	})

	return r
}
