// Package app wires the document search components from configuration.
// Both the API server and the admin CLI build on it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"docsearch/internal/config"
	"docsearch/internal/embedding"
	"docsearch/internal/extractor"
	"docsearch/internal/indexer"
	"docsearch/internal/llm"
	"docsearch/internal/search"
	"docsearch/internal/service"
	"docsearch/internal/storage"
	"docsearch/internal/uploads"
	"docsearch/internal/vectorstore"
)

// App holds the long-lived components of the system.
type App struct {
	Config *config.Config

	DB        *sql.DB
	Documents *storage.DocumentRepo
	Employees *storage.EmployeeRepo

	Uploads   *uploads.Manager
	Extractor *extractor.Extractor
	Embedder  *embedding.Generator
	Store     *vectorstore.QdrantStore
	Pipeline  *indexer.Pipeline

	Search          search.Engine
	DocumentService service.DocumentService

	cache *embedding.BadgerCache
}

// NewLogger builds the process logger from the configured level and format.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// New opens the database, runs migrations and constructs every component.
// The vector index is initialized but its absence is not fatal. Callers must
// Close the returned App.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	fail := func(err error) (*App, error) {
		a.Close()
		return nil, err
	}

	var err error
	a.DB, err = storage.New(cfg.DBPath)
	if err != nil {
		return fail(fmt.Errorf("failed to open database: %w", err))
	}
	if err := storage.Migrate(a.DB); err != nil {
		return fail(fmt.Errorf("failed to run migrations: %w", err))
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	a.Documents = storage.NewDocumentRepo(a.DB)
	a.Employees = storage.NewEmployeeRepo(a.DB)

	a.Uploads, err = uploads.NewManager(cfg.UploadDir)
	if err != nil {
		return fail(fmt.Errorf("failed to prepare upload directory: %w", err))
	}

	a.Extractor = extractor.New(
		extractor.WithOCRCommand(cfg.OCRCommand),
		extractor.WithOCRLanguages(cfg.OCRLanguages),
		extractor.WithEmbeddedImages(cfg.ExtractEmbeddedImages),
	)

	genOpts := []embedding.Option{}
	if cfg.EmbeddingAutoload {
		genOpts = append(genOpts, embedding.WithModelLoader(llm.NewModelLoader(cfg.EmbeddingBaseURL), llm.EmbeddingModelArgs))
	}
	if cfg.EmbeddingCacheDir != "" {
		a.cache, err = embedding.OpenBadgerCache(cfg.EmbeddingCacheDir)
		if err != nil {
			return fail(fmt.Errorf("failed to open embedding cache: %w", err))
		}
		genOpts = append(genOpts, embedding.WithCache(a.cache))
		slog.Info("Embedding cache opened", "dir", cfg.EmbeddingCacheDir)
	}
	client := llm.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModelName, cfg.QdrantVectorSize)
	a.Embedder = embedding.NewGenerator(client, cfg.EmbeddingModelName, cfg.QdrantVectorSize, genOpts...)

	a.Store, err = vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		URL:           cfg.QdrantURL,
		APIKey:        cfg.QdrantAPIKey,
		Collection:    cfg.QdrantCollection,
		VectorSize:    cfg.QdrantVectorSize,
		PingTimeout:   cfg.QdrantPingTimeout,
		RetryInterval: cfg.QdrantRetryEvery,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create Qdrant client: %w", err))
	}
	if a.Store.Initialize(ctx) {
		slog.Info("Qdrant collection ready", "collection", cfg.QdrantCollection, "vector_size", cfg.QdrantVectorSize)
	} else {
		slog.Warn("Qdrant unavailable, semantic search disabled until it recovers", "url", cfg.QdrantURL)
	}

	a.Pipeline, err = indexer.NewPipeline(a.Documents, a.Extractor, a.Embedder, a.Store,
		indexer.WithLogger(slog.Default()),
		indexer.WithPoolSize(cfg.IndexWorkers),
		indexer.WithRateLimit(cfg.BackfillRate),
	)
	if err != nil {
		return fail(fmt.Errorf("failed to create indexing pipeline: %w", err))
	}

	a.Search = search.NewEngine(a.Embedder, a.Store, search.WithDocumentCheck(a.Documents))
	a.DocumentService = service.NewDocumentService(a.Documents, a.Employees, a.Uploads, a.Extractor, a.Pipeline, a.Store)
	return a, nil
}

// Close waits for background indexing and releases every resource.
func (a *App) Close() {
	if a.Pipeline != nil {
		a.Pipeline.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			slog.Warn("Failed to close Qdrant client", "error", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Warn("Failed to close embedding cache", "error", err)
		}
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
