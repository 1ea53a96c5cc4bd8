// Package indexer embeds documents into the vector index, both one at a time
// after upload and as a backfill over every active document.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"docsearch/internal/contextutil"
	"docsearch/internal/embedding"
	"docsearch/internal/storage"
	"docsearch/internal/vectorstore"
)

var (
	// ErrNoContent is returned when a document has no text to embed.
	ErrNoContent = errors.New("document has no indexable text")
	// ErrPipelineClosed is returned by Enqueue after Close.
	ErrPipelineClosed = errors.New("indexing pipeline closed")
	// ErrWorkersBusy is returned by Enqueue when every worker is occupied.
	// The document stays unindexed until the next backfill.
	ErrWorkersBusy = errors.New("all indexing workers busy")
)

// TextExtractor reads the text of a stored upload.
type TextExtractor interface {
	Extract(ctx context.Context, path, originalName string) (string, error)
}

// Pipeline computes and stores document embeddings.
type Pipeline struct {
	docs      storage.DocumentStore
	extractor TextExtractor
	embedder  embedding.Embedder
	store     vectorstore.Store

	pool    *ants.Pool
	limiter *rate.Limiter
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of background indexing workers.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := newPool(size, p.logger)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithRateLimit caps backfill embedding calls per second. Zero or less
// disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(p *Pipeline) error {
		if perSecond <= 0 {
			p.limiter = nil
			return nil
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

// WithLogger sets the logger used when no logger is carried in the context.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates an indexing pipeline.
func NewPipeline(
	docs storage.DocumentStore,
	extractor TextExtractor,
	embedder embedding.Embedder,
	store vectorstore.Store,
	opts ...Option,
) (*Pipeline, error) {
	if docs == nil || extractor == nil || embedder == nil || store == nil {
		return nil, errors.New("indexer: documents, extractor, embedder and store are required")
	}

	p := &Pipeline{
		docs:      docs,
		extractor: extractor,
		embedder:  embedder,
		store:     store,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.release()
			return nil, err
		}
	}

	if p.pool == nil {
		size := runtime.NumCPU() / 2
		if size < 1 {
			size = 1
		}
		pool, err := newPool(size, p.logger)
		if err != nil {
			return nil, err
		}
		p.pool = pool
	}

	return p, nil
}

// newPool builds a non-blocking pool so Enqueue never waits on an embedding
// call in progress.
func newPool(size int, logger *slog.Logger) (*ants.Pool, error) {
	return ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			logger.Error("indexing worker panicked", "panic", v)
		}),
	)
}

func (p *Pipeline) getLogger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContextOr(ctx, p.logger)
}

// EmbeddingInput builds the text embedded for a document: title, description
// and body joined by spaces, trimmed and capped at embedding.MaxInputChars.
func EmbeddingInput(doc *storage.Document, text string) string {
	joined := strings.TrimSpace(strings.Join([]string{doc.Title, doc.Description, text}, " "))
	return embedding.Truncate(joined, embedding.MaxInputChars)
}

func metadataFor(doc *storage.Document) vectorstore.Metadata {
	return vectorstore.Metadata{
		Title:        doc.Title,
		Description:  doc.Description,
		FileName:     doc.FileName,
		FilePath:     doc.FilePath,
		EmployeeName: doc.EmployeeName,
		EmployeeID:   doc.EmployeeID,
		Department:   doc.Department,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}

// IndexDocument embeds a document and writes it to the vector index,
// overwriting any previous embedding.
func (p *Pipeline) IndexDocument(ctx context.Context, doc *storage.Document, extractedText string) error {
	logger := p.getLogger(ctx)

	input := EmbeddingInput(doc, extractedText)
	if input == "" {
		return ErrNoContent
	}

	vec, err := p.embedder.Embed(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to embed document %d: %w", doc.ID, err)
	}

	stored := embedding.Truncate(extractedText, embedding.MaxInputChars)
	ok, err := p.store.Upsert(ctx, doc.ID, vec, metadataFor(doc), stored)
	if err != nil {
		return fmt.Errorf("failed to store embedding for document %d: %w", doc.ID, err)
	}
	if !ok {
		return vectorstore.ErrIndexUnavailable
	}

	logger.InfoContext(ctx, "indexed document", "document_id", doc.ID, "dimensions", len(vec))
	return nil
}

// Enqueue indexes a document on a background worker and returns without
// waiting. The work is detached from ctx cancellation but keeps its logger.
// When no worker is free it returns ErrWorkersBusy.
func (p *Pipeline) Enqueue(ctx context.Context, doc *storage.Document, extractedText string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	bg := contextutil.Detach(ctx)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		if err := p.IndexDocument(bg, doc, extractedText); err != nil {
			p.getLogger(bg).WarnContext(bg, "background indexing failed", "document_id", doc.ID, "error", err)
		}
	})
	if err != nil {
		p.wg.Done()
		if errors.Is(err, ants.ErrPoolOverload) {
			return ErrWorkersBusy
		}
		return fmt.Errorf("failed to schedule indexing: %w", err)
	}
	return nil
}

// readText extracts the text of a stored document. A missing file yields
// empty text so the document is still indexed by title and description.
func (p *Pipeline) readText(ctx context.Context, doc *storage.Document) (string, error) {
	if _, err := os.Stat(doc.FilePath); errors.Is(err, os.ErrNotExist) {
		p.getLogger(ctx).WarnContext(ctx, "document file missing, indexing metadata only", "document_id", doc.ID, "file_path", doc.FilePath)
		return "", nil
	}
	return p.extractor.Extract(ctx, doc.FilePath, doc.FileName)
}

// Reindex re-extracts and re-embeds one document synchronously.
func (p *Pipeline) Reindex(ctx context.Context, id int64) error {
	doc, err := p.docs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	text, err := p.readText(ctx, doc)
	if err != nil {
		return err
	}
	return p.IndexDocument(ctx, doc, text)
}

// IndexAll embeds every active document that is not yet in the index.
// Failures for individual documents are logged and counted; the sweep only
// stops early when ctx is cancelled.
func (p *Pipeline) IndexAll(ctx context.Context) (*BackfillStats, error) {
	logger := p.getLogger(ctx)
	start := time.Now()

	if !p.store.Initialize(ctx) {
		return nil, vectorstore.ErrIndexUnavailable
	}

	docs, err := p.docs.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	stats := &BackfillStats{Total: len(docs)}
	logger.InfoContext(ctx, "starting embedding backfill", "documents", len(docs))

	var inputLengths []int
	for i := range docs {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}

		doc := &docs[i]
		existing, err := p.store.Get(ctx, doc.ID)
		if err != nil {
			stats.Failed++
			logger.ErrorContext(ctx, "failed to check existing embedding", "document_id", doc.ID, "error", err)
			continue
		}
		if existing != nil {
			stats.Skipped++
			continue
		}

		text, err := p.readText(ctx, doc)
		if err != nil {
			stats.Failed++
			logger.ErrorContext(ctx, "failed to extract document", "document_id", doc.ID, "error", err)
			continue
		}

		input := EmbeddingInput(doc, text)
		if input == "" {
			stats.Empty++
			logger.WarnContext(ctx, "skipping document with no text", "document_id", doc.ID)
			continue
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				stats.Duration = time.Since(start)
				return stats, err
			}
		}

		if err := p.IndexDocument(ctx, doc, text); err != nil {
			stats.Failed++
			logger.ErrorContext(ctx, "failed to index document", "document_id", doc.ID, "error", err)
			continue
		}
		stats.Indexed++
		inputLengths = append(inputLengths, len([]rune(input)))
	}

	stats.InputChars = computeLengthStats(inputLengths)
	stats.Duration = time.Since(start)
	logger.InfoContext(ctx, "embedding backfill completed",
		"total", stats.Total, "indexed", stats.Indexed, "skipped", stats.Skipped,
		"empty", stats.Empty, "failed", stats.Failed, "duration", stats.Duration)
	return stats, nil
}

// Close waits for queued background work and stops the workers.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	p.release()
}

func (p *Pipeline) release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
