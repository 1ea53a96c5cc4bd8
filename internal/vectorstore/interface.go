package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_store.go -package=mocks docsearch/internal/vectorstore Store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidEmbedding is returned for an empty or non-finite vector.
	ErrInvalidEmbedding = errors.New("invalid embedding")
	// ErrIndexUnavailable is returned when the vector index cannot be reached.
	ErrIndexUnavailable = errors.New("vector index unavailable")
)

// StorageError wraps a failure reported by the index backend.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Metadata is the denormalised document data stored next to each embedding.
type Metadata struct {
	Title        string
	Description  string
	FileName     string
	FilePath     string
	EmployeeName string
	EmployeeID   int64
	Department   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Record is a stored embedding with its document data.
type Record struct {
	DocumentID    int64
	Embedding     []float32
	ExtractedText string
	Deleted       bool
	Metadata
}

// Filter restricts a search. Zero values mean no restriction.
type Filter struct {
	// Departments matches any of the listed departments.
	Departments []string
	EmployeeID  *int64
}

// SearchOptions controls a k-nearest-neighbour search.
type SearchOptions struct {
	K      int
	Filter Filter
}

// Hit is a single search result.
type Hit struct {
	DocumentID int64
	Score      float64
	Metadata
}

// SearchResult holds ranked hits and the number of documents matching the
// filter in the index.
type SearchResult struct {
	Hits      []Hit
	TotalHits int
}

// Store is the vector index holding one embedding per document.
type Store interface {
	// Initialize connects and prepares the index. It reports availability
	// instead of failing and may be called repeatedly.
	Initialize(ctx context.Context) bool

	// Upsert writes or overwrites the embedding for a document. It returns
	// false without an error when the index is unavailable.
	Upsert(ctx context.Context, documentID int64, vec []float32, meta Metadata, extractedText string) (bool, error)

	// Get returns the record for a document, or nil when it is absent or the
	// index is unavailable.
	Get(ctx context.Context, documentID int64) (*Record, error)

	// Delete removes a document's embedding. Deleting an absent document
	// succeeds.
	Delete(ctx context.Context, documentID int64) bool

	// Search returns the K nearest non-deleted documents matching the filter,
	// best first.
	Search(ctx context.Context, vec []float32, opts SearchOptions) (*SearchResult, error)

	// Available reports whether the last initialization succeeded.
	Available() bool
}
