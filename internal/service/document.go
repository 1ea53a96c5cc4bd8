package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_document_service.go -package=mocks docsearch/internal/service DocumentService

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"docsearch/internal/contextutil"
	"docsearch/internal/storage"
)

// Extractor reads the text of a stored upload.
type Extractor interface {
	Extract(ctx context.Context, path, originalName string) (string, error)
}

// FileStore persists uploaded files.
type FileStore interface {
	Save(originalName string, r io.Reader) (string, error)
	Remove(path string) error
}

// Indexer schedules and runs document embedding.
type Indexer interface {
	Enqueue(ctx context.Context, doc *storage.Document, extractedText string) error
	Reindex(ctx context.Context, id int64) error
}

// VectorDeleter removes a document from the vector index.
type VectorDeleter interface {
	Delete(ctx context.Context, documentID int64) bool
}

// UploadRequest is a file arriving with its form metadata.
type UploadRequest struct {
	OriginalName string
	Content      io.Reader
	Title        string
	Description  string
	EmployeeName string
	EmployeeID   int64
	Department   string
}

// UploadResult describes a stored upload.
type UploadResult struct {
	DocumentID    int64
	FileName      string
	ExtractedText string
}

// DocumentService handles document uploads and lifecycle.
type DocumentService interface {
	// Upload stores the file, extracts its text, creates the document row and
	// schedules background indexing. No file is left behind on failure.
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
	// Get returns an active document.
	Get(ctx context.Context, id int64) (*storage.Document, error)
	// SoftDelete flags the document as deleted and drops it from the index.
	SoftDelete(ctx context.Context, id int64) error
	// Reindex re-extracts and re-embeds a document synchronously.
	Reindex(ctx context.Context, id int64) error
}

type documentService struct {
	docs      storage.DocumentStore
	employees storage.EmployeeStore
	files     FileStore
	extractor Extractor
	indexer   Indexer
	vectors   VectorDeleter
	logger    *slog.Logger
}

// NewDocumentService creates a DocumentService.
func NewDocumentService(
	docs storage.DocumentStore,
	employees storage.EmployeeStore,
	files FileStore,
	extractor Extractor,
	indexer Indexer,
	vectors VectorDeleter,
) DocumentService {
	return &documentService{
		docs:      docs,
		employees: employees,
		files:     files,
		extractor: extractor,
		indexer:   indexer,
		vectors:   vectors,
		logger:    slog.Default(),
	}
}

func (s *documentService) getLogger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContextOr(ctx, s.logger)
}

func validateUpload(req UploadRequest) error {
	if strings.TrimSpace(req.OriginalName) == "" || req.Content == nil {
		return &ValidationError{Field: "file", Message: "is required"}
	}
	if req.EmployeeID <= 0 {
		return &ValidationError{Field: "employee_id", Message: "is required"}
	}
	return nil
}

// Upload implements DocumentService.
func (s *documentService) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	logger := s.getLogger(ctx)

	if err := validateUpload(req); err != nil {
		logger.WarnContext(ctx, "invalid upload request", "error", err)
		return UploadResult{}, err
	}

	emp, err := s.employees.GetByID(ctx, req.EmployeeID)
	if errors.Is(err, storage.ErrNotFound) {
		return UploadResult{}, &ValidationError{Field: "employee_id", Message: "employee does not exist"}
	}
	if err != nil {
		return UploadResult{}, WrapError(err, "failed to look up employee")
	}

	path, err := s.files.Save(req.OriginalName, req.Content)
	if err != nil {
		logger.ErrorContext(ctx, "failed to store upload", "file_name", req.OriginalName, "error", err)
		return UploadResult{}, WrapError(err, "failed to store upload")
	}

	text, err := s.extractor.Extract(ctx, path, req.OriginalName)
	if err != nil {
		s.cleanup(ctx, path)
		logger.ErrorContext(ctx, "failed to extract upload", "file_name", req.OriginalName, "error", err)
		return UploadResult{}, err
	}

	doc := &storage.Document{
		Title:        req.Title,
		Description:  req.Description,
		FileName:     req.OriginalName,
		FilePath:     path,
		Department:   firstNonEmpty(req.Department, emp.Department),
		EmployeeID:   req.EmployeeID,
		EmployeeName: firstNonEmpty(req.EmployeeName, emp.Name),
	}
	id, err := s.docs.Create(ctx, doc)
	if err != nil {
		s.cleanup(ctx, path)
		if errors.Is(err, storage.ErrEmployeeNotFound) {
			return UploadResult{}, &ValidationError{Field: "employee_id", Message: "employee does not exist"}
		}
		logger.ErrorContext(ctx, "failed to create document", "file_name", req.OriginalName, "error", err)
		return UploadResult{}, WrapError(err, "failed to create document")
	}
	doc.ID = id

	if err := s.indexer.Enqueue(ctx, doc, text); err != nil {
		// The backfill picks up documents that missed background indexing.
		logger.WarnContext(ctx, "failed to schedule indexing", "document_id", id, "error", err)
	}

	logger.InfoContext(ctx, "document uploaded", "document_id", id, "file_name", req.OriginalName, "text_length", len(text))
	return UploadResult{DocumentID: id, FileName: req.OriginalName, ExtractedText: text}, nil
}

func (s *documentService) cleanup(ctx context.Context, path string) {
	if err := s.files.Remove(path); err != nil {
		s.getLogger(ctx).ErrorContext(ctx, "failed to remove upload", "path", path, "error", err)
	}
}

// Get implements DocumentService.
func (s *documentService) Get(ctx context.Context, id int64) (*storage.Document, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: document %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, WrapError(err, "failed to get document")
	}
	return doc, nil
}

// SoftDelete implements DocumentService.
func (s *documentService) SoftDelete(ctx context.Context, id int64) error {
	logger := s.getLogger(ctx)

	err := s.docs.SoftDelete(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: document %d", ErrNotFound, id)
	}
	if err != nil {
		return WrapError(err, "failed to delete document")
	}

	if !s.vectors.Delete(ctx, id) {
		logger.WarnContext(ctx, "document deleted but its embedding could not be removed", "document_id", id)
	}
	logger.InfoContext(ctx, "document soft-deleted", "document_id", id)
	return nil
}

// Reindex implements DocumentService.
func (s *documentService) Reindex(ctx context.Context, id int64) error {
	err := s.indexer.Reindex(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: document %d", ErrNotFound, id)
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
