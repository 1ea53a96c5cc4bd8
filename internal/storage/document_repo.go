package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_document_store.go -package=mocks docsearch/internal/storage DocumentStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
	// ErrEmployeeNotFound is returned when a document references an unknown employee.
	ErrEmployeeNotFound = errors.New("employee does not exist")
)

// DocumentStore defines the relational document operations used by the
// indexing and upload paths.
type DocumentStore interface {
	// GetByID returns an active document. Deleted or missing documents
	// return ErrNotFound.
	GetByID(ctx context.Context, id int64) (*Document, error)
	// ListActive returns all documents that are not soft-deleted, oldest first.
	ListActive(ctx context.Context) ([]Document, error)
	// Create inserts a document and returns its id.
	Create(ctx context.Context, doc *Document) (int64, error)
	// SoftDelete flags an active document as deleted.
	SoftDelete(ctx context.Context, id int64) error
	// Delete removes a document row permanently.
	Delete(ctx context.Context, id int64) error
}

// DocumentRepo implements DocumentStore on SQLite.
type DocumentRepo struct {
	db *sql.DB
}

// NewDocumentRepo creates a new DocumentRepo.
func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

const documentColumns = `id, title, description, file_name, file_path, department,
	employee_id, employee_name, is_deleted, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var createdAt, updatedAt string
	err := row.Scan(&doc.ID, &doc.Title, &doc.Description, &doc.FileName, &doc.FilePath,
		&doc.Department, &doc.EmployeeID, &doc.EmployeeName, &doc.IsDeleted, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if doc.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if doc.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &doc, nil
}

// GetByID returns an active document by id.
func (r *DocumentRepo) GetByID(ctx context.Context, id int64) (*Document, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ? AND is_deleted = 0", id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	return doc, nil
}

// ListActive returns every document that has not been soft-deleted.
func (r *DocumentRepo) ListActive(ctx context.Context) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE is_deleted = 0 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

// Create inserts a document after checking that its employee exists. The
// generated id and timestamps are written back to doc.
func (r *DocumentRepo) Create(ctx context.Context, doc *Document) (int64, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM employees WHERE id = ?)", doc.EmployeeID,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check employee: %w", err)
	}
	if !exists {
		return 0, ErrEmployeeNotFound
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (title, description, file_name, file_path, department, employee_id, employee_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.Title, doc.Description, doc.FileName, doc.FilePath, doc.Department, doc.EmployeeID, doc.EmployeeName,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert document: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get document id: %w", err)
	}

	created, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	*doc = *created
	return id, nil
}

// SoftDelete marks a document as deleted.
func (r *DocumentRepo) SoftDelete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE documents SET is_deleted = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND is_deleted = 0", id)
	if err != nil {
		return fmt.Errorf("failed to soft delete document: %w", err)
	}
	return requireAffected(result)
}

// Delete removes the row for a document.
func (r *DocumentRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
