package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_employee_store.go -package=mocks docsearch/internal/storage EmployeeStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EmployeeStore defines employee lookups.
type EmployeeStore interface {
	// GetByID returns an employee, or ErrNotFound.
	GetByID(ctx context.Context, id int64) (*Employee, error)
}

// EmployeeRepo implements EmployeeStore on SQLite.
type EmployeeRepo struct {
	db *sql.DB
}

// NewEmployeeRepo creates a new EmployeeRepo.
func NewEmployeeRepo(db *sql.DB) *EmployeeRepo {
	return &EmployeeRepo{db: db}
}

// GetByID returns an employee, or ErrNotFound.
func (r *EmployeeRepo) GetByID(ctx context.Context, id int64) (*Employee, error) {
	var emp Employee
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, department, created_at FROM employees WHERE id = ?", id,
	).Scan(&emp.ID, &emp.Name, &emp.Department, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query employee: %w", err)
	}
	if emp.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &emp, nil
}

// Create inserts an employee and returns its id.
func (r *EmployeeRepo) Create(ctx context.Context, emp *Employee) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"INSERT INTO employees (name, department) VALUES (?, ?)", emp.Name, emp.Department)
	if err != nil {
		return 0, fmt.Errorf("failed to insert employee: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get employee id: %w", err)
	}
	emp.ID = id
	return id, nil
}
