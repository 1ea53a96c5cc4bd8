package storage

import "time"

// Employee is a member of staff that documents belong to.
type Employee struct {
	ID         int64
	Name       string
	Department string
	CreatedAt  time.Time
}

// Document is the relational record of an uploaded file.
type Document struct {
	ID           int64
	Title        string
	Description  string
	FileName     string // original upload name
	FilePath     string // location on disk
	Department   string
	EmployeeID   int64
	EmployeeName string
	IsDeleted    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
