package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"docsearch/internal/vectorstore"
)

const (
	// DefaultLimit is used when no limit is requested.
	DefaultLimit = 20
	// MaxLimit caps the number of hits returned.
	MaxLimit = 100
)

var (
	// ErrInvalidQuery is returned for a blank query.
	ErrInvalidQuery = errors.New("query must not be empty")
	// ErrInvalidFilter is returned for a filter that cannot be parsed.
	ErrInvalidFilter = errors.New("invalid search filter")
)

// Options controls a semantic search.
type Options struct {
	// Limit is the maximum number of hits. Zero means DefaultLimit.
	Limit  int
	Filter vectorstore.Filter
}

// Hit is one search result as returned to clients.
type Hit struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	FileName      string    `json:"file_name"`
	FilePath      string    `json:"file_path"`
	EmployeeName  string    `json:"employee_name"`
	EmployeeID    int64     `json:"employee_id"`
	Department    string    `json:"department"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	SemanticScore float64   `json:"semanticScore"`
}

// Result holds the ranked hits and the number of documents matching the
// filter in the index, which may exceed len(Hits).
type Result struct {
	Hits      []Hit `json:"results"`
	TotalHits int   `json:"total_hits"`
}

// filterJSON is the wire form of a filter. Department may be a string or an
// array of strings; employee_id may be a number or a numeric string.
type filterJSON struct {
	Department json.RawMessage `json:"department"`
	EmployeeID json.RawMessage `json:"employee_id"`
}

// ParseFilter decodes the JSON filter accepted by the search endpoint. An
// empty string yields an empty filter, as does a blank department string. A
// department array must name at least one department.
func ParseFilter(raw string) (vectorstore.Filter, error) {
	var f vectorstore.Filter
	if strings.TrimSpace(raw) == "" {
		return f, nil
	}

	var wire filterJSON
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return f, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	if len(wire.Department) > 0 && string(wire.Department) != "null" {
		var one string
		var many []string
		switch {
		case json.Unmarshal(wire.Department, &one) == nil:
			if one != "" {
				f.Departments = []string{one}
			}
		case json.Unmarshal(wire.Department, &many) == nil:
			for _, d := range many {
				if d != "" {
					f.Departments = append(f.Departments, d)
				}
			}
			// An empty set must not widen the search to every department.
			if len(f.Departments) == 0 {
				return f, fmt.Errorf("%w: department list has no names", ErrInvalidFilter)
			}
		default:
			return f, fmt.Errorf("%w: department must be a string or an array of strings", ErrInvalidFilter)
		}
	}

	if len(wire.EmployeeID) > 0 && string(wire.EmployeeID) != "null" {
		var id json.Number
		if err := json.Unmarshal(wire.EmployeeID, &id); err != nil {
			return f, fmt.Errorf("%w: employee_id must be a number", ErrInvalidFilter)
		}
		n, err := id.Int64()
		if err != nil {
			return f, fmt.Errorf("%w: employee_id must be an integer", ErrInvalidFilter)
		}
		f.EmployeeID = &n
	}

	return f, nil
}
