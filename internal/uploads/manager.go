// Package uploads stores incoming files under a single directory.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrOutsideDir is returned when a path does not resolve inside the upload
// directory.
var ErrOutsideDir = errors.New("path is outside the upload directory")

// Manager owns the upload directory.
type Manager struct {
	dir string
	now func() time.Time
}

// NewManager creates the directory if needed and returns a Manager for it.
func NewManager(dir string) (*Manager, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Manager{dir: abs, now: time.Now}, nil
}

// Dir returns the absolute upload directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Save writes r to a new file named <unix-ms>-<uuid><ext>, where ext is taken
// from originalName. It returns the stored path. A partial file is removed
// on failure.
func (m *Manager) Save(originalName string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	name := fmt.Sprintf("%d-%s%s", m.now().UnixMilli(), uuid.New().String(), ext)
	path := filepath.Join(m.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to close upload file: %w", err)
	}
	return path, nil
}

// Remove deletes a stored upload. Paths outside the upload directory are
// refused and a missing file is not an error.
func (m *Manager) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	rel, err := filepath.Rel(m.dir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrOutsideDir, path)
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove upload: %w", err)
	}
	return nil
}
