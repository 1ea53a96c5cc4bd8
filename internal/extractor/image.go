package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".gif", ".tiff"}

func isImageName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range imageExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

func (e *Extractor) extractImage(ctx context.Context, path string) (string, error) {
	text, err := e.ocr(ctx, path)
	if err != nil {
		return "", err
	}
	if text == "" {
		return ImageNoText, nil
	}
	return text, nil
}

// ocr runs tesseract on a single image and returns the trimmed text.
func (e *Extractor) ocr(ctx context.Context, path string) (string, error) {
	out, err := e.runner.Run(ctx, e.ocrCommand, path, "stdout", "-l", e.ocrLanguages)
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ocrDir OCRs every image in dir in name order. Individual failures are logged
// and skipped.
func (e *Extractor) ocrDir(ctx context.Context, dir string) string {
	logger := loggerFor(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.WarnContext(ctx, "failed to list extracted images", "dir", dir, "error", err)
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && (isImageName(entry.Name()) || strings.HasSuffix(entry.Name(), ".ppm")) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		text, err := e.ocr(ctx, filepath.Join(dir, name))
		if err != nil {
			logger.WarnContext(ctx, "embedded image ocr failed", "image", name, "error", err)
			continue
		}
		if text != "" {
			sb.WriteString(text)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
