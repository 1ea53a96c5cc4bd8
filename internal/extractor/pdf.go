package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

func (e *Extractor) extractPDF(ctx context.Context, path string) (string, error) {
	f, r, err := pdf.Open(path)
	if f != nil {
		defer func() {
			_ = f.Close()
		}()
	}
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		text = PDFNoText
	}

	if e.embeddedImages {
		text = appendImageText(text, e.pdfImageText(ctx, path))
	}
	return text, nil
}

// pdfImageText dumps the images of a PDF with pdfimages and OCRs them.
// Any failure yields "".
func (e *Extractor) pdfImageText(ctx context.Context, path string) string {
	logger := loggerFor(ctx)

	dir, err := os.MkdirTemp("", "pdf-images-*")
	if err != nil {
		logger.WarnContext(ctx, "failed to create temp dir for pdf images", "error", err)
		return ""
	}
	defer func() {
		_ = os.RemoveAll(dir)
	}()

	if _, err := e.runner.Run(ctx, "pdfimages", "-png", path, filepath.Join(dir, "image")); err != nil {
		logger.WarnContext(ctx, "pdf image extraction failed", "path", path, "error", err)
		return ""
	}
	return e.ocrDir(ctx, dir)
}
