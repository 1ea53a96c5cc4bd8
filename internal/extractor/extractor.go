// Package extractor turns uploaded files into plain text.
//
// The strategy is picked from the extension of the original upload name, not
// from the stored path, because stored uploads are renamed on disk.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"docsearch/internal/contextutil"
)

// Sentinel texts returned in place of content. They are regular results, not
// errors, so callers can persist them next to the document.
const (
	UnsupportedFileType = "Unsupported file type"
	PDFNoText           = "PDF contains no text."
	WordEmpty           = "Word file empty"
	ImageNoText         = "No text found in image"
)

// embeddedImagesHeader separates primary text from text OCRed out of images
// embedded in the same document.
const embeddedImagesHeader = "\n\n[Text from embedded images]\n"

var (
	// ErrExtraction is matched by every *ExtractionError.
	ErrExtraction = errors.New("extraction failed")
	// ErrLegacyFormat is returned for pre-2007 binary Office files (.doc,
	// .xls), which no parser here can read.
	ErrLegacyFormat = errors.New("legacy binary Office format is not supported")
)

// oleMagic starts every OLE2 compound file, the container of binary .doc
// and .xls files.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// legacyOfficeError returns ErrLegacyFormat when path is an OLE2 compound
// file and openErr otherwise.
func legacyOfficeError(path string, openErr error) error {
	f, err := os.Open(path)
	if err != nil {
		return openErr
	}
	defer func() {
		_ = f.Close()
	}()

	head := make([]byte, len(oleMagic))
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, oleMagic) {
		return openErr
	}
	return fmt.Errorf("%w; resave it as .docx or .xlsx", ErrLegacyFormat)
}

// ExtractionError reports a file that could not be read or parsed.
type ExtractionError struct {
	Path   string
	Format string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Path, e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrExtraction) match any ExtractionError.
func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

type extractFunc func(ctx context.Context, path string) (string, error)

// Extractor dispatches files to format-specific text extraction.
// It is safe for concurrent use.
type Extractor struct {
	runner         CommandRunner
	ocrCommand     string
	ocrLanguages   string
	embeddedImages bool
	handlers       map[string]extractFunc
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRunner sets the runner used for external OCR tools.
func WithRunner(r CommandRunner) Option {
	return func(e *Extractor) {
		if r != nil {
			e.runner = r
		}
	}
}

// WithOCRCommand sets the tesseract binary name or path.
func WithOCRCommand(cmd string) Option {
	return func(e *Extractor) {
		if cmd != "" {
			e.ocrCommand = cmd
		}
	}
}

// WithOCRLanguages sets the tesseract language string, e.g. "ara+eng".
func WithOCRLanguages(langs string) Option {
	return func(e *Extractor) {
		if langs != "" {
			e.ocrLanguages = langs
		}
	}
}

// WithEmbeddedImages toggles OCR of images embedded in PDF and Word files.
func WithEmbeddedImages(enabled bool) Option {
	return func(e *Extractor) {
		e.embeddedImages = enabled
	}
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		runner:       execRunner{},
		ocrCommand:   "tesseract",
		ocrLanguages: "ara+eng",
	}
	for _, opt := range opts {
		opt(e)
	}

	e.handlers = map[string]extractFunc{
		".pdf":      e.extractPDF,
		".doc":      e.extractWord,
		".docx":     e.extractWord,
		".txt":      extractTXT,
		".json":     extractJSON,
		".csv":      extractCSV,
		".xlsx":     extractSpreadsheet,
		".xls":      extractSpreadsheet,
		".md":       extractMarkdown,
		".markdown": extractMarkdown,
	}
	for _, ext := range imageExtensions {
		e.handlers[ext] = e.extractImage
	}
	return e
}

// Supported reports whether originalName has an extension with an extraction strategy.
func (e *Extractor) Supported(originalName string) bool {
	_, ok := e.handlers[strings.ToLower(filepath.Ext(originalName))]
	return ok
}

// Extract returns the text of the file at path. The strategy is chosen from
// the lowercase extension of originalName. Unknown extensions yield
// UnsupportedFileType with a nil error. The file is never modified.
func (e *Extractor) Extract(ctx context.Context, path, originalName string) (text string, err error) {
	logger := contextutil.LoggerFromContext(ctx)
	ext := strings.ToLower(filepath.Ext(originalName))

	handler, ok := e.handlers[ext]
	if !ok {
		logger.DebugContext(ctx, "unsupported file type", "file_name", originalName, "ext", ext)
		return UnsupportedFileType, nil
	}

	if _, statErr := os.Stat(path); statErr != nil {
		return "", &ExtractionError{Path: path, Format: ext, Err: statErr}
	}

	// Third-party parsers panic on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "extractor panicked", "path", path, "ext", ext, "panic", r)
			text = ""
			err = &ExtractionError{Path: path, Format: ext, Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	text, err = handler(ctx, path)
	if err != nil {
		var extErr *ExtractionError
		if !errors.As(err, &extErr) {
			err = &ExtractionError{Path: path, Format: ext, Err: err}
		}
		logger.WarnContext(ctx, "text extraction failed", "path", path, "ext", ext, "error", err)
		return "", err
	}

	logger.DebugContext(ctx, "text extracted", "path", path, "ext", ext, "chars", len(text))
	return text, nil
}

// appendImageText joins primary text and OCR text from embedded images.
func appendImageText(text, imageText string) string {
	if strings.TrimSpace(imageText) == "" {
		return text
	}
	return text + embeddedImagesHeader + imageText
}

func loggerFor(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx)
}
