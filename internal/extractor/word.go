package extractor

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

func (e *Extractor) extractWord(ctx context.Context, filePath string) (string, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", legacyOfficeError(filePath, fmt.Errorf("open word archive: %w", err))
	}
	defer func() {
		_ = zr.Close()
	}()

	text, err := documentText(&zr.Reader)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = WordEmpty
	}

	if e.embeddedImages {
		text = appendImageText(text, e.wordImageText(ctx, &zr.Reader))
	}
	return text, nil
}

// documentText reads word/document.xml and returns its runs, one line per paragraph.
func documentText(zr *zip.Reader) (string, error) {
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("word/document.xml not found")
	}

	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}
	defer func() {
		_ = rc.Close()
	}()

	return paragraphsText(rc)
}

func paragraphsText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var (
		sb     strings.Builder
		para   strings.Builder
		inText bool
	)

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString(para.String())
				sb.WriteString("\n")
				para.Reset()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	sb.WriteString(para.String())
	return sb.String(), nil
}

// wordImageText OCRs images stored under word/media/. Any failure yields "".
func (e *Extractor) wordImageText(ctx context.Context, zr *zip.Reader) string {
	logger := loggerFor(ctx)

	dir, err := os.MkdirTemp("", "word-images-*")
	if err != nil {
		logger.WarnContext(ctx, "failed to create temp dir for word images", "error", err)
		return ""
	}
	defer func() {
		_ = os.RemoveAll(dir)
	}()

	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "word/media/") || !isImageName(f.Name) {
			continue
		}
		if err := copyZipFile(f, filepath.Join(dir, path.Base(f.Name))); err != nil {
			logger.WarnContext(ctx, "failed to unpack embedded image", "image", f.Name, "error", err)
		}
	}
	return e.ocrDir(ctx, dir)
}

// maxEmbeddedImageBytes caps the unpacked size of one embedded image.
var maxEmbeddedImageBytes int64 = 20 << 20

// copyZipFile unpacks f to dst. Entries larger than maxEmbeddedImageBytes
// are rejected and leave no file behind, whatever size the header claims.
func copyZipFile(f *zip.File, dst string) error {
	if f.UncompressedSize64 > uint64(maxEmbeddedImageBytes) {
		return fmt.Errorf("%s declares %d bytes, limit is %d", f.Name, f.UncompressedSize64, maxEmbeddedImageBytes)
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = rc.Close()
	}()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(rc, maxEmbeddedImageBytes+1))
	if err == nil && n > maxEmbeddedImageBytes {
		err = fmt.Errorf("%s exceeds %d bytes", f.Name, maxEmbeddedImageBytes)
	}
	if err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
