package extractor

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// mockRunner is a test double for CommandRunner.
type mockRunner struct {
	mu     sync.Mutex
	output []byte
	err    error
	calls  [][]string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]string{name}, args...))
	return m.output, m.err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// writeDocx builds a minimal Word archive with the given document.xml body
// and optional media files.
func writeDocx(t *testing.T, body string, media map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stored.bin")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`))
	require.NoError(t, err)

	for name, data := range media {
		mw, err := zw.Create("word/media/" + name)
		require.NoError(t, err)
		_, err = mw.Write(data)
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestExtract_UnsupportedType(t *testing.T) {
	e := New(WithRunner(&mockRunner{}))
	path := writeFile(t, "archive.bin", "data")

	text, err := e.Extract(context.Background(), path, "archive.zip")

	require.NoError(t, err)
	assert.Equal(t, UnsupportedFileType, text)
	assert.False(t, e.Supported("archive.zip"))
	assert.True(t, e.Supported("REPORT.PDF"))
}

func TestExtract_MissingFile(t *testing.T) {
	e := New(WithRunner(&mockRunner{}))

	_, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "gone.txt"), "gone.txt")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExtraction))
	var extErr *ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, ".txt", extErr.Format)
}

func TestExtract_TXT(t *testing.T) {
	e := New()
	content := "سطر عربي\nEnglish line\n"
	path := writeFile(t, "upload-1", content)

	text, err := e.Extract(context.Background(), path, "Notes.TXT")

	require.NoError(t, err)
	assert.Equal(t, content, text)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data), "source file must be untouched")
}

func TestExtract_JSON(t *testing.T) {
	e := New()

	t.Run("reindents and keeps key order", func(t *testing.T) {
		path := writeFile(t, "a.json", `{"b":1,"a":{"z":true,"y":[1,2]}}`)

		text, err := e.Extract(context.Background(), path, "a.json")

		require.NoError(t, err)
		want := "{\n  \"b\": 1,\n  \"a\": {\n    \"z\": true,\n    \"y\": [\n      1,\n      2\n    ]\n  }\n}"
		assert.Equal(t, want, text)
	})

	t.Run("invalid json", func(t *testing.T) {
		path := writeFile(t, "bad.json", `{"b":`)

		_, err := e.Extract(context.Background(), path, "bad.json")

		assert.ErrorIs(t, err, ErrExtraction)
	})
}

func TestExtract_CSV(t *testing.T) {
	e := New()

	t.Run("records keyed by header", func(t *testing.T) {
		path := writeFile(t, "staff.csv", "name,department\nAlice,HR\nBob,<IT>\n")

		text, err := e.Extract(context.Background(), path, "staff.csv")

		require.NoError(t, err)
		want := "[\n  {\n    \"name\": \"Alice\",\n    \"department\": \"HR\"\n  },\n  {\n    \"name\": \"Bob\",\n    \"department\": \"<IT>\"\n  }\n]"
		assert.Equal(t, want, text)
	})

	t.Run("short rows are padded", func(t *testing.T) {
		path := writeFile(t, "short.csv", "a,b\n1\n")

		text, err := e.Extract(context.Background(), path, "short.csv")

		require.NoError(t, err)
		assert.Equal(t, "[\n  {\n    \"a\": \"1\",\n    \"b\": \"\"\n  }\n]", text)
	})

	t.Run("header only", func(t *testing.T) {
		path := writeFile(t, "empty.csv", "a,b\n")

		text, err := e.Extract(context.Background(), path, "empty.csv")

		require.NoError(t, err)
		assert.Equal(t, "[]", text)
	})
}

func TestExtract_Spreadsheet(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetCellValue(sheet, "A1", "name"))
	require.NoError(t, f.SetCellValue(sheet, "B1", "salary"))
	require.NoError(t, f.SetCellValue(sheet, "A2", "Alice"))
	require.NoError(t, f.SetCellValue(sheet, "B2", "5000"))
	require.NoError(t, f.SetCellValue(sheet, "A3", "Bob"))
	path := filepath.Join(t.TempDir(), "stored.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	text, err := New().Extract(context.Background(), path, "payroll.xlsx")

	require.NoError(t, err)
	want := "[\n  {\n    \"name\": \"Alice\",\n    \"salary\": \"5000\"\n  },\n  {\n    \"name\": \"Bob\"\n  }\n]"
	assert.Equal(t, want, text)
}

func TestExtract_SpreadsheetCorrupt(t *testing.T) {
	path := writeFile(t, "legacy.xls", "not a workbook")

	_, err := New().Extract(context.Background(), path, "legacy.xls")

	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtract_Word(t *testing.T) {
	t.Run("paragraphs", func(t *testing.T) {
		path := writeDocx(t,
			`<w:p><w:r><w:t>Employment</w:t></w:r><w:r><w:t xml:space="preserve"> contract</w:t></w:r></w:p>`+
				`<w:p><w:r><w:t>Second paragraph</w:t></w:r></w:p>`, nil)

		text, err := New().Extract(context.Background(), path, "contract.docx")

		require.NoError(t, err)
		assert.Equal(t, "Employment contract\nSecond paragraph", text)
	})

	t.Run("empty document", func(t *testing.T) {
		path := writeDocx(t, `<w:p></w:p>`, nil)

		text, err := New().Extract(context.Background(), path, "blank.docx")

		require.NoError(t, err)
		assert.Equal(t, WordEmpty, text)
	})

	t.Run("not an archive", func(t *testing.T) {
		path := writeFile(t, "old.doc", "binary word 97")

		_, err := New().Extract(context.Background(), path, "old.doc")

		assert.ErrorIs(t, err, ErrExtraction)
	})

	t.Run("embedded images", func(t *testing.T) {
		runner := &mockRunner{output: []byte("  stamp text \n")}
		path := writeDocx(t, `<w:p><w:r><w:t>Body</w:t></w:r></w:p>`,
			map[string][]byte{"image1.png": []byte("png"), "notes.xml": []byte("<x/>")})
		e := New(WithRunner(runner), WithEmbeddedImages(true))

		text, err := e.Extract(context.Background(), path, "scan.docx")

		require.NoError(t, err)
		assert.Equal(t, "Body\n\n[Text from embedded images]\nstamp text\n", text)
		require.Len(t, runner.calls, 1)
		assert.Equal(t, "tesseract", runner.calls[0][0])
	})

	t.Run("embedded image ocr failure is ignored", func(t *testing.T) {
		runner := &mockRunner{err: errors.New("tesseract missing")}
		path := writeDocx(t, `<w:p><w:r><w:t>Body</w:t></w:r></w:p>`,
			map[string][]byte{"image1.jpg": []byte("jpg")})
		e := New(WithRunner(runner), WithEmbeddedImages(true))

		text, err := e.Extract(context.Background(), path, "scan.docx")

		require.NoError(t, err)
		assert.Equal(t, "Body", text)
	})
}

func TestExtract_LegacyOffice(t *testing.T) {
	ole := string([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}) + "rest of compound file"

	for _, name := range []string{"payroll.xls", "memo.doc"} {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, name, ole)

			_, err := New().Extract(context.Background(), path, name)

			assert.ErrorIs(t, err, ErrExtraction)
			assert.ErrorIs(t, err, ErrLegacyFormat)
		})
	}
}

func TestExtract_WordOversizedImageSkipped(t *testing.T) {
	prev := maxEmbeddedImageBytes
	maxEmbeddedImageBytes = 8
	t.Cleanup(func() { maxEmbeddedImageBytes = prev })

	runner := &mockRunner{output: []byte("small text")}
	path := writeDocx(t, `<w:p><w:r><w:t>Body</w:t></w:r></w:p>`, map[string][]byte{
		"image1.png": []byte("tiny"),
		"image2.png": []byte(strings.Repeat("x", 64)),
	})
	e := New(WithRunner(runner), WithEmbeddedImages(true))

	text, err := e.Extract(context.Background(), path, "scan.docx")

	require.NoError(t, err)
	assert.Equal(t, "Body\n\n[Text from embedded images]\nsmall text\n", text)
	require.Len(t, runner.calls, 1, "only the image within the limit is OCRed")
	assert.Contains(t, strings.Join(runner.calls[0], " "), "image1.png")
}

func TestExtract_Image(t *testing.T) {
	tests := []struct {
		name     string
		runner   *mockRunner
		want     string
		wantErr  bool
		wantArgs []string
	}{
		{
			name:     "text found",
			runner:   &mockRunner{output: []byte("مرحبا\nHello\n")},
			want:     "مرحبا\nHello",
			wantArgs: []string{"stdout", "-l", "ara+eng"},
		},
		{
			name:   "no text",
			runner: &mockRunner{output: []byte(" \n")},
			want:   ImageNoText,
		},
		{
			name:    "ocr failure",
			runner:  &mockRunner{err: errors.New("exit status 1")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "upload", "image bytes")
			e := New(WithRunner(tt.runner))

			text, err := e.Extract(context.Background(), path, "ID-card.JPEG")

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrExtraction)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
			if tt.wantArgs != nil {
				require.Len(t, tt.runner.calls, 1)
				assert.Equal(t, path, tt.runner.calls[0][1])
				assert.Equal(t, tt.wantArgs, tt.runner.calls[0][2:])
			}
		})
	}
}

func TestExtract_ImageCustomOCR(t *testing.T) {
	runner := &mockRunner{output: []byte("text")}
	e := New(WithRunner(runner), WithOCRCommand("/opt/bin/tesseract"), WithOCRLanguages("eng"))
	path := writeFile(t, "upload", "image bytes")

	_, err := e.Extract(context.Background(), path, "a.png")

	require.NoError(t, err)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "/opt/bin/tesseract", runner.calls[0][0])
	assert.Equal(t, "eng", runner.calls[0][len(runner.calls[0])-1])
}

func TestExtract_PDFInvalid(t *testing.T) {
	path := writeFile(t, "broken.pdf", "this is not a pdf")

	_, err := New(WithRunner(&mockRunner{})).Extract(context.Background(), path, "broken.pdf")

	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtract_Markdown(t *testing.T) {
	content := "# Leave policy\n\nEmployees get **21** days.\n\n- Annual\n- Sick\n\n| Type | Days |\n|------|------|\n| Annual | 21 |\n"
	path := writeFile(t, "policy.md", content)

	text, err := New().Extract(context.Background(), path, "policy.md")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Leave policy\n"), text)
	assert.Contains(t, text, "Employees get 21 days.")
	assert.Contains(t, text, "Annual\nSick")
	assert.Contains(t, text, "Type | Days")
	assert.Contains(t, text, "Annual | 21")
	assert.NotContains(t, text, "**")
	assert.NotContains(t, text, "#")
}

func TestAppendImageText(t *testing.T) {
	assert.Equal(t, "body", appendImageText("body", "  \n"))
	assert.Equal(t, "body\n\n[Text from embedded images]\nx\n", appendImageText("body", "x\n"))
}
