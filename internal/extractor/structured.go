package extractor

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

func extractTXT(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return string(data), nil
}

// extractJSON re-indents a JSON file with two spaces, keeping key order.
func extractJSON(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read json: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !json.Valid(data) {
		return "", fmt.Errorf("invalid json")
	}

	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(data), "", "  "); err != nil {
		return "", fmt.Errorf("indent json: %w", err)
	}
	return out.String(), nil
}

// extractCSV reads the header row as field names and renders the remaining
// rows as a JSON array of records.
func extractCSV(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open csv: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return "[]", nil
	}

	header := rows[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return recordsJSON(header, rows[1:], false)
}

// extractSpreadsheet renders the first worksheet as a JSON array of records
// keyed by the first row. Empty cells and blank rows are left out.
func extractSpreadsheet(_ context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", legacyOfficeError(path, fmt.Errorf("open spreadsheet: %w", err))
	}
	defer func() {
		_ = f.Close()
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "[]", nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return "[]", nil
	}
	return recordsJSON(rows[0], rows[1:], true)
}

// recordsJSON renders rows as an indented JSON array of objects whose keys
// follow header order. Missing header names become __EMPTY, __EMPTY_1, ...
// When skipEmpty is set, empty cells are omitted and rows with no values are
// dropped; otherwise missing cells are rendered as "".
func recordsJSON(header []string, rows [][]string, skipEmpty bool) (string, error) {
	keys, slots := headerKeys(header)

	width := len(header)
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	for len(slots) < width {
		keys, slots = appendKey(keys, slots, "")
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	written := 0
	for _, row := range rows {
		values := make(map[string]string, len(keys))
		present := make(map[string]bool, len(keys))
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			if skipEmpty && cell == "" {
				continue
			}
			if !skipEmpty && i >= len(header) && cell == "" {
				continue
			}
			values[slots[i]] = cell
			present[slots[i]] = true
		}
		if len(present) == 0 && skipEmpty {
			continue
		}

		if written > 0 {
			buf.WriteByte(',')
		}
		written++
		buf.WriteByte('{')
		first := true
		for _, key := range keys {
			if !present[key] {
				continue
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			buf.Write(marshalString(key))
			buf.WriteByte(':')
			buf.Write(marshalString(values[key]))
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return "", fmt.Errorf("indent records: %w", err)
	}
	return out.String(), nil
}

// headerKeys returns the unique keys in first-seen order and, for each column,
// the key it writes to. Repeated names share a key so the later column wins.
func headerKeys(header []string) (keys []string, slots []string) {
	for _, name := range header {
		keys, slots = appendKey(keys, slots, name)
	}
	return keys, slots
}

func appendKey(keys, slots []string, name string) ([]string, []string) {
	if name == "" {
		name = "__EMPTY"
		for n := 1; contains(keys, name); n++ {
			name = "__EMPTY_" + strconv.Itoa(n)
		}
		keys = append(keys, name)
		return keys, append(slots, name)
	}
	if !contains(keys, name) {
		keys = append(keys, name)
	}
	return keys, append(slots, name)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func marshalString(s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return bytes.TrimRight(buf.Bytes(), "\n")
}
