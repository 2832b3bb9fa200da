// Package ingest turns an uploaded recipient file into a deduplicated list of
// E.164 phone numbers plus per-row diagnostics. Row-level failures never abort
// the batch; only an unreadable file is a fatal error.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"github.com/xuri/excelize/v2"

	"broadcast/internal/domain"
	"broadcast/internal/observability"
)

// RowError is a per-row diagnostic. Row is 1-based over data rows.
type RowError struct {
	Row    int    `json:"row"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d: %s - %s", e.Row, e.Reason, e.Raw)
}

type Result struct {
	Numbers []string
	Errors  []RowError
}

var ErrEmptyFile = fmt.Errorf("%w: file contains no rows", domain.ErrUnreadableFile)

// ParseFile reads a CSV or XLSX recipient file and extracts valid phone
// numbers. The format is chosen by file extension.
func ParseFile(r io.Reader, filename string) (Result, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		rows, err = readXLSX(r)
	case ".csv", ".txt":
		rows, err = readCSV(r)
	default:
		return Result{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedUpload, filepath.Ext(filename))
	}
	if err != nil {
		// A file we cannot read at all is the caller's input problem,
		// not a dependency failure.
		return Result{}, fmt.Errorf("%w: %v", domain.ErrUnreadableFile, err)
	}
	if len(rows) == 0 {
		return Result{}, ErrEmptyFile
	}

	header := rows[0]
	col := DetectPhoneColumn(header)

	data := rows[1:]
	// Headerless files: if the would-be header cell itself is a phone number,
	// the first row is data.
	if _, err := NormalizeNumber(cell(header, col)); err == nil {
		data = rows
	}

	var res Result
	seen := make(map[string]struct{})
	for i, row := range data {
		raw := strings.TrimSpace(cell(row, col))
		num, err := NormalizeNumber(raw)
		if err != nil {
			observability.IngestRows.WithLabelValues("invalid").Inc()
			res.Errors = append(res.Errors, RowError{Row: i + 1, Raw: raw, Reason: err.Error()})
			continue
		}
		observability.IngestRows.WithLabelValues("ok").Inc()
		if _, dup := seen[num]; dup {
			continue
		}
		seen[num] = struct{}{}
		res.Numbers = append(res.Numbers, num)
	}
	return res, nil
}

// DetectPhoneColumn picks the column most likely to hold phone numbers:
// the first header containing "phone", "number" or "mobile" (case-insensitive),
// falling back to column 0.
func DetectPhoneColumn(headers []string) int {
	for i, h := range headers {
		l := strings.ToLower(h)
		if strings.Contains(l, "phone") || strings.Contains(l, "number") || strings.Contains(l, "mobile") {
			return i
		}
	}
	return 0
}

// NormalizeNumber parses raw as an international phone number (no default
// region) and canonicalizes it to E.164.
func NormalizeNumber(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty cell")
	}
	num, err := phonenumbers.Parse(raw, "")
	if err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("invalid number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func cell(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return row[col]
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	return cr.ReadAll()
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}
