// Package tabular reads CSV and spreadsheet files into rows of scalar cells.
package tabular

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"agrirag/internal/domain"
)

// Reader loads the rows of one tabular file. The first record is the header.
// When limit > 0 at most limit data rows are returned.
type Reader interface {
	Read(ctx context.Context, path string, limit int) ([]domain.Row, error)
}

// Open returns the reader for path's extension.
func Open(path string) (Reader, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		return &CSVReader{Comma: ','}, nil
	case ".tsv":
		return &CSVReader{Comma: '\t'}, nil
	case ".xlsx", ".xlsm":
		return &XLSXReader{}, nil
	case ".xls":
		return &XLSReader{}, nil
	default:
		if ext == "" {
			ext = "(none)"
		}
		return nil, domain.Wrap(domain.ErrUnsupportedFormat, fmt.Sprintf("extension %s of %s", ext, filepath.Base(path)), nil)
	}
}

// Supported reports whether path has an extension Open accepts.
func Supported(path string) bool {
	_, err := Open(path)
	return err == nil
}

// naValues mirrors the strings pandas treats as missing by default.
var naValues = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// ParseCell converts raw cell text into a Value. Text that only parses as
// an infinity ("inf", "Infinity", "1e999") stays text.
func ParseCell(raw string) domain.Value {
	s := strings.TrimSpace(raw)
	if _, na := naValues[s]; na {
		return domain.Null()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) {
		return domain.Number(f)
	}
	return domain.String(s)
}

// header normalises the header record: strips a UTF-8 BOM, names blank
// columns "Unnamed: i" and suffixes duplicates ".1", ".2", ...
func header(record []string) []string {
	cols := make([]string, len(record))
	seen := make(map[string]int, len(record))
	for i, raw := range record {
		if i == 0 {
			raw = strings.TrimPrefix(raw, "\ufeff")
		}
		name := strings.TrimSpace(raw)
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = name + "." + strconv.Itoa(n+1)
		} else {
			seen[name] = 0
		}
		cols[i] = name
	}
	return cols
}

// toRow maps a record onto the header. Cells beyond the header are dropped
// and missing trailing cells stay absent.
func toRow(cols []string, record []string) domain.Row {
	row := make(domain.Row, len(cols))
	for i, c := range cols {
		if i >= len(record) {
			break
		}
		row[c] = ParseCell(record[i])
	}
	return row
}

func isEmptyRecord(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
