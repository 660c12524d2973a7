package tabular

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"agrirag/internal/domain"
)

// CSVReader reads delimited text files.
type CSVReader struct {
	Comma rune
}

func (r *CSVReader) Read(ctx context.Context, path string, limit int) ([]domain.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return r.decode(ctx, f, limit)
}

func (r *CSVReader) decode(ctx context.Context, in io.Reader, limit int) ([]domain.Row, error) {
	cr := csv.NewReader(in)
	if r.Comma != 0 {
		cr.Comma = r.Comma
	}
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	first, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := header(first)

	var rows []domain.Row
	for limit <= 0 || len(rows) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isEmptyRecord(record) {
			continue
		}
		rows = append(rows, toRow(cols, record))
	}
	return rows, nil
}
