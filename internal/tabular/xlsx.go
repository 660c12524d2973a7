package tabular

import (
	"context"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"

	"agrirag/internal/domain"
)

// XLSXReader reads the first sheet of an Office Open XML workbook.
type XLSXReader struct{}

func (r *XLSXReader) Read(ctx context.Context, path string, limit int) ([]domain.Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	it, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("opening sheet %s: %w", sheets[0], err)
	}
	defer it.Close()

	var cols []string
	var rows []domain.Row
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := it.Columns()
		if err != nil {
			return nil, err
		}
		if cols == nil {
			if isEmptyRecord(record) {
				continue
			}
			cols = header(record)
			continue
		}
		if isEmptyRecord(record) {
			continue
		}
		rows = append(rows, toRow(cols, record))
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return rows, nil
}
