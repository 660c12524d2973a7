package tabular

import (
	"context"
	"errors"
	"fmt"

	"github.com/extrame/xls"

	"agrirag/internal/domain"
)

// XLSReader reads the first sheet of a legacy BIFF workbook.
type XLSReader struct{}

func (r *XLSReader) Read(ctx context.Context, path string, limit int) ([]domain.Row, error) {
	return guardMalformed(func() ([]domain.Row, error) { return r.read(ctx, path, limit) })
}

// guardMalformed turns a decoder panic into an error. The BIFF decoder
// panics on some truncated files.
func guardMalformed(read func() ([]domain.Row, error)) (rows []domain.Row, err error) {
	defer func() {
		if p := recover(); p != nil {
			rows, err = nil, fmt.Errorf("malformed xls file: %v", p)
		}
	}()
	return read()
}

func (r *XLSReader) read(ctx context.Context, path string, limit int) ([]domain.Row, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, err
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, errors.New("workbook has no sheets")
	}

	var (
		cols []string
		rows []domain.Row
	)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		xr := sheet.Row(i)
		if xr == nil {
			continue
		}
		record := make([]string, xr.LastCol())
		for j := xr.FirstCol(); j < xr.LastCol(); j++ {
			record[j] = xr.Col(j)
		}
		if isEmptyRecord(record) {
			continue
		}
		if cols == nil {
			cols = header(record)
			continue
		}
		rows = append(rows, toRow(cols, record))
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}
