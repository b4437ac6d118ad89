package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/coursekit/content-port/internal/model"
)

// XLSXOptions configures the XLSX record source.
type XLSXOptions struct {
	Kind       string // record kind for every row; a _type column overrides it
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// ReadXLSXRecords reads a spreadsheet whose first row is the header and
// returns one RawRecord per data row.
func ReadXLSXRecords(path string, opts XLSXOptions) ([]model.RawRecord, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	var columns []string
	var records []model.RawRecord
	index := 0
	for i, row := range sheet.Rows {
		cells := rowToStrings(row)
		if i == 0 {
			columns = normalizeHeader(cells)
			continue
		}
		records = append(records, rowToRecord(columns, cells, opts.Kind, index))
		index++
	}

	return records, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range", opts.SheetIndex)
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		out[i] = cell.String()
	}
	return out
}
