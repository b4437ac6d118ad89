package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/coursekit/content-port/internal/model"
)

// TypeColumn is the optional column that assigns a record kind per row in
// mixed-kind source files.
const TypeColumn = "_type"

// CSVOptions configures the streaming CSV record source.
type CSVOptions struct {
	Kind       string // record kind for every row; a _type column overrides it
	Delimiter  rune   // default ','
	Comment    rune   // comment character (0 = none)
	LazyQuotes bool
}

// StreamCSVRecords reads a CSV file with a header row and sends one
// RawRecord per data row. The caller must consume the record channel; both
// channels are closed when processing completes. Row indexes are zero-based
// over data rows.
func StreamCSVRecords(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan model.RawRecord, <-chan error) {
	recCh := make(chan model.RawRecord, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow ragged rows

		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "csv: read header")
			return
		}
		columns := normalizeHeader(header)

		index := 0
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			rec := rowToRecord(columns, row, opts.Kind, index)
			index++

			select {
			case recCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return recCh, errCh
}

func normalizeHeader(header []string) []string {
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return columns
}

func rowToRecord(columns, row []string, kind string, index int) model.RawRecord {
	fields := make(map[string]string, len(columns))
	for i, col := range columns {
		if col == "" || i >= len(row) {
			continue
		}
		fields[col] = strings.TrimSpace(row[i])
	}

	if t := fields[TypeColumn]; t != "" {
		kind = t
		delete(fields, TypeColumn)
	}

	return model.RawRecord{Kind: kind, Index: index, Fields: fields}
}
