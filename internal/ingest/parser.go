package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// DefaultPreviewRows is the number of rows returned by Preview when no count is given.
const DefaultPreviewRows = 5

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Record is one data row keyed by header.
type Record map[string]any

// Table is the decoded content of a tabular file.
type Table struct {
	Headers   []string
	Rows      []Record
	TotalRows int
}

// Parse decodes the entire file.
func Parse(content []byte, format Format) (Table, error) {
	return decode(content, format, 0)
}

// Preview decodes the first rows of the file and estimates the total row count.
func Preview(content []byte, format Format, rows int) (Table, error) {
	if rows <= 0 {
		rows = DefaultPreviewRows
	}
	return decode(content, format, rows)
}

func decode(content []byte, format Format, limit int) (Table, error) {
	switch format {
	case FormatCSV:
		return decodeCSV(content, limit)
	case FormatXLSX, FormatXLS:
		return decodeWorkbook(content, limit)
	default:
		return Table{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func decodeCSV(content []byte, limit int) (Table, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if !utf8.Valid(content) {
		return Table{}, fmt.Errorf("%w: content is not valid utf-8", ErrParseFailure)
	}

	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Table{Headers: []string{}, Rows: []Record{}}, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}

	table := Table{Headers: headers, Rows: make([]Record, 0)}
	for limit == 0 || len(table.Rows) < limit {
		values, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("%w: %v", ErrParseFailure, err)
		}
		record := make(Record, len(headers))
		for index, header := range headers {
			if index < len(values) {
				record[header] = values[index]
			} else {
				record[header] = nil
			}
		}
		table.Rows = append(table.Rows, record)
	}

	if limit == 0 {
		table.TotalRows = len(table.Rows)
	} else {
		table.TotalRows = bytes.Count(content, []byte{'\n'})
	}
	return table, nil
}
