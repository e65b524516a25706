package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// ContentType is the MIME type of every export.
	ContentType = "text/csv"

	ColumnStatus          = "status"
	ColumnActivitiesCount = "activities_count"
	ColumnInPipeline      = "in_pipeline"

	pipelineYes = "Yes"
	pipelineNo  = "No"
)

var errMissingWriter = errors.New("export: writer is required")

// Row is one contact projected for export.
type Row struct {
	Fields          map[string]any
	Status          string
	ActivitiesCount int64
	InPipeline      bool
}

// Options selects the projected data fields and the derived columns.
type Options struct {
	Fields                 []string
	IncludeStatus          bool
	IncludeActivitiesCount bool
	IncludePipeline        bool
}

// Header returns the column names written on the first line.
func (o Options) Header() []string {
	header := make([]string, 0, len(o.Fields)+3)
	header = append(header, o.Fields...)
	if o.IncludeStatus {
		header = append(header, ColumnStatus)
	}
	if o.IncludeActivitiesCount {
		header = append(header, ColumnActivitiesCount)
	}
	if o.IncludePipeline {
		header = append(header, ColumnInPipeline)
	}
	return header
}

// Write emits the header and one line per row, keeping the row order.
func Write(w io.Writer, rows []Row, options Options) error {
	if w == nil {
		return errMissingWriter
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(options.Header()); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for index, row := range rows {
		if err := writer.Write(options.record(row)); err != nil {
			return fmt.Errorf("export: write row %d: %w", index+1, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}

func (o Options) record(row Row) []string {
	record := make([]string, 0, len(o.Fields)+3)
	for _, field := range o.Fields {
		record = append(record, CellText(row.Fields[field]))
	}
	if o.IncludeStatus {
		record = append(record, row.Status)
	}
	if o.IncludeActivitiesCount {
		record = append(record, strconv.FormatInt(row.ActivitiesCount, 10))
	}
	if o.IncludePipeline {
		if row.InPipeline {
			record = append(record, pipelineYes)
		} else {
			record = append(record, pipelineNo)
		}
	}
	return record
}

// CellText renders one data value. Missing and null values become empty cells.
func CellText(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	}
}

// FileName returns the suggested attachment name for a list export.
func FileName(listID string) string {
	return fmt.Sprintf("contacts_%s.csv", strings.TrimSpace(listID))
}

// ParseFields reads a comma separated field list, dropping blanks.
func ParseFields(raw string) []string {
	fields := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			fields = append(fields, trimmed)
		}
	}
	return fields
}
