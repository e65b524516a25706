package mapping

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/ingest"
	"github.com/badoux/checkmail"
)

// EmailField is the canonical field name checked for address shape.
const EmailField = "email"

// headerRowOffset converts a zero-based data index into the 1-based file row number.
const headerRowOffset = 2

// Options tunes the validation pass.
type Options struct {
	// StrictEmail additionally requires addresses to pass a full format check.
	StrictEmail bool
}

// InvalidRow is a record that failed validation together with its source row number.
type InvalidRow struct {
	RowNumber int           `json:"_row_number"`
	Errors    []string      `json:"_errors"`
	Data      ingest.Record `json:"data"`
}

// Result splits mapped records into importable and rejected rows.
type Result struct {
	Valid   []ingest.Record
	Invalid []InvalidRow
}

// Validate drops blank records and flags records with malformed email addresses.
func Validate(records []ingest.Record, options Options) Result {
	result := Result{
		Valid:   make([]ingest.Record, 0, len(records)),
		Invalid: make([]InvalidRow, 0),
	}
	for index, record := range records {
		if isEmptyRecord(record) {
			continue
		}
		problems := validateRecord(record, options)
		if len(problems) > 0 {
			result.Invalid = append(result.Invalid, InvalidRow{
				RowNumber: index + headerRowOffset,
				Errors:    problems,
				Data:      record,
			})
			continue
		}
		result.Valid = append(result.Valid, record)
	}
	return result
}

func validateRecord(record ingest.Record, options Options) []string {
	var problems []string
	value, ok := record[EmailField]
	if !ok || isEmptyValue(value) {
		return problems
	}
	email := fmt.Sprint(value)
	if !strings.Contains(email, "@") {
		return append(problems, fmt.Sprintf("Invalid email format: %s", email))
	}
	if options.StrictEmail {
		if err := checkmail.ValidateFormat(strings.TrimSpace(email)); err != nil {
			problems = append(problems, fmt.Sprintf("Invalid email format: %s", email))
		}
	}
	return problems
}

func isEmptyRecord(record ingest.Record) bool {
	for _, value := range record {
		if !isEmptyValue(value) {
			return false
		}
	}
	return true
}

func isEmptyValue(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	default:
		return false
	}
}
