package ingest

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

func decodeWorkbook(content []byte, limit int) (Table, error) {
	workbook, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return Table{}, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	defer workbook.Close() //nolint:errcheck

	sheet := workbook.GetSheetName(workbook.GetActiveSheetIndex())
	if sheet == "" {
		return Table{}, fmt.Errorf("%w: workbook has no active sheet", ErrParseFailure)
	}

	rows, err := workbook.Rows(sheet)
	if err != nil {
		return Table{}, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	defer rows.Close() //nolint:errcheck

	table := Table{Headers: []string{}, Rows: make([]Record, 0)}
	rowIndex := 0
	for rows.Next() {
		rowIndex++
		columns, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return Table{}, fmt.Errorf("%w: %v", ErrParseFailure, err)
		}
		if rowIndex == 1 {
			table.Headers = append(table.Headers, columns...)
			continue
		}
		if limit > 0 && len(table.Rows) >= limit {
			break
		}
		record := make(Record, len(table.Headers))
		for columnIndex, header := range table.Headers {
			if columnIndex >= len(columns) {
				record[header] = nil
				continue
			}
			record[header] = cellValue(workbook, sheet, columnIndex+1, rowIndex, columns[columnIndex])
		}
		if isBlankRecord(record) {
			continue
		}
		table.Rows = append(table.Rows, record)
	}
	if err := rows.Error(); err != nil {
		return Table{}, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}

	if limit == 0 {
		table.TotalRows = len(table.Rows)
		return table, nil
	}
	if maxRow, ok := sheetMaxRow(workbook, sheet); ok {
		table.TotalRows = maxRow - 1
		return table, nil
	}
	for rows.Next() {
		rowIndex++
	}
	if rowIndex > 0 {
		table.TotalRows = rowIndex - 1
	}
	return table, nil
}

// cellValue converts a raw cell string into its native type.
func cellValue(workbook *excelize.File, sheet string, column, row int, raw string) any {
	if raw == "" {
		return nil
	}
	cellName, err := excelize.CoordinatesToCellName(column, row)
	if err != nil {
		return raw
	}
	cellType, err := workbook.GetCellType(sheet, cellName)
	if err != nil {
		return raw
	}
	switch cellType {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true")
	case excelize.CellTypeNumber, excelize.CellTypeUnset, excelize.CellTypeDate:
		if number, err := strconv.ParseFloat(raw, 64); err == nil {
			return number
		}
		return raw
	default:
		return raw
	}
}

// sheetMaxRow reads the declared sheet dimension. Single-cell dimensions are not trusted.
func sheetMaxRow(workbook *excelize.File, sheet string) (int, bool) {
	dimension, err := workbook.GetSheetDimension(sheet)
	if err != nil || !strings.Contains(dimension, ":") {
		return 0, false
	}
	bounds := strings.Split(dimension, ":")
	_, maxRow, err := excelize.CellNameToCoordinates(bounds[len(bounds)-1])
	if err != nil || maxRow < 1 {
		return 0, false
	}
	return maxRow, true
}

func isBlankRecord(record Record) bool {
	for _, value := range record {
		if value != nil {
			return false
		}
	}
	return true
}
