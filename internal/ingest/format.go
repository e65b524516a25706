package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies a supported tabular file encoding.
type Format string

const (
	// FormatCSV is a comma separated text file.
	FormatCSV Format = "csv"
	// FormatXLSX is an Office Open XML workbook.
	FormatXLSX Format = "xlsx"
	// FormatXLS is a legacy workbook extension routed through the workbook decoder.
	FormatXLS Format = "xls"
)

// DefaultMaxUploadBytes caps accepted uploads at 10 MiB.
const DefaultMaxUploadBytes int64 = 10 * 1024 * 1024

var (
	// ErrUnsupportedFormat indicates that the file extension is not recognized.
	ErrUnsupportedFormat = errors.New("ingest: unsupported format")
	// ErrParseFailure indicates that file content could not be decoded.
	ErrParseFailure = errors.New("ingest: parse failure")
	// ErrFileTooLarge indicates that an upload exceeds the configured size cap.
	ErrFileTooLarge = errors.New("ingest: file too large")
	// ErrEmptyFile indicates that an upload carried no bytes.
	ErrEmptyFile = errors.New("ingest: empty file")
)

// DetectFormat resolves the file format from the file name extension.
func DetectFormat(fileName string) (Format, error) {
	extension := strings.ToLower(strings.TrimPrefix(filepath.Ext(strings.TrimSpace(fileName)), "."))
	switch Format(extension) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	case FormatXLS:
		return FormatXLS, nil
	default:
		if extension == "" {
			return "", fmt.Errorf("%w: missing extension", ErrUnsupportedFormat)
		}
		return "", fmt.Errorf("%w: .%s", ErrUnsupportedFormat, extension)
	}
}

// ValidateUpload checks the extension and size of an uploaded file before it is parsed.
func ValidateUpload(fileName string, size int64, maxBytes int64) (Format, error) {
	format, err := DetectFormat(fileName)
	if err != nil {
		return "", err
	}
	if size <= 0 {
		return "", ErrEmptyFile
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if size > maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, size, maxBytes)
	}
	return format, nil
}
