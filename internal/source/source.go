// Package source implements the format-specific readers behind the
// uniform schema+row-access abstraction.
//
// Each supported format is one variant:
//   - delimited text (comma or tab separated, header row required)
//   - spreadsheet (first sheet, header row required)
//   - columnar binary (embedded schema)
//
// A variant knows how to open a file and stream its rows; it knows nothing
// about type inference, registration, or querying. Handles are scoped
// resources: acquired for one pass and always closed, including on
// failure paths.
package source

import (
	"context"
	"path/filepath"
	"strings"

	"filequery/internal/qerr"
	"filequery/internal/schema"
)

// Format identifies the source variant.
type Format string

const (
	FormatDelimited   Format = "delimited"
	FormatSpreadsheet Format = "spreadsheet"
	FormatColumnar    Format = "columnar"
)

// Row is one data row, aligned to the handle's Columns order. Cells are
// raw strings for text-based formats and native values (int64, float64,
// bool, time.Time, string, nil) for columnar sources.
type Row []any

// Handle is an open, streaming view of a source file.
//
// Next returns io.EOF after the last row. Close releases the underlying
// file and is safe to call after an error from Next.
type Handle interface {
	// Columns returns the header display names in file order.
	Columns() []string

	// Types returns the embedded column types when the format carries a
	// schema of its own (columnar), or nil when types must be inferred.
	Types() []schema.Type

	// EstimatedRows returns a total row count when the format exposes one
	// cheaply (columnar footer metadata). ok is false otherwise.
	EstimatedRows() (n int64, ok bool)

	Next() (Row, error)
	Close() error
}

// Source is a named, re-openable dataset file.
type Source interface {
	Format() Format
	Path() string

	// Open acquires a fresh row stream. Each call re-opens the file, so a
	// Source may be read concurrently by independent queries.
	Open(ctx context.Context) (Handle, error)
}

// DetectFormat maps a file path to its source format by extension.
// Anything unrecognized is rejected before registration.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		return FormatDelimited, nil
	case ".xlsx":
		return FormatSpreadsheet, nil
	case ".parquet":
		return FormatColumnar, nil
	default:
		return "", &qerr.Error{
			Kind:    qerr.UnsupportedFormat,
			Message: "no source variant for file extension " + filepath.Ext(path),
			Source:  path,
		}
	}
}

// New constructs the variant for path, rejecting unsupported formats.
func New(path string) (Source, error) {
	f, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	switch f {
	case FormatDelimited:
		return NewDelimited(path), nil
	case FormatSpreadsheet:
		return NewSpreadsheet(path), nil
	default:
		return NewColumnar(path), nil
	}
}
