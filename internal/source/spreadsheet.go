package source

import (
	"context"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"filequery/internal/qerr"
	"filequery/internal/schema"
)

// Spreadsheet reads the first sheet of an xlsx workbook, header row
// required.
//
// Known limitation: the xlsx container is a zip of XML parts, so opening
// it parses the shared-string table and sheet structure up front. Row
// iteration afterwards streams, but peak memory is bounded by the
// workbook, not by a fixed sample size. This is a property of the format,
// documented rather than silently ignored.
type Spreadsheet struct {
	path string
}

func NewSpreadsheet(path string) *Spreadsheet { return &Spreadsheet{path: path} }

func (s *Spreadsheet) Format() Format { return FormatSpreadsheet }
func (s *Spreadsheet) Path() string   { return s.path }

func (s *Spreadsheet) Open(ctx context.Context) (Handle, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, qerr.Wrap(qerr.UnreadableSource, err, "open workbook %s", s.path)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, qerr.New(qerr.UnreadableSource, "workbook %s has no sheets", s.path)
	}

	it, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, qerr.Wrap(qerr.UnreadableSource, err, "iterate sheet %q of %s", sheets[0], s.path)
	}

	if !it.Next() {
		_ = it.Close()
		_ = f.Close()
		return nil, qerr.New(qerr.UnreadableSource, "sheet %q of %s has no header row", sheets[0], s.path)
	}
	hdr, err := it.Columns()
	if err != nil {
		_ = it.Close()
		_ = f.Close()
		return nil, qerr.Wrap(qerr.UnreadableSource, err, "read header of %s", s.path)
	}

	cols := make([]string, len(hdr))
	for i, h := range hdr {
		cols[i] = strings.TrimSpace(h)
	}

	return &spreadsheetHandle{ctx: ctx, f: f, it: it, cols: cols}, nil
}

type spreadsheetHandle struct {
	ctx  context.Context
	f    *excelize.File
	it   *excelize.Rows
	cols []string
}

func (h *spreadsheetHandle) Columns() []string            { return h.cols }
func (h *spreadsheetHandle) Types() []schema.Type         { return nil }
func (h *spreadsheetHandle) EstimatedRows() (int64, bool) { return 0, false }

func (h *spreadsheetHandle) Next() (Row, error) {
	select {
	case <-h.ctx.Done():
		return nil, h.ctx.Err()
	default:
	}

	if !h.it.Next() {
		if err := h.it.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	cells, err := h.it.Columns()
	if err != nil {
		return nil, err
	}

	// Trailing cells beyond the header are dropped; short rows pad with
	// nil, since xlsx omits empty trailing cells routinely.
	row := make(Row, len(h.cols))
	for i := range h.cols {
		if i >= len(cells) {
			row[i] = nil
			continue
		}
		v := strings.TrimSpace(cells[i])
		if v == "" {
			row[i] = nil
		} else {
			row[i] = v
		}
	}
	return row, nil
}

func (h *spreadsheetHandle) Close() error {
	itErr := h.it.Close()
	fErr := h.f.Close()
	if itErr != nil {
		return itErr
	}
	return fErr
}
