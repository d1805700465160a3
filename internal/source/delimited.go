package source

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"filequery/internal/qerr"
	"filequery/internal/schema"
)

// Delimited reads comma- or tab-separated text with a required header row.
//
// Rows stream straight off the file; nothing is buffered beyond the
// csv.Reader's record. Records whose field count disagrees with the
// header are skipped (best-effort, matching the sampling behavior), and
// the skip count is available from the handle.
type Delimited struct {
	path  string
	comma rune
}

// NewDelimited builds the delimited variant. The delimiter follows the
// extension: .tsv streams tab-separated, everything else comma-separated.
func NewDelimited(path string) *Delimited {
	comma := ','
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		comma = '\t'
	}
	return &Delimited{path: path, comma: comma}
}

func (d *Delimited) Format() Format { return FormatDelimited }
func (d *Delimited) Path() string   { return d.path }

// Open opens the file and consumes the header row. A file whose header
// cannot be read is UnreadableSource; zero data rows is not detected here
// (that is the inferencer's EmptySource concern).
func (d *Delimited) Open(ctx context.Context) (Handle, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, qerr.Wrap(qerr.UnreadableSource, err, "open delimited file %s", d.path)
	}

	// BOM-aware decoding: UTF-8/16 BOMs are honored, BOM-less input is
	// passed through as UTF-8.
	dec := unicode.BOMOverride(encoding.Nop.NewDecoder())
	r := csv.NewReader(transform.NewReader(f, dec))
	r.Comma = d.comma
	r.ReuseRecord = true
	r.LazyQuotes = true
	r.FieldsPerRecord = -1 // field-count drift handled per row

	hdr, err := r.Read()
	if err != nil {
		_ = f.Close()
		return nil, qerr.Wrap(qerr.UnreadableSource, err, "read header of %s", d.path)
	}

	cols := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		cols[i] = strings.TrimSpace(h)
	}

	return &delimitedHandle{
		ctx:  ctx,
		f:    f,
		r:    r,
		cols: cols,
	}, nil
}

type delimitedHandle struct {
	ctx  context.Context
	f    *os.File
	r    *csv.Reader
	cols []string

	skipped int64
}

func (h *delimitedHandle) Columns() []string            { return h.cols }
func (h *delimitedHandle) Types() []schema.Type         { return nil }
func (h *delimitedHandle) EstimatedRows() (int64, bool) { return 0, false }

// Skipped returns how many malformed records were dropped so far.
func (h *delimitedHandle) Skipped() int64 { return h.skipped }

func (h *delimitedHandle) Next() (Row, error) {
	for {
		select {
		case <-h.ctx.Done():
			return nil, h.ctx.Err()
		default:
		}

		rec, err := h.r.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			// Malformed record: skip it rather than abort the stream.
			h.skipped++
			continue
		}
		if err != nil {
			// Not a record-level problem. The underlying reader repeats
			// its error on every call, so retrying would spin.
			return nil, qerr.Wrap(qerr.UnreadableSource, err, "read %s", h.f.Name())
		}
		if len(rec) != len(h.cols) {
			h.skipped++
			continue
		}

		row := make(Row, len(h.cols))
		for i, v := range rec {
			v = strings.TrimSpace(v)
			if v == "" {
				row[i] = nil
			} else {
				row[i] = v
			}
		}
		return row, nil
	}
}

func (h *delimitedHandle) Close() error { return h.f.Close() }
