package source

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"filequery/internal/qerr"
	"filequery/internal/schema"
)

// Columnar reads parquet files. The embedded schema makes header and type
// inference unnecessary: column names and semantic types are taken from
// the file footer, and the footer's row count serves as an exact row
// estimate.
//
// Only flat schemas are supported; a nested group column makes the file
// unreadable for tabular querying and is reported as such rather than
// silently flattened.
type Columnar struct {
	path string
}

func NewColumnar(path string) *Columnar { return &Columnar{path: path} }

func (c *Columnar) Format() Format { return FormatColumnar }
func (c *Columnar) Path() string   { return c.path }

func (c *Columnar) Open(ctx context.Context) (Handle, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, qerr.Wrap(qerr.UnreadableSource, err, "open columnar file %s", c.path)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, qerr.Wrap(qerr.UnreadableSource, err, "stat %s", c.path)
	}

	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		_ = f.Close()
		return nil, qerr.Wrap(qerr.UnreadableSource, err, "parse parquet footer of %s", c.path)
	}

	fields := pf.Schema().Fields()
	cols := make([]string, len(fields))
	types := make([]schema.Type, len(fields))
	converters := make([]valueConverter, len(fields))
	for i, fld := range fields {
		if !fld.Leaf() {
			_ = f.Close()
			return nil, qerr.New(qerr.UnreadableSource,
				"nested column %q in %s: only flat columnar schemas are supported", fld.Name(), c.path)
		}
		cols[i] = fld.Name()
		types[i], converters[i] = semanticTypeOf(fld.Type())
	}

	return &columnarHandle{
		ctx:        ctx,
		f:          f,
		pf:         pf,
		cols:       cols,
		types:      types,
		converters: converters,
		buf:        make([]parquet.Row, 64),
	}, nil
}

type valueConverter func(parquet.Value) any

// semanticTypeOf maps a parquet physical+logical type onto the semantic
// type system and returns the matching value converter.
func semanticTypeOf(t parquet.Type) (schema.Type, valueConverter) {
	if lt := t.LogicalType(); lt != nil {
		switch {
		case lt.Date != nil:
			return schema.Date, func(v parquet.Value) any {
				return time.Unix(int64(v.Int32())*86400, 0).UTC()
			}
		case lt.Timestamp != nil:
			unit := lt.Timestamp.Unit
			return schema.Date, func(v parquet.Value) any {
				n := v.Int64()
				switch {
				case unit.Millis != nil:
					return time.UnixMilli(n).UTC()
				case unit.Micros != nil:
					return time.UnixMicro(n).UTC()
				default:
					return time.Unix(0, n).UTC()
				}
			}
		case lt.UTF8 != nil:
			return schema.Text, func(v parquet.Value) any { return v.String() }
		}
	}

	switch t.Kind() {
	case parquet.Boolean:
		return schema.Boolean, func(v parquet.Value) any { return v.Boolean() }
	case parquet.Int32:
		return schema.Integer, func(v parquet.Value) any { return int64(v.Int32()) }
	case parquet.Int64:
		return schema.Integer, func(v parquet.Value) any { return v.Int64() }
	case parquet.Float:
		return schema.Float, func(v parquet.Value) any { return float64(v.Float()) }
	case parquet.Double:
		return schema.Float, func(v parquet.Value) any { return v.Double() }
	default:
		return schema.Text, func(v parquet.Value) any { return v.String() }
	}
}

type columnarHandle struct {
	ctx        context.Context
	f          *os.File
	pf         *parquet.File
	cols       []string
	types      []schema.Type
	converters []valueConverter

	groups  []parquet.RowGroup
	gi      int
	rows    parquet.Rows
	buf     []parquet.Row
	pending []parquet.Row
	opened  bool
}

func (h *columnarHandle) Columns() []string            { return h.cols }
func (h *columnarHandle) Types() []schema.Type         { return h.types }
func (h *columnarHandle) EstimatedRows() (int64, bool) { return h.pf.NumRows(), true }

func (h *columnarHandle) Next() (Row, error) {
	select {
	case <-h.ctx.Done():
		return nil, h.ctx.Err()
	default:
	}

	if !h.opened {
		h.groups = h.pf.RowGroups()
		h.opened = true
	}

	for len(h.pending) == 0 {
		if h.rows == nil {
			if h.gi >= len(h.groups) {
				return nil, io.EOF
			}
			h.rows = h.groups[h.gi].Rows()
			h.gi++
		}

		n, err := h.rows.ReadRows(h.buf)
		if n > 0 {
			h.pending = h.buf[:n]
		}
		if err == io.EOF {
			_ = h.rows.Close()
			h.rows = nil
			continue
		}
		if err != nil {
			return nil, qerr.Wrap(qerr.UnreadableSource, err, "read rows from %s", h.f.Name())
		}
	}

	pr := h.pending[0]
	h.pending = h.pending[1:]

	row := make(Row, len(h.cols))
	for _, v := range pr {
		ci := v.Column()
		if ci < 0 || ci >= len(row) {
			continue
		}
		if v.IsNull() {
			row[ci] = nil
			continue
		}
		row[ci] = h.converters[ci](v)
	}
	return row, nil
}

func (h *columnarHandle) Close() error {
	if h.rows != nil {
		_ = h.rows.Close()
		h.rows = nil
	}
	return h.f.Close()
}
