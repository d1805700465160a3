// Package infer turns a raw source file into a normalized Schema plus a
// row-count estimate.
//
// Inference is sample-bounded: up to SampleRows data rows feed type
// detection, and the remainder of the file is only counted, never
// retained. The narrowest semantic type consistent with every sampled
// value wins; a column with mixed types degrades to text, and a column
// with no observed values stays unknown.
//
// Design constraints:
//   - Sampling must be bounded in memory.
//   - Inference is best-effort per column and never fails the run on odd
//     values; only an unparsable file is an error.
package infer

import (
	"context"
	"io"
	"strconv"
	"strings"

	"filequery/internal/qerr"
	"filequery/internal/schema"
	"filequery/internal/source"
)

// DefaultSampleRows bounds how many data rows feed type detection.
const DefaultSampleRows = 1000

// Options control sampling and overrides.
type Options struct {
	// SampleRows caps the rows used for type detection. <=0 means
	// DefaultSampleRows.
	SampleRows int

	// Overrides force declared types onto named columns after inference.
	// Keys match case-insensitively against normalized column names.
	// An override naming an absent column fails with UnresolvedReference.
	Overrides map[string]schema.Type
}

// Infer reads src once, producing its Schema.
//
// A source with a readable header but zero data rows is reported with an
// EmptySource error; the returned Schema is still valid (all columns
// unknown-typed) so the caller can register it anyway.
func Infer(ctx context.Context, src source.Source, opt Options) (schema.Schema, error) {
	sampleRows := opt.SampleRows
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}

	h, err := src.Open(ctx)
	if err != nil {
		return schema.Schema{}, err
	}
	defer h.Close()

	names := h.Columns()
	if len(names) == 0 {
		return schema.Schema{}, qerr.New(qerr.UnreadableSource, "%s: header row has no columns", src.Path())
	}

	// Columnar sources carry their own types; nothing to sample for type
	// detection, and the footer gives an exact row count.
	if embedded := h.Types(); embedded != nil {
		cols := make([]schema.Column, len(names))
		for i, n := range names {
			cols[i] = schema.Column{Name: n, Type: embedded[i]}
		}
		n, _ := h.EstimatedRows()
		sch := schema.New(cols, n)
		sch, err = applyOverrides(sch, opt.Overrides)
		if err != nil {
			return schema.Schema{}, err
		}
		if n == 0 {
			return sch, qerr.New(qerr.EmptySource, "%s: zero data rows", src.Path())
		}
		return sch, nil
	}

	sample := make([]source.Row, 0, min(sampleRows, 256))
	var total int64
	for {
		row, err := h.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return schema.Schema{}, qerr.Wrap(qerr.UnreadableSource, err, "%s: reading rows", src.Path())
		}
		total++
		if len(sample) < sampleRows {
			sample = append(sample, row)
		}
	}

	types := inferTypes(len(names), sample)
	cols := make([]schema.Column, len(names))
	for i, n := range names {
		cols[i] = schema.Column{Name: n, Type: types[i]}
	}
	sch := schema.New(cols, total)
	sch, err = applyOverrides(sch, opt.Overrides)
	if err != nil {
		return schema.Schema{}, err
	}

	if total == 0 {
		return sch, qerr.New(qerr.EmptySource, "%s: zero data rows", src.Path())
	}
	return sch, nil
}

func applyOverrides(sch schema.Schema, overrides map[string]schema.Type) (schema.Schema, error) {
	for name, t := range overrides {
		_, idx, ok := sch.Lookup(name)
		if !ok {
			return schema.Schema{}, &qerr.Error{
				Kind:    qerr.UnresolvedReference,
				Message: "schema override names an unknown column",
				Column:  name,
			}
		}
		sch.Columns[idx].Type = t
	}
	return sch, nil
}

// inferTypes assigns the narrowest type consistent with all sampled
// values per column. Precedence when several candidates survive:
// integer > boolean > date > float > text.
func inferTypes(columns int, sample []source.Row) []schema.Type {
	out := make([]schema.Type, columns)

	for col := 0; col < columns; col++ {
		var seen bool
		allInt := true
		allFloat := true
		allBool := true
		allDate := true

		for _, r := range sample {
			if col >= len(r) || r[col] == nil {
				continue
			}

			// Text-based formats deliver strings; a typed cell (from a
			// mixed caller) classifies directly.
			v, isStr := r[col].(string)
			if !isStr {
				seen = true
				switch r[col].(type) {
				case int64:
					allBool, allDate = false, false
				case float64:
					allInt, allBool, allDate = false, false, false
				case bool:
					allInt, allFloat, allDate = false, false, false
				default:
					allInt, allFloat, allBool = false, false, false
				}
				continue
			}

			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			seen = true

			if allInt {
				if _, err := strconv.ParseInt(v, 10, 64); err != nil {
					allInt = false
				}
			}
			if allFloat {
				if _, err := strconv.ParseFloat(v, 64); err != nil {
					allFloat = false
				}
			}
			if allBool {
				if _, ok := schema.ParseBool(v); !ok {
					allBool = false
				}
			}
			if allDate {
				if _, ok := schema.ParseDate(v); !ok {
					allDate = false
				}
			}
		}

		if !seen {
			out[col] = schema.Unknown
			continue
		}
		switch {
		case allInt:
			out[col] = schema.Integer
		case allBool:
			out[col] = schema.Boolean
		case allDate:
			out[col] = schema.Date
		case allFloat:
			out[col] = schema.Float
		default:
			out[col] = schema.Text
		}
	}

	return out
}
