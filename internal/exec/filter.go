package exec

import (
	"strings"
	"time"

	"filequery/internal/intent"
	"filequery/internal/qerr"
	"filequery/internal/schema"
)

// predicate decides whether a decoded row survives a filter.
type predicate func(row []any) bool

// compilePredicates turns pushed-down filters into row predicates bound
// to column positions. Filter values are decoded once, against the
// column's inferred type; a value that does not parse as that type makes
// the filter reject every row except under contains, which always
// compares text.
func compilePredicates(filters []intent.Filter, sch schema.Schema) ([]predicate, error) {
	preds := make([]predicate, 0, len(filters))
	for _, f := range filters {
		col, idx, ok := sch.Lookup(f.Column)
		if !ok {
			return nil, qerr.New(qerr.UnresolvedReference, "filter column %q not in schema", f.Column)
		}

		if f.Op == intent.OpContains {
			needle := strings.ToLower(f.Value)
			i := idx
			preds = append(preds, func(row []any) bool {
				v := row[i]
				if v == nil {
					return false
				}
				return strings.Contains(strings.ToLower(schema.FormatValue(v)), needle)
			})
			continue
		}

		want, parsed := schema.Decode(f.Value, col.Type)
		op := f.Op
		i := idx
		preds = append(preds, func(row []any) bool {
			if !parsed || want == nil {
				return false
			}
			v := row[i]
			if v == nil {
				return false
			}
			c, ok := compareValues(v, want)
			if !ok {
				return false
			}
			switch op {
			case intent.OpEq:
				return c == 0
			case intent.OpNe:
				return c != 0
			case intent.OpLt:
				return c < 0
			case intent.OpLe:
				return c <= 0
			case intent.OpGt:
				return c > 0
			case intent.OpGe:
				return c >= 0
			}
			return false
		})
	}
	return preds, nil
}

// compareValues orders two runtime values of compatible types. Integer
// and float mix by widening; text compares case-insensitively. Values of
// unrelated types do not compare.
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			return cmpOrd(av, bv), true
		case float64:
			return cmpOrd(float64(av), bv), true
		}
	case float64:
		switch bv := b.(type) {
		case int64:
			return cmpOrd(av, float64(bv)), true
		case float64:
			return cmpOrd(av, bv), true
		}
	case string:
		if bv, ok := b.(string); ok {
			return cmpOrd(strings.ToLower(av), strings.ToLower(bv)), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return cmpOrd(boolInt(av), boolInt(bv)), true
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), true
		}
	}
	return 0, false
}

func cmpOrd[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// project narrows a table to the requested columns, in request order.
func project(t *table, refs []intent.ColumnRef) (*table, error) {
	out := &table{cols: make([]Column, 0, len(refs))}
	idx := make([]int, 0, len(refs))
	for _, r := range refs {
		i, ok := t.find(r.Source, r.Column)
		if !ok {
			return nil, qerr.New(qerr.UnresolvedReference, "projected column %s.%s not in result", r.Source, r.Column)
		}
		idx = append(idx, i)
		out.cols = append(out.cols, t.cols[i])
	}
	out.rows = make([][]any, len(t.rows))
	for ri, row := range t.rows {
		nr := make([]any, len(idx))
		for j, i := range idx {
			nr[j] = row[i]
		}
		out.rows[ri] = nr
	}
	return out, nil
}
