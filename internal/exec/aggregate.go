package exec

import (
	"fmt"
	"math"
	"strings"

	"filequery/internal/intent"
	"filequery/internal/qerr"
	"filequery/internal/schema"
)

// aggregate collapses a table into one row per group in a single pass.
// Group keys compare case-insensitively for text; the emitted key cell
// keeps the first-seen spelling. Group order is first-seen row order,
// which keeps aggregated output as deterministic as the scan itself.
func (e *Executor) aggregate(t *table, q *intent.QueryIntent, tr *Trace) (*table, error) {
	groupIdx := make([]int, len(q.GroupBy))
	for i, g := range q.GroupBy {
		idx, ok := t.find(g.Source, g.Column)
		if !ok {
			return nil, qerr.New(qerr.UnresolvedReference, "group column %s.%s not in result", g.Source, g.Column)
		}
		groupIdx[i] = idx
	}

	aggs := make([]*accumulator, len(q.Aggregates))
	for i, a := range q.Aggregates {
		acc := &accumulator{fn: a.Func, name: a.As, colIdx: -1}
		if a.Column != "" {
			idx, ok := t.find(a.Source, a.Column)
			if !ok {
				return nil, qerr.New(qerr.UnresolvedReference, "aggregate column %s.%s not in result", a.Source, a.Column)
			}
			acc.colIdx = idx
			acc.colType = t.cols[idx].Type
			if (a.Func == intent.AggSum || a.Func == intent.AggAvg) && !acc.colType.Numeric() {
				return nil, &qerr.Error{
					Kind:    qerr.AggregationTypeError,
					Message: fmt.Sprintf("%s needs a numeric column; %s.%s is %s", a.Func, a.Source, a.Column, acc.colType),
					Column:  a.Column,
				}
			}
		}
		if acc.name == "" {
			acc.name = defaultAggName(a)
		}
		aggs[i] = acc
	}

	type group struct {
		keyCells []any
		states   []aggState
	}
	byKey := make(map[string]*group)
	var order []*group

	for _, row := range t.rows {
		var kb strings.Builder
		for _, gi := range groupIdx {
			kb.WriteString(groupKeyPart(row[gi]))
			kb.WriteByte(0)
		}
		key := kb.String()

		g, ok := byKey[key]
		if !ok {
			g = &group{states: make([]aggState, len(aggs))}
			for _, gi := range groupIdx {
				g.keyCells = append(g.keyCells, row[gi])
			}
			byKey[key] = g
			order = append(order, g)
		}
		for ai, acc := range aggs {
			if err := acc.observe(&g.states[ai], row, tr); err != nil {
				return nil, err
			}
		}
	}

	out := &table{}
	for i, g := range q.GroupBy {
		c := t.cols[groupIdx[i]]
		out.cols = append(out.cols, Column{Name: c.Name, Type: c.Type, Source: g.Source})
	}
	for _, acc := range aggs {
		out.cols = append(out.cols, Column{Name: acc.name, Type: acc.outType()})
	}

	for _, g := range order {
		row := make([]any, 0, len(out.cols))
		row = append(row, g.keyCells...)
		for ai, acc := range aggs {
			row = append(row, acc.final(&g.states[ai]))
		}
		out.rows = append(out.rows, row)
	}

	// A bare aggregate over zero rows still answers with one row.
	if len(groupIdx) == 0 && len(out.rows) == 0 {
		row := make([]any, 0, len(aggs))
		for _, acc := range aggs {
			row = append(row, acc.final(&aggState{}))
		}
		out.rows = append(out.rows, row)
	}
	return out, nil
}

// groupKeyPart canonicalizes one group key cell: text folds case,
// everything else uses its display form. Nulls group together.
func groupKeyPart(v any) string {
	if v == nil {
		return "\x00null"
	}
	if s, ok := v.(string); ok {
		return "s:" + strings.ToLower(s)
	}
	return "v:" + schema.FormatValue(v)
}

func defaultAggName(a intent.Aggregate) string {
	if a.Column == "" {
		return "count"
	}
	return string(a.Func) + "_" + a.Column
}

// aggState is the per-group running state of one accumulator.
type aggState struct {
	count    int64
	sumInt   int64
	sumFloat float64
	isFloat  bool
	best     any
	seen     bool
}

// accumulator binds an aggregation function to its input column.
type accumulator struct {
	fn      intent.AggFunc
	name    string
	colIdx  int
	colType schema.Type
}

func (a *accumulator) outType() schema.Type {
	switch a.fn {
	case intent.AggCount:
		return schema.Integer
	case intent.AggAvg:
		return schema.Float
	case intent.AggSum:
		return a.colType
	default:
		return a.colType
	}
}

// observe folds one row into the group state. Integer sums that would
// overflow promote to float and leave a trace note rather than wrapping.
func (a *accumulator) observe(st *aggState, row []any, tr *Trace) error {
	if a.colIdx < 0 {
		st.count++
		return nil
	}
	v := row[a.colIdx]
	if v == nil {
		return nil
	}

	switch a.fn {
	case intent.AggCount:
		st.count++
	case intent.AggSum, intent.AggAvg:
		switch n := v.(type) {
		case int64:
			if st.isFloat {
				st.sumFloat += float64(n)
			} else if addOverflows(st.sumInt, n) {
				st.isFloat = true
				st.sumFloat = float64(st.sumInt) + float64(n)
				tr.Notes = append(tr.Notes, fmt.Sprintf("%s overflowed integer range; result is approximate", a.name))
			} else {
				st.sumInt += n
			}
		case float64:
			if !st.isFloat {
				st.isFloat = true
				st.sumFloat = float64(st.sumInt)
			}
			st.sumFloat += n
		default:
			return &qerr.Error{
				Kind:    qerr.AggregationTypeError,
				Message: fmt.Sprintf("%s: non-numeric value %q in column %s", a.fn, schema.FormatValue(v), a.name),
			}
		}
		st.count++
	case intent.AggMin, intent.AggMax:
		if !st.seen {
			st.best, st.seen = v, true
			return nil
		}
		c, ok := compareValues(v, st.best)
		if !ok {
			return nil
		}
		if (a.fn == intent.AggMin && c < 0) || (a.fn == intent.AggMax && c > 0) {
			st.best = v
		}
	}
	return nil
}

func (a *accumulator) final(st *aggState) any {
	switch a.fn {
	case intent.AggCount:
		return st.count
	case intent.AggSum:
		if st.isFloat {
			return st.sumFloat
		}
		if st.count == 0 && a.colType == schema.Float {
			return float64(0)
		}
		return st.sumInt
	case intent.AggAvg:
		if st.count == 0 {
			return nil
		}
		if st.isFloat {
			return st.sumFloat / float64(st.count)
		}
		return float64(st.sumInt) / float64(st.count)
	default:
		if !st.seen {
			return nil
		}
		return st.best
	}
}

func addOverflows(a, b int64) bool {
	if b > 0 {
		return a > math.MaxInt64-b
	}
	return a < math.MinInt64-b
}
