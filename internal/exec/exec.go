// Package exec runs a lowered plan against its sources.
//
// Execution is deterministic: leaf scans preserve file row order,
// filters apply during the scan, joins hash the smaller input and probe
// with the other side in row order, and aggregation preserves first-seen
// group order. Every run produces a Trace recording which sources, join
// keys, and filters shaped the answer.
package exec

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"filequery/internal/metrics"
	"filequery/internal/plan"
	"filequery/internal/qerr"
	"filequery/internal/registry"
	"filequery/internal/schema"
)

// Column describes one output column.
type Column struct {
	Name   string      `json:"name"`
	Type   schema.Type `json:"type"`
	Source string      `json:"source,omitempty"`
}

// Trace is the provenance record attached to every result.
type Trace struct {
	ID          string   `json:"id"`
	Sources     []string `json:"sources"`
	JoinKeys    []string `json:"join_keys,omitempty"`
	Filters     []string `json:"filters,omitempty"`
	RowsScanned int64    `json:"rows_scanned"`
	SkippedRows int64    `json:"skipped_rows,omitempty"`
	Elapsed     string   `json:"elapsed"`

	// Warnings names the non-fatal degradation kinds hit during the
	// run (JOIN_KEY_MISMATCH and the like); Notes carries the readable
	// detail. Callers act on Warnings, people read Notes.
	Warnings []string `json:"warnings,omitempty"`
	Notes    []string `json:"notes,omitempty"`
}

// Result is the answer to one query.
type Result struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Trace   Trace    `json:"trace"`
}

// Options configure an Executor.
type Options struct {
	Metrics metrics.Backend
	Logger  registry.Logger
}

// Executor runs plans. The zero value is not usable; use New.
type Executor struct {
	metrics metrics.Backend
	logf    func(format string, v ...any)
}

// New builds an executor. A nil metrics backend records nothing.
func New(opts Options) *Executor {
	m := opts.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	logf := func(string, ...any) {}
	if opts.Logger != nil {
		logf = opts.Logger.Printf
	}
	return &Executor{metrics: m, logf: logf}
}

// table is a fully materialized intermediate: decoded cells, one slice
// per row, positions matching cols.
type table struct {
	cols []Column
	rows [][]any
}

// find locates the column for source.key within the table.
func (t *table) find(srcName, key string) (int, bool) {
	for i, c := range t.cols {
		if c.Name == key && (srcName == "" || c.Source == srcName) {
			return i, true
		}
	}
	return 0, false
}

// Run executes p and returns the result with its trace.
func (e *Executor) Run(ctx context.Context, p *plan.Plan) (*Result, error) {
	start := time.Now()
	tr := &Trace{ID: uuid.NewString()}
	for _, l := range p.Leaves {
		tr.Sources = append(tr.Sources, l.Source.Name)
		for _, f := range l.Filters {
			tr.Filters = append(tr.Filters, fmt.Sprintf("%s.%s %s %s", f.Source, f.Column, f.Op, f.Value))
		}
	}

	tbl, err := e.evalNode(ctx, p.Root, tr)
	if err != nil {
		e.metrics.IncCounter("query_errors_total", 1, metrics.Labels{"kind": string(qerr.KindOf(err))})
		return nil, err
	}

	q := p.Intent
	if q.Aggregated() {
		tbl, err = e.aggregate(tbl, q, tr)
		if err != nil {
			e.metrics.IncCounter("query_errors_total", 1, metrics.Labels{"kind": string(qerr.KindOf(err))})
			return nil, err
		}
	} else if len(q.Columns) > 0 {
		tbl, err = project(tbl, q.Columns)
		if err != nil {
			return nil, err
		}
	}

	if q.Limit > 0 && len(tbl.rows) > q.Limit {
		tbl.rows = tbl.rows[:q.Limit]
	}

	elapsed := time.Since(start)
	tr.Elapsed = elapsed.Round(time.Microsecond).String()
	e.metrics.IncCounter("query_total", 1, nil)
	e.metrics.ObserveHistogram("query_duration_seconds", elapsed.Seconds(), nil)
	e.metrics.IncCounter("rows_scanned_total", float64(tr.RowsScanned), nil)
	e.logf("exec: query %s sources=%v rows_out=%d scanned=%d elapsed=%s",
		tr.ID, tr.Sources, len(tbl.rows), tr.RowsScanned, tr.Elapsed)

	return &Result{Columns: tbl.cols, Rows: tbl.rows, Trace: *tr}, nil
}

// evalNode materializes the subtree at n.
func (e *Executor) evalNode(ctx context.Context, n plan.Node, tr *Trace) (*table, error) {
	if n.Leaf != nil {
		return e.scanLeaf(ctx, n.Leaf, tr)
	}
	left, err := e.evalNode(ctx, n.Step.Left, tr)
	if err != nil {
		return nil, err
	}
	right, err := e.evalNode(ctx, n.Step.Right, tr)
	if err != nil {
		return nil, err
	}
	return e.join(left, right, n.Step, tr)
}

// scanLeaf reads the whole source, decoding cells against the inferred
// schema and applying the leaf's pushed-down filters.
func (e *Executor) scanLeaf(ctx context.Context, l *plan.Leaf, tr *Trace) (*table, error) {
	h, err := l.Source.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	sch := l.Source.Schema
	t := &table{cols: make([]Column, len(sch.Columns))}
	for i, c := range sch.Columns {
		t.cols[i] = Column{Name: c.Key, Type: c.Type, Source: l.Source.Name}
	}

	preds, err := compilePredicates(l.Filters, sch)
	if err != nil {
		return nil, err
	}

	for {
		raw, err := h.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		tr.RowsScanned++

		row := make([]any, len(sch.Columns))
		for i := range sch.Columns {
			if i >= len(raw) {
				break
			}
			row[i] = decodeCell(raw[i], sch.Columns[i].Type)
		}

		keep := true
		for _, p := range preds {
			if !p(row) {
				keep = false
				break
			}
		}
		if keep {
			t.rows = append(t.rows, row)
		}
	}
	return t, nil
}

// decodeCell normalizes one raw cell to the runtime value for its
// column type. String cells are parsed; parse failures keep the raw
// text so the value is never silently dropped.
func decodeCell(v any, t schema.Type) any {
	if v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	if dv, ok := schema.Decode(s, t); ok {
		return dv
	}
	return s
}
