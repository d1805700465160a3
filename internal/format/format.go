// Package format renders query results for presentation. Rendering is
// pure: the same Result always yields the same text.
package format

import (
	"fmt"
	"strings"

	"filequery/internal/exec"
	"filequery/internal/schema"
)

// Presentation is a rendered result: an aligned text table plus the
// structured pieces for callers that lay out their own output.
type Presentation struct {
	Text    string     `json:"-"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Trace   exec.Trace `json:"trace"`
}

// Render formats r. Cell text comes from the schema value formatter, so
// numbers, dates, and nulls print the same way everywhere.
func Render(r *exec.Result) Presentation {
	p := Presentation{Trace: r.Trace}

	p.Columns = make([]string, len(r.Columns))
	for i, c := range r.Columns {
		p.Columns[i] = c.Name
	}

	p.Rows = make([][]string, len(r.Rows))
	for i, row := range r.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = cell(v)
		}
		p.Rows[i] = cells
	}

	p.Text = renderTable(p.Columns, p.Rows)
	return p
}

func cell(v any) string {
	if v == nil {
		return ""
	}
	return schema.FormatValue(v)
}

// renderTable draws an aligned table with a header rule, matching the
// column count even when rows are ragged.
func renderTable(cols []string, rows [][]string) string {
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c)
	}
	for _, row := range rows {
		for i, c := range row {
			if i < len(widths) && len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i, w := range widths {
			if i > 0 {
				b.WriteString("  ")
			}
			c := ""
			if i < len(cells) {
				c = cells[i]
			}
			fmt.Fprintf(&b, "%-*s", w, c)
		}
		b.WriteByte('\n')
	}

	writeRow(cols)
	rule := make([]string, len(cols))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}
	writeRow(rule)
	for _, row := range rows {
		writeRow(row)
	}

	b.WriteString(fmt.Sprintf("(%d rows)\n", len(rows)))
	return b.String()
}

// RenderTrace renders the provenance record as readable lines.
func RenderTrace(tr exec.Trace) string {
	var b strings.Builder
	fmt.Fprintf(&b, "trace %s\n", tr.ID)
	fmt.Fprintf(&b, "  sources: %s\n", strings.Join(tr.Sources, ", "))
	if len(tr.JoinKeys) > 0 {
		fmt.Fprintf(&b, "  joins:   %s\n", strings.Join(tr.JoinKeys, "; "))
	}
	if len(tr.Filters) > 0 {
		fmt.Fprintf(&b, "  filters: %s\n", strings.Join(tr.Filters, "; "))
	}
	fmt.Fprintf(&b, "  scanned: %d rows in %s\n", tr.RowsScanned, tr.Elapsed)
	if tr.SkippedRows > 0 {
		fmt.Fprintf(&b, "  skipped: %d rows\n", tr.SkippedRows)
	}
	for _, n := range tr.Notes {
		fmt.Fprintf(&b, "  note:    %s\n", n)
	}
	return b.String()
}
