package format

import (
	"strings"
	"testing"

	"filequery/internal/exec"
	"filequery/internal/schema"
)

func TestRenderAlignsColumns(t *testing.T) {
	t.Parallel()

	res := &exec.Result{
		Columns: []exec.Column{
			{Name: "region", Type: schema.Text},
			{Name: "sum_amount", Type: schema.Float},
		},
		Rows: [][]any{
			{"North", 70.5},
			{"s", 30.0},
		},
		Trace: exec.Trace{ID: "t-1", Sources: []string{"sales"}, RowsScanned: 5, Elapsed: "1ms"},
	}

	p := Render(res)
	lines := strings.Split(strings.TrimRight(p.Text, "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("lines = %d:\n%s", len(lines), p.Text)
	}
	if lines[0] != "region  sum_amount" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "------  ----------" {
		t.Errorf("rule = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "North ") {
		t.Errorf("row 0 = %q", lines[2])
	}
	if lines[4] != "(2 rows)" {
		t.Errorf("footer = %q", lines[4])
	}
	if p.Columns[1] != "sum_amount" || p.Rows[1][1] != "30" && p.Rows[1][1] != "30.0" {
		t.Errorf("structured pieces = %v / %v", p.Columns, p.Rows)
	}
	if p.Trace.ID != "t-1" {
		t.Errorf("trace not carried: %+v", p.Trace)
	}
}

func TestRenderNilCellsAreEmpty(t *testing.T) {
	t.Parallel()

	res := &exec.Result{
		Columns: []exec.Column{{Name: "name", Type: schema.Text}},
		Rows:    [][]any{{nil}},
	}
	p := Render(res)
	if p.Rows[0][0] != "" {
		t.Fatalf("nil cell rendered as %q", p.Rows[0][0])
	}
}

func TestRenderEmptyResult(t *testing.T) {
	t.Parallel()

	res := &exec.Result{Columns: []exec.Column{{Name: "id", Type: schema.Integer}}}
	p := Render(res)
	if !strings.Contains(p.Text, "(0 rows)") {
		t.Fatalf("text = %q", p.Text)
	}
}

func TestRenderTrace(t *testing.T) {
	t.Parallel()

	tr := exec.Trace{
		ID:          "abc-123",
		Sources:     []string{"sales", "customers"},
		JoinKeys:    []string{"sales.customer_id = customers.customer_id (inner)"},
		Filters:     []string{"sales.amount gt 15"},
		RowsScanned: 9,
		SkippedRows: 1,
		Elapsed:     "2.5ms",
		Notes:       []string{"1 rows skipped: join key did not parse as integer"},
	}

	out := RenderTrace(tr)
	for _, want := range []string{
		"trace abc-123",
		"sources: sales, customers",
		"joins:   sales.customer_id = customers.customer_id (inner)",
		"filters: sales.amount gt 15",
		"scanned: 9 rows in 2.5ms",
		"skipped: 1 rows",
		"note:    1 rows skipped",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("trace output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderTraceOmitsEmptySections(t *testing.T) {
	t.Parallel()

	out := RenderTrace(exec.Trace{ID: "x", Sources: []string{"s"}, Elapsed: "1ms"})
	for _, absent := range []string{"joins:", "filters:", "skipped:", "note:"} {
		if strings.Contains(out, absent) {
			t.Errorf("trace output has empty section %q:\n%s", absent, out)
		}
	}
}
