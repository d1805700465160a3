package infer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filequery/internal/qerr"
	"filequery/internal/schema"
	"filequery/internal/source"
)

func writeCSV(t *testing.T, content string) source.Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	src, err := source.New(path)
	if err != nil {
		t.Fatalf("source.New: %v", err)
	}
	return src
}

func TestInferColumnTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		column []string
		want   schema.Type
	}{
		{name: "integers", column: []string{"1", "42", "-7"}, want: schema.Integer},
		{name: "floats", column: []string{"1.5", "2", "-0.25"}, want: schema.Float},
		{name: "booleans", column: []string{"true", "False", "YES"}, want: schema.Boolean},
		{name: "dates", column: []string{"2024-01-02", "2023-12-31"}, want: schema.Date},
		{name: "timestamps", column: []string{"2024-01-02 10:30:00", "2024-01-03T08:00:00"}, want: schema.Date},
		{name: "text", column: []string{"north", "south"}, want: schema.Text},
		{name: "mixed_degrades_to_text", column: []string{"1", "apple"}, want: schema.Text},
		{name: "numeric_noise_degrades", column: []string{"1.5", "n/a"}, want: schema.Text},
		{name: "nulls_ignored", column: []string{"", "3", ""}, want: schema.Integer},
		{name: "zero_one_prefers_integer", column: []string{"0", "1"}, want: schema.Integer},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var b strings.Builder
			b.WriteString("col\n")
			for _, v := range tc.column {
				b.WriteString(v)
				b.WriteByte('\n')
			}
			sch, err := Infer(context.Background(), writeCSV(t, b.String()), Options{})
			if err != nil {
				t.Fatalf("Infer: %v", err)
			}
			if got := sch.Columns[0].Type; got != tc.want {
				t.Fatalf("inferred %v, want %v", got, tc.want)
			}
		})
	}
}

// TestInferAllNullColumnIsUnknown needs a second populated column so the
// all-null one is actually observed; a lone empty field makes the whole
// line blank, and blank lines are not records.
func TestInferAllNullColumnIsUnknown(t *testing.T) {
	t.Parallel()

	sch, err := Infer(context.Background(), writeCSV(t, "a,b\n1,\n2,\n"), Options{})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if got := sch.Columns[0].Type; got != schema.Integer {
		t.Errorf("a type = %v, want integer", got)
	}
	if got := sch.Columns[1].Type; got != schema.Unknown {
		t.Errorf("b type = %v, want unknown", got)
	}
}

// TestInferBlankLinesAreNotRows pins the CSV reader behavior the case
// above depends on: a file whose data lines are all blank has zero
// records and reports EmptySource.
func TestInferBlankLinesAreNotRows(t *testing.T) {
	t.Parallel()

	_, err := Infer(context.Background(), writeCSV(t, "col\n\n\n\n"), Options{})
	if !qerr.IsKind(err, qerr.EmptySource) {
		t.Fatalf("error kind = %v, want EMPTY_SOURCE", qerr.KindOf(err))
	}
}

// TestInferCountsAllRowsBeyondSample verifies the row estimate covers the
// whole file while the sample stays bounded.
func TestInferCountsAllRowsBeyondSample(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("n\n")
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	sch, err := Infer(context.Background(), writeCSV(t, b.String()), Options{SampleRows: 10})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if sch.RowEstimate != 50 {
		t.Errorf("RowEstimate = %d, want 50", sch.RowEstimate)
	}
	if sch.Columns[0].Type != schema.Integer {
		t.Errorf("type = %v, want integer", sch.Columns[0].Type)
	}
}

// TestInferEmptySource verifies a header-only file reports EmptySource
// but still yields a registrable schema.
func TestInferEmptySource(t *testing.T) {
	t.Parallel()

	sch, err := Infer(context.Background(), writeCSV(t, "id,name\n"), Options{})
	if !qerr.IsKind(err, qerr.EmptySource) {
		t.Fatalf("error kind = %v, want EMPTY_SOURCE", qerr.KindOf(err))
	}
	if len(sch.Columns) != 2 {
		t.Fatalf("got %d columns, want 2", len(sch.Columns))
	}
	for _, c := range sch.Columns {
		if c.Type != schema.Unknown {
			t.Errorf("column %s type = %v, want unknown", c.Key, c.Type)
		}
	}
}

func TestInferOverrides(t *testing.T) {
	t.Parallel()

	src := writeCSV(t, "id,code\n1,0001\n2,0002\n")

	sch, err := Infer(context.Background(), src, Options{
		Overrides: map[string]schema.Type{"code": schema.Text},
	})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if got := sch.Columns[1].Type; got != schema.Text {
		t.Errorf("code type = %v, want text (override)", got)
	}
	if got := sch.Columns[0].Type; got != schema.Integer {
		t.Errorf("id type = %v, want integer", got)
	}
}

func TestInferOverrideUnknownColumn(t *testing.T) {
	t.Parallel()

	src := writeCSV(t, "id\n1\n")
	_, err := Infer(context.Background(), src, Options{
		Overrides: map[string]schema.Type{"missing": schema.Text},
	})
	if !qerr.IsKind(err, qerr.UnresolvedReference) {
		t.Fatalf("error kind = %v, want UNRESOLVED_REFERENCE", qerr.KindOf(err))
	}
	var qe *qerr.Error
	if !errors.As(err, &qe) || qe.Column != "missing" {
		t.Fatalf("error does not name the column: %v", err)
	}
}
