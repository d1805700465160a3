package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"filequery/internal/qerr"
	"filequery/internal/schema"
)

type columnarFixture struct {
	ID     int64   `parquet:"id"`
	Name   string  `parquet:"name"`
	Amount float64 `parquet:"amount"`
	Active bool    `parquet:"active"`
}

func writeParquet(t *testing.T, recs []columnarFixture) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.parquet")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w := parquet.NewGenericWriter[columnarFixture](f)
	if len(recs) > 0 {
		if _, err := w.Write(recs); err != nil {
			t.Fatalf("write records: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

// TestColumnarEmbeddedSchema verifies column names and semantic types
// come from the footer, already typed, with an exact row count.
func TestColumnarEmbeddedSchema(t *testing.T) {
	t.Parallel()

	path := writeParquet(t, []columnarFixture{
		{ID: 1, Name: "Ada", Amount: 10.5, Active: true},
		{ID: 2, Name: "Grace", Amount: 20, Active: false},
	})
	h, err := NewColumnar(path).Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	wantCols := []string{"id", "name", "amount", "active"}
	wantTypes := []schema.Type{schema.Integer, schema.Text, schema.Float, schema.Boolean}
	for i, c := range h.Columns() {
		if c != wantCols[i] {
			t.Fatalf("Columns()[%d] = %q, want %q", i, c, wantCols[i])
		}
		if got := h.Types()[i]; got != wantTypes[i] {
			t.Fatalf("Types()[%d] = %v, want %v", i, got, wantTypes[i])
		}
	}
	if n, exact := h.EstimatedRows(); n != 2 || !exact {
		t.Fatalf("EstimatedRows() = (%d, %t), want (2, true)", n, exact)
	}

	rows := readAll(t, h)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	// Values arrive as runtime types, no string round trip.
	if rows[0][0] != int64(1) || rows[0][1] != "Ada" || rows[0][2] != 10.5 || rows[0][3] != true {
		t.Errorf("row 0 = %v", rows[0])
	}
	if rows[1][3] != false {
		t.Errorf("row 1 active = %v, want false", rows[1][3])
	}
}

// TestColumnarZeroRows verifies a footer-only file opens with its schema
// intact and streams nothing; empty-source handling happens downstream.
func TestColumnarZeroRows(t *testing.T) {
	t.Parallel()

	path := writeParquet(t, nil)
	h, err := NewColumnar(path).Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if len(h.Columns()) != 4 {
		t.Fatalf("Columns() = %v, want 4 columns", h.Columns())
	}
	if n, exact := h.EstimatedRows(); n != 0 || !exact {
		t.Fatalf("EstimatedRows() = (%d, %t), want (0, true)", n, exact)
	}
	if _, err := h.Next(); err != io.EOF {
		t.Fatalf("Next = %v, want io.EOF", err)
	}
}

func TestColumnarNestedSchemaRejected(t *testing.T) {
	t.Parallel()

	type inner struct {
		City string `parquet:"city"`
	}
	type nested struct {
		ID   int64 `parquet:"id"`
		Addr inner `parquet:"addr"`
	}

	path := filepath.Join(t.TempDir(), "nested.parquet")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w := parquet.NewGenericWriter[nested](f)
	if _, err := w.Write([]nested{{ID: 1, Addr: inner{City: "Oslo"}}}); err != nil {
		t.Fatalf("write records: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	_, err = NewColumnar(path).Open(context.Background())
	if !qerr.IsKind(err, qerr.UnreadableSource) {
		t.Fatalf("error kind = %v, want UNREADABLE_SOURCE", qerr.KindOf(err))
	}
}

func TestColumnarCorruptFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "broken.parquet", "not a parquet file")
	_, err := NewColumnar(path).Open(context.Background())
	if !qerr.IsKind(err, qerr.UnreadableSource) {
		t.Fatalf("error kind = %v, want UNREADABLE_SOURCE", qerr.KindOf(err))
	}
}
