package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"filequery/internal/qerr"
	"filequery/internal/schema"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := New(Options{})
	path := writeCSV(t, "", "Sales Data.csv", "id,amount\n1,10\n2,20\n")

	src, err := r.Register(context.Background(), path)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if src.Name != "sales_data" {
		t.Errorf("name = %q, want sales_data", src.Name)
	}
	if src.Schema.RowEstimate != 2 {
		t.Errorf("row estimate = %d, want 2", src.Schema.RowEstimate)
	}

	got, err := r.Get("Sales Data")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != src {
		t.Errorf("Get returned a different entry")
	}

	if _, err := r.Get("absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(absent) = %v, want ErrNotFound", err)
	}
}

// TestNameCollision verifies same-named files from different directories
// register under distinct deterministic names.
func TestNameCollision(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeCSV(t, dir, "2023/sales.csv", "id\n1\n")
	b := writeCSV(t, dir, "2024/sales.csv", "id\n1\n")

	r := New(Options{})
	sa, err := r.Register(context.Background(), a)
	if err != nil {
		t.Fatalf("Register a: %v", err)
	}
	sb, err := r.Register(context.Background(), b)
	if err != nil {
		t.Fatalf("Register b: %v", err)
	}

	if sa.Name != "sales" {
		t.Errorf("first name = %q, want sales", sa.Name)
	}
	if sb.Name != "sales_2024" {
		t.Errorf("second name = %q, want sales_2024", sb.Name)
	}
	if len(r.List()) != 2 {
		t.Errorf("List() = %d entries, want 2", len(r.List()))
	}
}

// TestReRegisterSamePathRefreshes verifies re-registering a path keeps
// its name instead of growing the catalog.
func TestReRegisterSamePathRefreshes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeCSV(t, dir, "sales.csv", "id\n1\n")

	r := New(Options{})
	first, err := r.Register(context.Background(), path)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	writeCSV(t, dir, "sales.csv", "id\n1\n2\n")
	second, err := r.Register(context.Background(), path)
	if err != nil {
		t.Fatalf("re-Register: %v", err)
	}

	if second.Name != first.Name {
		t.Errorf("name changed on re-register: %q -> %q", first.Name, second.Name)
	}
	if len(r.List()) != 1 {
		t.Errorf("List() = %d entries, want 1", len(r.List()))
	}
	if second.Schema.RowEstimate != 2 {
		t.Errorf("refreshed estimate = %d, want 2", second.Schema.RowEstimate)
	}
}

// TestRefreshIdempotent verifies refreshing an unchanged file produces a
// structurally equal schema.
func TestRefreshIdempotent(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "", "sales.csv", "id,region\n1,north\n")

	r := New(Options{})
	src, err := r.Register(context.Background(), path)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	refreshed, err := r.Refresh(context.Background(), src.Name)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !refreshed.Schema.Equal(src.Schema) {
		t.Errorf("refresh of unchanged file altered the schema")
	}
	if !refreshed.Registered.Equal(src.Registered) {
		t.Errorf("refresh altered the registration time")
	}

	if _, err := r.Refresh(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Refresh(absent) = %v, want ErrNotFound", err)
	}
}

func TestRegisterEmptyFileNonFatal(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "", "empty.csv", "id,name\n")

	r := New(Options{})
	src, err := r.Register(context.Background(), path)
	if !qerr.IsKind(err, qerr.EmptySource) {
		t.Fatalf("error kind = %v, want EMPTY_SOURCE", qerr.KindOf(err))
	}
	if src == nil || !src.Empty {
		t.Fatalf("empty source not registered: %+v", src)
	}
	if _, gerr := r.Get("empty"); gerr != nil {
		t.Errorf("empty source not retrievable: %v", gerr)
	}
}

func TestRegisterWithOverride(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "", "codes.csv", "id,code\n1,0042\n")

	r := New(Options{})
	src, err := r.RegisterWithOverride(context.Background(), path, map[string]schema.Type{"code": schema.Text})
	if err != nil {
		t.Fatalf("RegisterWithOverride: %v", err)
	}
	col, _, ok := src.Schema.Lookup("code")
	if !ok || col.Type != schema.Text {
		t.Errorf("code type = %v, want text", col.Type)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeCSV(t, dir, "sales.csv", "id,amount\n1,10\n")

	r := New(Options{})
	if _, err := r.Register(context.Background(), path); err != nil {
		t.Fatalf("Register: %v", err)
	}

	snapPath := filepath.Join(dir, "catalog.json")
	if err := r.SaveSnapshot(snapPath); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	r2 := New(Options{})
	n, err := r2.LoadSnapshot(snapPath)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if n != 1 {
		t.Fatalf("loaded %d entries, want 1", n)
	}

	src, err := r2.Get("sales")
	if err != nil {
		t.Fatalf("Get after load: %v", err)
	}
	if src.Schema.RowEstimate != 1 || len(src.Schema.Columns) != 2 {
		t.Errorf("loaded schema = %+v", src.Schema)
	}

	// The loaded entry must still open its file.
	h, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open after load: %v", err)
	}
	_ = h.Close()
}

// TestSnapshotLoadedSourceConcurrentOpen verifies a loaded entry is
// fully built at load time, so parallel queries can open it without a
// write to shared state.
func TestSnapshotLoadedSourceConcurrentOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeCSV(t, dir, "sales.csv", "id\n1\n2\n")

	r := New(Options{})
	if _, err := r.Register(context.Background(), path); err != nil {
		t.Fatalf("Register: %v", err)
	}
	snapPath := filepath.Join(dir, "catalog.json")
	if err := r.SaveSnapshot(snapPath); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	r2 := New(Options{})
	if _, err := r2.LoadSnapshot(snapPath); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	src, err := r2.Get("sales")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := src.Open(context.Background())
			if err != nil {
				t.Errorf("Open: %v", err)
				return
			}
			_, _ = h.Next()
			_ = h.Close()
		}()
	}
	wg.Wait()
}

// TestConcurrentRegisterAndRead is a smoke test for the lock discipline.
func TestConcurrentRegisterAndRead(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := New(Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		name := string(rune('a'+i)) + ".csv"
		path := writeCSV(t, dir, name, "id\n1\n")
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			if _, err := r.Register(context.Background(), p); err != nil {
				t.Errorf("Register: %v", err)
			}
		}(path)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.List()
			_ = r.Snapshot()
		}()
	}
	wg.Wait()

	if got := len(r.List()); got != 8 {
		t.Fatalf("List() = %d entries, want 8", got)
	}
}
