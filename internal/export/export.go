// Package export writes query results to relational stores so answers
// can feed dashboards and downstream jobs.
//
// Backends register themselves by kind from init() in their own
// packages; importing a backend package is what makes its kind
// available. The core export path depends only on the Exporter
// interface, never on a driver.
package export

import (
	"context"
	"fmt"
	"sync"

	"filequery/internal/exec"
)

// Config selects and configures an export backend.
//
// Kind must match a registered backend ("sqlite", "postgres", "mssql").
// DSN is passed through to the backend; validation is backend-specific.
// Table is the destination table name; CreateTable controls whether the
// backend issues create-if-not-exists DDL derived from the result
// columns before inserting.
type Config struct {
	Kind        string
	DSN         string
	Table       string
	CreateTable bool
}

// Exporter writes results to one destination.
type Exporter interface {
	// EnsureTable creates the destination table from the result's
	// column set when the config asks for it. Idempotent.
	EnsureTable(ctx context.Context, table string, cols []exec.Column) error

	// InsertRows appends the result rows and reports how many were
	// written.
	InsertRows(ctx context.Context, table string, cols []exec.Column, rows [][]any) (int64, error)

	// Close releases connections. Call once.
	Close()
}

type factory func(ctx context.Context, cfg Config) (Exporter, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register makes a backend available under kind. Call from init() in
// the backend package.
//
// Panics if kind is empty, f is nil, or kind is already registered;
// duplicate registration is a wiring bug worth failing fast on.
func Register(kind string, f factory) {
	if kind == "" {
		panic("export: Register called with empty kind")
	}
	if f == nil {
		panic("export: Register called with nil factory for kind " + kind)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[kind]; dup {
		panic("export: Register called twice for kind " + kind)
	}
	factories[kind] = f
}

// New constructs the exporter for cfg.Kind.
func New(ctx context.Context, cfg Config) (Exporter, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("export: empty backend kind")
	}

	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("export: unsupported backend kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}

// Write is the full export path: ensure the table if requested, then
// insert every result row.
func Write(ctx context.Context, exp Exporter, cfg Config, res *exec.Result) (int64, error) {
	if cfg.Table == "" {
		return 0, fmt.Errorf("export: empty destination table")
	}
	if cfg.CreateTable {
		if err := exp.EnsureTable(ctx, cfg.Table, res.Columns); err != nil {
			return 0, fmt.Errorf("export: ensure table %s: %w", cfg.Table, err)
		}
	}
	n, err := exp.InsertRows(ctx, cfg.Table, res.Columns, res.Rows)
	if err != nil {
		return n, fmt.Errorf("export: insert into %s: %w", cfg.Table, err)
	}
	return n, nil
}
