// Package filequery answers natural-language questions over local data
// files. Sources (CSV, TSV, xlsx, parquet) are registered once, their
// schemas inferred from a bounded sample; each question is translated
// into a structured query, planned, and executed with a provenance
// trace attached to the answer.
package filequery

import (
	"context"
	"fmt"
	"time"

	"filequery/internal/exec"
	"filequery/internal/format"
	"filequery/internal/intent"
	"filequery/internal/metrics"
	"filequery/internal/plan"
	"filequery/internal/qerr"
	"filequery/internal/registry"
	"filequery/internal/schema"
)

// Options configure an Engine.
type Options struct {
	// SampleRows bounds schema inference per source. <=0 uses the
	// default.
	SampleRows int

	// Translator handles natural-language translation. Nil selects the
	// rule-based fallback, which covers single-source requests only.
	Translator intent.Translator

	// Metrics receives query instrumentation. Nil records nothing.
	Metrics metrics.Backend

	// Logger receives operational log lines. Nil disables logging.
	Logger registry.Logger
}

// Engine ties the catalog, resolver, and executor together. Safe for
// concurrent use.
type Engine struct {
	catalog  *registry.Registry
	resolver *intent.Resolver
	executor *exec.Executor
	metrics  metrics.Backend
	logf     func(format string, v ...any)
}

// New builds an engine.
func New(opts Options) *Engine {
	m := opts.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	logf := func(string, ...any) {}
	if opts.Logger != nil {
		logf = opts.Logger.Printf
	}
	return &Engine{
		catalog:  registry.New(registry.Options{SampleRows: opts.SampleRows, Logger: opts.Logger}),
		resolver: intent.NewResolver(opts.Translator),
		executor: exec.New(exec.Options{Metrics: m, Logger: opts.Logger}),
		metrics:  m,
		logf:     logf,
	}
}

// AddFile registers one file and returns its catalog entry. An empty
// file registers with a valid schema and returns the entry together
// with the non-fatal error describing it.
func (e *Engine) AddFile(ctx context.Context, path string) (*registry.Source, error) {
	start := time.Now()
	src, err := e.catalog.Register(ctx, path)
	if src != nil {
		e.metrics.IncCounter("sources_registered_total", 1, metrics.Labels{"format": string(src.Format)})
		e.metrics.ObserveHistogram("register_duration_seconds", time.Since(start).Seconds(), nil)
	}
	return src, err
}

// AddFileWithTypes registers one file with declared column types taking
// precedence over inference.
func (e *Engine) AddFileWithTypes(ctx context.Context, path string, types map[string]schema.Type) (*registry.Source, error) {
	return e.catalog.RegisterWithOverride(ctx, path, types)
}

// AddFiles registers several files, isolating failures: one unreadable
// file does not block the rest. The returned map carries the per-path
// error for every path that did not register cleanly.
func (e *Engine) AddFiles(ctx context.Context, paths []string) ([]*registry.Source, map[string]error) {
	var out []*registry.Source
	errs := make(map[string]error)
	for _, p := range paths {
		src, err := e.AddFile(ctx, p)
		if err != nil {
			errs[p] = err
		}
		if src != nil {
			out = append(out, src)
		}
	}
	if len(errs) == 0 {
		return out, nil
	}
	return out, errs
}

// Sources lists registered sources in registration order.
func (e *Engine) Sources() []*registry.Source {
	return e.catalog.List()
}

// Refresh re-infers one source's schema from its current file contents.
func (e *Engine) Refresh(ctx context.Context, name string) (*registry.Source, error) {
	return e.catalog.Refresh(ctx, name)
}

// Catalog exposes the underlying registry for snapshot save/load.
func (e *Engine) Catalog() *registry.Registry {
	return e.catalog
}

// Answer is one answered query: the raw result for programmatic use
// and its rendered presentation.
type Answer struct {
	Result       *exec.Result
	Presentation format.Presentation
}

// Answer resolves, plans, and executes one natural-language query.
// Errors carry a machine-readable kind; qerr.KindOf extracts it.
func (e *Engine) Answer(ctx context.Context, query string) (*Answer, error) {
	if query == "" {
		return nil, qerr.New(qerr.AmbiguousIntent, "empty query")
	}

	snap := e.catalog.Snapshot()

	q, err := e.resolver.Resolve(ctx, query, snap)
	if err != nil {
		e.metrics.IncCounter("query_errors_total", 1, metrics.Labels{"kind": string(qerr.KindOf(err))})
		return nil, err
	}

	p, err := plan.Build(q, snap)
	if err != nil {
		e.metrics.IncCounter("query_errors_total", 1, metrics.Labels{"kind": string(qerr.KindOf(err))})
		return nil, err
	}

	res, err := e.executor.Run(ctx, p)
	if err != nil {
		return nil, err
	}

	return &Answer{Result: res, Presentation: format.Render(res)}, nil
}

// Execute runs an already resolved intent, for callers that build
// structured queries programmatically.
func (e *Engine) Execute(ctx context.Context, q *intent.QueryIntent) (*exec.Result, error) {
	snap := e.catalog.Snapshot()
	p, err := plan.Build(q, snap)
	if err != nil {
		return nil, err
	}
	return e.executor.Run(ctx, p)
}

// Close flushes metrics. The engine is unusable afterwards.
func (e *Engine) Close() error {
	if err := e.metrics.Close(); err != nil {
		return fmt.Errorf("filequery: close metrics: %w", err)
	}
	return nil
}
