// Package registry is the process-wide catalog of registered sources.
//
// The registry owns Source entries exclusively: a published entry is
// immutable, and refresh replaces the whole entry atomically so readers
// never observe a partially-updated schema. Reads take a shared lock;
// register/refresh serialize on the write lock, which also gives the
// at-most-one-writer-per-name discipline (last writer wins, which is the
// documented refresh semantics).
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"filequery/internal/infer"
	"filequery/internal/qerr"
	"filequery/internal/schema"
	"filequery/internal/source"
)

// ErrNotFound reports a lookup for an unregistered source name.
var ErrNotFound = fmt.Errorf("registry: source not found")

// Logger is the minimal logging seam used by the registry.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Source is one published catalog entry: a named dataset with its
// inferred schema and a re-openable row-access handle.
//
// Entries are immutable after publication. Refresh swaps the entry for a
// new one; queries holding the old pointer keep a consistent view.
type Source struct {
	Name   string        `json:"name"`
	Path   string        `json:"path"`
	Format source.Format `json:"format"`
	Schema schema.Schema `json:"schema"`

	// Empty notes that inference found zero data rows. The source still
	// participates in queries (joins against it resolve to zero rows).
	Empty bool `json:"empty,omitempty"`

	Registered time.Time `json:"registered"`
	Refreshed  time.Time `json:"refreshed"`

	variant source.Source
}

// Open acquires a fresh row stream for this source. The variant is set
// at publication (register, refresh, or snapshot load), never after, so
// concurrent opens need no synchronization.
func (s *Source) Open(ctx context.Context) (source.Handle, error) {
	if s.variant == nil {
		return nil, qerr.New(qerr.UnreadableSource, "source %q has no row access", s.Name)
	}
	return s.variant.Open(ctx)
}

// Options configure a Registry.
type Options struct {
	// SampleRows is passed through to inference. <=0 uses the default.
	SampleRows int
	Logger     Logger
}

// Registry maps logical source names to published entries.
type Registry struct {
	sampleRows int
	logf       func(format string, v ...any)

	mu     sync.RWMutex
	byName map[string]*Source
	order  []string
}

// New creates an empty registry.
func New(opts Options) *Registry {
	logf := func(string, ...any) {}
	if opts.Logger != nil {
		logf = opts.Logger.Printf
	}
	return &Registry{
		sampleRows: opts.SampleRows,
		logf:       logf,
		byName:     make(map[string]*Source),
	}
}

// Register infers path's schema and publishes it under a name derived
// from the file name. Registering the same path again refreshes in place
// under the existing name.
//
// An EmptySource inference result is non-fatal: the entry is published
// with Empty set and the error is returned alongside it so callers can
// report it.
func (r *Registry) Register(ctx context.Context, path string) (*Source, error) {
	return r.register(ctx, path, nil)
}

// RegisterWithOverride registers path with declared column types taking
// precedence over inference, for files whose rare values defeat sampling.
func (r *Registry) RegisterWithOverride(ctx context.Context, path string, overrides map[string]schema.Type) (*Source, error) {
	return r.register(ctx, path, overrides)
}

func (r *Registry) register(ctx context.Context, path string, overrides map[string]schema.Type) (*Source, error) {
	variant, err := source.New(path)
	if err != nil {
		return nil, err
	}

	// Inference runs outside the lock; only publication is serialized.
	sch, inferErr := infer.Infer(ctx, variant, infer.Options{SampleRows: r.sampleRows, Overrides: overrides})
	if inferErr != nil && !qerr.IsKind(inferErr, qerr.EmptySource) {
		return nil, inferErr
	}

	now := time.Now()
	entry := &Source{
		Path:       path,
		Format:     variant.Format(),
		Schema:     sch,
		Empty:      qerr.IsKind(inferErr, qerr.EmptySource),
		Registered: now,
		Refreshed:  now,
		variant:    variant,
	}

	r.mu.Lock()
	entry.Name = r.assignNameLocked(path)
	if prior, ok := r.byName[entry.Name]; ok {
		entry.Registered = prior.Registered
	} else {
		r.order = append(r.order, entry.Name)
	}
	r.byName[entry.Name] = entry
	r.mu.Unlock()

	r.logf("registry: registered %s name=%s columns=%d rows=%d empty=%t",
		path, entry.Name, len(sch.Columns), sch.RowEstimate, entry.Empty)

	return entry, inferErr
}

// assignNameLocked derives the logical name for path. The base name is
// the normalized file stem; when a different path already owns it, a
// normalized parent-directory fragment is appended, then a numeric
// suffix. The same path always maps back to its existing name, so
// re-registration refreshes rather than duplicates.
func (r *Registry) assignNameLocked(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base := schema.TruncateFieldName(schema.NormalizeFieldName(stem))
	if base == "" {
		base = "source"
	}

	if owner, ok := r.byName[base]; !ok || owner.Path == path {
		return base
	}

	dir := schema.NormalizeFieldName(filepath.Base(filepath.Dir(path)))
	if dir != "" {
		cand := schema.TruncateFieldName(base + "_" + dir)
		if owner, ok := r.byName[cand]; !ok || owner.Path == path {
			return cand
		}
	}

	for i := 2; ; i++ {
		cand := fmt.Sprintf("%s_%d", base, i)
		if owner, ok := r.byName[cand]; !ok || owner.Path == path {
			return cand
		}
	}
}

// Get returns the entry published under name.
func (r *Registry) Get(name string) (*Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[schema.NormalizeFieldName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

// List returns the published entries in registration order.
func (r *Registry) List() []*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Source, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}

// Snapshot returns an immutable name→entry view for a single request.
// Entries are the published pointers; they never mutate, so the snapshot
// stays consistent even across a concurrent refresh.
func (r *Registry) Snapshot() map[string]*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Source, len(r.byName))
	for n, s := range r.byName {
		out[n] = s
	}
	return out
}

// Refresh re-runs inference for name and atomically swaps the entry.
// Concurrent refreshes of the same name are safe; the last writer's
// snapshot wins.
func (r *Registry) Refresh(ctx context.Context, name string) (*Source, error) {
	key := schema.NormalizeFieldName(name)

	r.mu.RLock()
	prior, ok := r.byName[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	variant, err := source.New(prior.Path)
	if err != nil {
		return nil, err
	}
	sch, inferErr := infer.Infer(ctx, variant, infer.Options{SampleRows: r.sampleRows})
	if inferErr != nil && !qerr.IsKind(inferErr, qerr.EmptySource) {
		return nil, inferErr
	}

	entry := &Source{
		Name:       prior.Name,
		Path:       prior.Path,
		Format:     prior.Format,
		Schema:     sch,
		Empty:      qerr.IsKind(inferErr, qerr.EmptySource),
		Registered: prior.Registered,
		Refreshed:  time.Now(),
		variant:    variant,
	}

	r.mu.Lock()
	r.byName[key] = entry
	r.mu.Unlock()

	r.logf("registry: refreshed %s rows=%d", entry.Name, sch.RowEstimate)
	return entry, inferErr
}

// Names returns the sorted set of registered names, for error messages.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
