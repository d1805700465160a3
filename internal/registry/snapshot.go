package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"filequery/internal/source"
)

// catalogSnapshot is the on-disk shape of a saved registry.
type catalogSnapshot struct {
	SavedAt time.Time `json:"saved_at"`
	Sources []*Source `json:"sources"`
}

// SaveSnapshot writes the catalog to path as JSON. Row-access handles are
// not persisted; LoadSnapshot reconstructs them from the stored paths.
func (r *Registry) SaveSnapshot(path string) error {
	snap := catalogSnapshot{
		SavedAt: time.Now(),
		Sources: r.List(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("registry: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("registry: write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot merges a saved catalog into the registry without
// re-running inference. Entries whose file no longer exists are skipped
// with a log line. Names already registered are left untouched.
func (r *Registry) LoadSnapshot(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("registry: read snapshot: %w", err)
	}
	var snap catalogSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("registry: decode snapshot %s: %w", filepath.Base(path), err)
	}

	loaded := 0
	for _, s := range snap.Sources {
		if s.Name == "" || s.Path == "" {
			continue
		}
		if _, err := os.Stat(s.Path); err != nil {
			r.logf("registry: snapshot entry %s skipped: %v", s.Name, err)
			continue
		}
		// The variant is rebuilt before publication so the entry is
		// immutable afterwards; concurrent queries share it safely.
		v, err := source.New(s.Path)
		if err != nil {
			r.logf("registry: snapshot entry %s skipped: %v", s.Name, err)
			continue
		}
		s.variant = v

		r.mu.Lock()
		if _, exists := r.byName[s.Name]; exists {
			r.mu.Unlock()
			continue
		}
		r.byName[s.Name] = s
		r.order = append(r.order, s.Name)
		r.mu.Unlock()
		loaded++
	}
	return loaded, nil
}
