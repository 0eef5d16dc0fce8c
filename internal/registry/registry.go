// Package registry keeps the catalog of known vaults: name, kind, item count
// and timestamps. It is advisory only. The encrypted bytes in the storage
// backend are the source of truth, and a lost registry only loses metadata.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.yaml.in/yaml/v3"

	"github.com/Adam-Moller/secure-opus-vault/internal/metrics"
	"github.com/Adam-Moller/secure-opus-vault/internal/schema"
	"github.com/Adam-Moller/secure-opus-vault/internal/store"
)

// fileVersion is written at the top of the registry file.
const fileVersion = 1

// Entry describes one known vault.
type Entry struct {
	VaultName      string            `yaml:"vault_name"`
	Kind           schema.Kind       `yaml:"kind"`
	ItemCount      int               `yaml:"item_count"`
	Backend        store.BackendKind `yaml:"backend,omitempty"`
	CreatedAt      time.Time         `yaml:"created_at,omitempty"`
	LastOpenedAt   time.Time         `yaml:"last_opened_at,omitempty"`
	LastModifiedAt time.Time         `yaml:"last_modified_at,omitempty"`
}

// Patch updates selected fields of an entry. Nil fields are left unchanged.
type Patch struct {
	ItemCount      *int
	Backend        *store.BackendKind
	LastOpenedAt   *time.Time
	LastModifiedAt *time.Time
}

type registryFile struct {
	Version int     `yaml:"version"`
	Vaults  []Entry `yaml:"vaults"`
}

// Registry is a YAML-backed vault catalog. Every mutation rewrites the file
// atomically while holding the lock, so concurrent callers in one process
// never lose each other's updates.
type Registry struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// New returns a registry stored at path. The file is created on first write.
func New(path string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{path: path, logger: logger}
}

// Path returns the registry file location.
func (r *Registry) Path() string { return r.path }

// List returns all entries in insertion order.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// Get returns the entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.load() {
		if e.VaultName == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Upsert appends e, or replaces the entry with the same name in place.
func (r *Registry) Upsert(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.load()
	e = normalize(e)
	for i := range entries {
		if entries[i].VaultName == e.VaultName {
			entries[i] = e
			return r.save(entries)
		}
	}
	return r.save(append(entries, e))
}

// Patch applies p to the entry for name. A missing entry is not an error.
func (r *Registry) Patch(name string, p Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.load()
	for i := range entries {
		if entries[i].VaultName != name {
			continue
		}
		e := &entries[i]
		if p.ItemCount != nil {
			e.ItemCount = *p.ItemCount
		}
		if p.Backend != nil {
			e.Backend = *p.Backend
		}
		if p.LastOpenedAt != nil {
			e.LastOpenedAt = *p.LastOpenedAt
		}
		if p.LastModifiedAt != nil {
			e.LastModifiedAt = *p.LastModifiedAt
		}
		*e = normalize(*e)
		return r.save(entries)
	}
	return nil
}

// Remove deletes the entry for name. A missing entry is not an error.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.load()
	out := entries[:0]
	for _, e := range entries {
		if e.VaultName != name {
			out = append(out, e)
		}
	}
	if len(out) == len(entries) {
		return nil
	}
	return r.save(out)
}

// Reconcile drops entries recorded for backend whose names are not in names,
// the vaults actually present there. Entries for other backends are kept.
// It returns the names that were dropped.
func (r *Registry) Reconcile(backend store.BackendKind, names []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}

	entries := r.load()
	out := entries[:0]
	var dropped []string
	for _, e := range entries {
		if e.Backend == backend && !present[e.VaultName] {
			dropped = append(dropped, e.VaultName)
			continue
		}
		out = append(out, e)
	}
	if len(dropped) == 0 {
		return nil, nil
	}
	r.logger.Info("dropped registry entries without stored vault", "backend", backend, "count", len(dropped))
	return dropped, r.save(out)
}

// normalize repairs fields that older registry files left out or got wrong.
func normalize(e Entry) Entry {
	if !e.Kind.Valid() {
		e.Kind = schema.DefaultKind
	}
	if e.ItemCount < 0 {
		e.ItemCount = 0
	}
	return e
}

// load reads the file. An unreadable or corrupt registry is reported and
// treated as empty; it must never block access to the vaults themselves.
func (r *Registry) load() []Entry {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.reportUnreadable("read", err)
		}
		return []Entry{}
	}

	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		r.reportUnreadable("parse", err)
		return []Entry{}
	}

	entries := make([]Entry, 0, len(f.Vaults))
	seen := make(map[string]bool, len(f.Vaults))
	for _, e := range f.Vaults {
		if e.VaultName == "" || seen[e.VaultName] {
			continue
		}
		seen[e.VaultName] = true
		entries = append(entries, normalize(e))
	}
	return entries
}

func (r *Registry) reportUnreadable(stage string, err error) {
	metrics.RegistryRecoveries.Inc()
	r.logger.Warn("vault registry unreadable, treating as empty", "path", r.path, "stage", stage, "error", err)
}

// save replaces the registry file atomically.
func (r *Registry) save(entries []Entry) error {
	data, err := yaml.Marshal(registryFile{Version: fileVersion, Vaults: entries})
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(r.path), uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
