// Package registry implements the ModelRegistry: a merged view of a
// shipped catalog and a user-extensible catalog of ModelDescriptors.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lemonade-sdk/lemonade/pkg/inference"
)

const userCatalogFilename = "user_models.json"

// DownloadChecker reports whether a descriptor's artifacts are already
// materialized on disk. The Router wires this to the ArtifactStore.
type DownloadChecker func(descriptor inference.ModelDescriptor) bool

// Registry is the ModelRegistry.
type Registry struct {
	mu             sync.RWMutex
	shipped        map[string]inference.ModelDescriptor
	user           map[string]inference.ModelDescriptor
	userCatalogPath string
	isDownloaded   DownloadChecker
}

// New loads the shipped catalog (JSON array of ModelDescriptor) and the
// user catalog from cacheRoot/user_models.json (created lazily), keeping
// only shipped entries whose recipe is in supportedRecipes.
func New(shippedCatalogJSON []byte, cacheRoot string, supportedRecipes map[string]bool, isDownloaded DownloadChecker) (*Registry, error) {
	var all []inference.ModelDescriptor
	if len(shippedCatalogJSON) > 0 {
		if err := json.Unmarshal(shippedCatalogJSON, &all); err != nil {
			return nil, fmt.Errorf("parse shipped catalog: %w", err)
		}
	}

	shipped := make(map[string]inference.ModelDescriptor)
	for _, d := range all {
		if supportedRecipes != nil && !supportedRecipes[d.Recipe] {
			continue
		}
		shipped[d.Name] = d
	}

	r := &Registry{
		shipped:         shipped,
		user:            make(map[string]inference.ModelDescriptor),
		userCatalogPath: filepath.Join(cacheRoot, userCatalogFilename),
		isDownloaded:    isDownloaded,
	}

	if err := r.loadUserCatalog(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) loadUserCatalog() error {
	data, err := os.ReadFile(r.userCatalogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read user catalog: %w", err)
	}
	var entries []inference.ModelDescriptor
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse user catalog: %w", err)
	}
	for _, d := range entries {
		r.user[d.Name] = d
	}
	return nil
}

func (r *Registry) persistUserCatalog() error {
	entries := make([]inference.ModelDescriptor, 0, len(r.user))
	for _, d := range r.user {
		entries = append(entries, d)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user catalog: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.userCatalogPath), 0o755); err != nil {
		return fmt.Errorf("create cache root: %w", err)
	}
	return os.WriteFile(r.userCatalogPath, data, 0o644)
}

// ListAll returns every descriptor visible in the merged registry, user
// entries winning over shipped ones on name collision.
func (r *Registry) ListAll() []inference.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	merged := make(map[string]inference.ModelDescriptor, len(r.shipped)+len(r.user))
	for name, d := range r.shipped {
		merged[name] = d
	}
	for name, d := range r.user {
		merged[name] = d
	}

	out := make([]inference.ModelDescriptor, 0, len(merged))
	for _, d := range merged {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the descriptor for name, checking the user catalog
// first.
func (r *Registry) Lookup(name string) (inference.ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.user[name]; ok {
		return d, true
	}
	d, ok := r.shipped[name]
	return d, ok
}

// RegisterUser adds or replaces a user-catalog entry and persists it.
// name must be prefixed "user." per ModelDescriptor's invariant.
func (r *Registry) RegisterUser(name string, descriptor inference.ModelDescriptor) error {
	if !hasUserPrefix(name) {
		return fmt.Errorf("user catalog entries must be named with a %q prefix, got %q", "user.", name)
	}
	descriptor.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	r.user[name] = descriptor
	return r.persistUserCatalog()
}

// UnregisterUser removes a user-catalog entry and persists the change.
// It is a no-op (not an error) if the entry does not exist.
func (r *Registry) UnregisterUser(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.user[name]; !ok {
		return nil
	}
	delete(r.user, name)
	return r.persistUserCatalog()
}

// IsDownloaded delegates to the registry's DownloadChecker (wired to the
// ArtifactStore by the caller).
func (r *Registry) IsDownloaded(name string) bool {
	d, ok := r.Lookup(name)
	if !ok || r.isDownloaded == nil {
		return false
	}
	return r.isDownloaded(d)
}

func hasUserPrefix(name string) bool {
	const prefix = "user."
	return len(name) > len(prefix) && name[:len(prefix)] == prefix
}
