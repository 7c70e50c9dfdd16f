// Package router implements the Router: owner of the single active
// BackendSession, serializer of load/unload transitions, and the
// request-dispatch path to the running backend.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lemonade-sdk/lemonade/pkg/artifact"
	"github.com/lemonade-sdk/lemonade/pkg/inference"
	"github.com/lemonade-sdk/lemonade/pkg/logging"
	"github.com/lemonade-sdk/lemonade/pkg/registry"
	"github.com/lemonade-sdk/lemonade/pkg/store"
	"github.com/lemonade-sdk/lemonade/pkg/supervisor"
)

// ErrBackendNotFound indicates a descriptor names a recipe with no
// registered adapter.
var ErrBackendNotFound = errors.New("no backend adapter registered for recipe")

// ErrModelNotFound indicates a name absent from both catalogs.
var ErrModelNotFound = errors.New("model not found in registry")

// ErrNoModelLoaded indicates a dispatch was attempted with nothing
// loaded.
var ErrNoModelLoaded = errors.New("no model currently loaded")

// ErrBackendCrashed indicates the backend process behind the loaded
// session is no longer running. The Router clears the stale session
// before returning this, so the very next Load attempts a fresh start.
var ErrBackendCrashed = errors.New("backend process exited unexpectedly")

// ErrModelInvalidated indicates the model's artifacts on disk were
// materialized under a different engine version than the one now
// installed, and must be re-pulled before loading.
var ErrModelInvalidated = errors.New("model artifacts invalidated by engine upgrade; pull again")

// engineVersionRevision is the artifact revision Router materializes and
// tracks an engine-version marker against. Only "main" is ever fetched.
const engineVersionRevision = "main"

// DefaultUnloadGrace is how long Unload waits for a graceful exit before
// escalating to a forced kill.
const DefaultUnloadGrace = 10 * time.Second

// state is the loaded-model bookkeeping the Router owns exclusively.
type state struct {
	descriptor inference.ModelDescriptor
	backend    inference.Backend
	session    *inference.BackendSession
	keepAlive  inference.KeepAlive
	timer      *time.Timer
}

// Router serializes model load/unload and owns the single active
// BackendSession; only one model runs at a time.
type Router struct {
	log      logging.Logger
	registry *registry.Registry
	store    *store.Store
	fetcher  *artifact.Fetcher
	backends map[string]inference.Backend
	installRoot string

	mu      sync.Mutex
	current *state
}

// New creates a Router. backends is keyed by recipe tag (Backend.Name()).
func New(log logging.Logger, reg *registry.Registry, st *store.Store, fetcher *artifact.Fetcher, backends map[string]inference.Backend, installRoot string) *Router {
	return &Router{
		log:         log,
		registry:    reg,
		store:       st,
		fetcher:     fetcher,
		backends:    backends,
		installRoot: installRoot,
	}
}

// Current returns the currently-loaded session, or nil if none.
func (r *Router) Current() (inference.ModelDescriptor, *inference.BackendSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return inference.ModelDescriptor{}, nil, false
	}
	return r.current.descriptor, r.current.session, true
}

// Backend returns the adapter currently handling the loaded model, or
// nil if none is loaded. Used by the streaming proxy to translate
// requests/parse telemetry without re-locking the router per chunk.
func (r *Router) Backend() inference.Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	return r.current.backend
}

// Load ensures name is the currently-running model, loading it (and
// unloading whatever was running before) if necessary. Calling Load
// again for the model already loaded only refreshes its keep_alive
// timer.
func (r *Router) Load(ctx context.Context, name string, config *inference.BackendConfiguration, sink inference.ProgressSink) (*inference.BackendSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	descriptor, ok := r.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}

	if r.current != nil && r.current.descriptor.Name == name {
		if !supervisor.IsProcessAlive(r.current.session.PID) {
			crashed := r.current.descriptor.Name
			r.log.Warn("backend process no longer running", "name", crashed, "pid", r.current.session.PID)
			if err := r.unloadLocked(ctx); err != nil {
				r.log.Warn("error cleaning up crashed backend", "name", crashed, "error", err)
			}
			return nil, fmt.Errorf("%w: %q", ErrBackendCrashed, crashed)
		}
		r.rearmLocked(keepAliveFromConfig(config))
		return r.current.session, nil
	}

	backend, ok := r.backends[descriptor.Recipe]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotFound, descriptor.Recipe)
	}

	if r.current != nil {
		if err := r.unloadLocked(ctx); err != nil {
			return nil, fmt.Errorf("unload previous model %q: %w", r.current.descriptor.Name, err)
		}
	}

	if err := backend.EnsureInstalled(ctx, r.installRoot, sink); err != nil {
		return nil, fmt.Errorf("ensure %s installed: %w", descriptor.Recipe, err)
	}

	if err := r.checkInvalidatedLocked(descriptor, backend, name); err != nil {
		return nil, err
	}

	localPaths, err := r.materialize(ctx, descriptor, backend, sink)
	if err != nil {
		return nil, fmt.Errorf("materialize artifacts for %q: %w", name, err)
	}

	session, err := backend.Start(ctx, descriptor, localPaths, config)
	if err != nil {
		return nil, fmt.Errorf("start %s for %q: %w", descriptor.Recipe, name, err)
	}

	r.current = &state{
		descriptor: descriptor,
		backend:    backend,
		session:    session,
	}
	r.rearmLocked(keepAliveFromConfig(config))

	r.log.Info("model loaded", "name", name, "recipe", descriptor.Recipe, "port", session.Port)
	return session, nil
}

// Pull ensures name's backend engine is installed and its model
// artifacts are materialized on disk, without starting the backend.
// Unlike Load, it does not touch the currently-loaded session: a pull
// for a model other than the one currently running is safe to call
// concurrently with inference against that running model.
func (r *Router) Pull(ctx context.Context, name string, sink inference.ProgressSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	descriptor, ok := r.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}
	backend, ok := r.backends[descriptor.Recipe]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBackendNotFound, descriptor.Recipe)
	}

	if err := backend.EnsureInstalled(ctx, r.installRoot, sink); err != nil {
		return fmt.Errorf("ensure %s installed: %w", descriptor.Recipe, err)
	}
	if _, err := r.materialize(ctx, descriptor, backend, sink); err != nil {
		return fmt.Errorf("materialize artifacts for %q: %w", name, err)
	}
	return nil
}

// checkInvalidatedLocked compares the engine version that produced
// descriptor's on-disk artifacts (if any were ever materialized)
// against backend's currently installed version. A mismatch means the
// engine was upgraded after the artifacts were downloaded and they may
// no longer be compatible with it; the caller must Pull again before
// Load can proceed. Backends with their own model management are
// exempt: the gateway never materializes artifacts for them.
func (r *Router) checkInvalidatedLocked(descriptor inference.ModelDescriptor, backend inference.Backend, name string) error {
	if backend.UsesExternalModelManagement() {
		return nil
	}
	current := backend.InstalledVersion()
	if current == "" {
		return nil
	}
	repoID, _ := inference.SplitCheckpoint(descriptor.Checkpoint)
	recorded, ok := r.store.EngineVersion(repoID, engineVersionRevision)
	if !ok || recorded == current {
		return nil
	}
	return fmt.Errorf("%w: %q was materialized for engine version %s, installed engine is now %s", ErrModelInvalidated, name, recorded, current)
}

func keepAliveFromConfig(config *inference.BackendConfiguration) inference.KeepAlive {
	if config != nil && config.KeepAlive != nil {
		return *config.KeepAlive
	}
	return inference.KeepAliveDefault
}

// materialize resolves the checkpoint's required artifacts and
// downloads/links them into the local cache, unless the backend manages
// its own model acquisition.
func (r *Router) materialize(ctx context.Context, descriptor inference.ModelDescriptor, backend inference.Backend, sink inference.ProgressSink) (map[string]string, error) {
	if backend.UsesExternalModelManagement() {
		return nil, nil
	}

	repoID, variant := inference.SplitCheckpoint(descriptor.Checkpoint)

	allFiles, err := r.fetcher.ListFiles(ctx, repoID, engineVersionRevision)
	if err != nil {
		return nil, fmt.Errorf("list files for %s: %w", repoID, err)
	}

	weights, configs := artifact.FilterModelFiles(allFiles)
	if variant != "" {
		if subdir := artifact.FindVariantSubdirectory(allFiles, variant); subdir != "" {
			weights = artifact.FilesUnderSubdirectory(allFiles, subdir)
		} else {
			weights = artifact.FilterByVariant(weights, variant)
			matched := false
			for _, w := range weights {
				if strings.Contains(strings.ToLower(w.Filename()), strings.ToLower(variant)) {
					matched = true
					break
				}
			}
			if !matched {
				return nil, fmt.Errorf("variant %q not found in %s", variant, repoID)
			}
		}
	}

	files := append(append([]artifact.RepoFile{}, weights...), configs...)
	if len(files) == 0 {
		return nil, fmt.Errorf("no usable model files found in %s", repoID)
	}

	total := len(files)
	paths, err := r.store.Materialize(repoID, engineVersionRevision, files, func(file artifact.RepoFile, blobPath string) error {
		index := indexOf(files, file)
		return r.fetcher.Download(ctx, repoID, engineVersionRevision, file, blobPath, index, total, sink)
	})
	if err != nil {
		return nil, err
	}

	if version := backend.InstalledVersion(); version != "" {
		if err := r.store.RecordEngineVersion(repoID, engineVersionRevision, version); err != nil {
			r.log.Warn("failed to record engine version marker", "repo", repoID, "error", err)
		}
	}
	return paths, nil
}

// indexOf returns file's position within files, by path. Used purely to
// echo a stable fileIndex into progress events.
func indexOf(files []artifact.RepoFile, target artifact.RepoFile) int {
	for i, f := range files {
		if f.Path == target.Path {
			return i
		}
	}
	return 0
}

// Unload stops the currently-running backend, if any.
func (r *Router) Unload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unloadLocked(ctx)
}

func (r *Router) unloadLocked(ctx context.Context) error {
	if r.current == nil {
		return nil
	}
	if r.current.timer != nil {
		r.current.timer.Stop()
	}

	session := r.current.session
	backend := r.current.backend
	name := r.current.descriptor.Name
	r.current = nil

	if err := backend.Stop(ctx, session, DefaultUnloadGrace); err != nil {
		r.log.Warn("error stopping backend", "name", name, "error", err)
		return err
	}
	r.log.Info("model unloaded", "name", name)
	return nil
}

// rearmLocked resets the keep_alive auto-unload timer for the currently
// loaded model. Must be called with r.mu held.
func (r *Router) rearmLocked(keepAlive inference.KeepAlive) {
	if r.current == nil {
		return
	}
	r.current.keepAlive = keepAlive
	if r.current.timer != nil {
		r.current.timer.Stop()
		r.current.timer = nil
	}
	if keepAlive == inference.KeepAliveForever {
		return
	}

	d := keepAlive.Duration()
	if d <= 0 {
		d = time.Millisecond // KeepAliveImmediate: unload essentially right away
	}
	r.current.timer = time.AfterFunc(d, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.current == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), DefaultUnloadGrace+5*time.Second)
		defer cancel()
		if err := r.unloadLocked(ctx); err != nil {
			r.log.Warn("keep_alive auto-unload failed", "error", err)
		}
	})
}

// Touch refreshes the keep_alive timer for the currently loaded model
// without otherwise changing anything; called on every forwarded
// request so activity keeps the model resident.
func (r *Router) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return
	}
	r.rearmLocked(r.current.keepAlive)
}
