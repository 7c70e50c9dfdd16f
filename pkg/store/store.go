// Package store implements the ArtifactStore: a content-addressed,
// hub-layout-compatible on-disk cache of model repository files.
//
// Layout:
//
//	<cache_root>/models--<org>--<repo>/blobs/<oid>
//	<cache_root>/models--<org>--<repo>/snapshots/<revision>/<file>
//
// snapshots/ entries are symlinks into blobs/ where the platform allows
// it, falling back to a plain copy otherwise.
package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/lemonade-sdk/lemonade/pkg/artifact"
)

// Store is the ArtifactStore.
type Store struct {
	root string
}

// New creates a Store rooted at cacheRoot, creating the directory if
// necessary.
func New(cacheRoot string) (*Store, error) {
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &Store{root: cacheRoot}, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

// repoDirName follows the hub convention of replacing the repo id's "/"
// with "--" and prefixing "models--".
func repoDirName(repoID string) string {
	return "models--" + strings.ReplaceAll(repoID, "/", "--")
}

// RepoPath returns the cache directory for repoID.
func (s *Store) RepoPath(repoID string) string {
	return filepath.Join(s.root, repoDirName(repoID))
}

// BlobPath returns the content-addressed path for oid within repoID's
// cache directory.
func (s *Store) BlobPath(repoID, oid string) string {
	return filepath.Join(s.RepoPath(repoID), "blobs", oid)
}

// SnapshotPath returns the path a given file would occupy within the
// revision's snapshot tree.
func (s *Store) SnapshotPath(repoID, revision, relPath string) string {
	return filepath.Join(s.RepoPath(repoID), "snapshots", revision, relPath)
}

// lockPath returns the path to the per-blob-path lock file serializing
// concurrent writers (per-path, not global: unrelated blobs download in
// parallel).
func (s *Store) lockPath(blobPath string) string {
	return blobPath + ".lock"
}

// IsMaterialized reports whether every file is already present under
// revision's snapshot tree with the expected size.
func (s *Store) IsMaterialized(repoID, revision string, files []artifact.RepoFile) bool {
	for _, f := range files {
		path := s.SnapshotPath(repoID, revision, f.Path)
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if expected := f.ActualSize(); expected > 0 && info.Size() != expected {
			return false
		}
	}
	return true
}

// maxConcurrentFetches bounds how many files Materialize fetches at
// once, so pulling a many-shard checkpoint doesn't open an unbounded
// number of simultaneous connections to the hub.
const maxConcurrentFetches = 4

// Materialize ensures every file is present in the blob store and linked
// into the revision's snapshot tree, fetching whatever is missing via
// fetch (called once per file that isn't already complete, with bounded
// concurrency across files). It returns the absolute snapshot-tree path
// for each file, keyed by relative path.
//
// fetch receives the destination blob path to write to (which may
// already contain a partial download to resume from) and must return
// once that file is fully written.
func (s *Store) Materialize(repoID, revision string, files []artifact.RepoFile, fetch func(file artifact.RepoFile, blobPath string) error) (map[string]string, error) {
	results := make([]string, len(files))

	group := &errgroup.Group{}
	group.SetLimit(maxConcurrentFetches)

	for i, f := range files {
		i, f := i, f
		group.Go(func() error {
			oid := blobOID(f)
			blobPath := s.BlobPath(repoID, oid)
			if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
				return fmt.Errorf("create blob dir: %w", err)
			}

			if err := s.withLock(blobPath, func() error {
				if complete, err := isComplete(blobPath, f.ActualSize()); err != nil {
					return err
				} else if !complete {
					if err := fetch(f, blobPath); err != nil {
						return fmt.Errorf("fetch %s: %w", f.Path, err)
					}
					if complete, err := isComplete(blobPath, f.ActualSize()); err != nil {
						return err
					} else if !complete {
						return fmt.Errorf("fetch %s: incomplete after fetch (size mismatch)", f.Path)
					}
				}
				return nil
			}); err != nil {
				return err
			}

			snapPath := s.SnapshotPath(repoID, revision, f.Path)
			if err := linkOrCopy(blobPath, snapPath); err != nil {
				return fmt.Errorf("link %s into snapshot: %w", f.Path, err)
			}
			results[i] = snapPath
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	paths := make(map[string]string, len(files))
	for i, f := range files {
		paths[f.Path] = results[i]
	}
	return paths, nil
}

// withLock serializes concurrent writers to the same blob path across
// goroutines and processes via a flock-based file lock.
func (s *Store) withLock(blobPath string, fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	lock := flock.New(s.lockPath(blobPath))
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire lock for %s: %w", blobPath, err)
	}
	if !locked {
		return fmt.Errorf("could not acquire lock for %s", blobPath)
	}
	defer lock.Unlock()
	return fn()
}

func isComplete(path string, expectedSize int64) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if expectedSize <= 0 {
		return true, nil
	}
	return info.Size() == expectedSize, nil
}

// engineVersionMarker sits alongside a revision's snapshot files,
// recording which backend engine version last materialized them.
const engineVersionMarker = ".engine_version"

// RecordEngineVersion writes the engine version that produced revision's
// snapshot, so a later engine upgrade can be detected.
func (s *Store) RecordEngineVersion(repoID, revision, version string) error {
	path := filepath.Join(s.RepoPath(repoID), "snapshots", revision, engineVersionMarker)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(version), 0o644); err != nil {
		return fmt.Errorf("record engine version: %w", err)
	}
	return nil
}

// EngineVersion returns the engine version recorded against revision's
// snapshot, or false if none was ever recorded.
func (s *Store) EngineVersion(repoID, revision string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(s.RepoPath(repoID), "snapshots", revision, engineVersionMarker))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// HasAnySnapshot reports whether repoID has a non-empty snapshot
// directory for revision, without consulting remote file metadata. It
// is the fast, offline approximation of "downloaded" the ModelRegistry
// uses for its DownloadChecker: a full IsMaterialized check requires
// the expected file list, which in general means a network round trip
// this check is meant to avoid.
func (s *Store) HasAnySnapshot(repoID, revision string) bool {
	entries, err := os.ReadDir(filepath.Join(s.RepoPath(repoID), "snapshots", revision))
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// Delete removes repoID's entire cache directory (blobs and snapshots),
// used by the delete endpoint to reclaim disk space. It is a no-op if
// the directory does not exist.
func (s *Store) Delete(repoID string) error {
	err := os.RemoveAll(s.RepoPath(repoID))
	if err != nil {
		return fmt.Errorf("delete %s from cache: %w", repoID, err)
	}
	return nil
}

// blobOID picks the content-address key for a file: its LFS/git OID when
// known, else a path-derived key (non-LFS small files, e.g. config.json,
// have no oid reported by the tree API in every hub deployment).
func blobOID(f artifact.RepoFile) string {
	if f.OID != "" {
		return f.OID
	}
	if f.LFS != nil && f.LFS.OID != "" {
		return f.LFS.OID
	}
	return "path-" + strings.ReplaceAll(f.Path, "/", "_")
}

// linkOrCopy creates a symlink from dst to src, falling back to copying
// the file's bytes on platforms/filesystems without symlink privilege.
func linkOrCopy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	os.Remove(dst)

	if err := os.Symlink(src, dst); err == nil {
		return nil
	}

	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
