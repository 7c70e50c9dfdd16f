// Package lifecycle implements the InstanceGuard (single-instance lock
// file) and the top-level signal-driven shutdown sequence.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/lemonade-sdk/lemonade/pkg/supervisor"
)

const lockFilename = "lemonade.lock"

// ErrAlreadyRunning indicates another gateway instance already holds the
// lock.
var ErrAlreadyRunning = fmt.Errorf("another lemonade instance is already running")

// Guard is the InstanceGuard: an exclusive file lock under the cache
// root that prevents two gateway processes from racing over the same
// ArtifactStore and backend install root.
type Guard struct {
	lock     *flock.Flock
	lockPath string
}

// Acquire takes the exclusive lock at cacheRoot/lemonade.lock. If the
// lock is already held, it checks whether the PID recorded in the lock
// file is still alive; a live PID yields ErrAlreadyRunning, a dead one
// is treated as a stale lock left by a crashed process and is stolen.
func Acquire(cacheRoot string) (*Guard, error) {
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	path := filepath.Join(cacheRoot, lockFilename)
	lock := flock.New(path)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		if stealable(path) {
			_ = os.Remove(path)
			locked, err = lock.TryLock()
			if err != nil || !locked {
				return nil, ErrAlreadyRunning
			}
		} else {
			return nil, ErrAlreadyRunning
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("write lock file: %w", err)
	}

	return &Guard{lock: lock, lockPath: path}, nil
}

// stealable reports whether the process that wrote path's PID is no
// longer alive, meaning the lock can be safely reclaimed.
func stealable(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return true
	}
	return !supervisor.IsProcessAlive(pid)
}

// Release unlocks and removes the lock file.
func (g *Guard) Release() error {
	if g == nil || g.lock == nil {
		return nil
	}
	os.Remove(g.lockPath)
	return g.lock.Unlock()
}
