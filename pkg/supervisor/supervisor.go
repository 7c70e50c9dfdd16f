// Package supervisor spawns, monitors, and terminates the single backend
// child process the router keeps alive at a time.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lemonade-sdk/lemonade/pkg/logging"
)

// DefaultGracePeriod is how long signal_terminate waits before escalating to
// signal_kill.
const DefaultGracePeriod = 5 * time.Second

// Handle identifies a spawned process.
type Handle struct {
	id      string
	cmd     *exec.Cmd
	started time.Time
}

// PID returns the OS process id, or 0 if the process has not started.
func (h *Handle) PID() int {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// StartedAt returns when the process was spawned.
func (h *Handle) StartedAt() time.Time { return h.started }

// ErrTimeout is returned by Wait when the deadline elapses before the
// process exits.
var ErrTimeout = fmt.Errorf("process did not exit before deadline")

// Supervisor tracks spawned child processes.
type Supervisor struct {
	log  logging.Logger
	mu   sync.Mutex
	proc map[string]*Handle
}

// New creates a Supervisor.
func New(log logging.Logger) *Supervisor {
	return &Supervisor{log: log, proc: make(map[string]*Handle)}
}

// Spawn starts path with args and env (appended to the current
// environment), validating the executable and arguments against
// command-injection patterns, and returns a handle. Stdout/stderr are
// streamed to captureStdout/captureStderr if non-nil.
func (s *Supervisor) Spawn(ctx context.Context, id, path string, args, env []string, captureStdout, captureStderr *os.File) (*Handle, error) {
	if err := validateExecutable(path); err != nil {
		return nil, err
	}
	for i, arg := range args {
		if err := validateArg(arg); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = captureStdout
	cmd.Stderr = captureStderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", filepath.Base(path), err)
	}

	h := &Handle{id: id, cmd: cmd, started: time.Now()}

	s.mu.Lock()
	s.proc[id] = h
	s.mu.Unlock()

	s.log.Info("process started", "id", id, "pid", h.PID(), "path", path)
	return h, nil
}

// Wait blocks until the process behind h exits or deadline elapses.
// deadline <= 0 means wait indefinitely.
func (s *Supervisor) Wait(h *Handle, deadline time.Duration) (int, error) {
	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	var timer <-chan time.Time
	if deadline > 0 {
		t := time.NewTimer(deadline)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err := <-done:
		s.forget(h.id)
		if err == nil {
			return 0, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	case <-timer:
		return 0, ErrTimeout
	}
}

func (s *Supervisor) forget(id string) {
	s.mu.Lock()
	delete(s.proc, id)
	s.mu.Unlock()
}

// SignalTerminate asks the process to exit gracefully, then, if it has not
// exited after grace, calls SignalKill. Returns once the process has
// exited or the forced kill has been issued.
func (s *Supervisor) SignalTerminate(h *Handle, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if err := terminateProcess(h.cmd.Process); err != nil {
		s.log.Warn("graceful terminate failed, escalating", "id", h.id, "error", err)
		return s.SignalKill(h)
	}

	done := make(chan struct{})
	go func() {
		h.cmd.Process.Wait() //nolint:errcheck
		close(done)
	}()

	select {
	case <-done:
		s.forget(h.id)
		return nil
	case <-time.After(grace):
		return s.SignalKill(h)
	}
}

// SignalKill forcibly kills the process.
func (s *Supervisor) SignalKill(h *Handle) error {
	defer s.forget(h.id)
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

func validateExecutable(path string) error {
	base := filepath.Base(path)
	if base == "" || base == "." || base == ".." {
		return fmt.Errorf("invalid executable path: %q", path)
	}
	return nil
}

func validateArg(arg string) error {
	for _, bad := range []string{";", "&", "|", "`", "$(", "\n"} {
		if strings.Contains(arg, bad) {
			return fmt.Errorf("unsafe argument %q: contains %q", arg, bad)
		}
	}
	return nil
}
