package supervisor

import (
	"os"
	"time"
)

// KillTree enumerates the children of pid before signalling pid itself
// (children get reparented once the parent exits, which would otherwise
// orphan them), terminates the parent, then the children, escalating to a
// forced kill for anything still alive after grace.
func (s *Supervisor) KillTree(pid int, grace time.Duration) {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	children := childPIDs(pid)

	signalPID(pid, false)
	for _, c := range children {
		signalPID(c, false)
	}

	deadline := time.Now().Add(grace)
	for _, p := range append([]int{pid}, children...) {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		waitOrKill(p, remaining)
	}
}

func signalPID(pid int, force bool) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if force {
		proc.Kill()
		return
	}
	terminateProcess(proc)
}

func waitOrKill(pid int, remaining time.Duration) {
	deadline := time.Now().Add(remaining)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if processAlive(pid) {
		signalPID(pid, true)
	}
}

// IsProcessAlive reports whether pid names a running process. Exported
// for InstanceGuard's stale-lock detection.
func IsProcessAlive(pid int) bool {
	return processAlive(pid)
}

// childPIDs returns the direct children of pid, best-effort. Only Linux's
// /proc/<pid>/task/<tid>/children is read directly here; other platforms
// have no comparable textual process table and no example in this
// module's lineage wraps the native process-enumeration APIs behind a
// library, so kill_tree falls back to signalling just the parent there.
func childPIDs(pid int) []int {
	return childPIDsPlatform(pid)
}
