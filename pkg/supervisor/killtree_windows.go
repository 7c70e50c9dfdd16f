//go:build windows

package supervisor

// processAlive has no cheap, dependency-free equivalent to a unix signal-0
// probe on Windows, so kill_tree conservatively assumes the process is
// still alive until its grace period elapses, then issues a forced kill
// unconditionally.
func processAlive(pid int) bool { return true }

func childPIDsPlatform(pid int) []int { return nil }
