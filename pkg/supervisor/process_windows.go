//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {
	// Process groups are a POSIX concept; on Windows childPIDsPlatform
	// enumerates no children, so KillTree signals only the parent.
}

func terminateProcess(p *os.Process) error {
	// Windows has no general SIGTERM equivalent for arbitrary processes,
	// so the "graceful" terminate is already the forced kill.
	return p.Kill()
}
