package supervisor

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// FindFreePort binds to port 0, reads back the OS-assigned port, and
// releases the listener so the caller's child process can bind it.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// PidOfListener reports the PID of the process listening on port, if it can
// be determined. No other package calls it: the InstanceGuard's stale-lock
// check uses IsProcessAlive on the recorded PID, and the PID of a process
// this supervisor spawned itself is always already known.
//
// On Linux, the TCP listener's socket inode is read from /proc/net/tcp and
// matched against the fd table of every process under /proc. Other
// platforms have no comparably simple textual process table, and no
// example in this module's lineage wraps the native APIs needed
// (iphlpapi on Windows, libproc on macOS) behind a library, so PidOfListener
// conservatively reports not-found there.
func PidOfListener(port int) (pid int, ok bool) {
	if runtime.GOOS != "linux" {
		return 0, false
	}
	inode, found := tcpListenerInode(port)
	if !found {
		return 0, false
	}
	return pidOwningInode(inode)
}

func tcpListenerInode(port int) (string, bool) {
	f, err := os.Open("/proc/net/tcp")
	if err != nil {
		return "", false
	}
	defer f.Close()

	hexPort := strings.ToUpper(strconv.FormatInt(int64(port), 16))
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}
		localAddr := fields[1] // "ADDR:PORT" in hex
		state := fields[3]     // "0A" == TCP_LISTEN
		parts := strings.Split(localAddr, ":")
		if len(parts) != 2 || parts[1] != hexPort || state != "0A" {
			continue
		}
		return fields[9], true // inode column
	}
	return "", false
}

func pidOwningInode(inode string) (int, bool) {
	target := fmt.Sprintf("socket:[%s]", inode)
	procs, err := os.ReadDir("/proc")
	if err != nil {
		return 0, false
	}
	for _, e := range procs {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		fdDir := filepath.Join("/proc", e.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err == nil && link == target {
				return pid, true
			}
		}
	}
	return 0, false
}
