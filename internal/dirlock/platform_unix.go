//go:build unix

package dirlock

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// lockFile applies an advisory exclusive flock on top of the create-or-fail
// file, belt-and-suspenders against NFS-style mounts where O_EXCL semantics
// are weaker than local disk.
func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// processAlive checks liveness via a signal-0 probe, the same technique
// the teacher's daemon lock-staleness check uses.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
