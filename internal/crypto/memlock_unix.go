//go:build unix

package crypto

import "golang.org/x/sys/unix"

// LockMemory pins b in RAM so it is not written to swap. Failure is not
// fatal to callers; RLIMIT_MEMLOCK is often small for unprivileged users.
func LockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}

// UnlockMemory releases a lock taken by LockMemory.
func UnlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munlock(b)
}

// DisableCoreDumps sets RLIMIT_CORE to zero for the current process.
func DisableCoreDumps() error {
	var rlim unix.Rlimit
	return unix.Setrlimit(unix.RLIMIT_CORE, &rlim)
}
