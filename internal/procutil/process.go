// Package procutil provides process liveness checks and graceful
// termination. Liveness is probed with syscall.Signal(0) rather than
// proc.Signal(os.Signal(nil)), which always returns an error regardless of
// whether the process is alive.
package procutil

import (
	"errors"
	"os"
	"syscall"
	"time"
)

// IsAlive reports whether pid names a running process on this host. It sends
// signal 0, which performs error checking without actually sending a signal.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false
	}
	// EPERM means a different user owns a live pid; still alive.
	return errors.Is(err, syscall.EPERM)
}

// Terminate sends SIGTERM to pid (or its process group when group is true),
// waits up to grace for it to exit, then escalates to SIGKILL.
func Terminate(pid int, group bool, grace time.Duration) error {
	target := pid
	if group {
		target = -pid
	}
	if err := syscall.Kill(target, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !IsAlive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !IsAlive(pid) {
		return nil
	}
	if err := syscall.Kill(target, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
