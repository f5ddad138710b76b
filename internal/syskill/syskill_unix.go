//go:build unix

package syskill

import (
	"syscall"
	"time"
)

const pollInterval = 100 * time.Millisecond

// Terminate escalates SIGTERM to SIGKILL for a pid that has no spawn handle,
// e.g. a process adopted from the registry after a supervisor crash. Signals
// go to the process group first so children die too. alive is polled to
// detect exit; it returns true while the pid still exists.
func Terminate(pid int, gracePeriod, killGrace time.Duration, alive func(int) bool) bool {
	if pid <= 0 {
		return true
	}
	signalGroup(pid, syscall.SIGTERM)
	if waitGone(pid, gracePeriod, alive) {
		return true
	}
	signalGroup(pid, syscall.SIGKILL)
	return waitGone(pid, killGrace, alive)
}

func signalGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = syscall.Kill(pid, sig)
	}
}

func waitGone(pid int, d time.Duration, alive func(int) bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return true
		}
		time.Sleep(pollInterval)
	}
	return !alive(pid)
}
