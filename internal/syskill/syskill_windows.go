//go:build windows

package syskill

import (
	"os"
	"time"
)

const pollInterval = 100 * time.Millisecond

// Terminate kills a pid that has no spawn handle. Windows has no graceful
// signal for arbitrary pids, so the kill is immediate and gracePeriod only
// bounds the exit wait.
func Terminate(pid int, gracePeriod, killGrace time.Duration, alive func(int) bool) bool {
	if pid <= 0 {
		return true
	}
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
	return waitGone(pid, gracePeriod+killGrace, alive)
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
