//go:build unix

package runner

import "syscall"

// Alive reports whether an OS process with the given pid currently exists.
// Signal 0 performs the existence check without delivering anything; EPERM
// still proves the pid is live.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
