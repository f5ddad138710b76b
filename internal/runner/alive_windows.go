//go:build windows

package runner

import gps "github.com/shirou/gopsutil/v4/process"

// Alive reports whether an OS process with the given pid currently exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gps.PidExists(int32(pid)) // #nosec G115 -- pids fit in int32
	return err == nil && ok
}
