//go:build linux

package sched

import (
	"time"

	"golang.org/x/sys/unix"
)

// bootTime returns the boot instant in unix seconds, derived from
// sysinfo uptime.
func bootTime() int64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return time.Now().Unix() - int64(info.Uptime)
}
