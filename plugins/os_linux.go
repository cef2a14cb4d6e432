//go:build linux

package plugins

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// memory returns total and free system memory in bytes.
func memory() (float64, float64) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, 0
	}
	unit := uint64(info.Unit)
	return float64(uint64(info.Totalram) * unit), float64(uint64(info.Freeram) * unit)
}

func release() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "unknown"
	}
	return unix.ByteSliceToString(u.Release[:])
}

func sysname() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return runtime.GOOS
	}
	return unix.ByteSliceToString(u.Sysname[:])
}
