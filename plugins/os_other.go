//go:build !linux

package plugins

import "runtime"

// memory reports the Go runtime's view where system figures are not
// available.
func memory() (float64, float64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Sys), float64(m.Sys - m.HeapInuse)
}

func release() string {
	return "unknown"
}

func sysname() string {
	return runtime.GOOS
}
