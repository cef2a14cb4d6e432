//go:build !linux

package scripthost

import (
	"bytes"
	"runtime"
	"strconv"
)

// currentThreadID falls back to the goroutine id. The owning goroutine
// never migrates work to another goroutine, so it identifies the same
// thread as long as the dispatcher holds LockOSThread.
func currentThreadID() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
