package syncutil

import (
	"bytes"
	"runtime"
	"strconv"
)

// goid returns the calling goroutine's id. The id is parsed from the
// runtime stack header ("goroutine N [running]:"); there is no public
// accessor. Ownership checks and the wait-for graph key on this value.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
