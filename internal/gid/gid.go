// Package gid extracts the calling goroutine's runtime id. Go intentionally
// has no goroutine-local storage; this is the standard workaround (parsing
// the id out of a small runtime.Stack dump) used to key the request-context
// binding that replaces the source SDK's thread-local context lookup.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

// Current returns the id of the calling goroutine. It is only ever used to
// key an in-process map (reqcontext's binding table); nothing about this id
// is stable across goroutine lifetimes.
func Current() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]

	const prefix = "goroutine "
	buf = bytes.TrimPrefix(buf, []byte(prefix))
	idx := bytes.IndexByte(buf, ' ')
	if idx < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(buf[:idx]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
