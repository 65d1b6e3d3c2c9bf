// Package pool provides object pooling for the byte buffers the Relation
// Engine allocates on every edge-key encode, to cut GC pressure on the
// free-relation hot path.
package pool

import (
	"bytes"
	"sync"
)

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// GetBuffer returns a reset, ready-to-write buffer.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns buf to the pool. Callers must not use buf afterward.
func PutBuffer(buf *bytes.Buffer) {
	bufferPool.Put(buf)
}
