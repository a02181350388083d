// Package pools provides sync.Pool-backed buffer and slice reuse for the
// hot paths of view compilation and query execution: rendering SQL view
// definitions, assembling IN-clause placeholder lists, and collecting
// GROUP_CONCAT'd range results.
package pools

import (
	"bytes"
	"strings"
	"sync"
)

// BufferPool provides reusable byte buffers for rendering view SQL.
var BufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// LargeBufferPool serves large GROUP_CONCAT / export payloads.
var LargeBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 65536))
	},
}

// StringSlicePool provides reusable string slices for building SQL
// fragment lists (criterion conditions, view cascade names).
var StringSlicePool = sync.Pool{
	New: func() interface{} {
		s := make([]string, 0, 32)
		return &s
	},
}

// StringBuilderPool provides reusable string builders for assembling
// rendered SQL statements.
var StringBuilderPool = sync.Pool{
	New: func() interface{} {
		return new(strings.Builder)
	},
}

// GetBuffer gets a buffer from the pool.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 {
		return
	}
	BufferPool.Put(buf)
}

// GetLargeBuffer gets a large buffer from the pool.
func GetLargeBuffer() *bytes.Buffer {
	buf := LargeBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutLargeBuffer returns a large buffer to the pool.
func PutLargeBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 10*1024*1024 {
		return
	}
	LargeBufferPool.Put(buf)
}

// GetStringSlice gets a string slice from the pool.
func GetStringSlice() *[]string {
	s := StringSlicePool.Get().(*[]string)
	*s = (*s)[:0]
	return s
}

// PutStringSlice returns a string slice to the pool.
func PutStringSlice(s *[]string) {
	if cap(*s) > 1024 {
		return
	}
	StringSlicePool.Put(s)
}

// GetStringBuilder gets a string builder from the pool.
func GetStringBuilder() *strings.Builder {
	sb := StringBuilderPool.Get().(*strings.Builder)
	sb.Reset()
	return sb
}

// PutStringBuilder returns a string builder to the pool.
func PutStringBuilder(sb *strings.Builder) {
	StringBuilderPool.Put(sb)
}
