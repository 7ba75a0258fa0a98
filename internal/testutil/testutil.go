// Package testutil builds in-memory archives and sources for tests.
package testutil

import (
	"io"
	"sync/atomic"
)

// ByteSource implements an in-memory io.ReaderAt for tests.
type ByteSource struct {
	data  []byte
	reads atomic.Int64
}

// NewByteSource returns a byte source backed by the provided data.
func NewByteSource(data []byte) *ByteSource {
	return &ByteSource{data: data}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *ByteSource) ReadAt(p []byte, off int64) (int, error) {
	m.reads.Add(1)
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *ByteSource) Size() int64 {
	return int64(len(m.data))
}

// Reads returns how many ReadAt calls were made.
func (m *ByteSource) Reads() int64 {
	return m.reads.Load()
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *ByteSource) Bytes() []byte {
	return m.data
}

// OneShotReader hides every interface but io.Reader, so consumers cannot
// seek or read at offsets.
type OneShotReader struct {
	R io.Reader
}

// Read implements io.Reader.
func (o OneShotReader) Read(p []byte) (int, error) {
	return o.R.Read(p)
}
