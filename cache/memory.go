package cache

import (
	"bytes"
	"io"
	"sync"
)

// Memory is an in-memory Cache with an optional total size limit.
type Memory struct {
	mu       sync.Mutex
	entries  map[Key][]byte
	used     int64
	reserved int64
	max      int64
}

var _ Cache = (*Memory)(nil)

// NewMemory returns an in-memory cache holding at most maxBytes of content.
// A limit of 0 means unlimited.
func NewMemory(maxBytes int64) *Memory {
	return &Memory{entries: make(map[Key][]byte), max: maxBytes}
}

// Get implements Cache.
func (m *Memory) Get(key Key) (io.ReadCloser, int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[key]
	if !ok {
		return nil, 0, false
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), true
}

// Put implements Cache.
func (m *Memory) Put(key Key, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := int64(len(m.entries[key]))
	if !m.fits(int64(len(content)) - old) {
		return ErrTooLarge
	}
	m.entries[key] = bytes.Clone(content)
	m.used += int64(len(content)) - old
	return nil
}

// Writer implements Cache.
func (m *Memory) Writer(key Key) (Writer, error) {
	return &memoryWriter{m: m, key: key}, nil
}

// Delete implements Cache.
func (m *Memory) Delete(key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= int64(len(m.entries[key]))
	delete(m.entries, key)
	return nil
}

// Size returns the number of committed bytes.
func (m *Memory) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// fits reports whether n more bytes fit. Callers hold mu.
func (m *Memory) fits(n int64) bool {
	return m.max <= 0 || m.used+m.reserved+n <= m.max
}

// reserve claims n bytes for an uncommitted writer.
func (m *Memory) reserve(n int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fits(n) {
		return false
	}
	m.reserved += n
	return true
}

// memoryWriter buffers writes and stores them on Commit. Space is reserved
// as bytes arrive so concurrent writers cannot overshoot the limit.
type memoryWriter struct {
	m      *Memory
	key    Key
	buf    bytes.Buffer
	failed bool
	done   bool
}

// Write implements io.Writer.
func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.failed || w.done {
		return 0, ErrTooLarge
	}
	if !w.m.reserve(int64(len(p))) {
		w.failed = true
		return 0, ErrTooLarge
	}
	return w.buf.Write(p)
}

// Commit stores the buffered content in the cache.
func (w *memoryWriter) Commit() error {
	if w.failed {
		w.release()
		return ErrTooLarge
	}
	if w.done {
		return nil
	}
	w.done = true
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	n := int64(w.buf.Len())
	w.m.reserved -= n
	w.m.used += n - int64(len(w.m.entries[w.key]))
	w.m.entries[w.key] = w.buf.Bytes()
	return nil
}

// Discard drops the buffered content.
func (w *memoryWriter) Discard() error {
	w.release()
	return nil
}

func (w *memoryWriter) release() {
	if w.done {
		return
	}
	w.done = true
	w.m.mu.Lock()
	w.m.reserved -= int64(w.buf.Len())
	w.m.mu.Unlock()
	w.buf.Reset()
}
