// Package cache stores the content of archive members captured while a
// single-pass archive is read, so the members can be opened again after the
// backend cursor moved past them.
//
// Entries are keyed by session and member ids. A session deletes the keys it
// wrote when it is closed.
package cache

import (
	"errors"
	"fmt"
	"io"
)

// ErrTooLarge is returned when content does not fit the cache's size limit.
var ErrTooLarge = errors.New("cache: content exceeds size limit")

// Key identifies one captured member.
type Key struct {
	Session uint64
	Member  uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%016x/%08x", k.Session, k.Member)
}

// Cache stores captured member content.
//
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns a reader over the content stored for key and its size.
	// It returns false if nothing was committed for key.
	Get(key Key) (io.ReadCloser, int64, bool)

	// Put stores content for key.
	Put(key Key, content []byte) error

	// Writer returns a Writer for streaming content into the cache. Content
	// becomes visible to Get only after Commit.
	Writer(key Key) (Writer, error)

	// Delete removes the content stored for key. Deleting a missing key is
	// not an error.
	Delete(key Key) error
}

// Writer streams content into the cache.
//
// After all content is written, call Commit to publish it or Discard to
// drop it. Write returns ErrTooLarge once the content would exceed the
// cache's limit; the writer must then be discarded.
type Writer interface {
	io.Writer

	// Commit finalizes the cache entry, making it available via Get.
	Commit() error

	// Discard aborts the cache write and cleans up temporary data.
	Discard() error
}
