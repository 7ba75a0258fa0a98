// Package disk provides a cache.Cache that spills captured member content to
// files on an afero filesystem.
package disk

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/davitf/archivey/cache"
)

const (
	defaultDirPerm = 0o700
	tempPrefix     = "cache-"
)

// Cache implements cache.Cache on a filesystem directory. Each session gets
// its own subdirectory.
type Cache struct {
	fs      afero.Fs
	dir     string
	dirPerm os.FileMode
	max     int64

	mu       sync.Mutex
	used     int64
	reserved int64
}

var _ cache.Cache = (*Cache)(nil)

// Option configures a disk cache.
type Option func(*Cache)

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// New creates a disk-backed cache rooted at dir holding at most maxBytes
// (0 means unlimited). Sessions left in dir by earlier runs count against
// the limit; when they fill more than half of it the least recently
// written are removed.
func New(fsys afero.Fs, dir string, maxBytes int64, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	c := &Cache{
		fs:      fsys,
		dir:     dir,
		dirPerm: defaultDirPerm,
		max:     maxBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.fs.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	used, err := usedBytes(c.fs, dir)
	if err != nil {
		return nil, err
	}
	if c.max > 0 && used > c.max/2 {
		if used, err = reclaim(c.fs, dir, c.max/2); err != nil {
			return nil, err
		}
	}
	c.used = used
	return c, nil
}

// Get implements cache.Cache.
func (c *Cache) Get(key cache.Key) (io.ReadCloser, int64, bool) {
	f, err := c.fs.Open(c.path(key))
	if err != nil {
		return nil, 0, false
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, false
	}
	return f, info.Size(), true
}

// Put implements cache.Cache.
func (c *Cache) Put(key cache.Key, content []byte) error {
	w, err := c.Writer(key)
	if err != nil {
		return err
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Discard()
		return err
	}
	return w.Commit()
}

// Writer implements cache.Cache.
func (c *Cache) Writer(key cache.Key) (cache.Writer, error) {
	path := c.path(key)
	dir := filepath.Dir(path)
	if err := c.fs.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	tmp, err := afero.TempFile(c.fs, dir, tempPrefix+"*")
	if err != nil {
		return nil, err
	}
	return &diskWriter{
		c:         c,
		file:      tmp,
		tmpPath:   tmp.Name(),
		finalPath: path,
	}, nil
}

// Delete implements cache.Cache. The session directory is removed with its
// last entry.
func (c *Cache) Delete(key cache.Key) error {
	path := c.path(key)
	info, err := c.fs.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	c.mu.Lock()
	c.used -= info.Size()
	c.mu.Unlock()

	// Fails while other entries remain.
	_ = c.fs.Remove(filepath.Dir(path))
	return nil
}

// Size returns the number of committed bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func (c *Cache) path(key cache.Key) string {
	session, member, _ := strings.Cut(key.String(), "/")
	return filepath.Join(c.dir, session, member)
}

func (c *Cache) reserve(n int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.max > 0 && c.used+c.reserved+n > c.max {
		return false
	}
	c.reserved += n
	return true
}

type diskWriter struct {
	c         *Cache
	file      afero.File
	tmpPath   string
	finalPath string
	written   int64
	failed    bool
	done      bool
}

func (w *diskWriter) Write(p []byte) (int, error) {
	if w.failed || w.done {
		return 0, cache.ErrTooLarge
	}
	if !w.c.reserve(int64(len(p))) {
		w.failed = true
		return 0, cache.ErrTooLarge
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	w.c.release(int64(len(p) - n))
	return n, err
}

func (w *diskWriter) Commit() error {
	if w.failed {
		_ = w.Discard()
		return cache.ErrTooLarge
	}
	if w.done {
		return nil
	}
	w.done = true
	if err := w.file.Close(); err != nil {
		w.abort()
		return err
	}
	if err := w.c.fs.Rename(w.tmpPath, w.finalPath); err != nil {
		w.abort()
		return err
	}
	w.c.mu.Lock()
	w.c.reserved -= w.written
	w.c.used += w.written
	w.c.mu.Unlock()
	return nil
}

func (w *diskWriter) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.file.Close()
	w.abort()
	return nil
}

// abort removes the temporary file and releases its reservation.
func (w *diskWriter) abort() {
	_ = w.c.fs.Remove(w.tmpPath)
	w.c.release(w.written)
	w.written = 0
}

func (c *Cache) release(n int64) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	c.reserved -= n
	c.mu.Unlock()
}
