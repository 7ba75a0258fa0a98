package disk

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/davitf/archivey/cache"
)

func get(t *testing.T, c *Cache, key cache.Key) ([]byte, bool) {
	t.Helper()
	rc, size, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if int64(len(data)) != size {
		t.Fatalf("Get() size = %d, read %d bytes", size, len(data))
	}
	return data, true
}

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	c, err := New(fsys, "/cache", 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key := cache.Key{Session: 1, Member: 7}
	content := []byte("hello")
	if err := c.Put(key, content); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok := get(t, c, key)
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("Get() content = %q, want %q", got, content)
	}

	path := filepath.Join("/cache", "0000000000000001", "00000007")
	if _, err := fsys.Stat(path); err != nil {
		t.Fatalf("expected cache file at %s: %v", path, err)
	}
	if c.Size() != int64(len(content)) {
		t.Fatalf("Size() = %d, want %d", c.Size(), len(content))
	}
}

func TestCacheWriterCommit(t *testing.T) {
	t.Parallel()

	c, err := New(afero.NewMemMapFs(), "/cache", 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key := cache.Key{Session: 2, Member: 1}
	w, err := c.Writer(key)
	if err != nil {
		t.Fatalf("Writer() error = %v", err)
	}
	if _, err := w.Write([]byte("stream")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, _, ok := c.Get(key); ok {
		t.Fatal("Get() ok = true before Commit")
	}
	if _, err := w.Write([]byte("ed")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	got, ok := get(t, c, key)
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if string(got) != "streamed" {
		t.Fatalf("Get() content = %q, want %q", got, "streamed")
	}
}

func TestCacheWriterDiscard(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	c, err := New(fsys, "/cache", 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key := cache.Key{Session: 3, Member: 1}
	w, err := c.Writer(key)
	if err != nil {
		t.Fatalf("Writer() error = %v", err)
	}
	if _, err := w.Write([]byte("discard")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}

	if got, ok := get(t, c, key); ok {
		t.Fatalf("Get() ok = true, want false (content %q)", got)
	}
	size, err := usedBytes(fsys, "/cache")
	if err != nil {
		t.Fatalf("usedBytes() error = %v", err)
	}
	if size != 0 {
		t.Fatalf("usedBytes() = %d, want 0", size)
	}
}

func TestCacheLimit(t *testing.T) {
	t.Parallel()

	c, err := New(afero.NewMemMapFs(), "/cache", 6)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := c.Put(cache.Key{Member: 1}, []byte("1234")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := c.Put(cache.Key{Member: 2}, []byte("123")); !errors.Is(err, cache.ErrTooLarge) {
		t.Fatalf("Put() error = %v, want ErrTooLarge", err)
	}
	if _, _, ok := c.Get(cache.Key{Member: 2}); ok {
		t.Fatal("Get() ok = true for rejected content")
	}

	if err := c.Delete(cache.Key{Member: 1}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := c.Put(cache.Key{Member: 2}, []byte("123456")); err != nil {
		t.Fatalf("Put() after Delete error = %v", err)
	}
}

func TestCacheDelete(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	c, err := New(fsys, "/cache", 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key := cache.Key{Session: 9, Member: 1}
	if err := c.Put(key, []byte("x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := c.Delete(key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := c.Delete(key); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if _, err := fsys.Stat(filepath.Join("/cache", "0000000000000009")); err == nil {
		t.Fatal("session directory still present after its last entry was deleted")
	}
}

func TestNewPrunesStaleSessions(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	old := time.Now().Add(-time.Hour)
	for i, session := range []string{"a", "b", "c"} {
		path := filepath.Join("/cache", session, "0000000000000001")
		if err := afero.WriteFile(fsys, path, bytes.Repeat([]byte{'x'}, 4), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		mtime := old.Add(time.Duration(i) * time.Minute)
		if err := fsys.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("Chtimes() error = %v", err)
		}
	}
	tmp := filepath.Join("/cache", "c", tempPrefix+"123")
	if err := afero.WriteFile(fsys, tmp, []byte("unfinished"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	c, err := New(fsys, "/cache", 10)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Size() != 4 {
		t.Fatalf("Size() = %d, want 4", c.Size())
	}
	if _, err := fsys.Stat(filepath.Join("/cache", "c")); err != nil {
		t.Fatalf("newest session was pruned: %v", err)
	}
	for _, gone := range []string{filepath.Join("/cache", "a"), filepath.Join("/cache", "b"), tmp} {
		if _, err := fsys.Stat(gone); err == nil {
			t.Fatalf("%s still present", gone)
		}
	}
}

func TestNewKeepsSessionsUnderLimit(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	path := filepath.Join("/cache", "live", "0000000000000002")
	if err := afero.WriteFile(fsys, path, []byte("abc"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	c, err := New(fsys, "/cache", 100)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", c.Size())
	}
	if _, err := fsys.Stat(path); err != nil {
		t.Fatalf("session under the limit was pruned: %v", err)
	}
}

func TestNewEmptyDir(t *testing.T) {
	t.Parallel()

	if _, err := New(afero.NewMemMapFs(), "", 0); err == nil {
		t.Fatal("New() error = nil, want error")
	}
}
