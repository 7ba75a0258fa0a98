package disk

import (
	"errors"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// leftover is one session directory, or a stray file, found in the cache
// root. Sessions of other processes may still be live.
type leftover struct {
	path   string
	bytes  int64
	newest time.Time
}

// scanLeftovers sizes everything below root. Temporary files of writers
// that never finished are removed on the way.
func scanLeftovers(fsys afero.Fs, root string) ([]leftover, int64, error) {
	top, err := afero.ReadDir(fsys, root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	var (
		out   []leftover
		total int64
	)
	for _, info := range top {
		l := leftover{path: filepath.Join(root, info.Name()), newest: info.ModTime()}
		if info.IsDir() {
			var newest time.Time
			if l.bytes, newest, err = sessionBytes(fsys, l.path); err != nil {
				return nil, 0, err
			}
			if !newest.IsZero() {
				l.newest = newest
			}
		} else if info.Mode().IsRegular() {
			l.bytes = info.Size()
		}
		out = append(out, l)
		total += l.bytes
	}
	return out, total, nil
}

// sessionBytes sums the committed files of one session and returns the
// newest of their modification times.
func sessionBytes(fsys afero.Fs, dir string) (int64, time.Time, error) {
	files, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return 0, time.Time{}, err
	}
	var (
		n      int64
		newest time.Time
	)
	for _, f := range files {
		if !f.Mode().IsRegular() {
			continue
		}
		if strings.HasPrefix(f.Name(), tempPrefix) {
			_ = fsys.Remove(filepath.Join(dir, f.Name()))
			continue
		}
		n += f.Size()
		if f.ModTime().After(newest) {
			newest = f.ModTime()
		}
	}
	return n, newest, nil
}

// usedBytes returns the committed bytes below root.
func usedBytes(fsys afero.Fs, root string) (int64, error) {
	_, total, err := scanLeftovers(fsys, root)
	return total, err
}

// reclaim removes whole sessions, least recently written first, until at
// most target bytes remain below root. It returns the bytes left.
func reclaim(fsys afero.Fs, root string, target int64) (int64, error) {
	found, total, err := scanLeftovers(fsys, root)
	if err != nil || total <= target {
		return total, err
	}
	slices.SortFunc(found, func(a, b leftover) int {
		if c := a.newest.Compare(b.newest); c != 0 {
			return c
		}
		return strings.Compare(a.path, b.path)
	})
	for _, l := range found {
		if total <= target {
			break
		}
		if err := fsys.RemoveAll(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return total, err
		}
		total -= l.bytes
	}
	return total, nil
}
