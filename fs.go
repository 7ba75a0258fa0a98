package archivey

import (
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/davitf/archivey/internal/pathutil"
)

// FS returns a read-only fs.FS view of the archive. The view enumerates
// the whole archive on first use. Member names are cleaned and members
// whose names leave the archive root are not visible. Directories that
// only exist as path prefixes are synthesized.
//
// Opening a link opens its resolved target. Files opened through the view
// follow the same rules as Open, so on single-pass readers without a
// content cache only the current member can be read.
func (r *Reader) FS() fs.FS {
	return &archiveFS{r: r}
}

type archiveFS struct {
	r *Reader

	once  sync.Once
	err   error
	files map[string]*Member
	dirs  map[string]*Member // nil value for synthesized directories
	paths []string           // sorted, excluding "."
}

var (
	_ fs.FS          = (*archiveFS)(nil)
	_ fs.StatFS      = (*archiveFS)(nil)
	_ fs.ReadDirFS   = (*archiveFS)(nil)
	_ fs.ReadDirFile = (*fsDir)(nil)
)

func (f *archiveFS) load() error {
	f.once.Do(func() {
		members, err := f.r.Members()
		if err != nil {
			f.err = err
			return
		}
		f.files = make(map[string]*Member)
		f.dirs = map[string]*Member{".": nil}
		for _, m := range members {
			name, err := pathutil.Rel(m.Filename)
			if err != nil || name == "." {
				continue
			}
			if m.IsDir() {
				f.dirs[name] = m
			} else {
				f.files[name] = m
			}
			for dir := path.Dir(name); dir != "."; dir = path.Dir(dir) {
				if _, ok := f.dirs[dir]; !ok {
					f.dirs[dir] = nil
				}
			}
		}
		// A name that is also a parent of other members is a directory.
		for name := range f.dirs {
			delete(f.files, name)
		}
		f.paths = lo.Without(lo.Keys(f.files, f.dirs), ".")
		slices.Sort(f.paths)
	})
	return f.err
}

func (f *archiveFS) prepare(op, name string) error {
	if !fs.ValidPath(name) {
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	if err := f.load(); err != nil {
		return &fs.PathError{Op: op, Path: name, Err: err}
	}
	return nil
}

// Open implements fs.FS.
func (f *archiveFS) Open(name string) (fs.File, error) {
	if err := f.prepare("open", name); err != nil {
		return nil, err
	}
	if _, ok := f.dirs[name]; ok {
		return &fsDir{fsys: f, name: name}, nil
	}
	m, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if m.IsLink() {
		target, err := f.r.ResolveLink(m)
		if err != nil {
			return nil, err
		}
		if target.IsDir() {
			dir, err := pathutil.Rel(target.Filename)
			if err != nil {
				return nil, &fs.PathError{Op: "open", Path: name, Err: err}
			}
			return &fsDir{fsys: f, name: dir}, nil
		}
		m = target
	}
	rc, err := f.r.Open(m)
	if err != nil {
		return nil, err
	}
	return &fsFile{ReadCloser: rc, info: memberInfo{name: pathutil.Base(name), m: m}}, nil
}

// Stat implements fs.StatFS. Links report their resolved target when it
// exists.
func (f *archiveFS) Stat(name string) (fs.FileInfo, error) {
	if err := f.prepare("stat", name); err != nil {
		return nil, err
	}
	if m, ok := f.dirs[name]; ok {
		return dirInfo(name, m), nil
	}
	m, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	if m.IsLink() {
		if target, err := f.r.ResolveLink(m); err == nil {
			m = target
		}
	}
	return memberInfo{name: pathutil.Base(name), m: m}, nil
}

// ReadDir implements fs.ReadDirFS.
func (f *archiveFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if err := f.prepare("readdir", name); err != nil {
		return nil, err
	}
	if _, ok := f.dirs[name]; !ok {
		if _, isFile := f.files[name]; isFile {
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
		}
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	return f.children(name), nil
}

// children lists the immediate entries of dir sorted by name.
func (f *archiveFS) children(dir string) []fs.DirEntry {
	prefix := pathutil.DirPrefix(dir)
	start, _ := slices.BinarySearch(f.paths, prefix)
	seen := make(map[string]bool)
	var entries []fs.DirEntry
	for _, p := range f.paths[start:] {
		if !strings.HasPrefix(p, prefix) {
			break
		}
		child, isSubDir := pathutil.Child(p, prefix)
		if seen[child] {
			continue
		}
		seen[child] = true
		full := prefix + child
		if m, ok := f.dirs[full]; ok || isSubDir {
			entries = append(entries, fs.FileInfoToDirEntry(dirInfo(full, m)))
			continue
		}
		entries = append(entries, fs.FileInfoToDirEntry(memberInfo{name: child, m: f.files[full]}))
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries
}

// memberInfo implements fs.FileInfo for a member.
type memberInfo struct {
	name string
	m    *Member
}

func dirInfo(name string, m *Member) memberInfo {
	if name != "." {
		name = pathutil.Base(name)
	}
	if m == nil {
		m = &Member{Filename: name + "/", Type: TypeDir, Mode: 0o755}
	}
	return memberInfo{name: name, m: m}
}

func (i memberInfo) Name() string { return i.name }
func (i memberInfo) Size() int64 {
	if i.m.IsDir() {
		return 0
	}
	return i.m.Size
}
func (i memberInfo) Mode() fs.FileMode {
	mode := i.m.FileMode()
	if mode.Perm() == 0 {
		if i.m.IsDir() {
			mode |= 0o755
		} else {
			mode |= 0o644
		}
	}
	return mode
}
func (i memberInfo) ModTime() time.Time { return i.m.ModTime }
func (i memberInfo) IsDir() bool        { return i.m.IsDir() }
func (i memberInfo) Sys() any           { return i.m }

// fsFile is an open regular file.
type fsFile struct {
	io.ReadCloser
	info memberInfo
}

func (f *fsFile) Stat() (fs.FileInfo, error) { return f.info, nil }

// fsDir is an open directory.
type fsDir struct {
	fsys    *archiveFS
	name    string
	entries []fs.DirEntry
	offset  int
	read    bool
}

func (d *fsDir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *fsDir) Stat() (fs.FileInfo, error) {
	return dirInfo(d.name, d.fsys.dirs[d.name]), nil
}

func (d *fsDir) Close() error { return nil }

func (d *fsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.read {
		d.entries = d.fsys.children(d.name)
		d.read = true
	}
	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	rest = rest[:min(n, len(rest))]
	d.offset += len(rest)
	return rest, nil
}
