// Package isofmt reads ISO 9660 images through kdomanski/iso9660. Rock
// Ridge names are used when the image carries them.
package isofmt

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/kdomanski/iso9660"
	"go.uber.org/zap"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/backend"
)

// Reader is the ISO 9660 backend: an FSWalker over the image's directory
// tree that also reports the volume label.
type Reader struct {
	*backend.FSWalker
	label string
}

var _ backend.RandomAccess = (*Reader)(nil)

// New opens the image in ra.
func New(ra io.ReaderAt, size int64, opts backend.Options) (*Reader, error) {
	img, err := iso9660.OpenImage(io.NewSectionReader(ra, 0, size))
	if err == io.EOF {
		return nil, fmt.Errorf("%w: no volume descriptor terminator", archtype.ErrTruncated)
	}
	if err != nil {
		return nil, archtype.Translate(err)
	}
	root, err := img.RootDir()
	if err != nil {
		return nil, archtype.Translate(err)
	}
	label, err := img.Label()
	if err != nil {
		opts.Log().Debug("iso volume label", zap.Error(err))
	}
	return &Reader{
		FSWalker: backend.NewFSWalker(&imageFS{root: root}, archtype.FormatISO, opts),
		label:    strings.TrimSpace(label),
	}, nil
}

// Info implements backend.Backend.
func (r *Reader) Info() (*archtype.ArchiveInfo, error) {
	info := &archtype.ArchiveInfo{Format: archtype.FormatISO}
	if r.label != "" {
		info.Extra = map[string]any{"volume_label": r.label}
	}
	return info, nil
}

// imageFS exposes an image's directory tree as an fs.FS.
type imageFS struct {
	root *iso9660.File
}

var _ fs.ReadDirFS = (*imageFS)(nil)

func (i *imageFS) lookup(op, name string) (*iso9660.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	cur := i.root
	if name == "." {
		return cur, nil
	}
	for _, part := range strings.Split(name, "/") {
		children, err := children(cur)
		if err != nil {
			return nil, &fs.PathError{Op: op, Path: name, Err: err}
		}
		idx := slices.IndexFunc(children, func(c *iso9660.File) bool {
			return entryName(c) == part
		})
		if idx < 0 {
			return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
		}
		cur = children[idx]
	}
	return cur, nil
}

func children(dir *iso9660.File) ([]*iso9660.File, error) {
	if !dir.IsDir() {
		return nil, fs.ErrNotExist
	}
	all, err := dir.GetChildren()
	if err != nil {
		return nil, err
	}
	out := make([]*iso9660.File, 0, len(all))
	for _, c := range all {
		switch entryName(c) {
		case "", ".", "..":
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Open implements fs.FS.
func (i *imageFS) Open(name string) (fs.File, error) {
	f, err := i.lookup("open", name)
	if err != nil {
		return nil, err
	}
	of := &openFile{info: fileInfo{f}}
	if !f.IsDir() {
		of.r = f.Reader()
	}
	return of, nil
}

// ReadDir implements fs.ReadDirFS.
func (i *imageFS) ReadDir(name string) ([]fs.DirEntry, error) {
	dir, err := i.lookup("readdir", name)
	if err != nil {
		return nil, err
	}
	kids, err := children(dir)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	out := make([]fs.DirEntry, 0, len(kids))
	for _, c := range kids {
		out = append(out, fs.FileInfoToDirEntry(fileInfo{c}))
	}
	slices.SortFunc(out, func(a, b fs.DirEntry) int { return strings.Compare(a.Name(), b.Name()) })
	return out, nil
}

// entryName drops the ISO 9660 version suffix (";1") and the trailing dot
// of names without an extension.
func entryName(f *iso9660.File) string {
	name := f.Name()
	if i := strings.LastIndexByte(name, ';'); i >= 0 {
		name = name[:i]
	}
	if !f.IsDir() {
		name = strings.TrimSuffix(name, ".")
	}
	return path.Base(name)
}

type fileInfo struct {
	f *iso9660.File
}

func (fi fileInfo) Name() string       { return entryName(fi.f) }
func (fi fileInfo) Size() int64        { return fi.f.Size() }
func (fi fileInfo) ModTime() time.Time { return fi.f.ModTime() }
func (fi fileInfo) IsDir() bool        { return fi.f.IsDir() }
func (fi fileInfo) Sys() any           { return fi.f }

func (fi fileInfo) Mode() fs.FileMode {
	mode := fi.f.Mode()
	if fi.f.IsDir() {
		return fs.ModeDir | mode.Perm()
	}
	return mode &^ fs.ModeType
}

type openFile struct {
	info fileInfo
	r    io.Reader
}

func (o *openFile) Stat() (fs.FileInfo, error) { return o.info, nil }

func (o *openFile) Read(p []byte) (int, error) {
	if o.r == nil {
		return 0, &fs.PathError{Op: "read", Path: o.info.Name(), Err: fs.ErrInvalid}
	}
	return o.r.Read(p)
}

func (o *openFile) Close() error { return nil }
