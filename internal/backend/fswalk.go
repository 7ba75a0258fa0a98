package backend

import (
	"io"
	"io/fs"
	"slices"

	"go.uber.org/zap"

	"github.com/davitf/archivey/internal/archtype"
)

// FSWalker enumerates an fs.FS depth first, each directory's children in
// name order. It backs image formats whose libraries expose a file system
// rather than an entry list.
type FSWalker struct {
	fsys   fs.FS
	format archtype.Format
	log    *zap.Logger

	pending []walkItem
	started bool
}

type walkItem struct {
	name string
	d    fs.DirEntry
}

var _ RandomAccess = (*FSWalker)(nil)

// NewFSWalker returns a backend over fsys. Symlink targets are read with
// fs.ReadLink, so fsys should implement fs.ReadLinkFS.
func NewFSWalker(fsys fs.FS, format archtype.Format, opts Options) *FSWalker {
	return &FSWalker{
		fsys:   fsys,
		format: format,
		log:    opts.Log(),
	}
}

// Format implements Backend.
func (w *FSWalker) Format() archtype.Format { return w.format }

// Capabilities implements Backend.
func (w *FSWalker) Capabilities() archtype.Capabilities {
	return archtype.Capabilities{RandomReopen: true}
}

// Info implements Backend.
func (w *FSWalker) Info() (*archtype.ArchiveInfo, error) {
	return &archtype.ArchiveInfo{Format: w.format}, nil
}

// Next implements Backend. A failing entry stays queued, so the next call
// reports the same error instead of skipping it.
func (w *FSWalker) Next() (*Entry, error) {
	if !w.started {
		children, err := fs.ReadDir(w.fsys, ".")
		if err != nil {
			return nil, archtype.Translate(err)
		}
		w.started = true
		w.queue(".", children)
	}
	if len(w.pending) == 0 {
		return nil, io.EOF
	}

	item := w.pending[len(w.pending)-1]
	info, err := item.d.Info()
	if err != nil {
		return nil, archtype.Translate(err)
	}
	m := &archtype.Member{
		Type:    TypeFromMode(info.Mode()),
		ModTime: info.ModTime(),
		Mode:    info.Mode().Perm(),
	}
	m.Filename = CleanName(item.name, m.Type)
	var children []fs.DirEntry
	switch m.Type {
	case archtype.TypeFile:
		m.Size = info.Size()
	case archtype.TypeDir:
		if children, err = fs.ReadDir(w.fsys, item.name); err != nil {
			return nil, archtype.Translate(err)
		}
	case archtype.TypeSymlink:
		target, err := fs.ReadLink(w.fsys, item.name)
		if err != nil {
			return nil, archtype.Translate(err)
		}
		m.LinkTarget = target
	}

	w.pending = w.pending[:len(w.pending)-1]
	w.queue(item.name, children)
	return &Entry{Member: m, Handle: item.name}, nil
}

// queue pushes the children of dir so the first child in name order is
// popped first.
func (w *FSWalker) queue(dir string, children []fs.DirEntry) {
	for _, d := range slices.Backward(children) {
		name := d.Name()
		if dir != "." {
			name = dir + "/" + name
		}
		w.pending = append(w.pending, walkItem{name: name, d: d})
	}
}

// Open implements RandomAccess.
func (w *FSWalker) Open(e *Entry) (io.ReadCloser, error) {
	name, ok := e.Handle.(string)
	if !ok {
		return nil, archtype.ErrMemberNotFound
	}
	f, err := w.fsys.Open(name)
	if err != nil {
		return nil, archtype.Translate(err)
	}
	return &ReadCloser{Reader: ErrorReader{R: f}, CloseFunc: f.Close}, nil
}

// Close implements Backend.
func (w *FSWalker) Close() error {
	w.pending = nil
	if c, ok := w.fsys.(io.Closer); ok {
		return archtype.Translate(c.Close())
	}
	return nil
}
