// Package squashfmt reads SquashFS images through CalebQ42/squashfs.
package squashfmt

import (
	"errors"
	"io"
	"io/fs"

	"github.com/CalebQ42/squashfs"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/backend"
)

// New opens the SquashFS image in ra. The image is walked as a file system.
func New(ra io.ReaderAt, size int64, opts backend.Options) (*backend.FSWalker, error) {
	rdr, err := squashfs.NewReader(io.NewSectionReader(ra, 0, size))
	if err != nil {
		return nil, archtype.Translate(err)
	}
	return backend.NewFSWalker(linkFS{open: rdr.Open}, archtype.FormatSquashFS, opts), nil
}

// symlink is implemented by the library's open files.
type symlink interface {
	IsSymlink() bool
	SymlinkPath() string
}

// linkFS adds fs.ReadLinkFS to the library's file system. Open does not
// follow a symlink in the last path element.
type linkFS struct {
	open func(name string) (fs.File, error)
}

var _ fs.ReadLinkFS = linkFS{}

func (l linkFS) Open(name string) (fs.File, error) {
	return l.open(name)
}

// ReadLink implements fs.ReadLinkFS.
func (l linkFS) ReadLink(name string) (string, error) {
	f, err := l.open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if s, ok := f.(symlink); ok && s.IsSymlink() {
		return s.SymlinkPath(), nil
	}
	return "", &fs.PathError{Op: "readlink", Path: name, Err: errNotLink}
}

// Lstat implements fs.ReadLinkFS.
func (l linkFS) Lstat(name string) (fs.FileInfo, error) {
	f, err := l.open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Stat()
}

var errNotLink = errors.New("not a symbolic link")
