// Package sevenzipfmt reads 7-Zip archives through bodgit/sevenzip.
package sevenzipfmt

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bodgit/sevenzip"
	"go.uber.org/zap"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/backend"
	"github.com/davitf/archivey/internal/stream"
)

// Reader is the 7-Zip backend. The library decodes the whole header on
// open, so enumeration never touches the packed streams except to read
// symlink targets.
type Reader struct {
	zr  *sevenzip.Reader
	log *zap.Logger

	next  int
	solid bool
}

var _ backend.RandomAccess = (*Reader)(nil)

// New opens the 7-Zip archive in ra. An empty password opens archives
// without encryption.
func New(ra io.ReaderAt, size int64, opts backend.Options) (*Reader, error) {
	var (
		zr  *sevenzip.Reader
		err error
	)
	if opts.Password != "" {
		zr, err = sevenzip.NewReaderWithPassword(ra, size, opts.Password)
	} else {
		zr, err = sevenzip.NewReader(ra, size)
	}
	if err != nil {
		return nil, translate(err)
	}
	r := &Reader{zr: zr, log: opts.Log(), solid: isSolid(zr.File)}
	r.log.Debug("7z header read", zap.Int("files", len(zr.File)), zap.Bool("solid", r.solid))
	return r, nil
}

// isSolid reports whether any packed stream holds more than one file.
func isSolid(files []*sevenzip.File) bool {
	perStream := map[int]int{}
	for _, f := range files {
		if f.UncompressedSize == 0 {
			continue
		}
		perStream[f.Stream]++
		if perStream[f.Stream] > 1 {
			return true
		}
	}
	return false
}

// Format implements backend.Backend.
func (r *Reader) Format() archtype.Format { return archtype.FormatSevenZip }

// Capabilities implements backend.Backend.
func (r *Reader) Capabilities() archtype.Capabilities {
	return archtype.Capabilities{
		RandomReopen:   true,
		SolidDetection: true,
		CRC32:          true,
	}
}

// Info implements backend.Backend.
func (r *Reader) Info() (*archtype.ArchiveInfo, error) {
	return &archtype.ArchiveInfo{
		Format:  archtype.FormatSevenZip,
		IsSolid: r.solid,
	}, nil
}

// Next implements backend.Backend.
func (r *Reader) Next() (*backend.Entry, error) {
	if r.next >= len(r.zr.File) {
		return nil, io.EOF
	}
	f := r.zr.File[r.next]

	m := translateHeader(&f.FileHeader)
	if m.Type == archtype.TypeSymlink {
		target, err := readLink(f)
		switch {
		case errors.Is(err, archtype.ErrEncrypted):
			m.Encrypted = true
		case err != nil:
			return nil, err
		}
		m.LinkTarget = target
	}
	r.next++
	return &backend.Entry{Member: m, Handle: f}, nil
}

func readLink(f *sevenzip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", translate(err)
	}
	defer rc.Close()
	return backend.ReadLinkTarget(errorReader{rc}, backend.MaxLinkTarget)
}

// Open implements backend.RandomAccess. Content is checked against the
// member's CRC32 when the archive records one.
func (r *Reader) Open(e *backend.Entry) (io.ReadCloser, error) {
	f, ok := e.Handle.(*sevenzip.File)
	if !ok {
		return nil, archtype.ErrMemberNotFound
	}
	rc, err := f.Open()
	if err != nil {
		return nil, translate(err)
	}
	var src io.Reader = errorReader{rc}
	if e.Member.HasCRC32 {
		src = stream.NewCRC32Reader(src, e.Member.CRC32)
	}
	return &backend.ReadCloser{Reader: src, CloseFunc: rc.Close}, nil
}

// Close implements backend.Backend. The source is owned by the caller.
func (r *Reader) Close() error {
	r.next = len(r.zr.File)
	return nil
}

func translateHeader(fh *sevenzip.FileHeader) *archtype.Member {
	mode := fh.Mode()
	typ := backend.TypeFromMode(mode)
	m := &archtype.Member{
		Type:    typ,
		ModTime: fh.Modified,
		Mode:    mode.Perm(),
		Extra: map[string]any{
			"attributes": fh.Attributes,
			"stream":     fh.Stream,
		},
	}
	if !fh.Created.IsZero() {
		m.Extra["ctime"] = fh.Created
	}
	if !fh.Accessed.IsZero() {
		m.Extra["atime"] = fh.Accessed
	}
	if typ == archtype.TypeFile {
		m.Size = int64(fh.UncompressedSize) //nolint:gosec // sizes beyond int64 are not representable anyway
		// The library reports 0 for a missing digest.
		if fh.CRC32 != 0 && fh.UncompressedSize > 0 {
			m.CRC32 = fh.CRC32
			m.HasCRC32 = true
		}
	}
	m.Filename = backend.CleanName(fh.Name, typ)
	return m
}

func translate(err error) error {
	var re *sevenzip.ReadError
	if errors.As(err, &re) && re.Encrypted {
		return fmt.Errorf("%w: %v", archtype.ErrEncrypted, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "checksum error"):
		return fmt.Errorf("%w: %v", archtype.ErrChecksum, err)
	case strings.Contains(msg, "unsupported compression algorithm"):
		return fmt.Errorf("%w: %v", archtype.ErrUnsupported, err)
	default:
		return archtype.Translate(err)
	}
}

type errorReader struct {
	r io.Reader
}

func (e errorReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && err != io.EOF {
		return n, translate(err)
	}
	return n, err
}
