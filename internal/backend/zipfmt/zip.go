// Package zipfmt reads zip archives, from a random-access source through
// klauspost/compress/zip or from a forward-only stream through zipstream.
package zipfmt

import (
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"go.uber.org/zap"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/backend"
	"github.com/davitf/archivey/internal/textdec"
)

const (
	flagEncrypted = 0x1
	flagUTF8      = 0x800
)

// methodNames maps zip method ids to lowercase codec names.
var methodNames = map[uint16]string{
	0:  "store",
	1:  "shrink",
	6:  "implode",
	8:  "deflate",
	9:  "deflate64",
	12: "bzip2",
	14: "lzma",
	93: "zstd",
	95: "xz",
	98: "ppmd",
	99: "aes",
}

// MethodName returns the lowercase name of a zip compression method.
func MethodName(method uint16) string {
	if name, ok := methodNames[method]; ok {
		return name
	}
	return "unknown"
}

// Reader is the random-access zip backend.
type Reader struct {
	zr    *zip.Reader
	chain textdec.Chain
	log   *zap.Logger

	next      int
	encrypted bool
}

var _ backend.RandomAccess = (*Reader)(nil)

// New reads the central directory of the zip archive in ra.
func New(ra io.ReaderAt, size int64, opts backend.Options) (*Reader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, translate(err)
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	zr.RegisterDecompressor(12, bzip2Decompressor)
	zr.RegisterDecompressor(95, xzDecompressor)

	r := &Reader{
		zr:    zr,
		chain: opts.Chain(textdec.ZipChain),
		log:   opts.Log(),
	}
	for _, f := range zr.File {
		if f.Flags&flagEncrypted != 0 {
			r.encrypted = true
			break
		}
	}
	r.log.Debug("zip central directory read", zap.Int("entries", len(zr.File)), zap.Bool("encrypted", r.encrypted))
	return r, nil
}

// Format implements backend.Backend.
func (r *Reader) Format() archtype.Format { return archtype.FormatZip }

// Capabilities implements backend.Backend.
func (r *Reader) Capabilities() archtype.Capabilities {
	return archtype.Capabilities{
		RandomReopen:      true,
		SolidDetection:    true,
		CRC32:             true,
		CompressionMethod: true,
	}
}

// Info implements backend.Backend. Zip archives are never solid.
func (r *Reader) Info() (*archtype.ArchiveInfo, error) {
	return &archtype.ArchiveInfo{
		Format:    archtype.FormatZip,
		Encrypted: r.encrypted,
		Comment:   r.chain.Decode([]byte(r.zr.Comment)),
		Extra:     map[string]any{"entries": len(r.zr.File)},
	}, nil
}

// Next implements backend.Backend.
func (r *Reader) Next() (*backend.Entry, error) {
	if r.next >= len(r.zr.File) {
		return nil, io.EOF
	}
	f := r.zr.File[r.next]

	m := translateHeader(&f.FileHeader, r.chain)
	// The target of an encrypted symlink stays unknown.
	if m.Type == archtype.TypeSymlink && !m.Encrypted {
		target, err := r.readLink(f)
		if err != nil {
			return nil, err
		}
		m.LinkTarget = target
	}
	r.next++
	return &backend.Entry{Member: m, Handle: f}, nil
}

func (r *Reader) readLink(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", translate(err)
	}
	defer rc.Close()
	return backend.ReadLinkTarget(zipErrorReader{rc}, backend.MaxLinkTarget)
}

// Open implements backend.RandomAccess.
func (r *Reader) Open(e *backend.Entry) (io.ReadCloser, error) {
	f, ok := e.Handle.(*zip.File)
	if !ok {
		return nil, archtype.ErrMemberNotFound
	}
	if f.Flags&flagEncrypted != 0 {
		return nil, archtype.ErrEncrypted
	}
	rc, err := f.Open()
	if err != nil {
		return nil, translate(err)
	}
	return &backend.ReadCloser{Reader: zipErrorReader{rc}, CloseFunc: rc.Close}, nil
}

// Close implements backend.Backend. The source is owned by the caller.
func (r *Reader) Close() error {
	r.zr = nil
	return nil
}

// translateHeader maps a central directory header onto a member. The link
// target is filled in by the caller.
func translateHeader(fh *zip.FileHeader, chain textdec.Chain) *archtype.Member {
	mode := fh.Mode()
	typ := backend.TypeFromMode(mode)
	if strings.HasSuffix(fh.Name, "/") {
		typ = archtype.TypeDir
	}

	m := &archtype.Member{
		Type:              typ,
		Size:              int64(fh.UncompressedSize64),
		CompressedSize:    int64(fh.CompressedSize64),
		ModTime:           fh.Modified,
		Mode:              mode.Perm(),
		CRC32:             fh.CRC32,
		HasCRC32:          true,
		CompressionMethod: MethodName(fh.Method),
		Encrypted:         fh.Flags&flagEncrypted != 0,
		Extra: map[string]any{
			"host_os":        fh.CreatorVersion >> 8,
			"creator":        fh.CreatorVersion,
			"reader_version": fh.ReaderVersion,
			"flags":          fh.Flags,
			"external_attrs": fh.ExternalAttrs,
		},
	}
	names := chain
	if fh.Flags&flagUTF8 != 0 {
		names = textdec.Chain{textdec.UTF8}
	}
	m.Filename = backend.CleanName(names.Decode([]byte(fh.Name)), typ)
	m.Comment = names.Decode([]byte(fh.Comment))
	if typ == archtype.TypeDir {
		m.Size = 0
	}
	return m
}

// translate maps zip library errors onto archivey kinds.
func translate(err error) error {
	switch {
	case errors.Is(err, zip.ErrAlgorithm):
		return fmt.Errorf("%w: %v", archtype.ErrUnsupported, err)
	case errors.Is(err, zip.ErrChecksum):
		return archtype.ErrChecksum
	default:
		return archtype.Translate(err)
	}
}

type zipErrorReader struct {
	r io.Reader
}

func (z zipErrorReader) Read(p []byte) (int, error) {
	n, err := z.r.Read(p)
	if err != nil && err != io.EOF {
		return n, translate(err)
	}
	return n, err
}

func bzip2Decompressor(r io.Reader) io.ReadCloser {
	return io.NopCloser(bzip2.NewReader(r))
}

func xzDecompressor(r io.Reader) io.ReadCloser {
	xr, err := xz.NewReader(r)
	if err != nil {
		return io.NopCloser(errReader{err})
	}
	return io.NopCloser(xr)
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
