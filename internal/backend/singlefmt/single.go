// Package singlefmt presents a single compressed file (gz, bz2, xz, zst,
// lz4) as an archive with one member.
package singlefmt

import (
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/backend"
	"github.com/davitf/archivey/internal/decompress"
	"github.com/davitf/archivey/internal/detect"
	"github.com/davitf/archivey/internal/stream"
)

// DefaultName names the member when neither the stream header nor the
// source name provide one.
const DefaultName = "data"

// memberName prefers the name stored in a gzip header, then the source
// name without its compression extension.
func memberName(dr *decompress.Reader, source string) string {
	if dr.Name != "" {
		if base := path.Base(strings.ReplaceAll(dr.Name, "\\", "/")); base != "." && base != "/" {
			return base
		}
	}
	if source != "" {
		if name := detect.StripExtension(source); name != "." && name != "/" {
			return name
		}
	}
	return DefaultName
}

func newMember(format archtype.Format, dr *decompress.Reader, source string) *archtype.Member {
	return &archtype.Member{
		Filename:          memberName(dr, source),
		Type:              archtype.TypeFile,
		ModTime:           dr.ModTime,
		Mode:              0o644,
		CompressionMethod: decompress.MethodName(format.Codec()),
	}
}

func capabilities() archtype.Capabilities {
	return archtype.Capabilities{
		SolidDetection:    true,
		CompressionMethod: true,
	}
}

// Reader is the single-pass backend for a compressed stream.
type Reader struct {
	format    archtype.Format
	dr        *decompress.Reader
	log       *zap.Logger
	blockSize int
	name      string

	src  stream.BlockSource
	step int
}

var _ backend.Streaming = (*Reader)(nil)

// New reads the stream header of r. format must be a single-file format.
func New(r io.Reader, format archtype.Format, opts backend.Options) (*Reader, error) {
	dr, err := decompress.Open(format.Codec(), r, opts.Pool)
	if err != nil {
		return nil, err
	}
	return &Reader{
		format:    format,
		dr:        dr,
		log:       opts.Log(),
		blockSize: opts.BlockSizeOrDefault(),
		name:      opts.Name,
	}, nil
}

// Format implements backend.Backend.
func (r *Reader) Format() archtype.Format { return r.format }

// Capabilities implements backend.Backend.
func (r *Reader) Capabilities() archtype.Capabilities { return capabilities() }

// Info implements backend.Backend.
func (r *Reader) Info() (*archtype.ArchiveInfo, error) {
	return &archtype.ArchiveInfo{Format: r.format}, nil
}

// Next implements backend.Backend. After the member, it drains what the
// caller left unread so the codec trailer is verified.
func (r *Reader) Next() (*backend.Entry, error) {
	r.src = nil
	switch r.step {
	case 0:
		r.step++
		m := newMember(r.format, r.dr, r.name)
		r.src = stream.ReaderBlocks(r.dr, r.blockSize)
		r.log.Debug("single-file member", zap.String("member", m.Filename), zap.String("format", r.format.String()))
		return &backend.Entry{Member: m}, nil
	case 1:
		r.step++
		if err := decompress.Drain(r.dr); err != nil {
			return nil, err
		}
	}
	return nil, io.EOF
}

// Current implements backend.Streaming.
func (r *Reader) Current() stream.BlockSource {
	return r.src
}

// Close implements backend.Backend.
func (r *Reader) Close() error {
	r.src = nil
	r.step = 2
	return r.dr.Close()
}

// Seekable is the backend for a compressed file on a random-access source.
// Every Open decompresses from the start.
type Seekable struct {
	format archtype.Format
	ra     io.ReaderAt
	size   int64
	pool   *decompress.Pool
	member *archtype.Member
	done   bool
}

var _ backend.RandomAccess = (*Seekable)(nil)

// NewSeekable reads the stream header from ra.
func NewSeekable(ra io.ReaderAt, size int64, format archtype.Format, opts backend.Options) (*Seekable, error) {
	dr, err := decompress.Open(format.Codec(), io.NewSectionReader(ra, 0, size), opts.Pool)
	if err != nil {
		return nil, err
	}
	m := newMember(format, dr, opts.Name)
	if err := dr.Close(); err != nil {
		return nil, err
	}
	return &Seekable{format: format, ra: ra, size: size, pool: opts.Pool, member: m}, nil
}

// Format implements backend.Backend.
func (s *Seekable) Format() archtype.Format { return s.format }

// Capabilities implements backend.Backend.
func (s *Seekable) Capabilities() archtype.Capabilities {
	c := capabilities()
	c.RandomReopen = true
	return c
}

// Info implements backend.Backend.
func (s *Seekable) Info() (*archtype.ArchiveInfo, error) {
	return &archtype.ArchiveInfo{Format: s.format}, nil
}

// Next implements backend.Backend.
func (s *Seekable) Next() (*backend.Entry, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return &backend.Entry{Member: s.member}, nil
}

// Open implements backend.RandomAccess.
func (s *Seekable) Open(*backend.Entry) (io.ReadCloser, error) {
	dr, err := decompress.Open(s.format.Codec(), io.NewSectionReader(s.ra, 0, s.size), s.pool)
	if err != nil {
		return nil, err
	}
	return &backend.ReadCloser{Reader: dr, CloseFunc: dr.Close}, nil
}

// Close implements backend.Backend. The source is owned by the caller.
func (s *Seekable) Close() error {
	s.done = true
	return nil
}
