package tarfmt

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/backend"
	"github.com/davitf/archivey/internal/decompress"
	"github.com/davitf/archivey/internal/textdec"
)

// handle locates an entry's data in the source.
type handle struct {
	index  int
	offset int64
	size   int64
	sparse bool
}

// Reader is the random-access tar backend. Enumeration records where each
// entry's data starts, so entries can be reopened with a section reader.
type Reader struct {
	ra    io.ReaderAt
	size  int64
	sr    *io.SectionReader
	tr    *tar.Reader
	chain textdec.Chain
	log   *zap.Logger
	check bool

	index   int
	dataEnd int64
	done    bool
}

var _ backend.RandomAccess = (*Reader)(nil)

// New returns a backend over the plain tar in ra.
func New(ra io.ReaderAt, size int64, opts backend.Options) *Reader {
	sr := io.NewSectionReader(ra, 0, size)
	return &Reader{
		ra:    ra,
		size:  size,
		sr:    sr,
		tr:    tar.NewReader(sr),
		chain: opts.Chain(textdec.TarChain),
		log:   opts.Log(),
		check: opts.TarIntegrityCheck,
	}
}

// Format implements backend.Backend.
func (r *Reader) Format() archtype.Format { return archtype.FormatTar }

// Capabilities implements backend.Backend.
func (r *Reader) Capabilities() archtype.Capabilities {
	return archtype.Capabilities{
		RandomReopen:      true,
		SolidDetection:    true,
		CompressionMethod: true,
	}
}

// Info implements backend.Backend.
func (r *Reader) Info() (*archtype.ArchiveInfo, error) {
	return &archtype.ArchiveInfo{Format: archtype.FormatTar}, nil
}

// Next implements backend.Backend.
func (r *Reader) Next() (*backend.Entry, error) {
	if r.done {
		return nil, io.EOF
	}
	hdr, err := r.tr.Next()
	if err == io.EOF {
		r.done = true
		if r.check {
			if err := r.checkTrailer(); err != nil {
				return nil, err
			}
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, archtype.Translate(err)
	}

	offset, err := r.sr.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, archtype.Translate(err)
	}
	h := &handle{index: r.index, offset: offset, size: hdr.Size, sparse: isSparse(hdr)}
	r.index++
	if !h.sparse {
		r.dataEnd = offset + roundUp(hdr.Size)
	}

	m := translateHeader(hdr, r.chain, decompress.MethodName(archtype.FormatUnknown))
	return &backend.Entry{Member: m, Handle: h}, nil
}

// checkTrailer verifies the two zero blocks that end a tar archive.
func (r *Reader) checkTrailer() error {
	trailer := make([]byte, 2*blockSize)
	n, err := r.ra.ReadAt(trailer, r.dataEnd)
	if n < len(trailer) {
		r.log.Debug("tar trailer missing", zap.Int64("offset", r.dataEnd), zap.Int("bytes", n))
		return fmt.Errorf("%w: missing end-of-archive marker", archtype.ErrTruncated)
	}
	if err != nil && err != io.EOF {
		return archtype.Translate(err)
	}
	if !bytes.Equal(trailer, make([]byte, len(trailer))) {
		r.log.Debug("tar trailer not zero", zap.Int64("offset", r.dataEnd))
		return fmt.Errorf("%w: corrupt end-of-archive marker", archtype.ErrBackendDecode)
	}
	return nil
}

// Open implements backend.RandomAccess.
func (r *Reader) Open(e *backend.Entry) (io.ReadCloser, error) {
	h, ok := e.Handle.(*handle)
	if !ok {
		return nil, archtype.ErrMemberNotFound
	}
	if h.sparse {
		return r.rescan(h)
	}
	return backend.NopReadCloser(io.NewSectionReader(r.ra, h.offset, h.size)), nil
}

// rescan reads from the start of the archive up to the entry, so the tar
// reader can expand sparse holes.
func (r *Reader) rescan(h *handle) (io.ReadCloser, error) {
	tr := tar.NewReader(io.NewSectionReader(r.ra, 0, r.size))
	for i := 0; i <= h.index; i++ {
		if _, err := tr.Next(); err != nil {
			if err == io.EOF {
				return nil, archtype.ErrTruncated
			}
			return nil, archtype.Translate(err)
		}
	}
	return backend.NopReadCloser(tr), nil
}

// Close implements backend.Backend. The source is owned by the caller.
func (r *Reader) Close() error {
	r.tr = nil
	return nil
}

func roundUp(n int64) int64 {
	return (n + blockSize - 1) / blockSize * blockSize
}
