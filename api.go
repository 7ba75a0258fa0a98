package archivey

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/davitf/archivey/internal/backend"
	"github.com/davitf/archivey/internal/backend/isofmt"
	"github.com/davitf/archivey/internal/backend/rarfmt"
	"github.com/davitf/archivey/internal/backend/sevenzipfmt"
	"github.com/davitf/archivey/internal/backend/singlefmt"
	"github.com/davitf/archivey/internal/backend/squashfmt"
	"github.com/davitf/archivey/internal/backend/stargzfmt"
	"github.com/davitf/archivey/internal/backend/tarfmt"
	"github.com/davitf/archivey/internal/backend/zipfmt"
	"github.com/davitf/archivey/internal/decompress"
	"github.com/davitf/archivey/internal/detect"
)

// DetectFormat returns the format implied by the extension of name. It
// does no I/O and fails with ErrFormatDetection for unknown extensions.
func DetectFormat(name string) (Format, error) {
	return detect.ByName(name)
}

// Open opens the archive at path on the configured filesystem. The format
// comes from the extension, falling back to the content's magic bytes.
func Open(path string, opts ...Option) (*Reader, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, pathErr("open", path, err)
	}
	f, err := o.fs.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close() //nolint:errcheck // already failing
		return nil, err
	}
	if fi.IsDir() {
		_ = f.Close() //nolint:errcheck // already failing
		return nil, pathErr("open", path, fmt.Errorf("%w: is a directory", ErrUnsupported))
	}
	r, err := openReaderAt(f, fi.Size(), path, f, o)
	if err != nil {
		_ = f.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return r, nil
}

// OpenReaderAt opens the archive in ra. name is used for format detection
// and single-file member names; it may be empty. The caller keeps
// ownership of ra.
func OpenReaderAt(ra io.ReaderAt, size int64, name string, opts ...Option) (*Reader, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	return openReaderAt(ra, size, name, nil, o)
}

func openReaderAt(ra io.ReaderAt, size int64, name string, src io.Closer, o *options) (*Reader, error) {
	pool := o.pool()
	format, err := detectReaderAt(ra, size, name, o, pool)
	if err != nil {
		pool.Close()
		return nil, pathErr("open", name, err)
	}
	be, err := newRandomBackend(ra, size, format, name, o, pool)
	if err != nil {
		pool.Close()
		return nil, pathErr("open", name, err)
	}
	r := newReader(be, src, name, o)
	r.pool = pool
	return r, nil
}

// detectReaderAt trusts a known extension, except that compressed streams
// are sniffed to tell a compressed tar from a single file.
func detectReaderAt(ra io.ReaderAt, size int64, name string, o *options, pool *decompress.Pool) (Format, error) {
	if o.format != FormatUnknown {
		return o.format, nil
	}
	format, err := detect.ByName(name)
	if err == nil && !format.IsCompressedStream() {
		return format, nil
	}
	sniffed, serr := detect.Sniff(ra, size, pool)
	if serr != nil {
		if err == nil {
			return format, nil
		}
		return FormatUnknown, serr
	}
	o.log.Debug("format sniffed", zap.String("source", name), zap.Stringer("format", sniffed))
	return sniffed, nil
}

func newRandomBackend(ra io.ReaderAt, size int64, format Format, name string, o *options, pool *decompress.Pool) (backend.Backend, error) {
	bo := o.backendOptions(format, name, pool)
	switch {
	case format == FormatTarGz && o.stargz:
		sg, err := stargzfmt.New(ra, size, bo)
		if err == nil {
			return sg, nil
		}
		o.log.Debug("not an estargz blob", zap.String("source", name), zap.Error(err))
		return tarfmt.NewStream(io.NewSectionReader(ra, 0, size), format, bo)
	case format == FormatTar:
		return tarfmt.New(ra, size, bo), nil
	case format.IsTar():
		return tarfmt.NewStream(io.NewSectionReader(ra, 0, size), format, bo)
	case format == FormatZip:
		return zipfmt.New(ra, size, bo)
	case format == FormatRar:
		return rarfmt.New(io.NewSectionReader(ra, 0, size), bo)
	case format == FormatSevenZip:
		return sevenzipfmt.New(ra, size, bo)
	case format == FormatISO:
		return isofmt.New(ra, size, bo)
	case format == FormatSquashFS:
		return squashfmt.New(ra, size, bo)
	case format.IsCompressedStream():
		return singlefmt.NewSeekable(ra, size, format, bo)
	}
	return nil, fmt.Errorf("%w: %s", ErrFormatDetection, format)
}

// OpenStream opens an archive from a non-seekable stream. Only tar
// variants, zip (read through local headers), rar and single-file
// compressed streams can be read this way; other formats fail with
// ErrUnsupported. The caller keeps ownership of r.
func OpenStream(r io.Reader, name string, opts ...Option) (*Reader, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	pool := o.pool()
	format := o.format
	if format == FormatUnknown {
		var nerr error
		format, nerr = detect.ByName(name)
		if nerr != nil || format.IsCompressedStream() {
			sniffed, br, serr := detect.SniffStream(r, pool)
			r = br
			switch {
			case serr == nil:
				format = sniffed
			case nerr != nil:
				pool.Close()
				return nil, pathErr("open", name, serr)
			}
		}
	}
	if !format.Streamable() {
		pool.Close()
		return nil, pathErr("open", name, fmt.Errorf("%w: %s needs random access", ErrUnsupported, format))
	}
	be, err := newStreamBackend(r, format, name, o, pool)
	if err != nil {
		pool.Close()
		return nil, pathErr("open", name, err)
	}
	rd := newReader(be, nil, name, o)
	rd.pool = pool
	return rd, nil
}

func newStreamBackend(r io.Reader, format Format, name string, o *options, pool *decompress.Pool) (backend.Backend, error) {
	bo := o.backendOptions(format, name, pool)
	switch {
	case format.IsTar():
		return tarfmt.NewStream(r, format, bo)
	case format == FormatZip:
		return zipfmt.NewStream(r, bo), nil
	case format == FormatRar:
		return rarfmt.New(r, bo)
	case format.IsCompressedStream():
		return singlefmt.New(r, format, bo)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, format)
}

// OpenCompressedStream opens a single-file compressed file (gz, bz2, xz,
// zst, lz4) on the configured filesystem and returns its decompressed
// content. Compressed tars are decompressed without being unpacked.
func OpenCompressedStream(path string, opts ...Option) (io.ReadCloser, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, pathErr("open", path, err)
	}
	f, err := o.fs.Open(path)
	if err != nil {
		return nil, err
	}
	rc, err := openCompressedFile(f, path, o)
	if err != nil {
		_ = f.Close() //nolint:errcheck // already failing
		return nil, pathErr("open", path, err)
	}
	return &backend.ReadCloser{Reader: rc, CloseFunc: func() error {
		return multierr.Combine(rc.Close(), f.Close())
	}}, nil
}

func openCompressedFile(f afero.File, path string, o *options) (io.ReadCloser, error) {
	format := o.format
	if format == FormatUnknown {
		fi, err := f.Stat()
		if err != nil {
			return nil, err
		}
		format, err = detect.Sniff(f, fi.Size(), o.pool())
		if err != nil {
			if format, err = detect.ByName(path); err != nil {
				return nil, err
			}
		}
	}
	return newCompressedReader(f, format, o)
}

// NewCompressedReader returns the decompressed content of r, which holds
// a stream of the given format. Closing the result does not close r.
func NewCompressedReader(r io.Reader, format Format, opts ...Option) (io.ReadCloser, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	return newCompressedReader(r, format, o)
}

func newCompressedReader(r io.Reader, format Format, o *options) (io.ReadCloser, error) {
	codec := format.Codec()
	if codec == FormatUnknown {
		return nil, fmt.Errorf("%w: %s is not a compressed stream", ErrUnsupported, format)
	}
	return decompress.Open(codec, r, o.pool())
}
