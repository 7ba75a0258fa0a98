// Package decompress opens single-stream decompressors (gzip, bzip2, xz,
// zstd, lz4) and translates their errors into archivey error kinds.
package decompress

import (
	"compress/bzip2"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/davitf/archivey/internal/archtype"
)

// Reader is a decompressing stream. Read errors are already translated.
type Reader struct {
	r       io.Reader
	release func() error

	// Name and ModTime come from the gzip header when present.
	Name    string
	ModTime time.Time
}

// Open wraps r with the decompressor for codec. The pool supplies zstd
// decoders and may be nil.
func Open(codec archtype.Format, r io.Reader, pool *Pool) (*Reader, error) {
	switch codec {
	case archtype.FormatGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, openError(codec, err)
		}
		return &Reader{r: zr, release: zr.Close, Name: zr.Name, ModTime: zr.ModTime}, nil
	case archtype.FormatBzip2:
		return &Reader{r: bzip2.NewReader(r)}, nil
	case archtype.FormatXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, openError(codec, err)
		}
		return &Reader{r: xr}, nil
	case archtype.FormatZstd:
		dec, release, err := pool.Get(r)
		if err != nil {
			return nil, openError(codec, err)
		}
		return &Reader{r: dec, release: func() error { release(); return nil }}, nil
	case archtype.FormatLz4:
		return &Reader{r: lz4.NewReader(r)}, nil
	default:
		return nil, fmt.Errorf("%w: no decompressor for %s", archtype.ErrUnsupported, codec)
	}
}

// methodNames maps a codec to the compression method reported on members.
var methodNames = map[archtype.Format]string{
	archtype.FormatUnknown: "store",
	archtype.FormatGzip:    "gzip",
	archtype.FormatBzip2:   "bzip2",
	archtype.FormatXz:      "xz",
	archtype.FormatZstd:    "zstd",
	archtype.FormatLz4:     "lz4",
}

// MethodName returns the compression method name for codec. FormatUnknown
// means stored.
func MethodName(codec archtype.Format) string {
	return methodNames[codec]
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		return n, archtype.Translate(err)
	}
	return n, err
}

// Close releases the decompressor. It does not close the underlying reader.
func (r *Reader) Close() error {
	if r.release == nil {
		return nil
	}
	release := r.release
	r.release = nil
	return archtype.Translate(release())
}

// Drain reads r to EOF so codec trailers (sizes and checksums) are verified.
func Drain(r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return archtype.Translate(err)
}

func openError(codec archtype.Format, err error) error {
	if err == io.EOF {
		return fmt.Errorf("%w: empty %s stream", archtype.ErrTruncated, codec)
	}
	return fmt.Errorf("open %s stream: %w", codec, archtype.Translate(err))
}
