package tarfmt

import (
	"archive/tar"
	"io"

	"go.uber.org/zap"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/backend"
	"github.com/davitf/archivey/internal/decompress"
	"github.com/davitf/archivey/internal/stream"
	"github.com/davitf/archivey/internal/textdec"
)

// StreamReader is the single-pass tar backend, used for compressed tars and
// for tars read from a non-seekable source.
type StreamReader struct {
	format    archtype.Format
	dr        *decompress.Reader
	tr        *tar.Reader
	chain     textdec.Chain
	log       *zap.Logger
	blockSize int
	method    string

	src  stream.BlockSource
	done bool
}

var _ backend.Streaming = (*StreamReader)(nil)

// NewStream returns a backend reading the tar family format from r.
func NewStream(r io.Reader, format archtype.Format, opts backend.Options) (*StreamReader, error) {
	s := &StreamReader{
		format:    format,
		chain:     opts.Chain(textdec.TarChain),
		log:       opts.Log(),
		blockSize: opts.BlockSizeOrDefault(),
		method:    decompress.MethodName(format.Codec()),
	}
	if codec := format.Codec(); codec != archtype.FormatUnknown {
		dr, err := decompress.Open(codec, r, opts.Pool)
		if err != nil {
			return nil, err
		}
		s.dr = dr
		r = dr
	}
	s.tr = tar.NewReader(r)
	return s, nil
}

// Format implements backend.Backend.
func (s *StreamReader) Format() archtype.Format { return s.format }

// Capabilities implements backend.Backend.
func (s *StreamReader) Capabilities() archtype.Capabilities {
	return archtype.Capabilities{
		SolidDetection:    true,
		CompressionMethod: true,
	}
}

// Info implements backend.Backend. Compressed tars are solid.
func (s *StreamReader) Info() (*archtype.ArchiveInfo, error) {
	return &archtype.ArchiveInfo{
		Format:  s.format,
		IsSolid: s.format.Codec() != archtype.FormatUnknown,
	}, nil
}

// Next implements backend.Backend.
func (s *StreamReader) Next() (*backend.Entry, error) {
	if s.done {
		return nil, io.EOF
	}
	s.src = nil
	hdr, err := s.tr.Next()
	if err == io.EOF {
		s.done = true
		if s.dr != nil {
			// Verify the codec trailer (sizes and checksums).
			if err := decompress.Drain(s.dr); err != nil {
				s.log.Debug("compressed tar trailer", zap.Error(err))
				return nil, err
			}
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, archtype.Translate(err)
	}

	m := translateHeader(hdr, s.chain, s.method)
	if m.Type == archtype.TypeFile {
		s.src = stream.ReaderBlocks(backend.ErrorReader{R: s.tr}, s.blockSize)
	}
	return &backend.Entry{Member: m}, nil
}

// Current implements backend.Streaming.
func (s *StreamReader) Current() stream.BlockSource {
	return s.src
}

// Close implements backend.Backend.
func (s *StreamReader) Close() error {
	s.src = nil
	if s.dr == nil {
		return nil
	}
	dr := s.dr
	s.dr = nil
	return dr.Close()
}
