package zipfmt

import (
	stdzip "archive/zip"
	"encoding/binary"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/krolaw/zipstream"
	"go.uber.org/zap"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/backend"
	"github.com/davitf/archivey/internal/stream"
	"github.com/davitf/archivey/internal/textdec"
)

const flagDataDescriptor = 0x8

// StreamReader is the single-pass zip backend. It walks local file headers,
// so the central directory (and the archive comment) is never seen.
type StreamReader struct {
	zr        *zipstream.Reader
	chain     textdec.Chain
	log       *zap.Logger
	blockSize int

	cur       io.Reader
	src       stream.BlockSource
	encrypted bool
}

var _ backend.Streaming = (*StreamReader)(nil)

// NewStream returns a backend reading zip local headers from r.
func NewStream(r io.Reader, opts backend.Options) *StreamReader {
	return &StreamReader{
		zr:        zipstream.NewReader(r),
		chain:     opts.Chain(textdec.ZipChain),
		log:       opts.Log(),
		blockSize: opts.BlockSizeOrDefault(),
	}
}

// Format implements backend.Backend.
func (s *StreamReader) Format() archtype.Format { return archtype.FormatZip }

// Capabilities implements backend.Backend.
func (s *StreamReader) Capabilities() archtype.Capabilities {
	return archtype.Capabilities{
		SolidDetection:    true,
		CRC32:             true,
		CompressionMethod: true,
	}
}

// Info implements backend.Backend. Encrypted only reflects the entries seen so far.
func (s *StreamReader) Info() (*archtype.ArchiveInfo, error) {
	return &archtype.ArchiveInfo{
		Format:    archtype.FormatZip,
		Encrypted: s.encrypted,
	}, nil
}

// Next implements backend.Backend.
func (s *StreamReader) Next() (*backend.Entry, error) {
	if s.cur != nil {
		if _, err := io.Copy(io.Discard, s.cur); err != nil {
			return nil, translate(err)
		}
		s.cur, s.src = nil, nil
	}

	fh, err := s.zr.Next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, translate(err)
	}

	h := convertHeader(fh)
	m := translateHeader(h, s.chain)
	if fh.Flags&flagDataDescriptor != 0 {
		// Sizes and checksum follow the data.
		m.Size, m.CompressedSize = 0, 0
		m.CRC32, m.HasCRC32 = 0, false
	}
	if m.Encrypted {
		s.encrypted = true
	}

	var content io.Reader = zipErrorReader{s.zr}
	if m.HasCRC32 && !m.Encrypted {
		content = stream.NewCRC32Reader(content, m.CRC32)
	}
	switch {
	case m.Type == archtype.TypeSymlink && !m.Encrypted:
		target, err := backend.ReadLinkTarget(content, backend.MaxLinkTarget)
		if err != nil {
			return nil, err
		}
		m.LinkTarget = target
	case m.Type == archtype.TypeFile && !m.Encrypted:
		s.cur = content
		s.src = stream.ReaderBlocks(content, s.blockSize)
	default:
		// Skipped on the next call.
		s.cur = content
	}
	s.log.Debug("zip stream entry", zap.String("member", m.Filename), zap.Uint16("flags", fh.Flags))
	return &backend.Entry{Member: m}, nil
}

// Current implements backend.Streaming.
func (s *StreamReader) Current() stream.BlockSource {
	return s.src
}

// Close implements backend.Backend.
func (s *StreamReader) Close() error {
	s.cur, s.src = nil, nil
	return nil
}

// convertHeader copies a local header from the standard library's type.
// Local headers often carry only the 32-bit sizes and the DOS timestamp.
func convertHeader(fh *stdzip.FileHeader) *zip.FileHeader {
	h := &zip.FileHeader{
		Name:               fh.Name,
		Comment:            fh.Comment,
		NonUTF8:            fh.NonUTF8,
		CreatorVersion:     fh.CreatorVersion,
		ReaderVersion:      fh.ReaderVersion,
		Flags:              fh.Flags,
		Method:             fh.Method,
		Modified:           fh.Modified,
		ModifiedTime:       fh.ModifiedTime,
		ModifiedDate:       fh.ModifiedDate,
		CRC32:              fh.CRC32,
		CompressedSize64:   fh.CompressedSize64,
		UncompressedSize64: fh.UncompressedSize64,
		Extra:              fh.Extra,
		ExternalAttrs:      fh.ExternalAttrs,
	}
	if h.CompressedSize64 == 0 {
		h.CompressedSize64 = uint64(fh.CompressedSize)
	}
	if h.UncompressedSize64 == 0 {
		h.UncompressedSize64 = uint64(fh.UncompressedSize)
	}
	if h.Modified.IsZero() {
		h.Modified = headerTime(fh.Extra, fh.ModifiedDate, fh.ModifiedTime)
	}
	return h
}

const extTimeID = 0x5455

// headerTime returns the extended timestamp modification time when present,
// otherwise the DOS date and time read as UTC.
func headerTime(extra []byte, date, tm uint16) time.Time {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra)
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		extra = extra[4:]
		if size > len(extra) {
			break
		}
		field := extra[:size]
		extra = extra[size:]
		if id == extTimeID && len(field) >= 5 && field[0]&1 != 0 {
			return time.Unix(int64(binary.LittleEndian.Uint32(field[1:])), 0).UTC()
		}
	}
	if date == 0 && tm == 0 {
		return time.Time{}
	}
	return time.Date(
		int(date>>9)+1980, time.Month(date>>5&0xf), int(date&0x1f),
		int(tm>>11), int(tm>>5&0x3f), int(tm&0x1f)*2, 0,
		time.UTC,
	)
}
