// Package rarfmt reads single-volume RAR archives (formats 1.5 and 5.0)
// through nwaples/rardecode. The library only reads forward.
package rarfmt

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nwaples/rardecode"
	"go.uber.org/zap"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/backend"
	"github.com/davitf/archivey/internal/stream"
)

// Reader is the RAR backend.
type Reader struct {
	rr        *rardecode.Reader
	log       *zap.Logger
	blockSize int

	src       stream.BlockSource
	encrypted bool
}

var _ backend.Streaming = (*Reader)(nil)

// New reads the RAR signature and archive header from r.
func New(r io.Reader, opts backend.Options) (*Reader, error) {
	rr, err := rardecode.NewReader(r, opts.Password)
	if err != nil {
		return nil, translate(err)
	}
	return &Reader{
		rr:        rr,
		log:       opts.Log(),
		blockSize: opts.BlockSizeOrDefault(),
	}, nil
}

// Format implements backend.Backend.
func (r *Reader) Format() archtype.Format { return archtype.FormatRar }

// Capabilities implements backend.Backend.
func (r *Reader) Capabilities() archtype.Capabilities {
	return archtype.Capabilities{}
}

// Info implements backend.Backend. Encryption is only known once a header
// or entry needed the password.
func (r *Reader) Info() (*archtype.ArchiveInfo, error) {
	return &archtype.ArchiveInfo{
		Format:    archtype.FormatRar,
		Encrypted: r.encrypted,
	}, nil
}

// Next implements backend.Backend. Skipping an entry decodes it when the
// archive is solid.
func (r *Reader) Next() (*backend.Entry, error) {
	r.src = nil
	fh, err := r.rr.Next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		err = translate(err)
		if errors.Is(err, archtype.ErrEncrypted) {
			r.encrypted = true
		}
		return nil, err
	}

	m := translateHeader(fh)
	switch m.Type {
	case archtype.TypeSymlink:
		if err := readLink(m, errorReader{r.rr}); err != nil {
			return nil, err
		}
		r.encrypted = r.encrypted || m.Encrypted
	case archtype.TypeFile:
		r.src = stream.ReaderBlocks(errorReader{r.rr}, r.blockSize)
	}
	r.log.Debug("rar entry", zap.String("member", m.Filename), zap.Int64("bytes", m.Size))
	return &backend.Entry{Member: m}, nil
}

// readLink fills in the target of a symlink stored as entry data. RAR 5
// keeps symlink targets in a header record the library skips, so those
// links have an empty body and no target. A body that needs a password
// marks the member encrypted and leaves the target empty.
func readLink(m *archtype.Member, content io.Reader) error {
	target, err := backend.ReadLinkTarget(content, backend.MaxLinkTarget)
	switch {
	case errors.Is(err, archtype.ErrEncrypted):
		m.Encrypted = true
		return nil
	case err != nil:
		return err
	}
	m.LinkTarget = target
	return nil
}

// Current implements backend.Streaming.
func (r *Reader) Current() stream.BlockSource {
	return r.src
}

// Close implements backend.Backend.
func (r *Reader) Close() error {
	r.src = nil
	return nil
}

func translateHeader(fh *rardecode.FileHeader) *archtype.Member {
	mode := fh.Mode()
	typ := backend.TypeFromMode(mode)
	if fh.IsDir {
		typ = archtype.TypeDir
	}
	m := &archtype.Member{
		Type:           typ,
		CompressedSize: fh.PackedSize,
		ModTime:        fh.ModificationTime,
		Mode:           mode.Perm(),
		Extra: map[string]any{
			"host_os":    fh.HostOS,
			"attributes": fh.Attributes,
			"version":    fh.Version,
		},
	}
	if !fh.CreationTime.IsZero() {
		m.Extra["ctime"] = fh.CreationTime
	}
	if !fh.AccessTime.IsZero() {
		m.Extra["atime"] = fh.AccessTime
	}
	if typ == archtype.TypeFile && !fh.UnKnownSize {
		m.Size = fh.UnPackedSize
	}
	m.Filename = backend.CleanName(fh.Name, typ)
	return m
}

// translate maps rardecode errors, which are unexported values, by message.
func translate(err error) error {
	if errors.Is(err, archtype.ErrUnsupported) || errors.Is(err, archtype.ErrBackendDecode) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "password"), strings.Contains(msg, "encrypt"):
		return fmt.Errorf("%w: %v", archtype.ErrEncrypted, err)
	case strings.Contains(msg, "checksum"), strings.Contains(msg, "bad header crc"):
		return fmt.Errorf("%w: %v", archtype.ErrChecksum, err)
	case strings.Contains(msg, "next volume"), strings.Contains(msg, "multiple decoders"),
		strings.Contains(msg, "unsupported decoder"), strings.Contains(msg, "unknown decoder"):
		return fmt.Errorf("%w: %v", archtype.ErrUnsupported, err)
	case strings.Contains(msg, "too short"), strings.Contains(msg, "unexpected end"):
		return fmt.Errorf("%w: %v", archtype.ErrTruncated, err)
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
