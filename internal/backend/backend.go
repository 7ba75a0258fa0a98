// Package backend defines the contract between the archivey Reader and the
// per-format adapters under internal/backend.
//
// A backend is a forward cursor over native entries. Every backend returns
// members from Next in physical order and translates its library's errors
// with archtype.Translate before returning them. Backends that can reopen any
// entry implement RandomAccess; single-pass backends implement Streaming and
// expose the content of the current entry as a stream.BlockSource.
package backend

import (
	"io"

	"go.uber.org/zap"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/decompress"
	"github.com/davitf/archivey/internal/stream"
	"github.com/davitf/archivey/internal/textdec"
)

// Entry pairs a translated member with the backend's native handle for it.
type Entry struct {
	Member *archtype.Member

	// Handle is opaque to callers. Backends store whatever they need to
	// reopen the entry (a *zip.File, a tar offset, a TOC entry).
	Handle any
}

// Backend is a forward cursor over the entries of one archive.
type Backend interface {
	Format() archtype.Format
	Capabilities() archtype.Capabilities

	// Info returns archive-level metadata. Some backends only know
	// everything once the cursor reached the end.
	Info() (*archtype.ArchiveInfo, error)

	// Next advances to the next entry. It returns io.EOF after the last one.
	Next() (*Entry, error)

	Close() error
}

// RandomAccess is implemented by backends that can open any enumerated entry
// at any time, any number of times.
type RandomAccess interface {
	Backend
	Open(e *Entry) (io.ReadCloser, error)
}

// Streaming is implemented by single-pass backends.
type Streaming interface {
	Backend

	// Current returns the content of the entry last returned by Next.
	// It is nil for entries without content. The source becomes invalid
	// on the next call to Next.
	Current() stream.BlockSource
}

// Options carries the settings shared by all backends.
type Options struct {
	Logger   *zap.Logger
	Password string

	// Encodings is the filename decoding chain. Nil selects the backend default.
	Encodings textdec.Chain

	BlockSize int
	Pool      *decompress.Pool

	// Name is the source name, used for single-file member names.
	Name string

	// TarIntegrityCheck enables the end-of-archive marker check on seekable tars.
	TarIntegrityCheck bool
}

// Log returns the configured logger or a no-op logger.
func (o Options) Log() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Chain returns the configured encoding chain or def.
func (o Options) Chain(def textdec.Chain) textdec.Chain {
	if len(o.Encodings) == 0 {
		return def
	}
	return o.Encodings
}

// BlockSizeOrDefault returns the configured block size or the stream default.
func (o Options) BlockSizeOrDefault() int {
	if o.BlockSize <= 0 {
		return stream.DefaultBlockSize
	}
	return o.BlockSize
}
