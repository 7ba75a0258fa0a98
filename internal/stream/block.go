// Package stream adapts backend decoders into byte streams: a block-to-stream
// adapter for single-pass cursors plus counting and checksum readers.
package stream

import (
	"errors"
	"io"
)

// DefaultBlockSize is the block size used when callers pass 0.
const DefaultBlockSize = 64 << 10

// BlockSource produces successive blocks of one entry's content.
//
// Next returns io.EOF once the entry is exhausted. Blocks may have any
// length, including zero. Pulling a block advances the backend
// irreversibly; a returned slice may be reused by the next call.
type BlockSource interface {
	Next() ([]byte, error)
}

// BlockReader turns a BlockSource into a byte stream.
//
// Bytes leave the buffer in the order the source produced them. The buffer
// only grows by whole blocks, and ReadN returns fewer bytes than requested
// only when the source is exhausted. A BlockReader is single use.
type BlockReader struct {
	src   BlockSource
	buf   []byte
	total int64
	done  bool
	err   error
}

// NewBlockReader returns a reader over src.
func NewBlockReader(src BlockSource) *BlockReader {
	return &BlockReader{src: src}
}

// ReadN returns the next n bytes. A negative n reads to the end of the
// entry. After exhaustion with an empty buffer it returns an empty slice and
// no error. A source error is returned once the buffered bytes have been
// delivered, and on every call after that.
func (r *BlockReader) ReadN(n int) ([]byte, error) {
	if n < 0 {
		for !r.done {
			r.pull()
		}
		out := r.buf
		r.buf = nil
		if len(out) == 0 && r.err != nil {
			return nil, r.err
		}
		return out, nil
	}
	for len(r.buf) < n && !r.done {
		r.pull()
	}
	if len(r.buf) == 0 && r.err != nil {
		return nil, r.err
	}
	k := min(n, len(r.buf))
	out := make([]byte, k)
	copy(out, r.buf[:k])
	r.buf = r.buf[k:]
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return out, nil
}

// Read implements io.Reader. It returns io.EOF once the source is exhausted
// and the buffer is empty.
func (r *BlockReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.buf) == 0 && !r.done {
		r.pull()
	}
	if len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// WriteTo implements io.WriterTo, writing blocks as they are pulled.
func (r *BlockReader) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for {
		if len(r.buf) > 0 {
			n, err := w.Write(r.buf)
			written += int64(n)
			r.buf = r.buf[n:]
			if err != nil {
				return written, err
			}
		}
		if r.done {
			return written, r.err
		}
		r.pull()
	}
}

// Total returns the number of bytes pulled from the source so far.
func (r *BlockReader) Total() int64 {
	return r.total
}

// Buffered returns the number of pulled bytes not yet delivered.
func (r *BlockReader) Buffered() int {
	return len(r.buf)
}

// Exhausted reports whether the source has reported its end.
func (r *BlockReader) Exhausted() bool {
	return r.done
}

func (r *BlockReader) pull() {
	block, err := r.src.Next()
	if len(block) > 0 {
		r.buf = append(r.buf, block...)
		r.total += int64(len(block))
	}
	if err != nil {
		r.done = true
		if !errors.Is(err, io.EOF) {
			r.err = err
		}
	}
}

// readerBlocks adapts an io.Reader into a BlockSource.
type readerBlocks struct {
	r   io.Reader
	buf []byte
}

// ReaderBlocks returns a BlockSource that reads r in blocks of at most size
// bytes. A size of 0 selects DefaultBlockSize.
func ReaderBlocks(r io.Reader, size int) BlockSource {
	if size <= 0 {
		size = DefaultBlockSize
	}
	return &readerBlocks{r: r, buf: make([]byte, size)}
}

func (b *readerBlocks) Next() ([]byte, error) {
	n, err := io.ReadFull(b.r, b.buf)
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return b.buf[:n], nil
	case err != nil:
		return b.buf[:n], err
	}
	return b.buf[:n], nil
}

// SliceBlocks returns a BlockSource over fixed blocks. It is mostly useful
// for entries that were already materialized.
func SliceBlocks(blocks ...[]byte) BlockSource {
	return &sliceBlocks{blocks: blocks}
}

type sliceBlocks struct {
	blocks [][]byte
}

func (s *sliceBlocks) Next() ([]byte, error) {
	if len(s.blocks) == 0 {
		return nil, io.EOF
	}
	b := s.blocks[0]
	s.blocks = s.blocks[1:]
	return b, nil
}
