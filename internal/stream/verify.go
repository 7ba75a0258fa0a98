package stream

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/davitf/archivey/internal/archtype"
)

// VerifyingReader hashes everything read through it and compares the sum
// with an expected CRC32 when the underlying reader reaches io.EOF.
type VerifyingReader struct {
	r        io.Reader
	h        hash.Hash32
	expected uint32
	verified bool
	err      error
}

// NewCRC32Reader returns a reader that fails with archtype.ErrChecksum at
// EOF when the IEEE CRC32 of the content differs from expected.
func NewCRC32Reader(r io.Reader, expected uint32) *VerifyingReader {
	return &VerifyingReader{r: r, h: crc32.NewIEEE(), expected: expected}
}

// Read implements io.Reader.
func (vr *VerifyingReader) Read(p []byte) (int, error) {
	if vr.err != nil {
		return 0, vr.err
	}
	n, err := vr.r.Read(p)
	if n > 0 {
		_, _ = vr.h.Write(p[:n]) //nolint:errcheck // hash writes never fail
	}
	if err == io.EOF && !vr.verified {
		vr.verified = true
		if got := vr.h.Sum32(); got != vr.expected {
			vr.err = fmt.Errorf("%w: crc32 %08x, want %08x", archtype.ErrChecksum, got, vr.expected)
			return n, vr.err
		}
	}
	return n, err
}

// Sum32 returns the checksum of the data read so far.
func (vr *VerifyingReader) Sum32() uint32 {
	return vr.h.Sum32()
}
