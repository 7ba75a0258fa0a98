package stream

import (
	"errors"
	"io"
)

// ErrOverflow indicates a counter exceeded its maximum value.
var ErrOverflow = errors.New("counter overflow")

// CountingReader wraps a reader and counts bytes read.
type CountingReader struct {
	R io.Reader
	N int64
}

// Read implements io.Reader.
func (cr *CountingReader) Read(p []byte) (int, error) {
	n, err := cr.R.Read(p)
	if n > 0 {
		if cr.N > (1<<63-1)-int64(n) {
			return n, ErrOverflow
		}
		cr.N += int64(n)
	}
	return n, err
}

// CountingWriter wraps a writer and counts bytes written.
type CountingWriter struct {
	W io.Writer
	N int64
}

// Write implements io.Writer.
func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.W.Write(p)
	if n > 0 {
		if cw.N > (1<<63-1)-int64(n) {
			return n, ErrOverflow
		}
		cw.N += int64(n)
	}
	return n, err
}

// EnsureNoExtra reads from r and reports ErrOverflow if any data is left.
// This detects decoders that produce more data than the entry declared.
func EnsureNoExtra(r io.Reader) error {
	var scratch [1]byte
	n, err := r.Read(scratch[:])
	if n > 0 {
		return ErrOverflow
	}
	if err == io.EOF {
		return nil
	}
	return err
}
