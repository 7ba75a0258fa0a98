package backend

import (
	"errors"
	"fmt"
	"io"

	"github.com/davitf/archivey/internal/archtype"
)

// ErrorReader translates every error returned by R.
type ErrorReader struct {
	R io.Reader
}

// Read implements io.Reader.
func (r ErrorReader) Read(p []byte) (int, error) {
	n, err := r.R.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, archtype.Translate(err)
	}
	return n, err
}

// ReadCloser combines a translated reader with a close function.
type ReadCloser struct {
	io.Reader
	CloseFunc func() error
}

// Close calls CloseFunc once.
func (rc *ReadCloser) Close() error {
	if rc.CloseFunc == nil {
		return nil
	}
	fn := rc.CloseFunc
	rc.CloseFunc = nil
	return archtype.Translate(fn())
}

// NopReadCloser wraps r so its errors are translated and Close does nothing.
func NopReadCloser(r io.Reader) io.ReadCloser {
	return &ReadCloser{Reader: ErrorReader{R: r}}
}

// ReadLinkTarget reads the content of a link entry that stores its target
// as data (zip, rar, 7z). Targets longer than limit are rejected.
func ReadLinkTarget(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", archtype.Translate(err)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("%w: link target over %d bytes", archtype.ErrBackendDecode, limit)
	}
	return string(data), nil
}

// MaxLinkTarget bounds link targets read from entry content.
const MaxLinkTarget = 4096
