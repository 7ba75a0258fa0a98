package archtype

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// Sentinel errors for archive operations.
var (
	// ErrFormatDetection is returned when neither the name nor the content
	// matches a known format.
	ErrFormatDetection = errors.New("archivey: unknown archive format")

	// ErrMemberNotFound is returned when no backend entry was recorded for a
	// member or name.
	ErrMemberNotFound = fmt.Errorf("archivey: member not found: %w", fs.ErrNotExist)

	// ErrUnsupported is returned when the backend cannot perform the
	// operation in the current state.
	ErrUnsupported = fmt.Errorf("archivey: %w", errors.ErrUnsupported)

	// ErrEncrypted is returned when a member or archive needs a password
	// that was not given or was wrong.
	ErrEncrypted = fmt.Errorf("%w: encrypted", ErrUnsupported)

	// ErrArchiveClosed is returned by every operation after Close.
	ErrArchiveClosed = fmt.Errorf("archivey: archive closed: %w", fs.ErrClosed)

	// ErrBackendDecode is returned when the backend library fails.
	ErrBackendDecode = errors.New("archivey: backend decode failed")

	// ErrChecksum is returned when content does not match its recorded
	// checksum or digest.
	ErrChecksum = fmt.Errorf("%w: checksum mismatch", ErrBackendDecode)

	// ErrTruncated is returned when the data ends before the container says it should.
	ErrTruncated = fmt.Errorf("%w: unexpected end of data", ErrBackendDecode)
)

// Translate maps an error from a backend library onto the error kinds above.
// Errors that already carry a kind are returned unchanged, io.EOF passes
// through, and the native error only contributes text otherwise.
func Translate(err error) error {
	switch {
	case err == nil, err == io.EOF:
		return err
	case errors.Is(err, ErrBackendDecode), errors.Is(err, ErrUnsupported),
		errors.Is(err, ErrArchiveClosed), errors.Is(err, ErrMemberNotFound),
		errors.Is(err, ErrFormatDetection):
		return err
	case errors.Is(err, fs.ErrClosed):
		return ErrArchiveClosed
	case err == io.ErrUnexpectedEOF:
		return ErrTruncated
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	default:
		return fmt.Errorf("%w: %v", ErrBackendDecode, err)
	}
}
