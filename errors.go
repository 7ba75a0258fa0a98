package archivey

import (
	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/pathutil"
)

// Errors re-exported from archtype.
var (
	// ErrFormatDetection is returned when neither the name nor the content
	// matches a known format.
	ErrFormatDetection = archtype.ErrFormatDetection

	// ErrMemberNotFound is returned when no backend entry was recorded for a
	// member or name. It matches fs.ErrNotExist.
	ErrMemberNotFound = archtype.ErrMemberNotFound

	// ErrUnsupported is returned when the operation is not possible for the
	// backend or its current state. It matches errors.ErrUnsupported.
	ErrUnsupported = archtype.ErrUnsupported

	// ErrEncrypted is returned when a password is missing or wrong. It also
	// matches ErrUnsupported.
	ErrEncrypted = archtype.ErrEncrypted

	// ErrArchiveClosed is returned by every operation after Close, and after
	// a single-pass reader lost its position. It matches fs.ErrClosed.
	ErrArchiveClosed = archtype.ErrArchiveClosed

	// ErrBackendDecode is returned when a backend library fails to decode
	// the archive.
	ErrBackendDecode = archtype.ErrBackendDecode

	// ErrChecksum is returned when content does not match its recorded
	// checksum. It also matches ErrBackendDecode.
	ErrChecksum = archtype.ErrChecksum

	// ErrTruncated is returned when the data ends early. It also matches
	// ErrBackendDecode.
	ErrTruncated = archtype.ErrTruncated

	// ErrUnsafePath is returned by ExtractAll for members whose path would
	// land outside the destination.
	ErrUnsafePath = pathutil.ErrUnsafePath
)
