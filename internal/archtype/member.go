// Package archtype defines the types shared by the archivey package and its
// backends. This avoids circular imports between archivey and internal/backend.
package archtype

import (
	"io/fs"
	"time"
)

// MemberType classifies an archive entry.
type MemberType uint8

const (
	TypeFile MemberType = iota
	TypeDir
	TypeSymlink
	TypeHardlink
	TypeOther
)

func (t MemberType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDir:
		return "dir"
	case TypeSymlink:
		return "symlink"
	case TypeHardlink:
		return "hardlink"
	default:
		return "other"
	}
}

// Member is an immutable snapshot of one archive entry.
//
// Members are built once during enumeration and must be treated as read-only.
// A *Member is only meaningful to the Reader that produced it.
type Member struct {
	// Filename is the decoded path relative to the archive root.
	// Directory names end in "/".
	Filename string

	// Size is the declared uncompressed size. It is 0 when unknown.
	Size int64

	// CompressedSize is the stored size, or 0 if the backend does not report it.
	CompressedSize int64

	// ModTime is the modification time. The zero value means absent.
	ModTime time.Time

	Type MemberType

	// Mode holds the permission bits when the backend records them.
	Mode fs.FileMode

	// CRC32 is only meaningful when HasCRC32 is set.
	CRC32    uint32
	HasCRC32 bool

	// CompressionMethod is a lowercase codec name such as "deflate" or "store".
	CompressionMethod string

	// LinkTarget is only set on symlinks and hardlinks. It is empty on a
	// link whose target the backend could not read (an encrypted zip or 7z
	// symlink, or a RAR 5 symlink); opening such a link fails.
	LinkTarget string

	Encrypted bool
	Comment   string

	// Extra carries backend-specific metadata. It has no fixed schema.
	Extra map[string]any
}

// IsFile reports whether the member is a regular file.
func (m *Member) IsFile() bool { return m.Type == TypeFile }

// IsDir reports whether the member is a directory.
func (m *Member) IsDir() bool { return m.Type == TypeDir }

// IsLink reports whether the member is a symbolic or hard link.
func (m *Member) IsLink() bool {
	return m.Type == TypeSymlink || m.Type == TypeHardlink
}

// FileMode returns Mode combined with the type bits for the member.
func (m *Member) FileMode() fs.FileMode {
	mode := m.Mode.Perm()
	switch m.Type {
	case TypeDir:
		mode |= fs.ModeDir
	case TypeSymlink:
		mode |= fs.ModeSymlink
	case TypeOther:
		mode |= fs.ModeIrregular
	}
	return mode
}
