package archivey

import "github.com/davitf/archivey/internal/archtype"

// --- Re-exports from archtype ---

// Member is an immutable snapshot of one archive entry.
type Member = archtype.Member

// MemberType classifies an archive entry.
type MemberType = archtype.MemberType

// Format identifies a container format.
type Format = archtype.Format

// ArchiveInfo holds archive-level metadata.
type ArchiveInfo = archtype.ArchiveInfo

// Capabilities describes what the backend of a Reader can do.
type Capabilities = archtype.Capabilities

// Member types.
const (
	TypeFile     = archtype.TypeFile
	TypeDir      = archtype.TypeDir
	TypeSymlink  = archtype.TypeSymlink
	TypeHardlink = archtype.TypeHardlink
	TypeOther    = archtype.TypeOther
)

// Formats.
const (
	FormatUnknown  = archtype.FormatUnknown
	FormatZip      = archtype.FormatZip
	FormatTar      = archtype.FormatTar
	FormatTarGz    = archtype.FormatTarGz
	FormatTarBz2   = archtype.FormatTarBz2
	FormatTarXz    = archtype.FormatTarXz
	FormatTarZstd  = archtype.FormatTarZstd
	FormatTarLz4   = archtype.FormatTarLz4
	FormatRar      = archtype.FormatRar
	FormatSevenZip = archtype.FormatSevenZip
	FormatISO      = archtype.FormatISO
	FormatSquashFS = archtype.FormatSquashFS
	FormatGzip     = archtype.FormatGzip
	FormatBzip2    = archtype.FormatBzip2
	FormatXz       = archtype.FormatXz
	FormatZstd     = archtype.FormatZstd
	FormatLz4      = archtype.FormatLz4
)
