package archtype

// Capabilities describes what a backend can do. The façade consults these
// flags instead of probing backend objects.
type Capabilities struct {
	// RandomReopen is set when any enumerated member can be opened again at
	// any time. Backends without it are single-pass.
	RandomReopen bool

	// SolidDetection is set when ArchiveInfo.IsSolid is meaningful.
	SolidDetection bool

	// CRC32 is set when members carry a CRC32 checksum.
	CRC32 bool

	// CompressionMethod is set when members carry a compression method name.
	CompressionMethod bool
}

// ArchiveInfo holds archive-level metadata.
type ArchiveInfo struct {
	Format Format

	// IsSolid reports whether members share a compression stream.
	// Only meaningful when Capabilities.SolidDetection is set.
	IsSolid bool

	// Encrypted reports whether the archive or any member is encrypted.
	Encrypted bool

	Comment string
	Version string

	// Extra carries backend-specific metadata.
	Extra map[string]any
}
