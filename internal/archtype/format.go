package archtype

// Format identifies a container format.
type Format string

const (
	FormatUnknown  Format = ""
	FormatZip      Format = "zip"
	FormatTar      Format = "tar"
	FormatTarGz    Format = "tar.gz"
	FormatTarBz2   Format = "tar.bz2"
	FormatTarXz    Format = "tar.xz"
	FormatTarZstd  Format = "tar.zst"
	FormatTarLz4   Format = "tar.lz4"
	FormatRar      Format = "rar"
	FormatSevenZip Format = "7z"
	FormatISO      Format = "iso"
	FormatSquashFS Format = "squashfs"
	FormatGzip     Format = "gz"
	FormatBzip2    Format = "bz2"
	FormatXz       Format = "xz"
	FormatZstd     Format = "zst"
	FormatLz4      Format = "lz4"
)

func (f Format) String() string {
	if f == FormatUnknown {
		return "unknown"
	}
	return string(f)
}

// Codec returns the single-stream compression used by the format, or
// FormatUnknown when the format is not a compressed stream.
//
// For compressed tars the codec is the outer stream format (tar.gz -> gz).
func (f Format) Codec() Format {
	switch f {
	case FormatTarGz, FormatGzip:
		return FormatGzip
	case FormatTarBz2, FormatBzip2:
		return FormatBzip2
	case FormatTarXz, FormatXz:
		return FormatXz
	case FormatTarZstd, FormatZstd:
		return FormatZstd
	case FormatTarLz4, FormatLz4:
		return FormatLz4
	default:
		return FormatUnknown
	}
}

// IsTar reports whether the format is a plain or compressed tar.
func (f Format) IsTar() bool {
	switch f {
	case FormatTar, FormatTarGz, FormatTarBz2, FormatTarXz, FormatTarZstd, FormatTarLz4:
		return true
	}
	return false
}

// IsCompressedStream reports whether the format is a single compressed file.
func (f Format) IsCompressedStream() bool {
	switch f {
	case FormatGzip, FormatBzip2, FormatXz, FormatZstd, FormatLz4:
		return true
	}
	return false
}

// Streamable reports whether the format can be read from a non-seekable source.
func (f Format) Streamable() bool {
	return f.IsTar() || f.IsCompressedStream() || f == FormatZip || f == FormatRar
}

// TarWithCodec returns the tar format compressed by codec, or FormatUnknown.
func TarWithCodec(codec Format) Format {
	switch codec {
	case FormatUnknown:
		return FormatTar
	case FormatGzip:
		return FormatTarGz
	case FormatBzip2:
		return FormatTarBz2
	case FormatXz:
		return FormatTarXz
	case FormatZstd:
		return FormatTarZstd
	case FormatLz4:
		return FormatTarLz4
	}
	return FormatUnknown
}
