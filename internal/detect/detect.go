// Package detect identifies archive formats from file names and magic bytes.
package detect

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/decompress"
)

// extensions maps lowercase suffixes to formats. Longer suffixes win.
var extensions = map[string]archtype.Format{
	".zip":      archtype.FormatZip,
	".jar":      archtype.FormatZip,
	".war":      archtype.FormatZip,
	".apk":      archtype.FormatZip,
	".whl":      archtype.FormatZip,
	".epub":     archtype.FormatZip,
	".cbz":      archtype.FormatZip,
	".tar":      archtype.FormatTar,
	".tar.gz":   archtype.FormatTarGz,
	".tgz":      archtype.FormatTarGz,
	".stargz":   archtype.FormatTarGz,
	".esgz":     archtype.FormatTarGz,
	".tar.bz2":  archtype.FormatTarBz2,
	".tbz":      archtype.FormatTarBz2,
	".tbz2":     archtype.FormatTarBz2,
	".tar.xz":   archtype.FormatTarXz,
	".txz":      archtype.FormatTarXz,
	".tar.zst":  archtype.FormatTarZstd,
	".tar.zstd": archtype.FormatTarZstd,
	".tzst":     archtype.FormatTarZstd,
	".tar.lz4":  archtype.FormatTarLz4,
	".rar":      archtype.FormatRar,
	".cbr":      archtype.FormatRar,
	".7z":       archtype.FormatSevenZip,
	".iso":      archtype.FormatISO,
	".squashfs": archtype.FormatSquashFS,
	".sqsh":     archtype.FormatSquashFS,
	".sfs":      archtype.FormatSquashFS,
	".gz":       archtype.FormatGzip,
	".bz2":      archtype.FormatBzip2,
	".xz":       archtype.FormatXz,
	".zst":      archtype.FormatZstd,
	".lz4":      archtype.FormatLz4,
}

// suffixes holds the keys of extensions, longest first.
var suffixes = func() []string {
	keys := lo.Keys(extensions)
	slices.SortFunc(keys, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})
	return keys
}()

// ByName returns the format implied by the name's extension. It does no I/O.
func ByName(name string) (archtype.Format, error) {
	lower := strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))
	for _, suffix := range suffixes {
		if strings.HasSuffix(lower, suffix) {
			return extensions[suffix], nil
		}
	}
	return archtype.FormatUnknown, fmt.Errorf("%w: %q", archtype.ErrFormatDetection, name)
}

// StripExtension removes the compression suffix detected for a single-file
// stream, e.g. "notes.txt.gz" -> "notes.txt".
func StripExtension(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	lower := strings.ToLower(base)
	for _, suffix := range []string{".gz", ".bz2", ".xz", ".zst", ".lz4"} {
		if strings.HasSuffix(lower, suffix) && len(base) > len(suffix) {
			return base[:len(base)-len(suffix)]
		}
	}
	return base
}

// signature describes a magic byte pattern for format identification.
type signature struct {
	format archtype.Format
	offset int
	magic  []byte
}

// signatures lists known magic byte signatures, most specific first.
var signatures = []signature{
	{format: archtype.FormatZip, offset: 0, magic: []byte("PK\x03\x04")},
	{format: archtype.FormatZip, offset: 0, magic: []byte("PK\x05\x06")},
	{format: archtype.FormatZip, offset: 0, magic: []byte("PK\x07\x08")},
	{format: archtype.FormatRar, offset: 0, magic: []byte("Rar!\x1a\x07")},
	{format: archtype.FormatSevenZip, offset: 0, magic: []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}},
	{format: archtype.FormatXz, offset: 0, magic: []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{format: archtype.FormatGzip, offset: 0, magic: []byte{0x1f, 0x8b}},
	{format: archtype.FormatBzip2, offset: 0, magic: []byte("BZh")},
	{format: archtype.FormatLz4, offset: 0, magic: []byte{0x04, 0x22, 0x4d, 0x18}},
	{format: archtype.FormatZstd, offset: 0, magic: []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{format: archtype.FormatSquashFS, offset: 0, magic: []byte("hsqs")},
	{format: archtype.FormatTar, offset: 257, magic: []byte("ustar")},
	{format: archtype.FormatISO, offset: isoMagicOffset, magic: []byte("CD001")},
}

const (
	isoMagicOffset = 0x8001
	tarBlockSize   = 512
	streamPeekSize = 64 << 10

	// HeadSize is the number of leading bytes ByMagic needs to see every signature.
	HeadSize = isoMagicOffset + 5
)

// ByMagic returns the format whose signature matches head, or FormatUnknown.
// A compressed stream is reported as its single-file format; see Sniff for
// looking inside it.
func ByMagic(head []byte) archtype.Format {
	for _, sig := range signatures {
		end := sig.offset + len(sig.magic)
		if len(head) >= end && bytes.Equal(head[sig.offset:end], sig.magic) {
			return sig.format
		}
	}
	if isV7Tar(head) {
		return archtype.FormatTar
	}
	return archtype.FormatUnknown
}

// isV7Tar validates the header checksum of a pre-POSIX tar block.
func isV7Tar(head []byte) bool {
	if len(head) < tarBlockSize || head[0] == 0 {
		return false
	}
	field := strings.TrimRight(strings.TrimSpace(string(head[148:156])), "\x00 ")
	var want int64
	if _, err := fmt.Sscanf(field, "%o", &want); err != nil {
		return false
	}
	var sum int64
	for i, b := range head[:tarBlockSize] {
		if i >= 148 && i < 156 {
			b = ' '
		}
		sum += int64(b)
	}
	return sum == want
}

// Sniff identifies the format of a random-access source. Compressed streams
// are decoded far enough to tell a compressed tar from a single file.
func Sniff(ra io.ReaderAt, size int64, pool *decompress.Pool) (archtype.Format, error) {
	head := make([]byte, min(size, HeadSize))
	n, err := ra.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return archtype.FormatUnknown, archtype.Translate(err)
	}
	head = head[:n]
	format := ByMagic(head)
	if format.IsCompressedStream() {
		return refineCompressed(format, io.NewSectionReader(ra, 0, size), pool), nil
	}
	if format == archtype.FormatUnknown {
		return format, archtype.ErrFormatDetection
	}
	return format, nil
}

// SniffStream identifies the format of a non-seekable stream by peeking at
// its head. The returned reader replays the peeked bytes.
func SniffStream(r io.Reader, pool *decompress.Pool) (archtype.Format, io.Reader, error) {
	br := bufio.NewReaderSize(r, streamPeekSize)
	head, err := br.Peek(streamPeekSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return archtype.FormatUnknown, br, archtype.Translate(err)
	}
	format := ByMagic(head)
	if format.IsCompressedStream() {
		return refineCompressed(format, bytes.NewReader(head), pool), br, nil
	}
	if format == archtype.FormatUnknown {
		return format, br, archtype.ErrFormatDetection
	}
	return format, br, nil
}

// refineCompressed decodes the first tar block of a compressed stream and
// reports the compressed tar format when it holds a tar header.
func refineCompressed(codec archtype.Format, r io.Reader, pool *decompress.Pool) archtype.Format {
	dr, err := decompress.Open(codec, r, pool)
	if err != nil {
		return codec
	}
	defer dr.Close()

	block := make([]byte, tarBlockSize)
	if _, err := io.ReadFull(dr, block); err != nil {
		return codec
	}
	if ByMagic(block) == archtype.FormatTar {
		return archtype.TarWithCodec(codec)
	}
	return codec
}
