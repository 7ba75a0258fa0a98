package detect

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/testutil"
)

func TestByName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want archtype.Format
	}{
		{"release.tar.gz", archtype.FormatTarGz},
		{"release.TGZ", archtype.FormatTarGz},
		{"dir/archive.zip", archtype.FormatZip},
		{`C:\tmp\app.jar`, archtype.FormatZip},
		{"backup.tar", archtype.FormatTar},
		{"backup.tar.zst", archtype.FormatTarZstd},
		{"backup.tar.bz2", archtype.FormatTarBz2},
		{"files.7z", archtype.FormatSevenZip},
		{"disk.iso", archtype.FormatISO},
		{"root.squashfs", archtype.FormatSquashFS},
		{"notes.txt.gz", archtype.FormatGzip},
		{"notes.txt.xz", archtype.FormatXz},
		{"comics.cbr", archtype.FormatRar},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ByName(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestByName_Unknown(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"readme.md", "noext", "archive.tar.gz.part"} {
		got, err := ByName(name)
		assert.ErrorIs(t, err, archtype.ErrFormatDetection, name)
		assert.Equal(t, archtype.FormatUnknown, got, name)
	}
}

func TestStripExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "notes.txt", StripExtension("a/b/notes.txt.gz"))
	assert.Equal(t, "data", StripExtension("data.ZST"))
	assert.Equal(t, "plain", StripExtension("plain"))
	assert.Equal(t, ".gz", StripExtension(".gz"))
}

func TestByMagic(t *testing.T) {
	t.Parallel()

	zipData := testutil.BuildZip(t, testutil.Scenario())
	tarData := testutil.BuildTar(t, testutil.Scenario())

	assert.Equal(t, archtype.FormatZip, ByMagic(zipData))
	assert.Equal(t, archtype.FormatTar, ByMagic(tarData))
	assert.Equal(t, archtype.FormatGzip, ByMagic([]byte{0x1f, 0x8b, 0x08}))
	assert.Equal(t, archtype.FormatRar, ByMagic([]byte("Rar!\x1a\x07\x01\x00")))
	assert.Equal(t, archtype.FormatSquashFS, ByMagic([]byte("hsqs....")))
	assert.Equal(t, archtype.FormatUnknown, ByMagic([]byte("plain text")))
	assert.Equal(t, archtype.FormatUnknown, ByMagic(nil))
}

func TestByMagic_V7Tar(t *testing.T) {
	t.Parallel()

	tarData := testutil.BuildTar(t, []testutil.Entry{{Name: "old.txt", Body: "x"}})
	block := bytes.Clone(tarData[:tarBlockSize])
	// Drop the ustar magic and recompute the header checksum.
	copy(block[257:265], make([]byte, 8))
	var sum int
	for i, b := range block {
		if i >= 148 && i < 156 {
			b = ' '
		}
		sum += int(b)
	}
	copy(block[148:156], []byte(octal(sum)))

	assert.Equal(t, archtype.FormatTar, ByMagic(block))

	block[0] ^= 0xff
	assert.Equal(t, archtype.FormatUnknown, ByMagic(block))
}

func octal(n int) string {
	const digits = "01234567"
	out := []byte{0, ' '}
	for i := 0; i < 6; i++ {
		out = append([]byte{digits[n%8]}, out...)
		n /= 8
	}
	return string(out)
}

func TestSniff_CompressedTar(t *testing.T) {
	t.Parallel()

	for _, codec := range []archtype.Format{
		archtype.FormatGzip,
		archtype.FormatXz,
		archtype.FormatZstd,
		archtype.FormatLz4,
	} {
		t.Run(codec.String(), func(t *testing.T) {
			t.Parallel()

			data := testutil.BuildCompressedTar(t, codec, testutil.Scenario())
			src := testutil.NewByteSource(data)

			got, err := Sniff(src, src.Size(), nil)
			require.NoError(t, err)
			assert.Equal(t, archtype.TarWithCodec(codec), got)
		})
	}
}

func TestSniff_SingleFile(t *testing.T) {
	t.Parallel()

	data := testutil.Compress(t, archtype.FormatGzip, []byte("just some text, not a tar header"))
	src := testutil.NewByteSource(data)

	got, err := Sniff(src, src.Size(), nil)
	require.NoError(t, err)
	assert.Equal(t, archtype.FormatGzip, got)
}

func TestSniff_Unknown(t *testing.T) {
	t.Parallel()

	src := testutil.NewByteSource([]byte("hello"))
	_, err := Sniff(src, src.Size(), nil)
	assert.ErrorIs(t, err, archtype.ErrFormatDetection)
}

func TestSniffStream_Replays(t *testing.T) {
	t.Parallel()

	data := testutil.BuildCompressedTar(t, archtype.FormatZstd, testutil.Scenario())

	format, r, err := SniffStream(testutil.OneShotReader{R: bytes.NewReader(data)}, nil)
	require.NoError(t, err)
	assert.Equal(t, archtype.FormatTarZstd, format)

	replayed, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, replayed)
}

func TestSniffStream_Unknown(t *testing.T) {
	t.Parallel()

	_, _, err := SniffStream(bytes.NewReader([]byte("????")), nil)
	assert.ErrorIs(t, err, archtype.ErrFormatDetection)
}
