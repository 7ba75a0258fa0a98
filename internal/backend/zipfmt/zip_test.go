package zipfmt

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/backend"
	"github.com/davitf/archivey/internal/stream"
	"github.com/davitf/archivey/internal/testutil"
	"github.com/davitf/archivey/internal/textdec"
)

func openZip(t *testing.T, data []byte, opts backend.Options) *Reader {
	t.Helper()
	r, err := New(bytes.NewReader(data), int64(len(data)), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func entries(t *testing.T, b backend.Backend) []*backend.Entry {
	t.Helper()
	var out []*backend.Entry
	for {
		e, err := b.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, e)
	}
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	return string(data)
}

func openRead(t *testing.T, r *Reader, e *backend.Entry) string {
	t.Helper()
	rc, err := r.Open(e)
	require.NoError(t, err)
	return readAll(t, rc)
}

func TestReader_Scenario(t *testing.T) {
	t.Parallel()

	r := openZip(t, testutil.BuildZip(t, testutil.Scenario()), backend.Options{})
	got := entries(t, r)
	require.Len(t, got, 3)

	assert.Equal(t, "dir/", got[0].Member.Filename)
	assert.Equal(t, archtype.TypeDir, got[0].Member.Type)
	assert.Equal(t, "dir/a.txt", got[1].Member.Filename)
	assert.Equal(t, archtype.TypeFile, got[1].Member.Type)
	assert.Equal(t, int64(11), got[1].Member.Size)
	assert.True(t, got[1].Member.HasCRC32)
	assert.Equal(t, "deflate", got[1].Member.CompressionMethod)
	assert.True(t, got[1].Member.ModTime.Equal(testutil.FixedTime))
	assert.Equal(t, "dir/b.bin", got[2].Member.Filename)
	assert.Equal(t, int64(0), got[2].Member.Size)

	assert.Equal(t, "hello world", openRead(t, r, got[1]))
	// Random reopen.
	assert.Equal(t, "hello world", openRead(t, r, got[1]))
	assert.Equal(t, "", openRead(t, r, got[2]))

	info, err := r.Info()
	require.NoError(t, err)
	assert.False(t, info.IsSolid)
	assert.Equal(t, archtype.FormatZip, info.Format)
}

func TestReader_Comment(t *testing.T) {
	t.Parallel()

	r := openZip(t, testutil.BuildZip(t, testutil.Scenario(), testutil.ZipComment("release build")), backend.Options{})
	info, err := r.Info()
	require.NoError(t, err)
	assert.Equal(t, "release build", info.Comment)
}

func TestReader_LegacyNames(t *testing.T) {
	t.Parallel()

	raw, err := textdec.Encode("café.txt", "cp437")
	require.NoError(t, err)
	data := testutil.BuildZip(t, []testutil.Entry{{RawName: raw, Body: "x"}})

	got := entries(t, openZip(t, data, backend.Options{}))
	require.Len(t, got, 1)
	assert.Equal(t, "café.txt", got[0].Member.Filename)

	// A custom chain changes the result.
	got = entries(t, openZip(t, data, backend.Options{Encodings: textdec.Chain{"latin-1"}}))
	require.Len(t, got, 1)
	assert.Equal(t, "caf\u0082.txt", got[0].Member.Filename)
}

func TestReader_Symlink(t *testing.T) {
	t.Parallel()

	data := testutil.BuildZip(t, []testutil.Entry{
		{Name: "target.txt", Body: "data"},
		{Name: "link", Type: archtype.TypeSymlink, Link: "target.txt"},
	})
	got := entries(t, openZip(t, data, backend.Options{}))
	require.Len(t, got, 2)
	assert.Equal(t, archtype.TypeSymlink, got[1].Member.Type)
	assert.Equal(t, "target.txt", got[1].Member.LinkTarget)
	assert.True(t, got[1].Member.IsLink())
}

func TestReader_EncryptedSymlink(t *testing.T) {
	t.Parallel()

	data := testutil.BuildZip(t, []testutil.Entry{
		{Name: "a.txt", Body: "a"},
		{Name: "link", Type: archtype.TypeSymlink, Link: "a.txt", Encrypted: true},
		{Name: "b.txt", Body: "b"},
	})

	r := openZip(t, data, backend.Options{})
	got := entries(t, r)
	require.Len(t, got, 3)
	assert.True(t, got[1].Member.Encrypted)
	assert.Empty(t, got[1].Member.LinkTarget)
	assert.Equal(t, "b.txt", got[2].Member.Filename)

	s := NewStream(bytes.NewReader(data), backend.Options{})
	got = entries(t, s)
	require.Len(t, got, 3)
	assert.Empty(t, got[1].Member.LinkTarget)
	assert.Equal(t, "b.txt", got[2].Member.Filename)
}

func TestReader_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	data := testutil.BuildZip(t, []testutil.Entry{{Name: "a.txt", Body: "hello world"}}, testutil.ZipStore())
	i := bytes.Index(data, []byte("hello world"))
	require.Positive(t, i)
	data[i] = 'j'

	r := openZip(t, data, backend.Options{})
	got := entries(t, r)
	rc, err := r.Open(got[0])
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	assert.ErrorIs(t, err, archtype.ErrChecksum)
	assert.ErrorIs(t, err, archtype.ErrBackendDecode)
}

func TestReader_NotAZip(t *testing.T) {
	t.Parallel()

	data := []byte("definitely not a zip file")
	_, err := New(bytes.NewReader(data), int64(len(data)), backend.Options{})
	assert.ErrorIs(t, err, archtype.ErrBackendDecode)
}

func TestStreamReader_Scenario(t *testing.T) {
	t.Parallel()

	data := testutil.BuildZip(t, testutil.Scenario())
	s := NewStream(testutil.OneShotReader{R: bytes.NewReader(data)}, backend.Options{})
	assert.False(t, s.Capabilities().RandomReopen)

	var names []string
	var bodies []string
	for {
		e, err := s.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, e.Member.Filename)
		if src := s.Current(); src != nil {
			body, err := stream.NewBlockReader(src).ReadN(-1)
			require.NoError(t, err)
			bodies = append(bodies, string(body))
		}
	}
	assert.Equal(t, []string{"dir/", "dir/a.txt", "dir/b.bin"}, names)
	assert.Equal(t, []string{"hello world", ""}, bodies)
}

func TestStreamReader_SkipsUnreadContent(t *testing.T) {
	t.Parallel()

	data := testutil.BuildZip(t, []testutil.Entry{
		{Name: "one.txt", Body: "first body"},
		{Name: "two.txt", Body: "second body"},
	})
	s := NewStream(bytes.NewReader(data), backend.Options{})

	e, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "one.txt", e.Member.Filename)

	e, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "two.txt", e.Member.Filename)
	body, err := stream.NewBlockReader(s.Current()).ReadN(-1)
	require.NoError(t, err)
	assert.Equal(t, "second body", string(body))

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

// rawZip writes one stored entry with only the 32-bit sizes and DOS time set
// in its local header.
func rawZip(t *testing.T, body string, extra []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               "a.txt",
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE([]byte(body)),
		CompressedSize64:   uint64(len(body)),
		UncompressedSize64: uint64(len(body)),
		ModifiedDate:       40<<9 | 1<<5 | 2,    // 2020-01-02
		ModifiedTime:       10<<11 | 20<<5 | 15, // 10:20:30
		Extra:              extra,
	})
	require.NoError(t, err)
	_, err = io.WriteString(w, body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestStreamReader_LocalHeaderFields(t *testing.T) {
	t.Parallel()

	stamp := time.Date(2021, 6, 7, 8, 9, 10, 0, time.UTC)
	ext := binary.LittleEndian.AppendUint16(nil, extTimeID)
	ext = binary.LittleEndian.AppendUint16(ext, 5)
	ext = append(ext, 1)
	ext = binary.LittleEndian.AppendUint32(ext, uint32(stamp.Unix()))

	tests := []struct {
		name  string
		extra []byte
		want  time.Time
	}{
		{name: "dos", want: time.Date(2020, 1, 2, 10, 20, 30, 0, time.UTC)},
		{name: "extended", extra: ext, want: stamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewStream(bytes.NewReader(rawZip(t, "hello world", tt.extra)), backend.Options{})
			e, err := s.Next()
			require.NoError(t, err)
			assert.Equal(t, int64(11), e.Member.Size)
			assert.Equal(t, int64(11), e.Member.CompressedSize)
			assert.True(t, e.Member.ModTime.Equal(tt.want), "got %v", e.Member.ModTime)
			body, err := stream.NewBlockReader(s.Current()).ReadN(-1)
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(body))
		})
	}
}

func TestHeaderTime(t *testing.T) {
	t.Parallel()

	assert.True(t, headerTime(nil, 0, 0).IsZero())
	// A truncated extra field falls back to the DOS fields.
	got := headerTime([]byte{0x55, 0x54, 9, 0, 1}, 40<<9|1<<5|2, 0)
	assert.True(t, got.Equal(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestMethodName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "store", MethodName(0))
	assert.Equal(t, "deflate", MethodName(8))
	assert.Equal(t, "zstd", MethodName(93))
	assert.Equal(t, "unknown", MethodName(200))
}
