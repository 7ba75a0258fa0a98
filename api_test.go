package archivey

import (
	"bytes"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davitf/archivey/cache"
	"github.com/davitf/archivey/internal/testutil"
)

// contents walks r and returns the body of every file member, keyed by
// lowercased name. Directories map to "/".
func contents(t *testing.T, r *Reader) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := r.Walk(func(m *Member, content io.Reader) error {
		name := strings.ToLower(m.Filename)
		if m.IsDir() {
			out[name] = "/"
			return nil
		}
		if content == nil {
			return nil
		}
		body, err := io.ReadAll(content)
		if err != nil {
			return err
		}
		out[name] = string(body)
		return nil
	})
	require.NoError(t, err)
	return out
}

var scenarioContents = map[string]string{
	"dir/":      "/",
	"dir/a.txt": "hello world",
	"dir/b.bin": "",
}

func TestOpenReaderAt_Scenario(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		build  func(testing.TB) []byte
		format Format
		random bool
	}{
		{"scenario.zip", func(tb testing.TB) []byte { return testutil.BuildZip(tb, testutil.Scenario()) }, FormatZip, true},
		{"scenario.tar", func(tb testing.TB) []byte { return testutil.BuildTar(tb, testutil.Scenario()) }, FormatTar, true},
		{"scenario.tar.gz", func(tb testing.TB) []byte {
			return testutil.BuildCompressedTar(tb, FormatGzip, testutil.Scenario())
		}, FormatTarGz, false},
		{"scenario.tar.zst", func(tb testing.TB) []byte {
			return testutil.BuildCompressedTar(tb, FormatZstd, testutil.Scenario())
		}, FormatTarZstd, false},
		{"scenario.tar.xz", func(tb testing.TB) []byte {
			return testutil.BuildCompressedTar(tb, FormatXz, testutil.Scenario())
		}, FormatTarXz, false},
		{"scenario.tar.lz4", func(tb testing.TB) []byte {
			return testutil.BuildCompressedTar(tb, FormatLz4, testutil.Scenario())
		}, FormatTarLz4, false},
		{"scenario.esgz", func(tb testing.TB) []byte { return testutil.BuildStargz(tb, testutil.Scenario()) }, FormatTarGz, true},
		{"scenario.iso", func(tb testing.TB) []byte { return testutil.BuildISO(tb, testutil.Scenario()) }, FormatISO, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := tt.build(t)
			r, err := OpenReaderAt(bytes.NewReader(data), int64(len(data)), tt.name)
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, tt.format, r.Format())
			assert.Equal(t, tt.random, r.Capabilities().RandomReopen)
			assert.Equal(t, scenarioContents, contents(t, r))

			info, err := r.Info()
			require.NoError(t, err)
			assert.Equal(t, tt.format, info.Format)

			// Content the walk streamed is only readable again with random access.
			members, err := r.Members()
			require.NoError(t, err)
			require.Len(t, members, 3)
			for _, m := range members {
				if !strings.EqualFold(m.Filename, "dir/a.txt") {
					continue
				}
				if tt.random {
					assert.Equal(t, "hello world", readMember(t, r, m))
				} else {
					_, err := r.Open(m)
					assert.ErrorIs(t, err, ErrUnsupported)
				}
			}
		})
	}
}

func TestOpenReaderAt_SniffsWithoutName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		data   func(testing.TB) []byte
		format Format
	}{
		{"zip", func(tb testing.TB) []byte { return testutil.BuildZip(tb, testutil.Scenario()) }, FormatZip},
		{"tar", func(tb testing.TB) []byte { return testutil.BuildTar(tb, testutil.Scenario()) }, FormatTar},
		{"tar.zst", func(tb testing.TB) []byte {
			return testutil.BuildCompressedTar(tb, FormatZstd, testutil.Scenario())
		}, FormatTarZstd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := tt.data(t)
			r, err := OpenReaderAt(bytes.NewReader(data), int64(len(data)), "")
			require.NoError(t, err)
			defer r.Close()
			assert.Equal(t, tt.format, r.Format())
		})
	}
}

func TestOpenReaderAt_MisleadingCompressedName(t *testing.T) {
	t.Parallel()

	// A compressed tar named like a single compressed file.
	data := testutil.BuildCompressedTar(t, FormatGzip, testutil.Scenario())
	r, err := OpenReaderAt(bytes.NewReader(data), int64(len(data)), "backup.gz")
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, FormatTarGz, r.Format())
}

func TestOpenReaderAt_SingleFile(t *testing.T) {
	t.Parallel()

	data := testutil.Compress(t, FormatZstd, []byte("plain text payload"))
	r, err := OpenReaderAt(bytes.NewReader(data), int64(len(data)), "notes.txt.zst")
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, FormatZstd, r.Format())
	assert.Equal(t, map[string]string{"notes.txt": "plain text payload"}, contents(t, r))
}

func TestOpenReaderAt_Unknown(t *testing.T) {
	t.Parallel()

	data := []byte("definitely not an archive")
	_, err := OpenReaderAt(bytes.NewReader(data), int64(len(data)), "notes.bin")
	assert.ErrorIs(t, err, ErrFormatDetection)

	var perr *fs.PathError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "notes.bin", perr.Path)
}

func TestOpenReaderAt_InvalidOption(t *testing.T) {
	t.Parallel()

	data := testutil.BuildZip(t, testutil.Scenario())
	_, err := OpenReaderAt(bytes.NewReader(data), int64(len(data)), "a.zip", WithEncodings(FormatZip, "klingon"))
	assert.Error(t, err)
}

func TestOpen_Fs(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	data := testutil.BuildZip(t, testutil.Scenario())
	require.NoError(t, afero.WriteFile(fsys, "/in/scenario.zip", data, 0o644))

	r, err := Open("/in/scenario.zip", WithFs(fsys))
	require.NoError(t, err)
	assert.Equal(t, "/in/scenario.zip", r.Name())
	assert.Equal(t, scenarioContents, contents(t, r))
	require.NoError(t, r.Close())

	_, err = Open("/in", WithFs(fsys))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Open("/in/missing.zip", WithFs(fsys))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOpenStream(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		data   func(testing.TB) []byte
		format Format
	}{
		{"", func(tb testing.TB) []byte { return testutil.BuildTar(tb, testutil.Scenario()) }, FormatTar},
		{"", func(tb testing.TB) []byte {
			return testutil.BuildCompressedTar(tb, FormatGzip, testutil.Scenario())
		}, FormatTarGz},
		{"upload.tar.xz", func(tb testing.TB) []byte {
			return testutil.BuildCompressedTar(tb, FormatXz, testutil.Scenario())
		}, FormatTarXz},
		{"upload.zip", func(tb testing.TB) []byte { return testutil.BuildZip(tb, testutil.Scenario()) }, FormatZip},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			t.Parallel()

			src := testutil.OneShotReader{R: bytes.NewReader(tt.data(t))}
			r, err := OpenStream(src, tt.name)
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, tt.format, r.Format())
			assert.False(t, r.Capabilities().RandomReopen)
			assert.Equal(t, scenarioContents, contents(t, r))

			a, err := r.Member("dir/a.txt")
			require.NoError(t, err)
			_, err = r.Open(a)
			assert.ErrorIs(t, err, ErrUnsupported, "walked content is not cached")
		})
	}
}

func TestOpenStream_WalkLeavesCacheEmpty(t *testing.T) {
	t.Parallel()

	mem := cache.NewMemory(0)
	data := testutil.BuildCompressedTar(t, FormatGzip, []testutil.Entry{
		{Name: "read.txt", Body: "streamed once"},
		{Name: "skipped.txt", Body: "left for later"},
		{Name: "partial.txt", Body: "half read"},
	})
	r, err := OpenStream(bytes.NewReader(data), "mixed.tar.gz", WithContentCache(mem))
	require.NoError(t, err)
	defer r.Close()

	err = r.Walk(func(m *Member, content io.Reader) error {
		switch m.Filename {
		case "read.txt":
			body, err := io.ReadAll(content)
			assert.Equal(t, "streamed once", string(body))
			return err
		case "partial.txt":
			_, err := io.ReadFull(content, make([]byte, 4))
			return err
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len("left for later")), mem.Size())

	skipped, err := r.Member("skipped.txt")
	require.NoError(t, err)
	assert.Equal(t, "left for later", readMember(t, r, skipped))
	for _, name := range []string{"read.txt", "partial.txt"} {
		_, err = r.OpenName(name)
		assert.ErrorIs(t, err, ErrUnsupported, name)
	}
}

func TestOpenStream_SingleFile(t *testing.T) {
	t.Parallel()

	data := testutil.Compress(t, FormatLz4, []byte("stream payload"))
	r, err := OpenStream(bytes.NewReader(data), "events.log.lz4")
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, FormatLz4, r.Format())
	assert.Equal(t, map[string]string{"events.log": "stream payload"}, contents(t, r))
}

func TestOpenStream_NeedsRandomAccess(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"x.7z", "x.iso", "x.squashfs"} {
		_, err := OpenStream(strings.NewReader("irrelevant"), name)
		assert.ErrorIs(t, err, ErrUnsupported, name)
	}

	_, err := OpenStream(strings.NewReader("irrelevant"), "")
	assert.ErrorIs(t, err, ErrFormatDetection)
}

func TestOpenCompressedStream(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	payload := []byte("line one\nline two\n")
	tarData := testutil.BuildTar(t, testutil.Scenario())
	require.NoError(t, afero.WriteFile(fsys, "/logs/app.log.gz", testutil.Compress(t, FormatGzip, payload), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/logs/bundle.tar.zst", testutil.Compress(t, FormatZstd, tarData), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/logs/misnamed", testutil.Compress(t, FormatXz, payload), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/logs/plain.zip", testutil.BuildZip(t, testutil.Scenario()), 0o644))

	read := func(path string) ([]byte, error) {
		rc, err := OpenCompressedStream(path, WithFs(fsys))
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	got, err := read("/logs/app.log.gz")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	got, err = read("/logs/bundle.tar.zst")
	require.NoError(t, err)
	assert.Equal(t, tarData, got, "compressed tars are not unpacked")

	got, err = read("/logs/misnamed")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = read("/logs/plain.zip")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestNewCompressedReader(t *testing.T) {
	t.Parallel()

	payload := []byte(strings.Repeat("archivey ", 100))
	for _, format := range []Format{FormatGzip, FormatXz, FormatZstd, FormatLz4, FormatTarZstd} {
		data := testutil.Compress(t, format.Codec(), payload)
		rc, err := NewCompressedReader(bytes.NewReader(data), format)
		require.NoError(t, err, format)
		got, err := io.ReadAll(rc)
		require.NoError(t, err, format)
		require.NoError(t, rc.Close())
		assert.Equal(t, payload, got, format)
	}

	_, err := NewCompressedReader(strings.NewReader(""), FormatZip)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want Format
	}{
		{"release.tar.gz", FormatTarGz},
		{"RELEASE.TGZ", FormatTarGz},
		{"bundle.zip", FormatZip},
		{"disk.iso", FormatISO},
		{"notes.txt.zst", FormatZstd},
		{"dir/archive.7z", FormatSevenZip},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := DetectFormat("notes.txt")
	assert.ErrorIs(t, err, ErrFormatDetection)
}
