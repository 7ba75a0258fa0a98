package archivey

import (
	"bytes"
	"io/fs"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davitf/archivey/internal/testutil"
	"github.com/davitf/archivey/internal/textdec"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig([]byte(`
encodings:
  zip: [utf-8, cp866]
  tar: [latin1]
block_size: 4096
tar_check_integrity: true
stargz: false
decoder:
  max_memory: 1048576
  concurrency: 2
content_cache:
  mode: disk
  dir: /var/cache/archivey
  max_bytes: 1024
extract:
  workers: 8
`))
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{"zip": {"utf-8", "cp866"}, "tar": {"latin1"}}, cfg.Encodings)
	assert.Equal(t, 4096, cfg.BlockSize)
	assert.True(t, cfg.TarCheckIntegrity)
	require.NotNil(t, cfg.Stargz)
	assert.False(t, *cfg.Stargz)
	assert.Equal(t, uint64(1<<20), cfg.Decoder.MaxMemory)
	require.NotNil(t, cfg.Decoder.Concurrency)
	assert.Equal(t, 2, *cfg.Decoder.Concurrency)
	assert.Equal(t, CacheConfig{Mode: CacheModeDisk, Dir: "/var/cache/archivey", MaxBytes: 1024}, cfg.ContentCache)
	assert.Equal(t, 8, cfg.Extract.Workers)
}

func TestLoadConfig_JSON(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig([]byte(`{"block_size": 512, "content_cache": {"mode": "none"}}`))
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.BlockSize)
	assert.Equal(t, CacheModeNone, cfg.ContentCache.Mode)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"unknown encoding", "encodings:\n  zip: [klingon]\n"},
		{"unknown family", "encodings:\n  rar: [utf-8]\n"},
		{"empty chain", "encodings:\n  zip: []\n"},
		{"negative block size", "block_size: -1\n"},
		{"unknown cache mode", "content_cache:\n  mode: tape\n"},
		{"disk without dir", "content_cache:\n  mode: disk\n"},
		{"negative concurrency", "decoder:\n  concurrency: -3\n"},
		{"not yaml", "block_size: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/etc/archivey.yaml", []byte("block_size: 1024\n"), 0o644))

	cfg, err := LoadConfigFile(fsys, "/etc/archivey.yaml")
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.BlockSize)

	_, err = LoadConfigFile(fsys, "/etc/missing.yaml")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestWithConfig_Options(t *testing.T) {
	t.Parallel()

	concurrency := 3
	off := false
	o, err := newOptions([]Option{WithConfig(Config{
		Encodings:         map[string][]string{"tar": {"cp1251"}},
		BlockSize:         2048,
		TarCheckIntegrity: true,
		Stargz:            &off,
		Decoder:           DecoderConfig{MaxMemory: 64 << 20, Concurrency: &concurrency},
		ContentCache:      CacheConfig{Mode: CacheModeNone},
		Extract:           ExtractConfig{Workers: -1},
	})})
	require.NoError(t, err)

	assert.Equal(t, textdec.Chain{"cp1251"}, o.encodings[FormatTar])
	assert.Equal(t, 2048, o.blockSize)
	assert.True(t, o.tarIntegrity)
	assert.False(t, o.stargz)
	assert.Equal(t, uint64(64<<20), o.maxDecoderMemory)
	assert.Equal(t, 3, o.decoderConcurrency)
	assert.Nil(t, o.cache)
	assert.Equal(t, -1, o.extractWorkers)

	// Compressed tar variants share the tar chain.
	bo := o.backendOptions(FormatTarXz, "x.tar.xz", nil)
	assert.Equal(t, textdec.Chain{"cp1251"}, bo.Encodings)
	assert.True(t, bo.TarIntegrityCheck)
	assert.Equal(t, 2048, bo.BlockSize)

	// Later options win.
	o, err = newOptions([]Option{WithConfig(Config{BlockSize: 2048}), WithBlockSize(128)})
	require.NoError(t, err)
	assert.Equal(t, 128, o.blockSize)

	_, err = newOptions([]Option{WithConfig(Config{BlockSize: -1})})
	assert.Error(t, err)
}

func TestWithConfig_Encodings(t *testing.T) {
	t.Parallel()

	raw, err := textdec.Encode("Привет.txt", "cp866")
	require.NoError(t, err)
	data := testutil.BuildZip(t, []testutil.Entry{{RawName: raw, Body: "x"}})

	cfg, err := LoadConfig([]byte("encodings:\n  zip: [utf-8, cp866]\n"))
	require.NoError(t, err)
	r, err := OpenReaderAt(bytes.NewReader(data), int64(len(data)), "legacy.zip", WithConfig(cfg))
	require.NoError(t, err)
	defer r.Close()

	members, err := r.Members()
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Привет.txt", members[0].Filename)
}

func TestWithConfig_DiskCache(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	cfg, err := LoadConfig([]byte("stargz: false\ncontent_cache:\n  mode: disk\n  dir: /cache\n"))
	require.NoError(t, err)

	data := testutil.BuildCompressedTar(t, FormatGzip, testutil.Scenario())
	r, err := OpenReaderAt(bytes.NewReader(data), int64(len(data)), "scenario.tar.gz", WithFs(fsys), WithConfig(cfg))
	require.NoError(t, err)

	members, err := r.Members()
	require.NoError(t, err)
	assert.Equal(t, 1, countFiles(t, fsys, "/cache"))

	for _, m := range members {
		if m.Filename == "dir/a.txt" {
			assert.Equal(t, "hello world", readMember(t, r, m))
		}
	}

	require.NoError(t, r.Close())
	assert.Zero(t, countFiles(t, fsys, "/cache"))
}

func TestWithStargz(t *testing.T) {
	t.Parallel()

	data := testutil.BuildStargz(t, testutil.Scenario())

	r := openBytes(t, data, "layer.tar.gz")
	assert.True(t, r.Capabilities().RandomReopen)

	r = openBytes(t, data, "layer.tar.gz", WithStargz(false))
	assert.False(t, r.Capabilities().RandomReopen)
}

func countFiles(t *testing.T, fsys afero.Fs, dir string) int {
	t.Helper()
	n := 0
	err := afero.Walk(fsys, dir, func(_ string, fi fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}
