package stargzfmt

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/backend"
	"github.com/davitf/archivey/internal/testutil"
)

func TestReader_Scenario(t *testing.T) {
	t.Parallel()

	entries := append(testutil.Scenario(),
		testutil.Entry{Name: "dir/hard", Type: archtype.TypeHardlink, Link: "dir/a.txt"},
		testutil.Entry{Name: "dir/soft", Type: archtype.TypeSymlink, Link: "a.txt"},
	)
	data := testutil.BuildStargz(t, entries)
	r, err := New(bytes.NewReader(data), int64(len(data)), backend.Options{})
	require.NoError(t, err)
	defer r.Close()

	byName := map[string]*backend.Entry{}
	var names []string
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, e.Member.Filename)
		byName[e.Member.Filename] = e
	}
	assert.Equal(t, []string{"dir/", "dir/a.txt", "dir/b.bin", "dir/hard", "dir/soft"}, names)

	a := byName["dir/a.txt"]
	assert.Equal(t, archtype.TypeFile, a.Member.Type)
	assert.Equal(t, int64(11), a.Member.Size)
	assert.Equal(t, "gzip", a.Member.CompressionMethod)

	assert.Equal(t, archtype.TypeHardlink, byName["dir/hard"].Member.Type)
	assert.Equal(t, "dir/a.txt", byName["dir/hard"].Member.LinkTarget)
	assert.Equal(t, archtype.TypeSymlink, byName["dir/soft"].Member.Type)
	assert.Equal(t, "a.txt", byName["dir/soft"].Member.LinkTarget)

	for range 2 {
		rc, err := r.Open(a)
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "hello world", string(body))
	}

	info, err := r.Info()
	require.NoError(t, err)
	assert.Equal(t, archtype.FormatTarGz, info.Format)
	assert.NotEmpty(t, info.Extra["toc_digest"])
}

func TestNew_PlainTarGz(t *testing.T) {
	t.Parallel()

	data := testutil.BuildCompressedTar(t, archtype.FormatGzip, testutil.Scenario())
	_, err := New(bytes.NewReader(data), int64(len(data)), backend.Options{})
	assert.ErrorIs(t, err, archtype.ErrBackendDecode)
}

func TestVerifyingReader(t *testing.T) {
	t.Parallel()

	good := digest.FromString("hello world")
	body, err := io.ReadAll(newVerifyingReader(strings.NewReader("hello world"), good))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))

	_, err = io.ReadAll(newVerifyingReader(strings.NewReader("hello wOrld"), good))
	assert.ErrorIs(t, err, archtype.ErrChecksum)
}
