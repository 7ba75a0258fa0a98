package testutil

import (
	"archive/tar"
	"bytes"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/containerd/stargz-snapshotter/estargz"
	"github.com/kdomanski/iso9660"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/davitf/archivey/internal/archtype"
)

// Entry describes one archive member to build.
type Entry struct {
	// Name is the member path. Directory names end in "/".
	Name    string
	Body    string
	Type    archtype.MemberType
	Link    string
	Mode    fs.FileMode
	ModTime time.Time

	// RawName, when set, replaces Name with undecoded bytes (zip only).
	RawName []byte
	// Encrypted sets the encryption flag without encrypting the body (zip only).
	Encrypted bool
}

// FixedTime is the modification time given to members without one.
var FixedTime = time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)

// Scenario returns the reference tree: a directory holding one text file
// and one empty file.
func Scenario() []Entry {
	return []Entry{
		{Name: "dir/", Type: archtype.TypeDir},
		{Name: "dir/a.txt", Body: "hello world"},
		{Name: "dir/b.bin"},
	}
}

func (e Entry) modTime() time.Time {
	if e.ModTime.IsZero() {
		return FixedTime
	}
	return e.ModTime
}

func (e Entry) mode() fs.FileMode {
	if e.Mode != 0 {
		return e.Mode
	}
	if e.Type == archtype.TypeDir {
		return 0o755
	}
	return 0o644
}

type zipConfig struct {
	comment string
	method  uint16
}

// ZipOption configures BuildZip.
type ZipOption func(*zipConfig)

// ZipComment sets the archive comment.
func ZipComment(comment string) ZipOption {
	return func(c *zipConfig) { c.comment = comment }
}

// ZipStore stores members without compression.
func ZipStore() ZipOption {
	return func(c *zipConfig) { c.method = zip.Store }
}

// BuildZip returns a zip archive containing entries, in order.
func BuildZip(tb testing.TB, entries []Entry, opts ...ZipOption) []byte {
	tb.Helper()

	cfg := zipConfig{method: zip.Deflate}
	for _, opt := range opts {
		opt(&cfg)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		fh := &zip.FileHeader{
			Name:     e.Name,
			Method:   cfg.method,
			Modified: e.modTime(),
		}
		if e.RawName != nil {
			fh.Name = string(e.RawName)
			fh.NonUTF8 = true
		}
		if e.Encrypted {
			fh.Flags |= 0x1
		}
		body := e.Body
		switch e.Type {
		case archtype.TypeDir:
			fh.Method = zip.Store
			fh.SetMode(fs.ModeDir | e.mode())
		case archtype.TypeSymlink:
			fh.SetMode(fs.ModeSymlink | 0o777)
			body = e.Link
		default:
			fh.SetMode(e.mode())
		}
		w, err := zw.CreateHeader(fh)
		if err != nil {
			tb.Fatalf("zip header %s: %v", e.Name, err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			tb.Fatalf("zip write %s: %v", e.Name, err)
		}
	}
	if cfg.comment != "" {
		if err := zw.SetComment(cfg.comment); err != nil {
			tb.Fatalf("zip comment: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// BuildTar returns a tar archive containing entries, in order.
func BuildTar(tb testing.TB, entries []Entry) []byte {
	tb.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:    e.Name,
			Mode:    int64(e.mode().Perm()),
			ModTime: e.modTime(),
			Uid:     1000,
			Gid:     1000,
			Uname:   "user",
			Gname:   "group",
		}
		switch e.Type {
		case archtype.TypeDir:
			hdr.Typeflag = tar.TypeDir
		case archtype.TypeSymlink:
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Link
		case archtype.TypeHardlink:
			hdr.Typeflag = tar.TypeLink
			hdr.Linkname = e.Link
		case archtype.TypeOther:
			hdr.Typeflag = tar.TypeFifo
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			tb.Fatalf("tar header %s: %v", e.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.WriteString(tw, e.Body); err != nil {
				tb.Fatalf("tar write %s: %v", e.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		tb.Fatalf("tar close: %v", err)
	}
	return buf.Bytes()
}

// Compress encodes data with the single-stream codec. bzip2 has no encoder
// available and skips the test.
func Compress(tb testing.TB, codec archtype.Format, data []byte) []byte {
	tb.Helper()

	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch codec {
	case archtype.FormatGzip:
		gw := gzip.NewWriter(&buf)
		gw.Name = "payload"
		gw.ModTime = FixedTime
		w = gw
	case archtype.FormatXz:
		w, err = xz.NewWriter(&buf)
	case archtype.FormatZstd:
		w, err = zstd.NewWriter(&buf)
	case archtype.FormatLz4:
		w = lz4.NewWriter(&buf)
	default:
		tb.Skipf("no encoder for %s", codec)
	}
	if err != nil {
		tb.Fatalf("%s writer: %v", codec, err)
	}
	if _, err := w.Write(data); err != nil {
		tb.Fatalf("%s write: %v", codec, err)
	}
	if err := w.Close(); err != nil {
		tb.Fatalf("%s close: %v", codec, err)
	}
	return buf.Bytes()
}

// BuildCompressedTar returns a tar archive compressed with codec.
func BuildCompressedTar(tb testing.TB, codec archtype.Format, entries []Entry) []byte {
	tb.Helper()
	return Compress(tb, codec, BuildTar(tb, entries))
}

// BuildStargz returns an eStargz blob built from a tar of entries.
func BuildStargz(tb testing.TB, entries []Entry) []byte {
	tb.Helper()

	tarData := BuildTar(tb, entries)
	sr := io.NewSectionReader(bytes.NewReader(tarData), 0, int64(len(tarData)))
	rc, err := estargz.Build(sr)
	if err != nil {
		tb.Fatalf("estargz build: %v", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		tb.Fatalf("estargz copy: %v", err)
	}
	return buf.Bytes()
}

// BuildISO returns an ISO 9660 image holding the regular files in entries.
// Directories are implied by the file paths.
func BuildISO(tb testing.TB, entries []Entry) []byte {
	tb.Helper()

	w, err := iso9660.NewWriter()
	if err != nil {
		tb.Fatalf("iso writer: %v", err)
	}
	defer func() { _ = w.Cleanup() }()

	for _, e := range entries {
		if e.Type != archtype.TypeFile {
			continue
		}
		if err := w.AddFile(strings.NewReader(e.Body), e.Name); err != nil {
			tb.Fatalf("iso add %s: %v", e.Name, err)
		}
	}

	var buf bytes.Buffer
	if err := w.WriteTo(&buf, "ARCHIVEY"); err != nil {
		tb.Fatalf("iso write: %v", err)
	}
	return buf.Bytes()
}
