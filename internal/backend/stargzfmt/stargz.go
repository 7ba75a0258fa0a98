// Package stargzfmt reads eStargz blobs: gzip tars that carry a table of
// contents, so every file can be opened without decompressing the rest.
package stargzfmt

import (
	"io"
	"path"
	"slices"

	"github.com/containerd/stargz-snapshotter/estargz"
	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/backend"
)

// skipped names are bookkeeping entries written by the eStargz builder.
var skipped = map[string]bool{
	estargz.TOCTarName:         true,
	estargz.PrefetchLandmark:   true,
	estargz.NoPrefetchLandmark: true,
}

type item struct {
	name string
	ent  *estargz.TOCEntry
}

// Reader is the eStargz backend.
type Reader struct {
	r   *estargz.Reader
	log *zap.Logger

	items []item
	next  int
}

var _ backend.RandomAccess = (*Reader)(nil)

// New opens the eStargz blob in ra. It fails for gzip tars without a TOC
// footer; callers fall back to the streaming tar backend.
func New(ra io.ReaderAt, size int64, opts backend.Options) (*Reader, error) {
	r, err := estargz.Open(io.NewSectionReader(ra, 0, size))
	if err != nil {
		return nil, archtype.Translate(err)
	}
	root, ok := r.Lookup("")
	if !ok {
		return nil, archtype.ErrBackendDecode
	}

	s := &Reader{r: r, log: opts.Log()}
	s.walk("", root)
	s.log.Debug("estargz toc read", zap.Int("entries", len(s.items)), zap.Stringer("toc", r.TOCDigest()))
	return s, nil
}

// walk lists the children of dir depth first, in name order.
func (s *Reader) walk(dir string, ent *estargz.TOCEntry) {
	var names []string
	children := map[string]*estargz.TOCEntry{}
	ent.ForeachChild(func(base string, child *estargz.TOCEntry) bool {
		names = append(names, base)
		children[base] = child
		return true
	})
	slices.Sort(names)
	for _, base := range names {
		name := path.Join(dir, base)
		if dir == "" && skipped[base] {
			continue
		}
		child := children[base]
		s.items = append(s.items, item{name: name, ent: child})
		if child.Type == "dir" && child.Name == name {
			s.walk(name, child)
		}
	}
}

// Format implements backend.Backend.
func (s *Reader) Format() archtype.Format { return archtype.FormatTarGz }

// Capabilities implements backend.Backend.
func (s *Reader) Capabilities() archtype.Capabilities {
	return archtype.Capabilities{
		RandomReopen:      true,
		SolidDetection:    true,
		CompressionMethod: true,
	}
}

// Info implements backend.Backend.
func (s *Reader) Info() (*archtype.ArchiveInfo, error) {
	return &archtype.ArchiveInfo{
		Format: archtype.FormatTarGz,
		Extra: map[string]any{
			"estargz":    true,
			"toc_digest": s.r.TOCDigest().String(),
		},
	}, nil
}

// Next implements backend.Backend.
func (s *Reader) Next() (*backend.Entry, error) {
	if s.next >= len(s.items) {
		return nil, io.EOF
	}
	it := s.items[s.next]
	s.next++
	return &backend.Entry{Member: translate(it), Handle: it}, nil
}

func translate(it item) *archtype.Member {
	ent := it.ent
	info := ent.Stat()
	m := &archtype.Member{
		ModTime:           ent.ModTime(),
		Mode:              info.Mode().Perm(),
		CompressionMethod: "gzip",
		Extra: map[string]any{
			"uid":   ent.UID,
			"gid":   ent.GID,
			"uname": ent.Uname,
			"gname": ent.Gname,
		},
	}
	switch {
	// A hardlink is listed as its source entry under another name.
	case ent.Name != it.name && ent.Type != "dir":
		m.Type = archtype.TypeHardlink
		m.LinkTarget = ent.Name
	case ent.Type == "dir":
		m.Type = archtype.TypeDir
	case ent.Type == "symlink":
		m.Type = archtype.TypeSymlink
		m.LinkTarget = ent.LinkName
	case ent.Type == "reg":
		m.Type = archtype.TypeFile
		m.Size = ent.Size
		if ent.Digest != "" {
			m.Extra["digest"] = ent.Digest
		}
	default:
		m.Type = archtype.TypeOther
	}
	m.Filename = backend.CleanName(it.name, m.Type)
	return m
}

// Open implements backend.RandomAccess. File content is checked against
// the digest recorded in the TOC.
func (s *Reader) Open(e *backend.Entry) (io.ReadCloser, error) {
	it, ok := e.Handle.(item)
	if !ok {
		return nil, archtype.ErrMemberNotFound
	}
	sr, err := s.r.OpenFile(it.ent.Name)
	if err != nil {
		return nil, archtype.Translate(err)
	}
	if it.ent.Digest == "" || it.ent.Size == 0 {
		return backend.NopReadCloser(sr), nil
	}
	d, err := digest.Parse(it.ent.Digest)
	if err != nil {
		return nil, archtype.Translate(err)
	}
	return backend.NopReadCloser(newVerifyingReader(sr, d)), nil
}

// Close implements backend.Backend. The source is owned by the caller.
func (s *Reader) Close() error {
	s.items = nil
	return nil
}

// verifyingReader feeds content through a digest verifier and fails at EOF
// when the content does not match.
type verifyingReader struct {
	r   io.Reader
	v   digest.Verifier
	err error
}

func newVerifyingReader(r io.Reader, d digest.Digest) *verifyingReader {
	v := d.Verifier()
	return &verifyingReader{r: io.TeeReader(r, v), v: v}
}

func (vr *verifyingReader) Read(p []byte) (int, error) {
	if vr.err != nil {
		return 0, vr.err
	}
	n, err := vr.r.Read(p)
	if err == io.EOF && !vr.v.Verified() {
		vr.err = archtype.ErrChecksum
		return n, vr.err
	}
	return n, err
}
