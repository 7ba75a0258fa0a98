// Package tarfmt reads tar archives: plain tars over a random-access source
// through an offset index, and plain or compressed tars as a forward stream.
package tarfmt

import (
	"archive/tar"
	"io/fs"
	"strings"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/backend"
	"github.com/davitf/archivey/internal/textdec"
)

const blockSize = 512

func typeOf(hdr *tar.Header) archtype.MemberType {
	switch hdr.Typeflag {
	case tar.TypeReg, tar.TypeGNUSparse, tar.TypeCont:
		if strings.HasSuffix(hdr.Name, "/") {
			return archtype.TypeDir
		}
		return archtype.TypeFile
	case tar.TypeDir:
		return archtype.TypeDir
	case tar.TypeSymlink:
		return archtype.TypeSymlink
	case tar.TypeLink:
		return archtype.TypeHardlink
	default:
		return archtype.TypeOther
	}
}

// translateHeader maps a tar header onto a member.
func translateHeader(hdr *tar.Header, chain textdec.Chain, method string) *archtype.Member {
	typ := typeOf(hdr)
	m := &archtype.Member{
		Type:              typ,
		ModTime:           hdr.ModTime,
		Mode:              fs.FileMode(hdr.Mode).Perm(),
		CompressionMethod: method,
		Extra: map[string]any{
			"uid":      hdr.Uid,
			"gid":      hdr.Gid,
			"uname":    hdr.Uname,
			"gname":    hdr.Gname,
			"typeflag": hdr.Typeflag,
			"mode":     hdr.Mode,
			"format":   hdr.Format.String(),
		},
	}
	m.Filename = backend.CleanName(chain.Decode([]byte(hdr.Name)), typ)
	switch typ {
	case archtype.TypeFile:
		m.Size = hdr.Size
	case archtype.TypeSymlink:
		m.LinkTarget = chain.Decode([]byte(hdr.Linkname))
	case archtype.TypeHardlink:
		if hdr.Linkname != "" {
			m.LinkTarget = backend.CleanName(chain.Decode([]byte(hdr.Linkname)), archtype.TypeFile)
		}
	case archtype.TypeOther:
		m.Extra["devmajor"] = hdr.Devmajor
		m.Extra["devminor"] = hdr.Devminor
	}
	if len(hdr.PAXRecords) > 0 {
		m.Extra["pax"] = hdr.PAXRecords
	}
	return m
}

// isSparse reports whether the entry's data is not stored contiguously.
func isSparse(hdr *tar.Header) bool {
	if hdr.Typeflag == tar.TypeGNUSparse {
		return true
	}
	for key := range hdr.PAXRecords {
		if strings.HasPrefix(key, "GNU.sparse.") {
			return true
		}
	}
	return false
}
