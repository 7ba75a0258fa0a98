package backend

import (
	"io/fs"
	"path"
	"strings"

	"github.com/davitf/archivey/internal/archtype"
)

// CleanName normalizes a native entry path: forward slashes, no leading
// "./" or "/", and a trailing "/" for directories. An entry for the archive
// root is named "./" ("." if it is not a directory).
func CleanName(name string, typ archtype.MemberType) string {
	name = strings.ReplaceAll(name, "\\", "/")
	for strings.HasPrefix(name, "./") {
		name = name[2:]
	}
	name = strings.TrimLeft(name, "/")
	if name == "" {
		name = "."
	}
	name = path.Clean(name)
	if typ == archtype.TypeDir {
		return name + "/"
	}
	return name
}

// TypeFromMode classifies a member from the type bits of m.
func TypeFromMode(m fs.FileMode) archtype.MemberType {
	switch {
	case m.IsDir():
		return archtype.TypeDir
	case m&fs.ModeSymlink != 0:
		return archtype.TypeSymlink
	case m.IsRegular():
		return archtype.TypeFile
	default:
		return archtype.TypeOther
	}
}
