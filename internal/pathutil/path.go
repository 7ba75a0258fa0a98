// Package pathutil provides path manipulation for slash-separated archive paths.
package pathutil

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned when a member path or link target would resolve
// outside the extraction root.
var ErrUnsafePath = errors.New("path escapes destination")

// Base returns the last element of a slash-separated path.
// If path is empty or ".", it returns ".".
func Base(path string) string {
	if path == "" || path == "." {
		return "."
	}
	// Remove trailing slash if present
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// DirPrefix converts a path to its directory prefix form.
// For ".", returns "" (empty prefix matches all).
// For other paths, appends "/" to match children.
func DirPrefix(name string) string {
	if name == "." {
		return ""
	}
	return name + "/"
}

// Child extracts the immediate child name from a full path given a prefix.
// Returns the child name and whether it's a subdirectory (has more path components).
// If path doesn't have the prefix, behavior is undefined.
func Child(path, prefix string) (name string, isSubDir bool) {
	relPath := strings.TrimPrefix(path, prefix)
	if idx := strings.Index(relPath, "/"); idx >= 0 {
		return relPath[:idx], true
	}
	return relPath, false
}

// Rel cleans a member name into a relative slash path. It fails for
// absolute names and names with ".." elements that climb above the root.
// The root itself is returned as ".".
func Rel(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return clean, nil
}

// Join returns the OS path of name below root, rejecting names that would
// land outside root.
func Join(root, name string) (string, error) {
	rel, err := Rel(name)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return filepath.Clean(root), nil
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

// LinkTarget resolves a symlink target relative to the directory of the
// link member name. Absolute targets and targets leaving the root fail.
func LinkTarget(name, target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("%w: empty link target for %q", ErrUnsafePath, name)
	}
	if strings.HasPrefix(target, "/") {
		return "", fmt.Errorf("%w: %q -> %q", ErrUnsafePath, name, target)
	}
	rel, err := Rel(path.Join(path.Dir(strings.TrimSuffix(name, "/")), target))
	if err != nil {
		return "", fmt.Errorf("%w: %q -> %q", ErrUnsafePath, name, target)
	}
	return rel, nil
}
