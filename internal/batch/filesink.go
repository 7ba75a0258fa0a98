package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/davitf/archivey/internal/pathutil"
)

// ErrNoSymlinks is returned by Symlink when the filesystem cannot create links.
var ErrNoSymlinks = errors.New("filesystem does not support symlinks")

// FileSink writes entries below a root directory with atomic writes.
//
// Files are written to a temporary file in the same directory,
// then renamed to the final path on Commit. This ensures that
// partially written files are never visible at the final path.
// Entry paths that would resolve outside the root are rejected.
type FileSink struct {
	fs            afero.Fs
	destDir       string
	overwrite     bool
	preserveMode  bool
	preserveTimes bool
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// WithPreserveMode preserves file permission modes from the archive.
// By default, modes are not preserved (files use umask defaults).
func WithPreserveMode(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveMode = preserve
	}
}

// WithPreserveTimes preserves file modification times from the archive.
// By default, times are not preserved (files use current time).
func WithPreserveTimes(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveTimes = preserve
	}
}

// NewFileSink creates a FileSink that writes to destDir on fsys.
//
// Parent directories are created automatically as needed.
func NewFileSink(fsys afero.Fs, destDir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{
		fs:      fsys,
		destDir: destDir,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the destination path of a slash-separated entry name.
func (s *FileSink) Path(name string) (string, error) {
	return pathutil.Join(s.destDir, name)
}

// ShouldProcess returns false if the file already exists and overwrite is disabled.
// Unsafe paths are let through so Writer reports them.
func (s *FileSink) ShouldProcess(entry *Entry) bool {
	if s.overwrite {
		return true
	}
	destPath, err := s.Path(entry.Path)
	if err != nil {
		return true
	}
	_, err = s.fs.Stat(destPath)
	return errors.Is(err, fs.ErrNotExist)
}

// Writer returns a Committer that writes to a temp file and renames on Commit.
func (s *FileSink) Writer(entry *Entry) (Committer, error) {
	destPath, err := s.Path(entry.Path)
	if err != nil {
		return nil, err
	}

	// Create parent directories
	dir := filepath.Dir(destPath)
	if err := s.fs.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	// Create temp file in same directory (for atomic rename)
	tempFile, err := afero.TempFile(s.fs, dir, ".archivey-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &fileCommitter{
		entry:    entry,
		destPath: destPath,
		tempFile: tempFile,
		sink:     s,
	}, nil
}

// Mkdir creates the directory for a member name, applying the configured
// metadata policy.
func (s *FileSink) Mkdir(name string, mode fs.FileMode, modTime time.Time) error {
	destPath, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(destPath, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", destPath, err)
	}
	if s.preserveMode && mode.Perm() != 0 {
		if err := s.fs.Chmod(destPath, mode.Perm()|0o700); err != nil {
			return fmt.Errorf("chmod: %w", err)
		}
	}
	return s.chtimes(destPath, modTime)
}

// Chtimes applies a directory's time after its content was written.
func (s *FileSink) Chtimes(name string, modTime time.Time) error {
	destPath, err := s.Path(name)
	if err != nil {
		return err
	}
	return s.chtimes(destPath, modTime)
}

func (s *FileSink) chtimes(destPath string, modTime time.Time) error {
	if !s.preserveTimes || modTime.IsZero() {
		return nil
	}
	if err := s.fs.Chtimes(destPath, modTime, modTime); err != nil {
		return fmt.Errorf("chtimes: %w", err)
	}
	return nil
}

// Symlink creates a symlink for a member name. The target is stored as
// given but must resolve below the root.
func (s *FileSink) Symlink(name, target string) error {
	linker, ok := s.fs.(afero.Linker)
	if !ok {
		return ErrNoSymlinks
	}
	if _, err := pathutil.LinkTarget(name, target); err != nil {
		return err
	}
	destPath, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", filepath.Dir(destPath), err)
	}
	if _, err := lstat(s.fs, destPath); err == nil {
		if !s.overwrite {
			return nil
		}
		if err := s.fs.Remove(destPath); err != nil {
			return fmt.Errorf("remove %s: %w", destPath, err)
		}
	}
	if err := linker.SymlinkIfPossible(filepath.FromSlash(target), destPath); err != nil {
		return fmt.Errorf("symlink %s: %w", destPath, err)
	}
	return nil
}

func lstat(fsys afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(name)
		return fi, err
	}
	return fsys.Stat(name)
}

// fileCommitter writes to a temp file and renames on Commit.
type fileCommitter struct {
	entry    *Entry
	destPath string
	tempFile afero.File
	sink     *FileSink
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file, applies metadata, and renames to final path.
func (c *fileCommitter) Commit() error {
	fsys := c.sink.fs
	tempPath := c.tempFile.Name()

	// Close the temp file
	if err := c.tempFile.Close(); err != nil {
		_ = fsys.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}

	// Apply file mode if requested
	if c.sink.preserveMode && c.entry.Mode.Perm() != 0 {
		if err := fsys.Chmod(tempPath, c.entry.Mode.Perm()); err != nil {
			_ = fsys.Remove(tempPath) //nolint:errcheck // best-effort cleanup
			return fmt.Errorf("chmod: %w", err)
		}
	}

	// Apply modification time if requested
	if err := c.sink.chtimes(tempPath, c.entry.ModTime); err != nil {
		_ = fsys.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return err
	}

	// Atomic rename to final path
	if err := fsys.Rename(tempPath, c.destPath); err != nil {
		_ = fsys.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", c.destPath, err)
	}

	return nil
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	tempPath := c.tempFile.Name()
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	return c.sink.fs.Remove(tempPath)
}
