package archivey

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"slices"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/davitf/archivey/internal/batch"
	"github.com/davitf/archivey/internal/pathutil"
)

// ExtractOption configures ExtractAll and Extract.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	overwrite     bool
	preserveMode  bool
	preserveTimes bool
	workers       int
	filter        func(*Member) bool
	names         map[string]bool
}

// ExtractWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func ExtractWithOverwrite(overwrite bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = overwrite
	}
}

// ExtractWithPreserveMode applies member permission bits to extracted
// files and directories.
func ExtractWithPreserveMode(preserve bool) ExtractOption {
	return func(c *extractConfig) {
		c.preserveMode = preserve
	}
}

// ExtractWithPreserveTimes applies member modification times.
func ExtractWithPreserveTimes(preserve bool) ExtractOption {
	return func(c *extractConfig) {
		c.preserveTimes = preserve
	}
}

// ExtractWithWorkers sets the number of workers for random-access archives.
// Values < 0 force serial processing. Zero uses automatic heuristics.
// Single-pass archives are always extracted serially.
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// ExtractWithFilter restricts extraction to members for which keep
// returns true.
func ExtractWithFilter(keep func(*Member) bool) ExtractOption {
	return func(c *extractConfig) {
		c.filter = keep
	}
}

// ExtractWithMembers restricts extraction to the named members.
// Directories match with or without their trailing slash. Combined with
// ExtractWithFilter, a member must pass both.
func ExtractWithMembers(names ...string) ExtractOption {
	return func(c *extractConfig) {
		c.names = lo.Assign(c.names, lo.SliceToMap(names, func(name string) (string, bool) {
			return strings.TrimSuffix(name, "/"), true
		}))
	}
}

// ExtractStats contains statistics about an extraction.
type ExtractStats struct {
	Files     int
	Dirs      int
	Symlinks  int
	Hardlinks int

	// Skipped counts filtered members, existing files kept because
	// overwrite is off, and members that cannot be represented.
	Skipped int

	// Bytes is the number of content bytes written.
	Bytes int64
}

func (s *ExtractStats) addFiles(bs batch.Stats) {
	s.Files += bs.Written
	s.Skipped += bs.Skipped
	s.Bytes += bs.Bytes
}

// extraction holds the state of one ExtractAll call.
type extraction struct {
	r     *Reader
	cfg   extractConfig
	sink  *batch.FileSink
	proc  *batch.Processor
	stats ExtractStats
	dirs  []*Member
	links []*Member
}

func (r *Reader) newExtraction(dest string, opts []ExtractOption) (*extraction, error) {
	cfg := extractConfig{workers: r.opts.extractWorkers}
	for _, opt := range opts {
		opt(&cfg)
	}
	x := &extraction{
		r:   r,
		cfg: cfg,
		sink: batch.NewFileSink(r.opts.fs, dest,
			batch.WithOverwrite(cfg.overwrite),
			batch.WithPreserveMode(cfg.preserveMode),
			batch.WithPreserveTimes(cfg.preserveTimes),
		),
	}
	if err := r.opts.fs.MkdirAll(dest, 0o750); err != nil {
		return nil, pathErr("extract", dest, err)
	}
	return x, nil
}

// Extract writes the single member m below dest and returns the path it
// was written to, or "" when the member was skipped: an existing file kept
// because overwrite is off, or a link that could not be created. A
// hardlink is written as a copy of its target. On single-pass readers m
// must still be openable, see Reader.Open. Filtering options are ignored.
func (r *Reader) Extract(ctx context.Context, m *Member, dest string, opts ...ExtractOption) (string, error) {
	if m == nil {
		return "", pathErr("extract", "", ErrMemberNotFound)
	}
	x, err := r.newExtraction(dest, opts)
	if err != nil {
		return "", err
	}
	x.proc = batch.NewProcessor(batch.WithWorkers(-1), batch.WithLogger(r.log))
	target, err := x.sink.Path(m.Filename)
	if err != nil {
		return "", pathErr("extract", m.Filename, err)
	}

	if !m.IsFile() && !m.IsDir() && !m.IsLink() {
		return "", pathErr("extract", m.Filename, fmt.Errorf("%w: not a regular file", ErrUnsupported))
	}
	isFile, err := x.visit(m)
	if err == nil && isFile {
		e := x.entry(m, func() (io.ReadCloser, error) { return r.Open(m) })
		var stats batch.Stats
		stats, err = x.proc.Process(ctx, []*batch.Entry{e}, x.sink)
		x.stats.addFiles(stats)
	}
	if err == nil {
		err = x.finish(ctx)
	}
	if err != nil {
		return "", pathErr("extract", m.Filename, err)
	}
	if x.stats.Skipped > 0 {
		return "", nil
	}
	return target, nil
}

// ExtractAll writes the members below dest on the configured filesystem.
//
// Member paths that would land outside dest are rejected. Symlinks are
// created when the filesystem supports them and their target stays inside
// dest; hardlinks are written as copies of their target. Random-access
// archives are extracted on a worker pool; single-pass archives are
// streamed in order.
func (r *Reader) ExtractAll(ctx context.Context, dest string, opts ...ExtractOption) (ExtractStats, error) {
	x, err := r.newExtraction(dest, opts)
	if err != nil {
		return ExtractStats{}, err
	}

	if r.ra != nil {
		x.proc = batch.NewProcessor(batch.WithWorkers(x.cfg.workers), batch.WithLogger(r.log))
		err = x.random(ctx)
	} else {
		x.proc = batch.NewProcessor(batch.WithWorkers(-1), batch.WithLogger(r.log))
		err = x.sequential(ctx)
	}
	if err == nil {
		err = x.finish(ctx)
	}
	if err != nil {
		return x.stats, pathErr("extract", dest, err)
	}
	r.log.Debug("extracted",
		zap.String("dest", dest),
		zap.Int("files", x.stats.Files),
		zap.Int64("bytes", x.stats.Bytes))
	return x.stats, nil
}

func (x *extraction) keep(m *Member) bool {
	if x.cfg.names != nil && !x.cfg.names[strings.TrimSuffix(m.Filename, "/")] {
		x.stats.Skipped++
		return false
	}
	if x.cfg.filter != nil && !x.cfg.filter(m) {
		x.stats.Skipped++
		return false
	}
	return true
}

func (x *extraction) entry(m *Member, open func() (io.ReadCloser, error)) *batch.Entry {
	return &batch.Entry{
		Path:    m.Filename,
		Size:    m.Size,
		Mode:    m.Mode,
		ModTime: m.ModTime,
		Open:    open,
	}
}

// visit handles every member type except files. It reports whether the
// member was a file.
func (x *extraction) visit(m *Member) (bool, error) {
	switch m.Type {
	case TypeFile:
		return true, nil
	case TypeDir:
		if err := x.sink.Mkdir(m.Filename, m.Mode, m.ModTime); err != nil {
			return false, err
		}
		x.dirs = append(x.dirs, m)
		x.stats.Dirs++
	case TypeSymlink, TypeHardlink:
		// Links go last so no file is ever written through one.
		x.links = append(x.links, m)
	default:
		x.r.log.Debug("member not extractable", zap.String("member", m.Filename), zap.Stringer("type", m.Type))
		x.stats.Skipped++
	}
	return false, nil
}

func (x *extraction) random(ctx context.Context) error {
	members, err := x.r.Members()
	if err != nil {
		return err
	}
	var files []*batch.Entry
	for _, m := range members {
		if !x.keep(m) {
			continue
		}
		if !m.IsFile() && !m.IsDir() && !m.IsLink() {
			return pathErr("extract", m.Filename, fmt.Errorf("%w: not a regular file", ErrUnsupported))
		}
		isFile, err := x.visit(m)
		if err != nil {
			return err
		}
		if isFile {
			files = append(files, x.entry(m, func() (io.ReadCloser, error) { return x.r.Open(m) }))
		}
	}
	stats, err := x.proc.Process(ctx, files, x.sink)
	x.stats.addFiles(stats)
	return err
}

func (x *extraction) sequential(ctx context.Context) error {
	return x.r.Walk(func(m *Member, content io.Reader) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !x.keep(m) {
			return nil
		}
		if !m.IsFile() && !m.IsDir() && !m.IsLink() {
			return pathErr("extract", m.Filename, fmt.Errorf("%w: not a regular file", ErrUnsupported))
		}
		isFile, err := x.visit(m)
		if err != nil || !isFile {
			return err
		}
		e := x.entry(m, func() (io.ReadCloser, error) { return io.NopCloser(content), nil })
		stats, err := x.proc.Process(ctx, []*batch.Entry{e}, x.sink)
		x.stats.addFiles(stats)
		return err
	})
}

// finish creates links and restores directory times, which writing into
// the directories changed.
func (x *extraction) finish(ctx context.Context) error {
	for _, m := range x.links {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		if m.Type == TypeHardlink {
			err = x.hardlink(ctx, m)
		} else {
			err = x.symlink(m)
		}
		if err != nil {
			return err
		}
	}
	for _, m := range slices.Backward(x.dirs) {
		if err := x.sink.Chtimes(m.Filename, m.ModTime); err != nil {
			return err
		}
	}
	return nil
}

func (x *extraction) symlink(m *Member) error {
	err := x.sink.Symlink(m.Filename, m.LinkTarget)
	switch {
	case err == nil:
		x.stats.Symlinks++
		return nil
	case errors.Is(err, batch.ErrNoSymlinks), errors.Is(err, pathutil.ErrUnsafePath):
		x.r.log.Warn("symlink skipped",
			zap.String("member", m.Filename),
			zap.String("target", m.LinkTarget),
			zap.Error(err))
		x.stats.Skipped++
		return nil
	default:
		return err
	}
}

// hardlink copies the already extracted target, or reads the target from
// the archive when it was not extracted.
func (x *extraction) hardlink(ctx context.Context, m *Member) error {
	target, err := x.r.ResolveLink(m)
	if err != nil || !target.IsFile() {
		x.r.log.Warn("hardlink skipped", zap.String("member", m.Filename), zap.String("target", m.LinkTarget))
		x.stats.Skipped++
		return nil
	}
	fsys := x.r.opts.fs
	open := func() (io.ReadCloser, error) { return x.r.Open(target) }
	if p, err := x.sink.Path(target.Filename); err == nil {
		if fi, err := fsys.Stat(p); err == nil && fi.Mode().IsRegular() {
			open = func() (io.ReadCloser, error) { return fsys.Open(p) }
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	e := x.entry(m, open)
	e.Size, e.Mode, e.ModTime = target.Size, target.Mode, target.ModTime
	stats, err := x.proc.Process(ctx, []*batch.Entry{e}, x.sink)
	x.stats.Skipped += stats.Skipped
	x.stats.Bytes += stats.Bytes
	x.stats.Hardlinks += stats.Written
	return err
}
