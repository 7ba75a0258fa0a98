package batch

import (
	"io"
	"io/fs"
	"time"
)

// Entry is one file to write during batch processing.
type Entry struct {
	// Path is the slash-separated destination path below the sink root.
	Path string

	// Size is the expected content length, used for worker heuristics
	// and stats. 0 means unknown.
	Size int64

	Mode    fs.FileMode
	ModTime time.Time

	// Open returns the entry content. It may be called from any worker.
	Open func() (io.ReadCloser, error)
}

// Sink receives file content during batch processing.
//
// Implementations determine where content is written and can filter which
// entries to process.
type Sink interface {
	// ShouldProcess returns false if this entry should be skipped.
	ShouldProcess(entry *Entry) bool

	// Writer returns a writer for the entry's content.
	// The returned Committer must have Commit() called after a complete
	// write, or Discard() called on any error.
	Writer(entry *Entry) (Committer, error)
}

// Committer is a writer that can be committed or discarded.
//
// Implementations should stage writes until Commit is called. A file-based
// implementation writes to a temp file and renames it on Commit.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content available.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	Discard() error
}
