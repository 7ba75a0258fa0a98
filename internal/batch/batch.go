// Package batch writes many archive members to a sink, in parallel when the
// source can serve independent readers.
package batch

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davitf/archivey/internal/archtype"
	"github.com/davitf/archivey/internal/stream"
)

const (
	// parallelMinAvgBytes is the minimum average entry size to use parallel processing.
	// Below this threshold, serial processing is more efficient due to reduced overhead.
	parallelMinAvgBytes = 64 << 10 // 64KB
)

// Processor copies entry content into a sink.
type Processor struct {
	workers int // 0 = auto, <0 = serial, >0 = fixed count
	log     *zap.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of workers for parallel processing.
// Values < 0 force serial processing. Zero uses automatic heuristics.
// Values > 0 force a specific worker count.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithLogger sets the logger for per-entry debug events.
func WithLogger(log *zap.Logger) ProcessorOption {
	return func(p *Processor) {
		p.log = log
	}
}

// NewProcessor creates a new batch processor.
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{log: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p
}

// Process writes entries to the sink.
//
// Entries are filtered through sink.ShouldProcess and copied on a bounded
// worker pool. Processing stops on the first error encountered or when ctx
// is cancelled; entries already committed stay in place.
func (p *Processor) Process(ctx context.Context, entries []*Entry, sink Sink) (Stats, error) {
	var t tally
	toProcess := make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		if sink.ShouldProcess(entry) {
			toProcess = append(toProcess, entry)
		} else {
			t.skipped.Add(1)
		}
	}
	if len(toProcess) == 0 {
		return t.stats(), nil
	}

	workers := p.workerCount(toProcess)
	if workers < 2 {
		for _, entry := range toProcess {
			n, err := p.processEntry(ctx, entry, sink)
			if err != nil {
				return t.stats(), err
			}
			t.wrote(n)
		}
		return t.stats(), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, entry := range toProcess {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			n, err := p.processEntry(gctx, entry, sink)
			if err != nil {
				return err
			}
			t.wrote(n)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return t.stats(), err
}

// processEntry copies a single entry into the sink.
func (p *Processor) processEntry(ctx context.Context, entry *Entry, sink Sink) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rc, err := entry.Open()
	if err != nil {
		return 0, fmt.Errorf("batch: %s: %w", entry.Path, err)
	}
	defer rc.Close()

	w, err := sink.Writer(entry)
	if err != nil {
		return 0, fmt.Errorf("batch: %s: %w", entry.Path, err)
	}

	n, err := copySized(w, &ctxReader{ctx: ctx, r: rc}, entry.Size)
	if err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return 0, fmt.Errorf("batch: %s: %w", entry.Path, err)
	}
	if err := w.Commit(); err != nil {
		return 0, fmt.Errorf("batch: %s: commit: %w", entry.Path, err)
	}
	p.log.Debug("entry written", zap.String("member", entry.Path), zap.Int64("bytes", n))
	return n, nil
}

// copySized copies src into w. When size is known, content shorter than
// size fails with archtype.ErrTruncated and content longer than size with
// stream.ErrOverflow.
func copySized(w io.Writer, src io.Reader, size int64) (int64, error) {
	if size <= 0 {
		return io.Copy(w, src)
	}
	cr := &stream.CountingReader{R: io.LimitReader(src, size)}
	if _, err := io.Copy(w, cr); err != nil {
		return cr.N, err
	}
	if cr.N < size {
		return cr.N, fmt.Errorf("%w: got %d of %d bytes", archtype.ErrTruncated, cr.N, size)
	}
	if err := stream.EnsureNoExtra(src); err != nil {
		return cr.N, fmt.Errorf("content exceeds declared size %d: %w", size, err)
	}
	return cr.N, nil
}

// workerCount determines the number of workers to use for processing.
func (p *Processor) workerCount(entries []*Entry) int {
	if len(entries) < 2 {
		return 1
	}
	if p.workers < 0 {
		return 1
	}

	workers := p.workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
		if workers < 2 {
			return 1
		}
		// Use size-based heuristic: only parallelize for larger entries
		var total int64
		for _, entry := range entries {
			total += max(entry.Size, 0)
		}
		if total/int64(len(entries)) < parallelMinAvgBytes {
			return 1
		}
	}

	if workers > len(entries) {
		workers = len(entries)
	}
	if workers < 2 {
		return 1
	}
	return workers
}

// ctxReader stops a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
