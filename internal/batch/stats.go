package batch

import "sync/atomic"

// Stats reports what one Process call did.
type Stats struct {
	// Written counts entries committed to the sink.
	Written int
	// Skipped counts entries the sink declined.
	Skipped int
	// Bytes counts content bytes committed.
	Bytes int64
}

// tally is updated by the workers of one Process call.
type tally struct {
	written atomic.Int64
	skipped atomic.Int64
	bytes   atomic.Int64
}

func (t *tally) wrote(n int64) {
	t.written.Add(1)
	t.bytes.Add(n)
}

func (t *tally) stats() Stats {
	return Stats{
		Written: int(t.written.Load()),
		Skipped: int(t.skipped.Load()),
		Bytes:   t.bytes.Load(),
	}
}
