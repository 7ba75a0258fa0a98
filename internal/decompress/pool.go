package decompress

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const defaultIdleDecoders = 2

// Pool hands out zstd decoders for the members of one archive. Released
// decoders are kept on a bounded idle list; decoders that do not fit are
// closed so their goroutines exit. A nil *Pool allocates a fresh decoder
// on every Get.
type Pool struct {
	dopts []zstd.DOption
	idle  chan *zstd.Decoder

	mu     sync.Mutex
	closed bool
}

type poolConfig struct {
	concurrency int
	lowmem      bool
	idle        int
}

// PoolOption configures a Pool.
type PoolOption func(*poolConfig)

// WithDecoderConcurrency sets the goroutines each decoder may use. Zero
// means GOMAXPROCS; negative values are treated as zero.
func WithDecoderConcurrency(n int) PoolOption {
	return func(c *poolConfig) {
		c.concurrency = max(n, 0)
	}
}

// WithDecoderLowmem trades speed for smaller decoder buffers.
func WithDecoderLowmem(lowmem bool) PoolOption {
	return func(c *poolConfig) {
		c.lowmem = lowmem
	}
}

// WithIdleDecoders sets how many released decoders are kept for reuse.
func WithIdleDecoders(n int) PoolOption {
	return func(c *poolConfig) {
		c.idle = max(n, 0)
	}
}

// NewPool returns a pool whose decoders refuse frames needing more than
// maxMemory bytes of window (0 keeps the library default). Decoders are
// single-goroutine unless WithDecoderConcurrency says otherwise.
func NewPool(maxMemory uint64, opts ...PoolOption) *Pool {
	cfg := poolConfig{concurrency: 1, idle: defaultIdleDecoders}
	for _, opt := range opts {
		opt(&cfg)
	}
	p := &Pool{
		dopts: []zstd.DOption{
			zstd.WithDecoderConcurrency(cfg.concurrency),
			zstd.WithDecoderLowmem(cfg.lowmem),
		},
		idle: make(chan *zstd.Decoder, cfg.idle),
	}
	if maxMemory > 0 {
		p.dopts = append(p.dopts, zstd.WithDecoderMaxMemory(maxMemory))
	}
	return p
}

// Get returns a decoder reading from r and the function that gives it
// back. The release function must be called exactly once.
func (p *Pool) Get(r io.Reader) (*zstd.Decoder, func(), error) {
	if p == nil {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	}
	if dec := p.takeIdle(r); dec != nil {
		return dec, func() { p.put(dec) }, nil
	}
	dec, err := zstd.NewReader(r, p.dopts...)
	if err != nil {
		return nil, nil, err
	}
	return dec, func() { p.put(dec) }, nil
}

// takeIdle returns an idle decoder reset onto r, or nil.
func (p *Pool) takeIdle(r io.Reader) *zstd.Decoder {
	for {
		select {
		case dec := <-p.idle:
			if err := dec.Reset(r); err == nil {
				return dec
			}
			dec.Close()
		default:
			return nil
		}
	}
}

func (p *Pool) put(dec *zstd.Decoder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || dec.Reset(nil) != nil {
		dec.Close()
		return
	}
	select {
	case p.idle <- dec:
	default:
		dec.Close()
	}
}

// Idle reports how many decoders wait for reuse.
func (p *Pool) Idle() int {
	if p == nil {
		return 0
	}
	return len(p.idle)
}

// Close closes the idle decoders. Decoders released later are closed
// instead of kept.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for {
		select {
		case dec := <-p.idle:
			dec.Close()
		default:
			return
		}
	}
}
