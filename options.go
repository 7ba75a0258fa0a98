package archivey

import (
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/davitf/archivey/cache"
	"github.com/davitf/archivey/cache/disk"
	"github.com/davitf/archivey/internal/backend"
	"github.com/davitf/archivey/internal/decompress"
	"github.com/davitf/archivey/internal/textdec"
)

// Option configures how an archive is opened and read.
type Option func(*options)

type options struct {
	log       *zap.Logger
	fs        afero.Fs
	password  string
	encodings map[Format]textdec.Chain
	blockSize int
	format    Format

	cache     cache.Cache
	cacheDisk *CacheConfig

	maxDecoderMemory      uint64
	decoderConcurrency    int
	decoderConcurrencySet bool

	tarIntegrity   bool
	stargz         bool
	extractWorkers int

	// err is the first invalid option, reported by Open.
	err error
}

func newOptions(opts []Option) (*options, error) {
	o := &options{
		log:    zap.NewNop(),
		fs:     afero.NewOsFs(),
		cache:  cache.NewMemory(0),
		stargz: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.err != nil {
		return nil, o.err
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.cacheDisk != nil {
		c, err := disk.New(o.fs, o.cacheDisk.Dir, o.cacheDisk.MaxBytes)
		if err != nil {
			return nil, fmt.Errorf("content cache: %w", err)
		}
		o.cache = c
	}
	return o, nil
}

// pool returns a decoder pool configured from the options.
func (o *options) pool() *decompress.Pool {
	var popts []decompress.PoolOption
	if o.decoderConcurrencySet {
		popts = append(popts, decompress.WithDecoderConcurrency(o.decoderConcurrency))
	}
	return decompress.NewPool(o.maxDecoderMemory, popts...)
}

// backendOptions returns the settings handed to the backend for format.
func (o *options) backendOptions(format Format, name string, pool *decompress.Pool) backend.Options {
	key := format
	if format.IsTar() {
		key = FormatTar
	}
	return backend.Options{
		Logger:            o.log.With(zap.String("format", format.String())),
		Password:          o.password,
		Encodings:         o.encodings[key],
		BlockSize:         o.blockSize,
		Pool:              pool,
		Name:              name,
		TarIntegrityCheck: o.tarIntegrity,
	}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log == nil {
			o.log = zap.NewNop()
			return
		}
		o.log = log.Named("archivey")
	}
}

// WithFs sets the filesystem used by Open, ExtractAll and disk caches
// (default: the OS filesystem).
func WithFs(fsys afero.Fs) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithPassword sets the password for encrypted archives and members.
func WithPassword(password string) Option {
	return func(o *options) {
		o.password = password
	}
}

// WithEncodings sets the filename decoding chain for a format family.
// Tar variants share the FormatTar chain. Unknown encoding names make
// Open fail.
func WithEncodings(format Format, names ...string) Option {
	return func(o *options) {
		chain := textdec.Chain(names)
		if err := chain.Validate(); err != nil {
			o.setErr(err)
			return
		}
		if format.IsTar() {
			format = FormatTar
		}
		if o.encodings == nil {
			o.encodings = map[Format]textdec.Chain{}
		}
		o.encodings[format] = chain
	}
}

// WithBlockSize sets the block size used by single-pass backends.
// Zero selects the default.
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = max(n, 0)
	}
}

// WithContentCache sets the cache that keeps the content of members a
// single-pass reader moved past. A nil cache disables capture, and opening
// such members fails with ErrUnsupported.
//
// The default is an unbounded in-memory cache.
func WithContentCache(c cache.Cache) Option {
	return func(o *options) {
		o.cache = c
		o.cacheDisk = nil
	}
}

// WithMaxDecoderMemory limits the maximum memory used by the zstd decoder.
// Set limit to 0 to disable the limit.
func WithMaxDecoderMemory(limit uint64) Option {
	return func(o *options) {
		o.maxDecoderMemory = limit
	}
}

// WithDecoderConcurrency sets the zstd decoder concurrency (default: 1).
// Values < 0 are treated as 0 (use GOMAXPROCS).
func WithDecoderConcurrency(n int) Option {
	return func(o *options) {
		o.decoderConcurrency = max(n, 0)
		o.decoderConcurrencySet = true
	}
}

// WithTarIntegrityCheck makes seekable tar readers check that the archive
// ends with its two zero blocks.
func WithTarIntegrityCheck(enabled bool) Option {
	return func(o *options) {
		o.tarIntegrity = enabled
	}
}

// WithStargz controls whether gzip tars on random-access sources are first
// tried as eStargz blobs (default: true).
func WithStargz(enabled bool) Option {
	return func(o *options) {
		o.stargz = enabled
	}
}

// WithFormat skips format detection.
func WithFormat(format Format) Option {
	return func(o *options) {
		o.format = format
	}
}

// WithConfig applies a loaded Config. Options given after it override it.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		if err := validate(cfg); err != nil {
			o.setErr(err)
			return
		}
		for family, names := range cfg.Encodings {
			WithEncodings(Format(family), names...)(o)
		}
		if cfg.BlockSize > 0 {
			o.blockSize = cfg.BlockSize
		}
		o.tarIntegrity = cfg.TarCheckIntegrity
		if cfg.Stargz != nil {
			o.stargz = *cfg.Stargz
		}
		o.maxDecoderMemory = cfg.Decoder.MaxMemory
		if cfg.Decoder.Concurrency != nil {
			WithDecoderConcurrency(*cfg.Decoder.Concurrency)(o)
		}
		switch cfg.ContentCache.Mode {
		case CacheModeNone:
			WithContentCache(nil)(o)
		case CacheModeDisk:
			cc := cfg.ContentCache
			o.cache, o.cacheDisk = nil, &cc
		case CacheModeMemory:
			WithContentCache(cache.NewMemory(cfg.ContentCache.MaxBytes))(o)
		}
		o.extractWorkers = cfg.Extract.Workers
	}
}

func (o *options) setErr(err error) {
	if o.err == nil {
		o.err = err
	}
}
