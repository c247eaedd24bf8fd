package sgav2

import (
	"log/slog"
	"runtime"

	"github.com/klauspost/compress/zlib"

	"github.com/jazware/essencefs/pkg/sga"
)

// VerifyMode controls how much of an archive is checked while reading.
// Structural validation of the TOC always runs first.
type VerifyMode int

const (
	// VerifyNone trusts both digests and defers CRC checks to first read.
	VerifyNone VerifyMode = iota
	// VerifyHeader checks the header digest; CRCs are checked on first read.
	VerifyHeader
	// VerifyAll checks both digests and every stored CRC before returning.
	VerifyAll
)

func (m VerifyMode) String() string {
	switch m {
	case VerifyNone:
		return "none"
	case VerifyHeader:
		return "header"
	case VerifyAll:
		return "all"
	}
	return "unknown"
}

const (
	DefaultCompressionLevel = zlib.BestCompression
	DefaultVerify           = VerifyHeader
)

type options struct {
	logger         *slog.Logger
	baseLogger     *slog.Logger
	verify         VerifyMode
	cacheSize      int
	level          int
	concurrency    int
	defaultStorage sga.StorageType
}

// Option configures a Handler.
type Option func(*options)

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithVerify sets the read verification mode.
func WithVerify(mode VerifyMode) Option {
	return func(o *options) { o.verify = mode }
}

// WithContentCache keeps up to n decompressed payloads per opened archive.
// Zero disables the cache.
func WithContentCache(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithCompressionLevel sets the zlib level used for compressed entries.
func WithCompressionLevel(level int) Option {
	return func(o *options) { o.level = level }
}

// WithConcurrency bounds the number of files compressed at once on write.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithDefaultStorage sets the storage type for files whose essence does not
// declare one.
func WithDefaultStorage(st sga.StorageType) Option {
	return func(o *options) { o.defaultStorage = st }
}

func newOptions(opts []Option) options {
	o := options{
		logger:         slog.Default(),
		verify:         DefaultVerify,
		level:          DefaultCompressionLevel,
		concurrency:    runtime.GOMAXPROCS(0),
		defaultStorage: sga.StorageStore,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	o.baseLogger = o.logger
	o.logger = o.logger.With("component", "sga", "version", Version.String())
	return o
}
