package sqstore

import (
	"log/slog"

	"github.com/hupe1980/sqstore/internal/blob"
	"github.com/hupe1980/sqstore/internal/catalog"
	"github.com/hupe1980/sqstore/internal/codec"
	"github.com/hupe1980/sqstore/internal/fs"
)

// Compression selects the transform applied to payloads before they are
// written. Readers decode whatever a record was written with.
type Compression = codec.Codec

const (
	CompressionNone = codec.None
	CompressionLZ4  = codec.LZ4
	CompressionZstd = codec.Zstd
)

// ParseCompression maps "none", "lz4" or "zstd" to a Compression.
func ParseCompression(name string) (Compression, error) { return codec.Parse(name) }

// DefaultGenerationPolicy is the load order used unless overridden: the most
// processed payload wins.
var DefaultGenerationPolicy = []Generation{GenerationTrimmed, GenerationCorrected, GenerationRaw}

type options struct {
	logger          *Logger
	metrics         MetricsCollector
	fs              fs.FileSystem
	compression     Compression
	maxBlobFileSize int64
	sync            bool
	policy          []Generation
	readLimit       uint32
	strictIntegrity bool
	buildWorkers    int
	buildIOLimit    int64
	cloneDir        string
}

// Option configures Open, OpenPartition and Delete.
type Option func(*options)

// WithLogger configures structured logging. Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := sqstore.NewJSONLogger(slog.LevelInfo)
//	s, _ := sqstore.Open(path, sqstore.ModeReadOnly, sqstore.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetrics configures a metrics collector. Pass nil to disable metrics.
func WithMetrics(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// FileSystem is the file abstraction store files are accessed through.
type FileSystem = fs.FileSystem

// File is an open file of a FileSystem.
type File = fs.File

// WithFileSystem replaces the file system used for store files. The writer
// lock and the partition blob mapping always use the local file system.
func WithFileSystem(fsys FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithCompression sets the payload transform for newly written payloads.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithMaxBlobFileSize sets the size at which the writer starts a new blob
// file. Default 1 GiB.
func WithMaxBlobFileSize(n int64) Option {
	return func(o *options) {
		o.maxBlobFileSize = n
	}
}

// WithSync makes every flush fsync the blob file being written.
func WithSync(enabled bool) Option {
	return func(o *options) {
		o.sync = enabled
	}
}

// WithGenerationPolicy sets the order in which payload generations are tried
// by loads and by Read.Length. Generations left out are never loaded.
func WithGenerationPolicy(gens ...Generation) Option {
	return func(o *options) {
		o.policy = append([]Generation(nil), gens...)
	}
}

// WithReadLimit lowers the largest read identifier the store will allocate.
func WithReadLimit(n uint32) Option {
	return func(o *options) {
		o.readLimit = n
	}
}

// WithStrictIntegrity makes Open fail when stored counters disagree with the
// catalog instead of logging a warning.
func WithStrictIntegrity() Option {
	return func(o *options) {
		o.strictIntegrity = true
	}
}

// WithBuildWorkers caps how many partitions BuildPartitions copies at once.
func WithBuildWorkers(n int) Option {
	return func(o *options) {
		o.buildWorkers = n
	}
}

// WithBuildIOLimit throttles BuildPartitions to n bytes per second.
func WithBuildIOLimit(n int64) Option {
	return func(o *options) {
		o.buildIOLimit = n
	}
}

// WithCloneDir keeps the partition files in dir instead of the store
// directory. The store itself is then only read: ModePartitionBuild takes
// its lock in dir and never writes a new catalog generation, and
// OpenPartition and ModeReadOnly look for partitions in dir. Create and
// extend modes reject the option. Delete does not remove dir.
func WithCloneDir(dir string) Option {
	return func(o *options) {
		o.cloneDir = dir
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:          NoopLogger(),
		metrics:         NoopMetricsCollector{},
		fs:              fs.Default,
		compression:     CompressionNone,
		maxBlobFileSize: blob.DefaultMaxFileSize,
		policy:          DefaultGenerationPolicy,
		readLimit:       catalog.MaxReads,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.fs == nil {
		o.fs = fs.Default
	}
	if o.readLimit == 0 {
		o.readLimit = catalog.MaxReads
	}
	return o
}
