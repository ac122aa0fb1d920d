package arcfs

import (
	"log/slog"
	"os"
)

// defaultGlobalBufferSize is the spill threshold for write streams,
// including the ones the Rebuild Engine serializes nested archives into,
// per §5's default of 64 MiB.
const defaultGlobalBufferSize = 64 << 20

// Config holds the tunables §6 enumerates: the global spill threshold, the
// temp directory, and per-handler I/O chunk-size overrides. Zero values
// mean "use the default" — New fills one in from the Option functions
// passed to it.
type Config struct {
	GlobalBufferSize int64
	TempDir          string

	ZipBufferSize   int
	TarBufferSize   int
	GzipBufferSize  int
	Bzip2BufferSize int
	XzBufferSize    int

	Logger *slog.Logger
}

// DefaultConfig returns a Config with every field at its documented
// default.
func DefaultConfig() Config {
	return Config{
		GlobalBufferSize: defaultGlobalBufferSize,
		TempDir:          os.TempDir(),
		Logger:           slog.Default(),
	}
}

func (c Config) withDefaults() Config {
	if c.GlobalBufferSize <= 0 {
		c.GlobalBufferSize = defaultGlobalBufferSize
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Option configures an ArchiveFS at construction time.
type Option func(*Config)

// WithGlobalBufferSize overrides the spill threshold.
func WithGlobalBufferSize(n int64) Option {
	return func(c *Config) { c.GlobalBufferSize = n }
}

// WithTempDir overrides where spilled write streams and rebuild temp
// files are created.
func WithTempDir(dir string) Option {
	return func(c *Config) { c.TempDir = dir }
}

// WithLogger overrides the *slog.Logger used for internal bookkeeping and
// user-visible action logs. A nil logger falls back to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithHandlerBufferSizes overrides per-format I/O chunk sizes. Any zero
// field is left at its previous value.
func WithHandlerBufferSizes(zip, tar, gzip, bzip2, xz int) Option {
	return func(c *Config) {
		if zip > 0 {
			c.ZipBufferSize = zip
		}
		if tar > 0 {
			c.TarBufferSize = tar
		}
		if gzip > 0 {
			c.GzipBufferSize = gzip
		}
		if bzip2 > 0 {
			c.Bzip2BufferSize = bzip2
		}
		if xz > 0 {
			c.XzBufferSize = xz
		}
	}
}
