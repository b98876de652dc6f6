package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/sqstore"
	"github.com/hupe1980/sqstore/archive"
	"github.com/hupe1980/sqstore/blobstore"
	minioblob "github.com/hupe1980/sqstore/blobstore/minio"
	s3blob "github.com/hupe1980/sqstore/blobstore/s3"
	"github.com/hupe1980/sqstore/internal/keyvalue"
)

// Config is the on-disk tool configuration.
//
//	log_level = "info"
//
//	[store]
//	path = "asm.seqStore"
//	compression = "zstd"
//	max_blob_file_size = "1 GiB"
//
//	[archive]
//	backend = "s3"
//	bucket = "reads"
//	prefix = "asm"
type Config struct {
	LogLevel string        `toml:"log_level"`
	Store    StoreConfig   `toml:"store"`
	Archive  ArchiveConfig `toml:"archive"`
}

// StoreConfig holds the store options.
type StoreConfig struct {
	Path            string   `toml:"path"`
	Compression     string   `toml:"compression"`
	MaxBlobFileSize string   `toml:"max_blob_file_size"`
	Sync            bool     `toml:"sync"`
	ReadLimit       uint32   `toml:"read_limit"`
	BuildWorkers    int      `toml:"build_workers"`
	BuildIOLimit    string   `toml:"build_io_limit"`
	Generations     []string `toml:"generations"`
}

// ArchiveConfig selects the blob store used by export and import-archive.
type ArchiveConfig struct {
	Backend     string `toml:"backend"`
	Root        string `toml:"root"`
	Bucket      string `toml:"bucket"`
	Prefix      string `toml:"prefix"`
	Region      string `toml:"region"`
	Endpoint    string `toml:"endpoint"`
	AccessKey   string `toml:"access_key"`
	SecretKey   string `toml:"secret_key"`
	UseSSL      bool   `toml:"use_ssl"`
	Concurrency int    `toml:"concurrency"`
	RateLimit   string `toml:"rate_limit"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Store:    StoreConfig{Compression: "zstd"},
		Archive:  ArchiveConfig{Backend: "local"},
	}
}

// loadConfig reads path over the defaults. An empty path yields the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}

func (c Config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// parseSize accepts plain byte counts and humanized sizes such as "64 MiB".
// The empty string is 0.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

func parseGeneration(name string) (sqstore.Generation, error) {
	for _, g := range sqstore.DefaultGenerationPolicy {
		if strings.EqualFold(g.String(), name) {
			return g, nil
		}
	}
	return 0, fmt.Errorf("unknown generation %q", name)
}

// options translates the store section into store options.
func (c Config) options(logger *sqstore.Logger) ([]sqstore.Option, error) {
	opts := []sqstore.Option{sqstore.WithLogger(logger), sqstore.WithSync(c.Store.Sync)}

	if c.Store.Compression != "" {
		comp, err := sqstore.ParseCompression(c.Store.Compression)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sqstore.WithCompression(comp))
	}

	maxBlob, err := parseSize(c.Store.MaxBlobFileSize)
	if err != nil {
		return nil, fmt.Errorf("max_blob_file_size: %w", err)
	}
	if maxBlob > 0 {
		opts = append(opts, sqstore.WithMaxBlobFileSize(maxBlob))
	}

	ioLimit, err := parseSize(c.Store.BuildIOLimit)
	if err != nil {
		return nil, fmt.Errorf("build_io_limit: %w", err)
	}
	if ioLimit > 0 {
		opts = append(opts, sqstore.WithBuildIOLimit(ioLimit))
	}

	if c.Store.ReadLimit > 0 {
		opts = append(opts, sqstore.WithReadLimit(c.Store.ReadLimit))
	}
	if c.Store.BuildWorkers > 0 {
		opts = append(opts, sqstore.WithBuildWorkers(c.Store.BuildWorkers))
	}

	if len(c.Store.Generations) > 0 {
		gens := make([]sqstore.Generation, 0, len(c.Store.Generations))
		for _, name := range c.Store.Generations {
			g, err := parseGeneration(name)
			if err != nil {
				return nil, err
			}
			gens = append(gens, g)
		}
		opts = append(opts, sqstore.WithGenerationPolicy(gens...))
	}
	return opts, nil
}

func (c Config) archiveOptions(logger *sqstore.Logger) ([]archive.Option, error) {
	opts := []archive.Option{archive.WithLogger(logger)}
	if c.Archive.Concurrency > 0 {
		opts = append(opts, archive.WithConcurrency(c.Archive.Concurrency))
	}
	rate, err := parseSize(c.Archive.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("rate_limit: %w", err)
	}
	if rate > 0 {
		opts = append(opts, archive.WithRateLimit(rate))
	}
	return opts, nil
}

// blobStore builds the archive backend.
func (c Config) blobStore(ctx context.Context) (blobstore.BlobStore, error) {
	a := c.Archive
	switch strings.ToLower(a.Backend) {
	case "", "local":
		if a.Root == "" {
			return nil, fmt.Errorf("archive: local backend needs root")
		}
		return blobstore.NewLocalStore(a.Root), nil
	case "s3":
		if a.Bucket == "" {
			return nil, fmt.Errorf("archive: s3 backend needs bucket")
		}
		var opts []s3blob.Option
		if a.Region != "" {
			opts = append(opts, s3blob.WithRegion(a.Region))
		}
		return s3blob.New(ctx, a.Bucket, opts...)
	case "minio":
		if a.Bucket == "" || a.Endpoint == "" {
			return nil, fmt.Errorf("archive: minio backend needs endpoint and bucket")
		}
		client, err := minio.New(a.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(a.AccessKey, a.SecretKey, ""),
			Secure: a.UseSSL,
			Region: a.Region,
		})
		if err != nil {
			return nil, err
		}
		return minioblob.NewStore(client, a.Bucket, ""), nil
	default:
		return nil, fmt.Errorf("archive: unknown backend %q", a.Backend)
	}
}

// libraryDesc is one parsed library description file.
type libraryDesc struct {
	Name  string
	Flags sqstore.LibraryFlags
	Files []string
}

// parseLibrary reads a library description. Keys name and set the library
// flags; a key without a value is an input file, resolved against dir.
//
//	name = pacbio-hifi
//	trimByDefault = true
//	reads/m64011.fastq.gz
func parseLibrary(r io.Reader, dir string) (libraryDesc, error) {
	pairs, err := keyvalue.ParseAll(r)
	if err != nil {
		return libraryDesc{}, err
	}

	var lib libraryDesc
	setFlag := func(p keyvalue.Pair, f sqstore.LibraryFlags) {
		if p.Bool() {
			lib.Flags |= f
		} else {
			lib.Flags &^= f
		}
	}
	for _, p := range pairs {
		switch p.Key {
		case "name":
			lib.Name = p.Value
		case "trimByDefault":
			setFlag(p, sqstore.TrimByDefault)
		case "correctByDefault":
			setFlag(p, sqstore.CorrectByDefault)
		case "checkForSubReads":
			setFlag(p, sqstore.CheckForSubReads)
		default:
			if p.Value != "" {
				return libraryDesc{}, fmt.Errorf("unknown library key %q", p.Key)
			}
			file := p.Key
			if !filepath.IsAbs(file) {
				file = filepath.Join(dir, file)
			}
			lib.Files = append(lib.Files, file)
		}
	}
	if lib.Name == "" {
		return libraryDesc{}, fmt.Errorf("library has no name")
	}
	if len(lib.Files) == 0 {
		return libraryDesc{}, fmt.Errorf("library %s lists no input files", lib.Name)
	}
	return lib, nil
}

func readLibraryFile(path string) (libraryDesc, error) {
	f, err := os.Open(path)
	if err != nil {
		return libraryDesc{}, err
	}
	defer f.Close()
	lib, err := parseLibrary(f, filepath.Dir(path))
	if err != nil {
		return libraryDesc{}, fmt.Errorf("%s: %w", path, err)
	}
	return lib, nil
}
