package archive

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/sqstore"
	"github.com/hupe1980/sqstore/blobstore"
	"github.com/hupe1980/sqstore/internal/blob"
	"github.com/hupe1980/sqstore/internal/catalog"
	"github.com/hupe1980/sqstore/internal/errs"
	"github.com/hupe1980/sqstore/internal/fs"
	"github.com/hupe1980/sqstore/internal/info"
	"github.com/hupe1980/sqstore/internal/partition"
	"github.com/hupe1980/sqstore/internal/resource"
)

var (
	// ErrNoManifest is returned by Import when the archive has no manifest.
	ErrNoManifest = fmt.Errorf("%w: archive manifest", errs.ErrNotFound)
	// ErrDestinationNotEmpty is returned by Import when the target
	// directory already holds files.
	ErrDestinationNotEmpty = errors.New("archive: destination is not empty")
)

// Option configures Export and Import.
type Option func(*options)

type options struct {
	concurrency int
	rateLimit   int64
	logger      *sqstore.Logger
	fs          fs.FileSystem
	verify      bool
}

// WithConcurrency sets the number of files transferred in parallel.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithRateLimit caps the transfer rate in bytes per second. Zero means
// unlimited.
func WithRateLimit(bytesPerSec int64) Option {
	return func(o *options) { o.rateLimit = bytesPerSec }
}

// WithLogger sets the logger.
func WithLogger(l *sqstore.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFileSystem sets the file system the store lives on.
func WithFileSystem(fsys sqstore.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithoutVerify skips opening the imported store with strict integrity
// checks.
func WithoutVerify() Option {
	return func(o *options) { o.verify = false }
}

func applyOptions(optFns []Option) options {
	o := options{
		concurrency: 4,
		logger:      sqstore.NoopLogger(),
		fs:          fs.Default,
		verify:      true,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}

func objectName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Export copies the store at storePath to dst under prefix. It holds the
// store's writer lock for the duration, so it fails with ErrLocked while a
// writer is open. The manifest is written after every file, so a partial
// export is never importable.
func Export(ctx context.Context, storePath string, dst blobstore.BlobStore, prefix string, optFns ...Option) (*Manifest, error) {
	o := applyOptions(optFns)
	start := time.Now()

	ok, err := fs.Exists(o.fs, filepath.Join(storePath, info.FileName))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no store at %s", errs.ErrNotFound, storePath)
	}
	lock, err := fs.AcquireLock(filepath.Join(storePath, sqstore.LockFile))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	raw, err := fs.ReadFile(o.fs, filepath.Join(storePath, info.FileName))
	if err != nil {
		return nil, err
	}
	in, err := info.Decode(raw)
	if err != nil {
		return nil, err
	}

	names, err := storeFiles(o.fs, storePath, in)
	if err != nil {
		return nil, err
	}

	ctrl := resource.NewController(resource.Config{IOLimitBytesPerSec: o.rateLimit})
	entries := make([]Entry, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, name := range names {
		g.Go(func() error {
			e, err := upload(gctx, o.fs, ctrl, storePath, name, dst, objectName(prefix, name))
			if err != nil {
				return fmt.Errorf("failed to export %s: %w", name, err)
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.ErrorContext(ctx, "export failed", "path", storePath, "prefix", prefix, "error", err)
		return nil, err
	}

	// The info block is stored from the snapshot taken under the lock.
	if err := dst.Put(ctx, objectName(prefix, info.FileName), raw); err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", info.FileName, err)
	}
	entries = append(entries, Entry{Name: info.FileName, Size: int64(len(raw)), CRC: crc32.ChecksumIEEE(raw)})

	m := &Manifest{
		Generation: in.Generation,
		NumReads:   in.NumReads,
		CreatedAt:  time.Now(),
		Entries:    entries,
	}
	data, err := m.Encode()
	if err != nil {
		return nil, err
	}
	if err := dst.Put(ctx, objectName(prefix, ManifestName), data); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	o.logger.InfoContext(ctx, "store exported",
		"path", storePath,
		"prefix", prefix,
		"files", len(m.Entries),
		"bytes", m.TotalSize(),
		"elapsed", time.Since(start),
	)
	return m, nil
}

// storeFiles lists the files making up generation in.Generation: its
// catalog, the committed blob files and any partition files. Orphaned blob
// files past NumBlobs are left out.
func storeFiles(fsys fs.FileSystem, dir string, in *info.Info) ([]string, error) {
	names := []string{
		catalog.LibrariesFile(in.Generation),
		catalog.ReadsFile(in.Generation),
	}
	for i := uint32(0); i < in.NumBlobs; i++ {
		names = append(names, blob.FileName(i))
	}

	entries, err := fsys.ReadDir(filepath.Join(dir, partition.Dir))
	if err != nil {
		if os.IsNotExist(err) {
			return names, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, partition.Dir+"/"+e.Name())
		}
	}
	return names, nil
}

func upload(ctx context.Context, fsys fs.FileSystem, ctrl *resource.Controller, dir, name string, dst blobstore.BlobStore, key string) (Entry, error) {
	f, err := fsys.OpenFile(filepath.Join(dir, filepath.FromSlash(name)), os.O_RDONLY, 0)
	if err != nil {
		return Entry{}, err
	}
	defer func() { _ = f.Close() }()

	w, err := dst.Create(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	h := crc32.NewIEEE()
	n, err := io.Copy(io.MultiWriter(w, h), &rateReader{ctx: ctx, r: f, ctrl: ctrl})
	if err != nil {
		if a, ok := w.(blobstore.Aborter); ok {
			_ = a.Abort()
		} else {
			_ = w.Close()
			_ = dst.Delete(ctx, key)
		}
		return Entry{}, err
	}
	if err := w.Close(); err != nil {
		return Entry{}, err
	}
	return Entry{Name: name, Size: n, CRC: h.Sum32()}, nil
}

// Import restores the archive under prefix in src into storePath, which
// must not exist or be empty. Every file is checked against the manifest's
// size and checksum. The info block is written last, so an interrupted
// import never leaves a store that opens.
func Import(ctx context.Context, src blobstore.BlobStore, prefix, storePath string, optFns ...Option) (*Manifest, error) {
	o := applyOptions(optFns)
	start := time.Now()

	created, err := prepareDestination(o.fs, storePath)
	if err != nil {
		return nil, err
	}
	m, err := importFiles(ctx, o, src, prefix, storePath)
	if err != nil {
		if created {
			_ = o.fs.RemoveAll(storePath)
		}
		o.logger.ErrorContext(ctx, "import failed", "path", storePath, "prefix", prefix, "error", err)
		return nil, err
	}

	if o.verify {
		s, err := sqstore.Open(storePath, sqstore.ModeReadOnly,
			sqstore.WithStrictIntegrity(),
			sqstore.WithFileSystem(o.fs),
			sqstore.WithLogger(o.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("imported store does not open: %w", err)
		}
		if err := s.Close(); err != nil {
			return nil, err
		}
	}

	o.logger.InfoContext(ctx, "store imported",
		"path", storePath,
		"prefix", prefix,
		"files", len(m.Entries),
		"bytes", m.TotalSize(),
		"elapsed", time.Since(start),
	)
	return m, nil
}

func prepareDestination(fsys fs.FileSystem, dir string) (bool, error) {
	entries, err := fsys.ReadDir(dir)
	switch {
	case os.IsNotExist(err):
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	case len(entries) > 0:
		return false, fmt.Errorf("%w: %s", ErrDestinationNotEmpty, dir)
	}
	return false, nil
}

func importFiles(ctx context.Context, o options, src blobstore.BlobStore, prefix, dir string) (*Manifest, error) {
	data, err := readBlob(ctx, src, objectName(prefix, ManifestName))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w under %q", ErrNoManifest, prefix)
		}
		return nil, err
	}
	m, err := DecodeManifest(data)
	if err != nil {
		return nil, err
	}

	var infoEntry *Entry
	for i := range m.Entries {
		e := &m.Entries[i]
		if !validName(e.Name) {
			return nil, fmt.Errorf("%w: manifest entry %q", errs.ErrCorrupt, e.Name)
		}
		if e.Name == info.FileName {
			infoEntry = e
		}
	}
	if infoEntry == nil {
		return nil, fmt.Errorf("%w: manifest has no info block", errs.ErrCorrupt)
	}

	ctrl := resource.NewController(resource.Config{IOLimitBytesPerSec: o.rateLimit})
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, e := range m.Entries {
		if e.Name == info.FileName {
			continue
		}
		g.Go(func() error {
			if err := download(gctx, o.fs, ctrl, src, objectName(prefix, e.Name), dir, e); err != nil {
				return fmt.Errorf("failed to import %s: %w", e.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := fs.SyncDir(o.fs, dir); err != nil {
		return nil, err
	}
	if ok, _ := fs.Exists(o.fs, filepath.Join(dir, partition.Dir)); ok {
		if err := fs.SyncDir(o.fs, filepath.Join(dir, partition.Dir)); err != nil {
			return nil, err
		}
	}

	raw, err := readBlob(ctx, src, objectName(prefix, info.FileName))
	if err != nil {
		return nil, err
	}
	if err := checkEntry(*infoEntry, int64(len(raw)), crc32.ChecksumIEEE(raw)); err != nil {
		return nil, err
	}
	if _, err := info.Decode(raw); err != nil {
		return nil, err
	}
	if err := fs.WriteFileAtomic(o.fs, filepath.Join(dir, info.FileName), raw); err != nil {
		return nil, err
	}
	return m, nil
}

func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

func checkEntry(e Entry, size int64, crc uint32) error {
	if size != e.Size {
		return fmt.Errorf("%w: %s is %d bytes, manifest says %d", errs.ErrCorrupt, e.Name, size, e.Size)
	}
	if crc != e.CRC {
		return fmt.Errorf("%w: %s checksum mismatch", errs.ErrCorrupt, e.Name)
	}
	return nil
}

func download(ctx context.Context, fsys fs.FileSystem, ctrl *resource.Controller, src blobstore.BlobStore, key, dir string, e Entry) error {
	b, err := src.Open(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	if b.Size() != e.Size {
		return checkEntry(e, b.Size(), 0)
	}
	if c, ok := b.(blobstore.Checksummed); ok {
		if crc, ok := c.CRC32(); ok && crc != e.CRC {
			return fmt.Errorf("%w: %s was uploaded with checksum %08x, manifest says %08x", errs.ErrCorrupt, e.Name, crc, e.CRC)
		}
	}

	target := filepath.Join(dir, filepath.FromSlash(e.Name))
	if err := fsys.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	f, err := fsys.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	h := crc32.NewIEEE()
	var n int64
	if e.Size > 0 {
		rc, err := b.ReadRange(ctx, 0, e.Size)
		if err != nil {
			return err
		}
		n, err = io.Copy(io.MultiWriter(f, h), &rateReader{ctx: ctx, r: rc, ctrl: ctrl})
		_ = rc.Close()
		if err != nil {
			return err
		}
	}
	if err := checkEntry(e, n, h.Sum32()); err != nil {
		return err
	}
	return f.Sync()
}

func readBlob(ctx context.Context, src blobstore.BlobStore, key string) ([]byte, error) {
	b, err := src.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	buf := make([]byte, b.Size())
	if len(buf) == 0 {
		return buf, nil
	}
	if _, err := b.ReadAt(ctx, buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf, nil
}

// rateReader charges every read against the controller's I/O budget.
type rateReader struct {
	ctx  context.Context
	r    io.Reader
	ctrl *resource.Controller
}

func (r *rateReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.ctrl.AcquireIO(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
