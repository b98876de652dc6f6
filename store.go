package sqstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/hupe1980/sqstore/internal/blob"
	"github.com/hupe1980/sqstore/internal/catalog"
	"github.com/hupe1980/sqstore/internal/fs"
	"github.com/hupe1980/sqstore/internal/info"
	"github.com/hupe1980/sqstore/internal/partition"
)

// LockFile is the advisory lock taken by writers.
const LockFile = "LOCK"

// Store is an open read store. All methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	path   string
	mode   Mode
	opts   options
	fs     fs.FileSystem
	logger *Logger

	// partDir holds the partition files and, for a clone, the writer lock.
	partDir string

	lock    *fs.Lock
	info    *info.Info
	cat     *catalog.Catalog
	writer  *blob.Writer
	readers *blob.Pool
	table   *partition.Table
	view    *partition.View

	dirty  bool
	closed bool
}

// Open opens the store at path in the given mode. ModeCreate makes a new,
// empty store and fails with ErrModeConflict if one exists; every other mode
// fails with ErrNotFound when there is none. Writable modes hold an
// exclusive lock until Close.
func Open(path string, mode Mode, optFns ...Option) (*Store, error) {
	if mode == ModePartition {
		return nil, fmt.Errorf("%w: use OpenPartition", ErrInvalidArgument)
	}
	return open(path, mode, 0, optFns)
}

// OpenPartition opens partition p of a partitioned store read-only. The
// store then exposes only the reads of that partition; identifiers stay
// global.
func OpenPartition(path string, p PartitionID, optFns ...Option) (*Store, error) {
	return open(path, ModePartition, p, optFns)
}

func open(path string, mode Mode, p PartitionID, optFns []Option) (*Store, error) {
	if mode < ModeCreate || mode > ModePartition {
		return nil, fmt.Errorf("%w: unknown mode %d", ErrInvalidArgument, int(mode))
	}
	opts := applyOptions(optFns)
	partDir := path
	if opts.cloneDir != "" {
		if mode == ModeCreate || mode == ModeExtend {
			return nil, fmt.Errorf("%w: a clone only holds partitions, open it %s or read-only", ErrInvalidArgument, ModePartitionBuild)
		}
		partDir = opts.cloneDir
	}
	s := &Store{
		path:    path,
		partDir: partDir,
		mode:    mode,
		opts:    opts,
		fs:      opts.fs,
		logger:  opts.logger.WithPath(path),
	}

	var err error
	if mode == ModeCreate {
		err = s.create()
	} else {
		err = s.load(p)
	}
	if err != nil {
		s.logger.LogOpen(context.Background(), mode, 0, 0, 0, err)
		_ = s.release()
		return nil, err
	}
	s.logger.LogOpen(context.Background(), mode, s.info.NumLibraries, s.info.NumReads, s.info.Generation, nil)
	return s, nil
}

func (s *Store) acquireLock() error {
	lock, err := fs.AcquireLock(filepath.Join(s.partDir, LockFile))
	if err != nil {
		return err
	}
	s.lock = lock
	return nil
}

func (s *Store) create() error {
	if err := s.fs.MkdirAll(s.path, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	if err := s.acquireLock(); err != nil {
		return err
	}
	ok, err := fs.Exists(s.fs, filepath.Join(s.path, info.FileName))
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: a store already exists at %s", ErrModeConflict, s.path)
	}

	s.info = info.New()
	s.cat = catalog.New()
	s.startIO()
	return s.flushLocked()
}

func (s *Store) load(p PartitionID) error {
	if s.mode.writable() {
		ok, err := fs.Exists(s.fs, filepath.Join(s.path, info.FileName))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: no store at %s", ErrNotFound, s.path)
		}
		if s.cloned() {
			if err := s.fs.MkdirAll(s.partDir, 0755); err != nil {
				return fmt.Errorf("failed to create clone directory: %w", err)
			}
		}
		if err := s.acquireLock(); err != nil {
			return err
		}
	}

	in, err := info.Load(s.fs, s.path)
	if err != nil {
		return err
	}
	cat, err := catalog.Load(s.fs, s.path, in.Generation, in.NumLibraries, in.NumReads)
	if err != nil {
		return err
	}
	table, err := partition.LoadTable(s.fs, s.partDir)
	if err != nil {
		return err
	}
	if table != nil && table.NumReads() > cat.NumReads() {
		return fmt.Errorf("%w: partition map covers %d reads, catalog has %d", ErrCorrupt, table.NumReads(), cat.NumReads())
	}
	s.info, s.cat, s.table = in, cat, table

	if err := s.info.Check(s.cat.Count()); err != nil {
		if s.opts.strictIntegrity {
			return err
		}
		s.logger.LogIntegrity(context.Background(), err)
	}

	if s.mode == ModePartition {
		if s.table == nil {
			return fmt.Errorf("%w: store at %s is not partitioned in %s", ErrNotFound, s.path, s.partDir)
		}
		view, err := partition.OpenView(s.fs, s.partDir, s.table, uint32(p))
		if err != nil {
			return err
		}
		s.view = view
		return nil
	}

	s.startIO()
	return nil
}

// startIO creates the blob writer (create and extend modes) and the reader
// pool.
func (s *Store) startIO() {
	if s.mode == ModeCreate || s.mode == ModeExtend {
		s.writer = blob.NewWriter(s.fs, s.path, s.info.NumBlobs, blob.WriterOptions{
			MaxFileSize: s.opts.maxBlobFileSize,
			Codec:       s.opts.compression,
			Sync:        s.opts.sync,
		})
	}
	s.readers = blob.NewPool(s.fs, s.path)
}

// release drops handles and the lock, collecting errors.
func (s *Store) release() error {
	var errList []error
	if s.writer != nil {
		if err := s.writer.Close(); err != nil && !errors.Is(err, blob.ErrClosed) {
			errList = append(errList, err)
		}
	}
	if s.readers != nil {
		errList = append(errList, s.readers.Close())
	}
	if s.view != nil {
		errList = append(errList, s.view.Close())
	}
	errList = append(errList, s.lock.Release())
	return errors.Join(errList...)
}

// Path returns the store directory.
func (s *Store) Path() string { return s.path }

// CloneDir returns the directory holding the partition files, which is the
// store directory unless the store was opened WithCloneDir.
func (s *Store) CloneDir() string { return s.partDir }

func (s *Store) cloned() bool { return s.partDir != s.path }

// Mode returns the mode the store was opened in.
func (s *Store) Mode() Mode { return s.mode }

func (s *Store) checkOpen() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// checkUnpartitioned rejects payload changes that the partition copies would
// not see.
func (s *Store) checkUnpartitioned() error {
	if s.table != nil {
		return fmt.Errorf("%w: delete partitions before changing payloads", ErrAlreadyPartitioned)
	}
	return nil
}

// checkCatalogWritable is checkWritable for operations that write a catalog
// generation, which a clone never does.
func (s *Store) checkCatalogWritable(allowed ...Mode) error {
	if err := s.checkWritable(allowed...); err != nil {
		return err
	}
	if s.cloned() {
		return fmt.Errorf("%w: %s is opened as a clone", ErrModeConflict, s.path)
	}
	return nil
}

func (s *Store) checkWritable(allowed ...Mode) error {
	if s.closed {
		return ErrClosed
	}
	for _, m := range allowed {
		if s.mode == m {
			return nil
		}
	}
	return fmt.Errorf("%w: store opened %s", ErrModeConflict, s.mode)
}

// Flush writes the catalog as a new generation and then the info block that
// names it. Blob data appended so far becomes durable with it.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCatalogWritable(ModeCreate, ModeExtend, ModePartitionBuild); err != nil {
		return err
	}
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	start := time.Now()
	err := s.commitGeneration()
	s.opts.metrics.RecordFlush(time.Since(start), err)
	s.logger.LogFlush(context.Background(), s.info.Generation, s.info.NumReads, time.Since(start), err)
	return err
}

func (s *Store) commitGeneration() error {
	// Locators in the new catalog must never outlive the bytes they name.
	if s.writer != nil {
		if err := s.writer.Sync(); err != nil {
			return err
		}
		s.info.NumBlobs = s.writer.NumFiles()
	}

	prev := s.info.Generation
	next := prev + 1
	if err := s.cat.Save(s.fs, s.path, next); err != nil {
		return err
	}

	in := *s.info
	in.Generation = next
	in.NumLibraries = s.cat.NumLibraries()
	in.NumReads = s.cat.NumReads()
	if err := in.Save(s.fs, s.path); err != nil {
		_ = catalog.RemoveGeneration(s.fs, s.path, next)
		return err
	}
	*s.info = in
	s.dirty = false

	if prev > 0 {
		if err := catalog.RemoveGeneration(s.fs, s.path, prev); err != nil {
			s.logger.Warn("failed to remove old catalog generation", "generation", prev, "error", err)
		}
	}
	return nil
}

// Close flushes pending changes (writable modes), releases all handles and
// the writer lock. Calling Close twice returns ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	var flushErr error
	if s.mode.writable() && !s.cloned() && (s.dirty || (s.writer != nil && s.writer.Dirty())) {
		flushErr = s.flushLocked()
	}
	s.closed = true
	err := errors.Join(flushErr, s.release())
	s.logger.LogClose(context.Background(), s.mode, err)
	return err
}

// Delete removes the store at path and every file in it. It fails with
// ErrLocked while a writer has the store open.
func Delete(path string, optFns ...Option) error {
	opts := applyOptions(optFns)
	ok, err := fs.Exists(opts.fs, filepath.Join(path, info.FileName))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no store at %s", ErrNotFound, path)
	}

	lock, err := fs.AcquireLock(filepath.Join(path, LockFile))
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	if err := opts.fs.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete store: %w", err)
	}
	opts.logger.Info("store deleted", "path", path)
	return nil
}
