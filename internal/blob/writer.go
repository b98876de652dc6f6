package blob

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/sqstore/internal/catalog"
	"github.com/hupe1980/sqstore/internal/codec"
	"github.com/hupe1980/sqstore/internal/fs"
)

// DefaultMaxFileSize is the rollover threshold used when none is given.
const DefaultMaxFileSize int64 = 1 << 30

// ErrClosed is returned by a writer used after Close.
var ErrClosed = errors.New("blob: writer closed")

// FileName returns the name of blob file i.
func FileName(i uint32) string { return fmt.Sprintf("blobs.%04d", i) }

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (cw *countingWriter) Flush() error {
	return cw.w.Flush()
}

// FileWriter appends records to a single blob file.
type FileWriter struct {
	file fs.File
	cw   *countingWriter
	path string
}

// CreateFile creates (or truncates) a blob file at path and writes its header.
func CreateFile(fsys fs.FileSystem, path string) (*FileWriter, error) {
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{
		file: f,
		cw:   &countingWriter{w: bufio.NewWriterSize(f, 1<<20)},
		path: path,
	}
	if _, err := fw.cw.Write(fileHeader()); err != nil {
		_ = f.Close()
		return nil, err
	}
	return fw, nil
}

// Size returns the logical file size including buffered bytes.
func (fw *FileWriter) Size() int64 { return fw.cw.n }

// Path returns the file path.
func (fw *FileWriter) Path() string { return fw.path }

// AppendRecord writes an already encoded record and returns its offset.
func (fw *FileWriter) AppendRecord(rec []byte) (int64, error) {
	off := fw.cw.n
	if _, err := fw.cw.Write(rec); err != nil {
		return 0, fmt.Errorf("failed to append to %s: %w", filepath.Base(fw.path), err)
	}
	return off, nil
}

// Flush writes buffered records to the file, and syncs it when sync is set.
func (fw *FileWriter) Flush(sync bool) error {
	if err := fw.cw.Flush(); err != nil {
		return err
	}
	if sync {
		return fw.file.Sync()
	}
	return nil
}

// Close flushes and syncs the file, then closes it.
func (fw *FileWriter) Close() error {
	if err := fw.Flush(true); err != nil {
		_ = fw.file.Close()
		return err
	}
	return fw.file.Close()
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	// MaxFileSize is the size past which the writer starts a new file.
	MaxFileSize int64
	// Codec is applied to every payload written.
	Codec codec.Codec
	// Sync makes Flush fsync the current file.
	Sync bool
}

// Writer appends payloads to the rolling sequence of blob files of a store.
// Each writer session starts a fresh file after the existing ones, so a torn
// tail from an earlier crash is never appended to.
type Writer struct {
	mu       sync.Mutex
	fs       fs.FileSystem
	dir      string
	opts     WriterOptions
	cur      *FileWriter
	numFiles uint32
	dirty    bool
	closed   bool
}

// NewWriter returns a writer for the store in dir that already holds
// numFiles blob files. Files are created lazily on the first append.
func NewWriter(fsys fs.FileSystem, dir string, numFiles uint32, opts WriterOptions) *Writer {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	return &Writer{
		fs:       fsys,
		dir:      dir,
		opts:     opts,
		numFiles: numFiles,
	}
}

// NumFiles returns the number of blob files of the store, including the one
// being written.
func (w *Writer) NumFiles() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numFiles
}

// Append encodes d and appends it, returning its locator.
func (w *Writer) Append(d *Data) (catalog.Locator, error) {
	rec, err := EncodeRecord(w.opts.Codec, d)
	if err != nil {
		return catalog.Locator{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return catalog.Locator{}, ErrClosed
	}
	if w.cur == nil || (w.cur.Size() > HeaderSize && w.cur.Size()+int64(len(rec)) > w.opts.MaxFileSize) {
		if err := w.roll(); err != nil {
			return catalog.Locator{}, err
		}
	}

	off, err := w.cur.AppendRecord(rec)
	if err != nil {
		return catalog.Locator{}, err
	}
	w.dirty = true

	return catalog.Locator{
		File:   w.numFiles - 1,
		SeqLen: uint32(len(d.Seq)),
		Offset: uint64(off),
		Size:   uint32(len(rec)),
	}, nil
}

func (w *Writer) roll() error {
	if w.cur != nil {
		if err := w.cur.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", filepath.Base(w.cur.Path()), err)
		}
		w.cur = nil
	}
	fw, err := CreateFile(w.fs, filepath.Join(w.dir, FileName(w.numFiles)))
	if err != nil {
		return fmt.Errorf("failed to create blob file: %w", err)
	}
	w.cur = fw
	w.numFiles++
	return nil
}

// Dirty reports whether records were appended since the last Flush.
func (w *Writer) Dirty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}

// Flush makes appended records visible to readers.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.cur == nil {
		return nil
	}
	if err := w.cur.Flush(w.opts.Sync); err != nil {
		return fmt.Errorf("failed to flush %s: %w", filepath.Base(w.cur.Path()), err)
	}
	w.dirty = false
	return nil
}

// Sync flushes the current file and fsyncs it regardless of the Sync option.
// Files the writer rolled past were synced when they were closed.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.cur == nil {
		return nil
	}
	if err := w.cur.Flush(true); err != nil {
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(w.cur.Path()), err)
	}
	w.dirty = false
	return nil
}

// Close flushes, syncs and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	if w.cur == nil {
		return nil
	}
	err := w.cur.Close()
	w.cur = nil
	return err
}
