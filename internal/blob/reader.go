package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/sqstore/internal/catalog"
	"github.com/hupe1980/sqstore/internal/errs"
	"github.com/hupe1980/sqstore/internal/fs"
)

// Reader loads records from the blob files of one store. A Reader is not safe
// for concurrent use; borrow one per goroutine from a Pool.
type Reader struct {
	fs    fs.FileSystem
	dir   string
	files map[uint32]fs.File
}

// NewReader returns a reader over the blob files in dir.
func NewReader(fsys fs.FileSystem, dir string) *Reader {
	return &Reader{fs: fsys, dir: dir, files: make(map[uint32]fs.File)}
}

func (r *Reader) file(i uint32) (fs.File, error) {
	if f, ok := r.files[i]; ok {
		return f, nil
	}
	name := filepath.Join(r.dir, FileName(i))
	f, err := r.fs.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: missing blob file %s", errs.ErrCorrupt, FileName(i))
		}
		return nil, err
	}

	h := make([]byte, HeaderSize)
	if _, err := f.ReadAt(h, 0); err != nil {
		_ = f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: blob file %s has no header", errs.ErrShortRead, FileName(i))
		}
		return nil, err
	}
	if err := CheckHeader(h); err != nil {
		_ = f.Close()
		return nil, err
	}

	r.files[i] = f
	return f, nil
}

// ReadRecord returns the verified, still encoded record at loc.
func (r *Reader) ReadRecord(loc catalog.Locator) ([]byte, error) {
	if !loc.Present() {
		return nil, fmt.Errorf("%w: empty locator", errs.ErrInvalidArgument)
	}
	f, err := r.file(loc.File)
	if err != nil {
		return nil, err
	}

	rec := make([]byte, loc.Size)
	n, err := f.ReadAt(rec, int64(loc.Offset))
	if n < len(rec) {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s ends %d bytes into a %d byte record at offset %d",
				errs.ErrShortRead, FileName(loc.File), n, loc.Size, loc.Offset)
		}
		return nil, err
	}
	if err := VerifyRecord(rec); err != nil {
		return nil, fmt.Errorf("%s at offset %d: %w", FileName(loc.File), loc.Offset, err)
	}
	return rec, nil
}

// Read loads and decodes the payload at loc.
func (r *Reader) Read(loc catalog.Locator) (*Data, error) {
	rec, err := r.ReadRecord(loc)
	if err != nil {
		return nil, err
	}
	return DecodeRecord(rec)
}

// Close releases all open file handles.
func (r *Reader) Close() error {
	var errList []error
	for i, f := range r.files {
		if err := f.Close(); err != nil {
			errList = append(errList, err)
		}
		delete(r.files, i)
	}
	return errors.Join(errList...)
}

// Pool hands out Readers, one per concurrently active caller.
type Pool struct {
	mu     sync.Mutex
	fs     fs.FileSystem
	dir    string
	free   []*Reader
	all    []*Reader
	closed bool
}

// NewPool returns an empty pool; readers are created on demand.
func NewPool(fsys fs.FileSystem, dir string) *Pool {
	return &Pool{fs: fsys, dir: dir}
}

// Get borrows a reader. It returns nil after Close.
func (p *Pool) Get() *Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	if n := len(p.free); n > 0 {
		r := p.free[n-1]
		p.free = p.free[:n-1]
		return r
	}
	r := NewReader(p.fs, p.dir)
	p.all = append(p.all, r)
	return r
}

// Put returns a borrowed reader.
func (p *Pool) Put(r *Reader) {
	if r == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = r.Close()
		return
	}
	p.free = append(p.free, r)
}

// Size returns the number of readers created so far.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// Close closes every reader the pool created.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errList []error
	for _, r := range p.all {
		if err := r.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	p.all, p.free = nil, nil
	return errors.Join(errList...)
}
