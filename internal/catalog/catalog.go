// Package catalog holds the in-memory library and read arrays.
//
// Both arrays are indexed directly by identifier; slot 0 is reserved so that
// identifiers start at 1. Records are fixed size on disk and the arrays are
// loaded and saved wholesale, one file per array per catalog generation.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hupe1980/sqstore/internal/errs"
	"github.com/hupe1980/sqstore/internal/fs"
)

const minCapacity = 16

// Counts are the per-category totals derived from the read array.
type Counts struct {
	Reads          uint32
	RawReads       uint32
	CorrectedReads uint32
	TrimmedReads   uint32
	RawBases       uint64
	CorrectedBases uint64
	TrimmedBases   uint64
}

// Catalog owns the library and read arrays.
type Catalog struct {
	libraries []LibraryRecord
	reads     []ReadRecord
}

// New returns an empty catalog with the reserved slot 0 in place.
func New() *Catalog {
	return &Catalog{
		libraries: make([]LibraryRecord, 1, minCapacity),
		reads:     make([]ReadRecord, 1, minCapacity),
	}
}

// grow doubles the capacity of s when it is full.
func grow[T any](s []T) []T {
	if len(s) < cap(s) {
		return s
	}
	n := make([]T, len(s), max(2*cap(s), minCapacity))
	copy(n, s)
	return n
}

// NumLibraries returns the number of libraries (excluding slot 0).
func (c *Catalog) NumLibraries() uint32 { return uint32(len(c.libraries) - 1) }

// NumReads returns the number of reads (excluding slot 0).
func (c *Catalog) NumReads() uint32 { return uint32(len(c.reads) - 1) }

// AddLibrary appends rec, assigns it the next identifier and returns it.
func (c *Catalog) AddLibrary(rec LibraryRecord) uint32 {
	c.libraries = grow(c.libraries)
	rec.ID = uint32(len(c.libraries))
	c.libraries = append(c.libraries, rec)
	return rec.ID
}

// AddRead appends rec and returns its identifier.
func (c *Catalog) AddRead(rec ReadRecord) uint32 {
	c.reads = grow(c.reads)
	c.reads = append(c.reads, rec)
	return uint32(len(c.reads) - 1)
}

// Library returns a pointer to the library with the given id, valid until the
// next AddLibrary.
func (c *Catalog) Library(id uint32) (*LibraryRecord, bool) {
	if id == 0 || id >= uint32(len(c.libraries)) {
		return nil, false
	}
	return &c.libraries[id], true
}

// Read returns a pointer to the read with the given id, valid until the next
// AddRead.
func (c *Catalog) Read(id uint32) (*ReadRecord, bool) {
	if id == 0 || id >= uint32(len(c.reads)) {
		return nil, false
	}
	return &c.reads[id], true
}

// Count derives the per-category totals from the read array.
func (c *Catalog) Count() Counts {
	cnt := Counts{Reads: c.NumReads()}
	for i := 1; i < len(c.reads); i++ {
		r := &c.reads[i]
		if l := r.Blobs[Raw]; l.Present() {
			cnt.RawReads++
			cnt.RawBases += uint64(l.SeqLen)
		}
		if l := r.Blobs[Corrected]; l.Present() {
			cnt.CorrectedReads++
			cnt.CorrectedBases += uint64(l.SeqLen)
		}
		if l := r.Blobs[Trimmed]; l.Present() {
			cnt.TrimmedReads++
			cnt.TrimmedBases += uint64(l.SeqLen)
		}
	}
	return cnt
}

// LibrariesFile returns the library file name for a generation.
func LibrariesFile(gen uint64) string { return fmt.Sprintf("libraries.%06d", gen) }

// ReadsFile returns the read file name for a generation.
func ReadsFile(gen uint64) string { return fmt.Sprintf("reads.%06d", gen) }

// Save writes both arrays into dir as generation gen.
func (c *Catalog) Save(fsys fs.FileSystem, dir string, gen uint64) error {
	libs := make([]byte, len(c.libraries)*LibraryRecordSize)
	for i := range c.libraries {
		EncodeLibrary(libs[i*LibraryRecordSize:], &c.libraries[i])
	}
	if err := fs.WriteFileAtomic(fsys, filepath.Join(dir, LibrariesFile(gen)), libs); err != nil {
		return fmt.Errorf("failed to write libraries: %w", err)
	}

	reads := make([]byte, len(c.reads)*ReadRecordSize)
	for i := range c.reads {
		EncodeRead(reads[i*ReadRecordSize:], &c.reads[i])
	}
	if err := fs.WriteFileAtomic(fsys, filepath.Join(dir, ReadsFile(gen)), reads); err != nil {
		return fmt.Errorf("failed to write reads: %w", err)
	}
	return nil
}

// Load reads generation gen from dir. The files must hold exactly
// numLibraries and numReads records plus the reserved slot.
func Load(fsys fs.FileSystem, dir string, gen uint64, numLibraries, numReads uint32) (*Catalog, error) {
	c := &Catalog{}

	libs, err := readRecords(fsys, filepath.Join(dir, LibrariesFile(gen)), numLibraries, LibraryRecordSize)
	if err != nil {
		return nil, err
	}
	c.libraries = make([]LibraryRecord, numLibraries+1, max(int(numLibraries)+1, minCapacity))
	for i := range c.libraries {
		c.libraries[i] = DecodeLibrary(libs[i*LibraryRecordSize:])
	}

	reads, err := readRecords(fsys, filepath.Join(dir, ReadsFile(gen)), numReads, ReadRecordSize)
	if err != nil {
		return nil, err
	}
	c.reads = make([]ReadRecord, numReads+1, max(int(numReads)+1, minCapacity))
	for i := range c.reads {
		c.reads[i] = DecodeRead(reads[i*ReadRecordSize:])
	}
	return c, nil
}

func readRecords(fsys fs.FileSystem, name string, n uint32, size int) ([]byte, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: missing catalog file %s", errs.ErrCorrupt, filepath.Base(name))
		}
		return nil, err
	}
	if want := (int(n) + 1) * size; len(data) != want {
		return nil, fmt.Errorf("%w: %s holds %d bytes, want %d", errs.ErrCorrupt, filepath.Base(name), len(data), want)
	}
	return data, nil
}

// RemoveGeneration deletes the files of generation gen. Missing files are
// not an error.
func RemoveGeneration(fsys fs.FileSystem, dir string, gen uint64) error {
	for _, name := range []string{LibrariesFile(gen), ReadsFile(gen)} {
		if err := fsys.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
