//go:build unix

package mmap

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var (
	// ErrClosed is returned when accessing a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrOutOfBounds is returned when a range extends past the mapping.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
)

// AccessPattern is a paging hint passed to madvise.
type AccessPattern int

const (
	AccessDefault AccessPattern = iota
	AccessSequential
	AccessRandom
	AccessWillNeed
)

// Mapping is a read-only mapping of a whole file.
type Mapping struct {
	data   []byte
	closed atomic.Bool
}

// Open maps the file at path. Empty files yield an empty mapping.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return &Mapping{}, nil
	}
	if int64(int(size)) != size {
		return nil, fmt.Errorf("mmap: %s is too large to map (%d bytes)", path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %s: %w", path, err)
	}
	return &Mapping{data: data}, nil
}

// Size returns the mapped length.
func (m *Mapping) Size() int { return len(m.data) }

// Bytes returns the whole mapping, or nil after Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Slice returns data[off:off+n] without copying.
func (m *Mapping) Slice(off uint64, n uint32) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	end := off + uint64(n)
	if end < off || end > uint64(len(m.data)) {
		return nil, fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfBounds, off, end, len(m.data))
	}
	return m.data[off:end:end], nil
}

// Advise passes an access hint for the whole mapping to the kernel.
func (m *Mapping) Advise(p AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(m.data) == 0 {
		return nil
	}
	advice := unix.MADV_NORMAL
	switch p {
	case AccessSequential:
		advice = unix.MADV_SEQUENTIAL
	case AccessRandom:
		advice = unix.MADV_RANDOM
	case AccessWillNeed:
		advice = unix.MADV_WILLNEED
	}
	return unix.Madvise(m.data, advice)
}

// Close unmaps the file.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) || m.data == nil {
		return nil
	}
	return unix.Munmap(m.data)
}
