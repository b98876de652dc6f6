package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps objects in a map. It backs archive tests and is safe for
// concurrent use. Like the object store backends it records the CRC32 of
// each object when it is written.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryBlob
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryBlob)}
}

func (m *MemoryStore) Open(_ context.Context, name string) (Blob, error) {
	m.mu.RLock()
	b, ok := m.objects[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	// Objects are replaced, never modified, so the slice can be shared.
	return b, nil
}

func (m *MemoryStore) Create(_ context.Context, name string) (WritableBlob, error) {
	return &memoryWriter{store: m, name: name}, nil
}

func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	m.store(name, bytes.Clone(data))
	return nil
}

func (m *MemoryStore) store(name string, data []byte) {
	m.mu.Lock()
	m.objects[name] = memoryBlob{data: data, crc: crc32.ChecksumIEEE(data)}
	m.mu.Unlock()
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.objects, name)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Corrupt inverts the byte at off in object name and reports whether the
// object was long enough. The recorded checksum is left alone, as with bit
// rot on a real backend.
func (m *MemoryStore) Corrupt(name string, off int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[name]
	if !ok || off < 0 || off >= len(b.data) {
		return false
	}
	b.data = bytes.Clone(b.data)
	b.data[off] ^= 0xff
	m.objects[name] = b
	return true
}

// memoryBlob is an immutable object snapshot.
type memoryBlob struct {
	data []byte
	crc  uint32
}

func (b memoryBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("blobstore: negative offset %d", off)
	}
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b memoryBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	if off < 0 || off >= int64(len(b.data)) {
		return nil, io.EOF
	}
	end := min(off+length, int64(len(b.data)))
	return io.NopCloser(bytes.NewReader(b.data[off:end])), nil
}

func (b memoryBlob) Size() int64           { return int64(len(b.data)) }
func (b memoryBlob) CRC32() (uint32, bool) { return b.crc, true }
func (b memoryBlob) Close() error          { return nil }

// memoryWriter publishes its buffer on Close.
type memoryWriter struct {
	store *MemoryStore
	name  string
	buf   bytes.Buffer
	done  bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, ErrBlobClosed
	}
	return w.buf.Write(p)
}

func (w *memoryWriter) Sync() error { return nil }

// Abort drops the buffer without publishing it.
func (w *memoryWriter) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}

func (w *memoryWriter) Close() error {
	if w.done {
		return ErrBlobClosed
	}
	w.done = true
	w.store.store(w.name, bytes.Clone(w.buf.Bytes()))
	return nil
}
