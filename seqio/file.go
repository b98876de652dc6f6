package seqio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// File reads records from a plain, gzip or zstd compressed sequence file.
// It can be rewound to the first record.
type File struct {
	path string
	f    *os.File
	dec  io.Closer
	*Reader
}

// Open opens the sequence file at path. Compression is detected from the
// content.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	sf := &File{path: path, f: f}
	if err := sf.reset(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return sf, nil
}

// Path returns the file path.
func (sf *File) Path() string { return sf.path }

func (sf *File) reset() error {
	if sf.dec != nil {
		_ = sf.dec.Close()
		sf.dec = nil
	}
	if _, err := sf.f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	br := bufio.NewReader(sf.f)
	head, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return err
	}

	var r io.Reader = br
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("%s: %w", sf.path, err)
		}
		sf.dec, r = zr, zr
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return fmt.Errorf("%s: %w", sf.path, err)
		}
		sf.dec, r = zstdCloser{zr}, zr
	}
	sf.Reader = NewReader(r)
	return nil
}

// Rewind restarts reading at the first record.
func (sf *File) Rewind() error {
	return sf.reset()
}

// Close closes the file.
func (sf *File) Close() error {
	if sf.dec != nil {
		_ = sf.dec.Close()
	}
	return sf.f.Close()
}

type zstdCloser struct {
	d *zstd.Decoder
}

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}
