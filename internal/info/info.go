package info

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/sqstore/internal/catalog"
	"github.com/hupe1980/sqstore/internal/errs"
	"github.com/hupe1980/sqstore/internal/fs"
)

const (
	// FileName is the info block file inside a store directory.
	FileName = "info"

	// Magic identifies a store info block ("sqstore\x00").
	Magic uint64 = 0x0065726f74737173
	// Version is the current format version.
	Version uint64 = 1

	headerSize = 48
)

// FormatError reports a magic, version or fingerprint mismatch.
type FormatError struct {
	Field string
	Want  uint64
	Got   uint64
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%v: %s is %#x, this build expects %#x", errs.ErrIncompatibleFormat, e.Field, e.Got, e.Want)
}

func (e *FormatError) Unwrap() error { return errs.ErrIncompatibleFormat }

// Info is the in-memory info block.
type Info struct {
	Magic   uint64
	Version uint64

	LibrarySize      uint32
	ReadSize         uint32
	MaxLibrariesBits uint32
	LibraryNameSize  uint32
	MaxReadsBits     uint32
	MaxReadLenBits   uint32

	Generation   uint64
	NumLibraries uint32
	NumReads     uint32
	NumBlobs     uint32

	RawReads       uint32
	CorrectedReads uint32
	TrimmedReads   uint32
	RawBases       uint64
	CorrectedBases uint64
	TrimmedBases   uint64

	UpdatedAt time.Time
}

// New returns an empty info block carrying this build's fingerprints.
func New() *Info {
	return &Info{
		Magic:            Magic,
		Version:          Version,
		LibrarySize:      catalog.LibraryRecordSize,
		ReadSize:         catalog.ReadRecordSize,
		MaxLibrariesBits: catalog.MaxLibrariesBits,
		LibraryNameSize:  catalog.LibraryNameSize,
		MaxReadsBits:     catalog.MaxReadsBits,
		MaxReadLenBits:   catalog.MaxReadLenBits,
	}
}

// Counts returns the stored per-category counters.
func (in *Info) Counts() catalog.Counts {
	return catalog.Counts{
		Reads:          in.NumReads,
		RawReads:       in.RawReads,
		CorrectedReads: in.CorrectedReads,
		TrimmedReads:   in.TrimmedReads,
		RawBases:       in.RawBases,
		CorrectedBases: in.CorrectedBases,
		TrimmedBases:   in.TrimmedBases,
	}
}

// SetCounts overwrites the per-category counters.
func (in *Info) SetCounts(c catalog.Counts) {
	in.NumReads = c.Reads
	in.RawReads = c.RawReads
	in.CorrectedReads = c.CorrectedReads
	in.TrimmedReads = c.TrimmedReads
	in.RawBases = c.RawBases
	in.CorrectedBases = c.CorrectedBases
	in.TrimmedBases = c.TrimmedBases
}

// Encode serializes the info block.
func (in *Info) Encode() []byte {
	payload := make([]byte, 0, 80)
	payload = binary.LittleEndian.AppendUint64(payload, in.Generation)
	payload = binary.LittleEndian.AppendUint32(payload, in.NumLibraries)
	payload = binary.LittleEndian.AppendUint32(payload, in.NumReads)
	payload = binary.LittleEndian.AppendUint32(payload, in.NumBlobs)
	payload = binary.LittleEndian.AppendUint32(payload, in.RawReads)
	payload = binary.LittleEndian.AppendUint32(payload, in.CorrectedReads)
	payload = binary.LittleEndian.AppendUint32(payload, in.TrimmedReads)
	payload = binary.LittleEndian.AppendUint64(payload, in.RawBases)
	payload = binary.LittleEndian.AppendUint64(payload, in.CorrectedBases)
	payload = binary.LittleEndian.AppendUint64(payload, in.TrimmedBases)
	payload = binary.LittleEndian.AppendUint64(payload, uint64(in.UpdatedAt.UnixNano()))

	buf := make([]byte, headerSize, headerSize+len(payload))
	binary.LittleEndian.PutUint64(buf[0:8], in.Magic)
	binary.LittleEndian.PutUint64(buf[8:16], in.Version)
	binary.LittleEndian.PutUint32(buf[16:20], in.LibrarySize)
	binary.LittleEndian.PutUint32(buf[20:24], in.ReadSize)
	binary.LittleEndian.PutUint32(buf[24:28], in.MaxLibrariesBits)
	binary.LittleEndian.PutUint32(buf[28:32], in.LibraryNameSize)
	binary.LittleEndian.PutUint32(buf[32:36], in.MaxReadsBits)
	binary.LittleEndian.PutUint32(buf[36:40], in.MaxReadLenBits)
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[44:48], crc32.ChecksumIEEE(payload))
	return append(buf, payload...)
}

// Decode parses and validates an encoded info block.
func Decode(data []byte) (*Info, error) {
	if len(data) < 8 {
		return nil, &FormatError{Field: "magic", Want: Magic}
	}

	in := &Info{Magic: binary.LittleEndian.Uint64(data[0:8])}
	if in.Magic != Magic {
		return nil, &FormatError{Field: "magic", Want: Magic, Got: in.Magic}
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: info header truncated (%d bytes)", errs.ErrCorrupt, len(data))
	}

	in.Version = binary.LittleEndian.Uint64(data[8:16])
	in.LibrarySize = binary.LittleEndian.Uint32(data[16:20])
	in.ReadSize = binary.LittleEndian.Uint32(data[20:24])
	in.MaxLibrariesBits = binary.LittleEndian.Uint32(data[24:28])
	in.LibraryNameSize = binary.LittleEndian.Uint32(data[28:32])
	in.MaxReadsBits = binary.LittleEndian.Uint32(data[32:36])
	in.MaxReadLenBits = binary.LittleEndian.Uint32(data[36:40])

	if err := in.Validate(); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(data[40:44])
	checksum := binary.LittleEndian.Uint32(data[44:48])
	payload := data[headerSize:]
	if uint32(len(payload)) != length {
		return nil, fmt.Errorf("%w: info payload is %d bytes, header says %d", errs.ErrCorrupt, len(payload), length)
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, fmt.Errorf("%w: info checksum mismatch", errs.ErrCorrupt)
	}

	pb := payloadReader{buf: payload}
	in.Generation = pb.uint64()
	in.NumLibraries = pb.uint32()
	in.NumReads = pb.uint32()
	in.NumBlobs = pb.uint32()
	in.RawReads = pb.uint32()
	in.CorrectedReads = pb.uint32()
	in.TrimmedReads = pb.uint32()
	in.RawBases = pb.uint64()
	in.CorrectedBases = pb.uint64()
	in.TrimmedBases = pb.uint64()
	in.UpdatedAt = time.Unix(0, int64(pb.uint64()))
	if pb.err != nil {
		return nil, fmt.Errorf("%w: info payload: %v", errs.ErrCorrupt, pb.err)
	}
	if in.NumLibraries > catalog.MaxLibraries {
		return nil, fmt.Errorf("%w: info claims %d libraries", errs.ErrCorrupt, in.NumLibraries)
	}
	return in, nil
}

// Validate compares version and fingerprints against this build.
func (in *Info) Validate() error {
	want := New()
	checks := []struct {
		field     string
		want, got uint64
	}{
		{"magic", want.Magic, in.Magic},
		{"version", want.Version, in.Version},
		{"library record size", uint64(want.LibrarySize), uint64(in.LibrarySize)},
		{"read record size", uint64(want.ReadSize), uint64(in.ReadSize)},
		{"library id bits", uint64(want.MaxLibrariesBits), uint64(in.MaxLibrariesBits)},
		{"library name size", uint64(want.LibraryNameSize), uint64(in.LibraryNameSize)},
		{"read count bits", uint64(want.MaxReadsBits), uint64(in.MaxReadsBits)},
		{"read length bits", uint64(want.MaxReadLenBits), uint64(in.MaxReadLenBits)},
	}
	for _, c := range checks {
		if c.want != c.got {
			return &FormatError{Field: c.field, Want: c.want, Got: c.got}
		}
	}
	return nil
}

// Load reads the info block of the store in dir. A missing file maps to
// errs.ErrNotFound.
func Load(fsys fs.FileSystem, dir string) (*Info, error) {
	data, err := fs.ReadFile(fsys, filepath.Join(dir, FileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no store at %s", errs.ErrNotFound, dir)
		}
		return nil, fmt.Errorf("failed to read info block: %w", err)
	}
	return Decode(data)
}

// Save atomically replaces the info block of the store in dir.
func (in *Info) Save(fsys fs.FileSystem, dir string) error {
	in.UpdatedAt = time.Now()
	if err := fs.WriteFileAtomic(fsys, filepath.Join(dir, FileName), in.Encode()); err != nil {
		return fmt.Errorf("failed to write info block: %w", err)
	}
	return nil
}

type payloadReader struct {
	buf []byte
	pos int
	err error
}

func (p *payloadReader) uint64() uint64 {
	if p.err != nil {
		return 0
	}
	if p.pos+8 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *payloadReader) uint32() uint32 {
	if p.err != nil {
		return 0
	}
	if p.pos+4 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}
