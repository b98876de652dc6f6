package archive

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/hupe1980/sqstore/internal/errs"
)

// ManifestName is the blob written last by Export. An archive without it
// is incomplete.
const ManifestName = "MANIFEST"

const (
	manifestMagic   = 0x52415153 // "SQAR"
	manifestVersion = 1
	headerSize      = 16
	maxNameLen      = 1<<16 - 1
)

// Entry describes one archived store file.
type Entry struct {
	// Name is the file path relative to the store directory, with forward
	// slashes.
	Name string
	Size int64
	// CRC is the IEEE CRC32 of the file contents.
	CRC uint32
}

// Manifest lists the files of an archived store.
type Manifest struct {
	Generation uint64
	NumReads   uint32
	CreatedAt  time.Time
	Entries    []Entry
}

// TotalSize returns the summed size of all entries.
func (m *Manifest) TotalSize() int64 {
	var n int64
	for _, e := range m.Entries {
		n += e.Size
	}
	return n
}

// Encode serializes the manifest.
// Format:
// Magic (4 bytes)
// Version (4 bytes)
// Checksum (4 bytes) - CRC32 of payload
// PayloadLength (4 bytes)
// Payload:
//
//	Generation (8 bytes)
//	NumReads (4 bytes)
//	CreatedAt (8 bytes) - UnixNano
//	NumEntries (4 bytes)
//	Entries...
//	  NameLen (2 bytes)
//	  Name (bytes)
//	  Size (8 bytes)
//	  CRC (4 bytes)
func (m *Manifest) Encode() ([]byte, error) {
	pb := &payloadBuffer{buf: make([]byte, 0, 32+len(m.Entries)*32)}
	pb.writeUint64(m.Generation)
	pb.writeUint32(m.NumReads)
	pb.writeUint64(uint64(m.CreatedAt.UnixNano()))
	pb.writeUint32(uint32(len(m.Entries)))
	for _, e := range m.Entries {
		pb.writeString(e.Name)
		pb.writeUint64(uint64(e.Size))
		pb.writeUint32(e.CRC)
	}
	if pb.err != nil {
		return nil, pb.err
	}

	out := make([]byte, headerSize, headerSize+len(pb.buf))
	binary.LittleEndian.PutUint32(out[0:4], manifestMagic)
	binary.LittleEndian.PutUint32(out[4:8], manifestVersion)
	binary.LittleEndian.PutUint32(out[8:12], crc32.ChecksumIEEE(pb.buf))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(pb.buf)))
	return append(out, pb.buf...), nil
}

// DecodeManifest parses an encoded manifest.
func DecodeManifest(data []byte) (*Manifest, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: manifest truncated (%d bytes)", errs.ErrCorrupt, len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != manifestMagic {
		return nil, fmt.Errorf("%w: manifest magic %#x", errs.ErrIncompatibleFormat, magic)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != manifestVersion {
		return nil, fmt.Errorf("%w: manifest version %d", errs.ErrIncompatibleFormat, v)
	}
	checksum := binary.LittleEndian.Uint32(data[8:12])
	length := binary.LittleEndian.Uint32(data[12:16])
	payload := data[headerSize:]
	if uint32(len(payload)) != length {
		return nil, fmt.Errorf("%w: manifest payload is %d bytes, header says %d", errs.ErrCorrupt, len(payload), length)
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, fmt.Errorf("%w: manifest checksum mismatch", errs.ErrCorrupt)
	}

	pr := &payloadReader{buf: payload}
	m := &Manifest{
		Generation: pr.readUint64(),
		NumReads:   pr.readUint32(),
		CreatedAt:  time.Unix(0, int64(pr.readUint64())),
	}
	n := pr.readUint32()
	if pr.err == nil && uint64(n)*14 > uint64(len(payload)) {
		return nil, fmt.Errorf("%w: manifest claims %d entries", errs.ErrCorrupt, n)
	}
	m.Entries = make([]Entry, 0, n)
	for i := uint32(0); i < n && pr.err == nil; i++ {
		m.Entries = append(m.Entries, Entry{
			Name: pr.readString(),
			Size: int64(pr.readUint64()),
			CRC:  pr.readUint32(),
		})
	}
	if pr.err != nil {
		return nil, fmt.Errorf("%w: manifest payload: %v", errs.ErrCorrupt, pr.err)
	}
	return m, nil
}

type payloadBuffer struct {
	buf []byte
	err error
}

func (p *payloadBuffer) writeUint32(v uint32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *payloadBuffer) writeUint64(v uint64) {
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeString(s string) {
	if len(s) > maxNameLen {
		if p.err == nil {
			p.err = fmt.Errorf("archive: name too long (%d bytes)", len(s))
		}
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

type payloadReader struct {
	buf []byte
	off int
	err error
}

func (p *payloadReader) next(n int) []byte {
	if p.err != nil {
		return nil
	}
	if p.off+n > len(p.buf) {
		p.err = fmt.Errorf("unexpected end at offset %d", p.off)
		return nil
	}
	b := p.buf[p.off : p.off+n]
	p.off += n
	return b
}

func (p *payloadReader) readUint32() uint32 {
	if b := p.next(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (p *payloadReader) readUint64() uint64 {
	if b := p.next(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (p *payloadReader) readString() string {
	b := p.next(2)
	if b == nil {
		return ""
	}
	return string(p.next(int(binary.LittleEndian.Uint16(b))))
}
