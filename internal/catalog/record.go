package catalog

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Generation names one version of a read's payload.
type Generation uint8

const (
	Raw Generation = iota
	Corrected
	Trimmed

	// NumGenerations is the number of payload generations a read can hold.
	NumGenerations = 3
)

func (g Generation) String() string {
	switch g {
	case Raw:
		return "raw"
	case Corrected:
		return "corrected"
	case Trimmed:
		return "trimmed"
	}
	return fmt.Sprintf("generation(%d)", uint8(g))
}

// Valid reports whether g is a known generation.
func (g Generation) Valid() bool { return g < NumGenerations }

// Locator addresses one payload inside the blob files.
type Locator struct {
	File   uint32 // blob file index
	SeqLen uint32 // bases in this generation
	Offset uint64 // byte offset of the blob record
	Size   uint32 // byte size of the blob record, 0 if absent
}

// Present reports whether the locator points at a payload.
func (l Locator) Present() bool { return l.Size > 0 }

// Library flags.
const (
	LibraryTrimByDefault uint32 = 1 << iota
	LibraryCorrectByDefault
	LibraryCheckForSubReads
)

// LibraryRecord is the fixed-size library entry.
type LibraryRecord struct {
	ID    uint32
	Flags uint32
	Name  string
}

// Read flags.
const (
	ReadIgnore uint32 = 1 << iota
)

// ReadRecord is the fixed-size read entry. The identifier is its position.
type ReadRecord struct {
	Library    uint32
	Flags      uint32
	ClearBegin uint32
	ClearEnd   uint32
	Blobs      [NumGenerations]Locator
}

// Ignored reports whether the read carries the ignore flag.
func (r *ReadRecord) Ignored() bool { return r.Flags&ReadIgnore != 0 }

// EncodeLibrary writes rec into b, which must be LibraryRecordSize long.
func EncodeLibrary(b []byte, rec *LibraryRecord) {
	binary.LittleEndian.PutUint32(b[0:4], rec.ID)
	binary.LittleEndian.PutUint32(b[4:8], rec.Flags)
	name := b[8:LibraryRecordSize]
	clear(name)
	copy(name, rec.Name)
}

// DecodeLibrary is the inverse of EncodeLibrary.
func DecodeLibrary(b []byte) LibraryRecord {
	name := b[8:LibraryRecordSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return LibraryRecord{
		ID:    binary.LittleEndian.Uint32(b[0:4]),
		Flags: binary.LittleEndian.Uint32(b[4:8]),
		Name:  string(name),
	}
}

// EncodeRead writes rec into b, which must be ReadRecordSize long.
func EncodeRead(b []byte, rec *ReadRecord) {
	binary.LittleEndian.PutUint32(b[0:4], rec.Library)
	binary.LittleEndian.PutUint32(b[4:8], rec.Flags)
	binary.LittleEndian.PutUint32(b[8:12], rec.ClearBegin)
	binary.LittleEndian.PutUint32(b[12:16], rec.ClearEnd)
	for g := range NumGenerations {
		p := b[16+g*locatorSize:]
		l := rec.Blobs[g]
		binary.LittleEndian.PutUint32(p[0:4], l.File)
		binary.LittleEndian.PutUint32(p[4:8], l.SeqLen)
		binary.LittleEndian.PutUint64(p[8:16], l.Offset)
		binary.LittleEndian.PutUint32(p[16:20], l.Size)
		binary.LittleEndian.PutUint32(p[20:24], 0)
	}
}

// DecodeRead is the inverse of EncodeRead.
func DecodeRead(b []byte) ReadRecord {
	rec := ReadRecord{
		Library:    binary.LittleEndian.Uint32(b[0:4]),
		Flags:      binary.LittleEndian.Uint32(b[4:8]),
		ClearBegin: binary.LittleEndian.Uint32(b[8:12]),
		ClearEnd:   binary.LittleEndian.Uint32(b[12:16]),
	}
	for g := range NumGenerations {
		p := b[16+g*locatorSize:]
		rec.Blobs[g] = Locator{
			File:   binary.LittleEndian.Uint32(p[0:4]),
			SeqLen: binary.LittleEndian.Uint32(p[4:8]),
			Offset: binary.LittleEndian.Uint64(p[8:16]),
			Size:   binary.LittleEndian.Uint32(p[16:20]),
		}
	}
	return rec
}
