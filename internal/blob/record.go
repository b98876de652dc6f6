package blob

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/hupe1980/sqstore/internal/codec"
	"github.com/hupe1980/sqstore/internal/errs"
)

const (
	fileMagic   = "SQBLOBS1"
	fileVersion = 1

	// HeaderSize is the size of the blob file header.
	HeaderSize = 16

	recordTag = "BLOB"

	// RecordHeaderSize is the size of the per-record header.
	RecordHeaderSize = 16
)

// ErrInvalidData is returned when a payload cannot be encoded.
var ErrInvalidData = errors.New("blob: invalid data")

// Data is one decoded payload.
type Data struct {
	Name string
	Seq  []byte
	Qual []byte
}

func encodePayload(d *Data) ([]byte, error) {
	if len(d.Qual) != 0 && len(d.Qual) != len(d.Seq) {
		return nil, fmt.Errorf("%w: quality length %d does not match sequence length %d", ErrInvalidData, len(d.Qual), len(d.Seq))
	}
	buf := make([]byte, 0, 4+len(d.Name)+5+len(d.Seq)+len(d.Qual))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(d.Name)))
	buf = append(buf, d.Name...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(d.Seq)))
	if len(d.Qual) > 0 {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, d.Seq...)
	buf = append(buf, d.Qual...)
	return buf, nil
}

func decodePayload(p []byte) (*Data, error) {
	if len(p) < 4 {
		return nil, fmt.Errorf("%w: payload truncated", errs.ErrCorrupt)
	}
	nameLen := int(binary.LittleEndian.Uint32(p))
	p = p[4:]
	if nameLen > len(p)-5 {
		return nil, fmt.Errorf("%w: name length %d exceeds payload", errs.ErrCorrupt, nameLen)
	}
	d := &Data{Name: string(p[:nameLen])}
	p = p[nameLen:]

	seqLen := int(binary.LittleEndian.Uint32(p))
	hasQual := p[4] == 1
	p = p[5:]

	want := seqLen
	if hasQual {
		want *= 2
	}
	if len(p) != want {
		return nil, fmt.Errorf("%w: payload holds %d bytes, want %d", errs.ErrCorrupt, len(p), want)
	}
	d.Seq = p[:seqLen:seqLen]
	if hasQual {
		d.Qual = p[seqLen:]
	}
	return d, nil
}

// EncodeRecord encodes d as a complete record using codec c.
func EncodeRecord(c codec.Codec, d *Data) ([]byte, error) {
	payload, err := encodePayload(d)
	if err != nil {
		return nil, err
	}
	stored, used, err := codec.Encode(c, payload)
	if err != nil {
		return nil, err
	}

	rec := make([]byte, RecordHeaderSize, RecordHeaderSize+len(stored))
	copy(rec[0:4], recordTag)
	rec[4] = byte(used)
	binary.LittleEndian.PutUint32(rec[8:12], uint32(len(stored)))
	binary.LittleEndian.PutUint32(rec[12:16], crc32.ChecksumIEEE(stored))
	return append(rec, stored...), nil
}

// VerifyRecord checks tag, length and checksum of an encoded record.
func VerifyRecord(rec []byte) error {
	if len(rec) < RecordHeaderSize {
		return fmt.Errorf("%w: record of %d bytes", errs.ErrCorrupt, len(rec))
	}
	if string(rec[0:4]) != recordTag {
		return fmt.Errorf("%w: bad record tag %q", errs.ErrCorrupt, rec[0:4])
	}
	length := binary.LittleEndian.Uint32(rec[8:12])
	if int(length) != len(rec)-RecordHeaderSize {
		return fmt.Errorf("%w: record length %d, locator covers %d", errs.ErrCorrupt, length, len(rec)-RecordHeaderSize)
	}
	if crc32.ChecksumIEEE(rec[RecordHeaderSize:]) != binary.LittleEndian.Uint32(rec[12:16]) {
		return fmt.Errorf("%w: record checksum mismatch", errs.ErrCorrupt)
	}
	return nil
}

// DecodeRecord verifies and decodes an encoded record. The returned slices
// do not alias rec.
func DecodeRecord(rec []byte) (*Data, error) {
	if err := VerifyRecord(rec); err != nil {
		return nil, err
	}
	c := codec.Codec(rec[4])
	stored := rec[RecordHeaderSize:]
	if c == codec.None {
		stored = append([]byte(nil), stored...)
	}
	payload, err := codec.Decode(c, stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCorrupt, err)
	}
	return decodePayload(payload)
}

// ReadRecordFrom reads one encoded record from r without verifying its
// checksum. A clean end of input before the header returns io.EOF. Records
// storing more than limit bytes are rejected as corrupt.
func ReadRecordFrom(r io.Reader, limit uint32) ([]byte, error) {
	hdr := make([]byte, RecordHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: record header truncated", errs.ErrShortRead)
		}
		return nil, err
	}
	if string(hdr[0:4]) != recordTag {
		return nil, fmt.Errorf("%w: bad record tag %q", errs.ErrCorrupt, hdr[0:4])
	}
	n := binary.LittleEndian.Uint32(hdr[8:12])
	if n > limit {
		return nil, fmt.Errorf("%w: record of %d bytes exceeds %d", errs.ErrCorrupt, n, limit)
	}
	rec := make([]byte, RecordHeaderSize+int(n))
	copy(rec, hdr)
	if _, err := io.ReadFull(r, rec[RecordHeaderSize:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: record body truncated", errs.ErrShortRead)
		}
		return nil, err
	}
	return rec, nil
}

func fileHeader() []byte {
	h := make([]byte, HeaderSize)
	copy(h[0:8], fileMagic)
	binary.LittleEndian.PutUint32(h[8:12], fileVersion)
	return h
}

// CheckHeader validates a blob file header.
func CheckHeader(h []byte) error {
	if len(h) < HeaderSize || string(h[0:8]) != fileMagic {
		return fmt.Errorf("%w: not a blob file", errs.ErrIncompatibleFormat)
	}
	if v := binary.LittleEndian.Uint32(h[8:12]); v != fileVersion {
		return fmt.Errorf("%w: blob file version %d, expected %d", errs.ErrIncompatibleFormat, v, fileVersion)
	}
	return nil
}
