package sqstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/hupe1980/sqstore/internal/blob"
	"github.com/hupe1980/sqstore/internal/catalog"
)

// A saved read is a fixed header followed by at most one blob record holding
// the payload loads would return.
const (
	streamMagic      = "SQRD"
	streamVersion    = 1
	streamHeaderSize = 32

	// streamNoPayload marks a header without a following record.
	streamNoPayload = 0xFF

	// maxStreamRecord bounds the record a stream header may announce.
	maxStreamRecord = 2*MaxReadLen + 1<<20
)

// SaveRead writes read id and the payload loads would return to w, in a
// form LoadRead accepts without opening the store. Reads without a payload
// are saved with metadata only.
func (s *Store) SaveRead(w io.Writer, id uint32) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	rec, err := s.readLocked(id)
	if err != nil {
		return err
	}

	d, err := s.payloadLocked(id, rec)
	if err != nil && !errors.Is(err, ErrNoPayload) {
		return err
	}

	g := uint8(streamNoPayload)
	if d != nil {
		g = uint8(d.Generation)
	}
	if _, err := w.Write(encodeStreamHeader(id, rec, g)); err != nil {
		return fmt.Errorf("failed to save read %d: %w", id, err)
	}
	if d == nil {
		return nil
	}

	body, err := blob.EncodeRecord(s.opts.compression, &blob.Data{Name: d.Name, Seq: d.Seq, Qual: d.Qual})
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to save read %d: %w", id, err)
	}
	return nil
}

func encodeStreamHeader(id uint32, rec *catalog.ReadRecord, g uint8) []byte {
	h := make([]byte, streamHeaderSize)
	copy(h[0:4], streamMagic)
	h[4] = streamVersion
	h[5] = g
	binary.LittleEndian.PutUint32(h[8:12], id)
	binary.LittleEndian.PutUint32(h[12:16], rec.Library)
	binary.LittleEndian.PutUint32(h[16:20], rec.Flags)
	binary.LittleEndian.PutUint32(h[20:24], rec.ClearBegin)
	binary.LittleEndian.PutUint32(h[24:28], rec.ClearEnd)
	binary.LittleEndian.PutUint32(h[28:32], crc32.ChecksumIEEE(h[:28]))
	return h
}

// LoadRead reads one read saved by SaveRead. The returned Read reports only
// the saved generation; data is nil when the read was saved without a
// payload. LoadRead returns io.EOF when r is exhausted before a header.
func LoadRead(r io.Reader) (Read, *ReadData, error) {
	h := make([]byte, streamHeaderSize)
	if _, err := io.ReadFull(r, h); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Read{}, nil, fmt.Errorf("%w: saved read header truncated", ErrShortRead)
		}
		return Read{}, nil, err
	}
	if string(h[0:4]) != streamMagic {
		return Read{}, nil, fmt.Errorf("%w: not a saved read", ErrCorrupt)
	}
	if h[4] != streamVersion {
		return Read{}, nil, fmt.Errorf("%w: saved read version %d, expected %d", ErrIncompatibleFormat, h[4], streamVersion)
	}
	if crc32.ChecksumIEEE(h[:28]) != binary.LittleEndian.Uint32(h[28:32]) {
		return Read{}, nil, fmt.Errorf("%w: saved read header checksum mismatch", ErrCorrupt)
	}

	id := binary.LittleEndian.Uint32(h[8:12])
	rec := &catalog.ReadRecord{
		Library:    binary.LittleEndian.Uint32(h[12:16]),
		Flags:      binary.LittleEndian.Uint32(h[16:20]),
		ClearBegin: binary.LittleEndian.Uint32(h[20:24]),
		ClearEnd:   binary.LittleEndian.Uint32(h[24:28]),
	}
	if id == 0 || rec.ClearBegin > rec.ClearEnd {
		return Read{}, nil, fmt.Errorf("%w: saved read %d has clear range [%d, %d)", ErrCorrupt, id, rec.ClearBegin, rec.ClearEnd)
	}

	g := Generation(h[5])
	if h[5] == streamNoPayload {
		return newRead(id, rec, []Generation{}), nil, nil
	}
	if !g.Valid() {
		return Read{}, nil, fmt.Errorf("%w: saved read %d has generation %d", ErrCorrupt, id, h[5])
	}

	body, err := blob.ReadRecordFrom(r, maxStreamRecord)
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: saved read %d has no payload record", ErrShortRead, id)
	}
	if err != nil {
		return Read{}, nil, err
	}
	d, err := blob.DecodeRecord(body)
	if err != nil {
		return Read{}, nil, fmt.Errorf("saved read %d: %w", id, err)
	}
	if len(d.Seq) > MaxReadLen {
		return Read{}, nil, fmt.Errorf("%w: saved read %d holds %d bases", ErrCorrupt, id, len(d.Seq))
	}

	rec.Blobs[g] = catalog.Locator{SeqLen: uint32(len(d.Seq)), Size: uint32(len(body))}
	return newRead(id, rec, []Generation{g}), &ReadData{Name: d.Name, Seq: d.Seq, Qual: d.Qual, Generation: g}, nil
}
