package partition

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/sqstore/internal/blob"
	"github.com/hupe1980/sqstore/internal/catalog"
	"github.com/hupe1980/sqstore/internal/errs"
	"github.com/hupe1980/sqstore/internal/fs"
)

const (
	// Dir is the partition directory inside a store.
	Dir = "partitions"
	// TmpDir holds a build in progress.
	TmpDir = "partitions.tmp"
	// MapFile is the global table, written last.
	MapFile = "map"

	mapMagic     = "SQPARTMP"
	indexMagic   = "SQPARTIX"
	tableVersion = 1

	mapHeaderSize   = 28
	indexHeaderSize = 16
	entrySize       = 4 + catalog.NumGenerations*16
)

// IndexFile returns the local index file name of partition p.
func IndexFile(p uint32) string { return fmt.Sprintf("index.%04d", p) }

// BlobFile returns the blob file name of partition p.
func BlobFile(p uint32) string { return blob.FileName(p) }

// Table is the global read-to-partition assignment.
type Table struct {
	// ReadsPerPartition[p] counts the reads of partition p; index 0 is unused.
	ReadsPerPartition []uint32
	// Partition[id] is the partition of read id; index 0 is unused.
	Partition []uint32
	// Local[id] is the position of read id inside its partition index.
	Local []uint32
}

// NumPartitions returns the partition count.
func (t *Table) NumPartitions() uint32 { return uint32(len(t.ReadsPerPartition) - 1) }

// NumReads returns the number of reads the table covers.
func (t *Table) NumReads() uint32 { return uint32(len(t.Partition) - 1) }

// PartitionOf returns the partition of read id, or 0 when id is not covered.
func (t *Table) PartitionOf(id uint32) uint32 {
	if id == 0 || id >= uint32(len(t.Partition)) {
		return 0
	}
	return t.Partition[id]
}

// Members returns the reads of partition p as a bitmap.
func (t *Table) Members(p uint32) *roaring.Bitmap {
	bm := roaring.New()
	for id := uint32(1); id < uint32(len(t.Partition)); id++ {
		if t.Partition[id] == p {
			bm.Add(id)
		}
	}
	return bm
}

func (t *Table) encode() []byte {
	np, nr := t.NumPartitions(), t.NumReads()
	payload := make([]byte, 0, 4*(int(np)+1+2*(int(nr)+1)))
	for _, v := range t.ReadsPerPartition {
		payload = binary.LittleEndian.AppendUint32(payload, v)
	}
	for _, v := range t.Partition {
		payload = binary.LittleEndian.AppendUint32(payload, v)
	}
	for _, v := range t.Local {
		payload = binary.LittleEndian.AppendUint32(payload, v)
	}

	buf := make([]byte, mapHeaderSize, mapHeaderSize+len(payload))
	copy(buf[0:8], mapMagic)
	binary.LittleEndian.PutUint32(buf[8:12], tableVersion)
	binary.LittleEndian.PutUint32(buf[12:16], np)
	binary.LittleEndian.PutUint32(buf[16:20], nr)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[24:28], crc32.ChecksumIEEE(payload))
	return append(buf, payload...)
}

func decodeTable(data []byte) (*Table, error) {
	if len(data) < mapHeaderSize || string(data[0:8]) != mapMagic {
		return nil, fmt.Errorf("%w: invalid partition map header", errs.ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(data[8:12]); v != tableVersion {
		return nil, fmt.Errorf("%w: partition map version %d", errs.ErrIncompatibleFormat, v)
	}
	np := binary.LittleEndian.Uint32(data[12:16])
	nr := binary.LittleEndian.Uint32(data[16:20])
	length := binary.LittleEndian.Uint32(data[20:24])
	payload := data[mapHeaderSize:]

	want := 4 * (uint64(np) + 1 + 2*(uint64(nr)+1))
	if uint64(len(payload)) != want || uint64(length) != want {
		return nil, fmt.Errorf("%w: partition map holds %d bytes, want %d", errs.ErrCorrupt, len(payload), want)
	}
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(data[24:28]) {
		return nil, fmt.Errorf("%w: partition map checksum mismatch", errs.ErrCorrupt)
	}

	next := func(n uint32) []uint32 {
		out := make([]uint32, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(payload)
			payload = payload[4:]
		}
		return out
	}
	t := &Table{
		ReadsPerPartition: next(np + 1),
		Partition:         next(nr + 1),
		Local:             next(nr + 1),
	}
	return t, nil
}

// LoadTable reads the partition map of the store in dir. It returns nil and
// no error when the store is not partitioned.
func LoadTable(fsys fs.FileSystem, dir string) (*Table, error) {
	data, err := fs.ReadFile(fsys, filepath.Join(dir, Dir, MapFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read partition map: %w", err)
	}
	return decodeTable(data)
}

// Entry is one read's record in a partition index. Locator offsets refer to
// the partition blob file.
type Entry struct {
	Read  uint32
	Blobs [catalog.NumGenerations]catalog.Locator
}

func encodeIndex(entries []Entry) []byte {
	buf := make([]byte, indexHeaderSize, indexHeaderSize+len(entries)*entrySize+4)
	copy(buf[0:8], indexMagic)
	binary.LittleEndian.PutUint32(buf[8:12], tableVersion)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(entries)))
	for _, e := range entries {
		buf = binary.LittleEndian.AppendUint32(buf, e.Read)
		for _, l := range e.Blobs {
			buf = binary.LittleEndian.AppendUint64(buf, l.Offset)
			buf = binary.LittleEndian.AppendUint32(buf, l.Size)
			buf = binary.LittleEndian.AppendUint32(buf, l.SeqLen)
		}
	}
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

func decodeIndex(data []byte, p uint32) ([]Entry, error) {
	if len(data) < indexHeaderSize+4 || string(data[0:8]) != indexMagic {
		return nil, fmt.Errorf("%w: invalid partition index header", errs.ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(data[8:12]); v != tableVersion {
		return nil, fmt.Errorf("%w: partition index version %d", errs.ErrIncompatibleFormat, v)
	}
	n := binary.LittleEndian.Uint32(data[12:16])
	if uint64(len(data)) != uint64(indexHeaderSize)+uint64(n)*entrySize+4 {
		return nil, fmt.Errorf("%w: partition index of %d bytes for %d entries", errs.ErrCorrupt, len(data), n)
	}
	body, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("%w: partition index checksum mismatch", errs.ErrCorrupt)
	}

	entries := make([]Entry, n)
	b := body[indexHeaderSize:]
	for i := range entries {
		entries[i].Read = binary.LittleEndian.Uint32(b)
		b = b[4:]
		for g := range entries[i].Blobs {
			entries[i].Blobs[g] = catalog.Locator{
				File:   p,
				Offset: binary.LittleEndian.Uint64(b[0:8]),
				Size:   binary.LittleEndian.Uint32(b[8:12]),
				SeqLen: binary.LittleEndian.Uint32(b[12:16]),
			}
			b = b[16:]
		}
	}
	return entries, nil
}

// Remove deletes the partition files of the store in dir, including a
// leftover build directory.
func Remove(fsys fs.FileSystem, dir string) error {
	if err := fsys.RemoveAll(filepath.Join(dir, TmpDir)); err != nil {
		return err
	}
	if err := fsys.RemoveAll(filepath.Join(dir, Dir)); err != nil {
		return err
	}
	return fs.SyncDir(fsys, dir)
}
