package partition

import (
	"fmt"
	"path/filepath"

	"github.com/hupe1980/sqstore/internal/blob"
	"github.com/hupe1980/sqstore/internal/catalog"
	"github.com/hupe1980/sqstore/internal/errs"
	"github.com/hupe1980/sqstore/internal/fs"
	"github.com/hupe1980/sqstore/internal/mmap"
)

// View is the read side of one partition: its slice of the global table, its
// local index and its mapped blob file.
type View struct {
	id      uint32
	table   *Table
	entries []Entry
	data    *mmap.Mapping
}

// OpenView opens partition p of the store in dir. The blob file is mapped
// directly from the local file system.
func OpenView(fsys fs.FileSystem, dir string, table *Table, p uint32) (*View, error) {
	if p == 0 || p > table.NumPartitions() {
		return nil, fmt.Errorf("%w: partition %d of %d", errs.ErrOutOfRange, p, table.NumPartitions())
	}

	data, err := fs.ReadFile(fsys, filepath.Join(dir, Dir, IndexFile(p)))
	if err != nil {
		return nil, fmt.Errorf("failed to read partition index: %w", err)
	}
	entries, err := decodeIndex(data, p)
	if err != nil {
		return nil, err
	}
	if uint32(len(entries)) != table.ReadsPerPartition[p] {
		return nil, fmt.Errorf("%w: partition %d index holds %d reads, map says %d",
			errs.ErrCorrupt, p, len(entries), table.ReadsPerPartition[p])
	}

	m, err := mmap.Open(filepath.Join(dir, Dir, BlobFile(p)))
	if err != nil {
		return nil, fmt.Errorf("failed to map partition blobs: %w", err)
	}
	if err := blob.CheckHeader(m.Bytes()); err != nil {
		_ = m.Close()
		return nil, err
	}
	_ = m.Advise(mmap.AccessRandom)

	return &View{id: p, table: table, entries: entries, data: m}, nil
}

// ID returns the partition identifier.
func (v *View) ID() uint32 { return v.id }

// Contains reports whether read id belongs to this partition.
func (v *View) Contains(id uint32) bool { return v.table.PartitionOf(id) == v.id }

// Entry returns the local index entry of read id.
func (v *View) Entry(id uint32) (Entry, bool) {
	if !v.Contains(id) {
		return Entry{}, false
	}
	local := v.table.Local[id]
	if local >= uint32(len(v.entries)) {
		return Entry{}, false
	}
	e := v.entries[local]
	if e.Read != id {
		return Entry{}, false
	}
	return e, true
}

// Read decodes the record at loc from the mapped blob file.
func (v *View) Read(loc catalog.Locator) (*blob.Data, error) {
	rec, err := v.data.Slice(loc.Offset, loc.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: partition %d: %v", errs.ErrShortRead, v.id, err)
	}
	return blob.DecodeRecord(rec)
}

// Close unmaps the blob file.
func (v *View) Close() error { return v.data.Close() }
