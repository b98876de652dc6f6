package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/sqstore/internal/errs"
	"github.com/hupe1980/sqstore/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEncoding(t *testing.T) {
	lib := LibraryRecord{ID: 7, Flags: LibraryTrimByDefault | LibraryCheckForSubReads, Name: "pacbio-run-3"}
	buf := make([]byte, LibraryRecordSize)
	EncodeLibrary(buf, &lib)
	assert.Equal(t, lib, DecodeLibrary(buf))

	read := ReadRecord{
		Library:    3,
		Flags:      ReadIgnore,
		ClearBegin: 10,
		ClearEnd:   240,
	}
	read.Blobs[Raw] = Locator{File: 0, SeqLen: 250, Offset: 16, Size: 540}
	read.Blobs[Trimmed] = Locator{File: 2, SeqLen: 230, Offset: 1 << 40, Size: 500}
	rbuf := make([]byte, ReadRecordSize)
	EncodeRead(rbuf, &read)
	got := DecodeRead(rbuf)
	assert.Equal(t, read, got)
	assert.True(t, got.Ignored())
	assert.False(t, got.Blobs[Corrected].Present())
}

func TestLibraryNameTruncatedToFixedWidth(t *testing.T) {
	long := make([]byte, LibraryNameSize+10)
	for i := range long {
		long[i] = 'x'
	}
	buf := make([]byte, LibraryRecordSize)
	EncodeLibrary(buf, &LibraryRecord{Name: string(long)})
	assert.Len(t, DecodeLibrary(buf).Name, LibraryNameSize)
}

func TestCatalogGrowth(t *testing.T) {
	c := New()
	for i := 1; i <= 1000; i++ {
		id := c.AddRead(ReadRecord{Library: 1})
		require.Equal(t, uint32(i), id)
	}
	assert.Equal(t, uint32(1000), c.NumReads())
	assert.GreaterOrEqual(t, cap(c.reads), 1001)

	_, ok := c.Read(0)
	assert.False(t, ok)
	_, ok = c.Read(1001)
	assert.False(t, ok)
	r, ok := c.Read(1000)
	require.True(t, ok)
	assert.Equal(t, uint32(1), r.Library)
}

func TestCount(t *testing.T) {
	c := New()
	var a, b ReadRecord
	a.Blobs[Raw] = Locator{SeqLen: 100, Size: 1}
	a.Blobs[Corrected] = Locator{SeqLen: 90, Size: 1}
	b.Blobs[Raw] = Locator{SeqLen: 50, Size: 1}
	b.Blobs[Trimmed] = Locator{SeqLen: 40, Size: 1}
	c.AddRead(a)
	c.AddRead(b)
	c.AddRead(ReadRecord{})

	assert.Equal(t, Counts{
		Reads:          3,
		RawReads:       2,
		CorrectedReads: 1,
		TrimmedReads:   1,
		RawBases:       150,
		CorrectedBases: 90,
		TrimmedBases:   40,
	}, c.Count())
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	c := New()
	c.AddLibrary(LibraryRecord{Name: "L1"})
	c.AddLibrary(LibraryRecord{Name: "L2", Flags: LibraryCorrectByDefault})
	var r ReadRecord
	r.Library = 2
	r.Blobs[Raw] = Locator{SeqLen: 12, Offset: 16, Size: 60}
	c.AddRead(r)

	require.NoError(t, c.Save(fs.Default, dir, 4))

	loaded, err := Load(fs.Default, dir, 4, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, c.libraries, loaded.libraries)
	assert.Equal(t, c.reads, loaded.reads)

	lib, ok := loaded.Library(2)
	require.True(t, ok)
	assert.Equal(t, "L2", lib.Name)
	assert.Equal(t, uint32(2), lib.ID)

	t.Run("count mismatch is corruption", func(t *testing.T) {
		_, err := Load(fs.Default, dir, 4, 2, 5)
		assert.ErrorIs(t, err, errs.ErrCorrupt)
	})

	t.Run("missing generation is corruption", func(t *testing.T) {
		_, err := Load(fs.Default, dir, 5, 2, 1)
		assert.ErrorIs(t, err, errs.ErrCorrupt)
	})

	require.NoError(t, RemoveGeneration(fs.Default, dir, 4))
	_, err = os.Stat(filepath.Join(dir, ReadsFile(4)))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, RemoveGeneration(fs.Default, dir, 4))
}
