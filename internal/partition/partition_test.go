package partition

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqstore/internal/blob"
	"github.com/hupe1980/sqstore/internal/catalog"
	"github.com/hupe1980/sqstore/internal/codec"
	"github.com/hupe1980/sqstore/internal/errs"
	"github.com/hupe1980/sqstore/internal/fs"
	"github.com/hupe1980/sqstore/internal/resource"
)

// newTestStore writes n reads of increasing length; every third read also
// carries a corrected generation.
func newTestStore(t *testing.T, fsys fs.FileSystem, n int) (string, *catalog.Catalog) {
	t.Helper()
	dir := t.TempDir()

	w := blob.NewWriter(fsys, dir, 0, blob.WriterOptions{Codec: codec.LZ4, MaxFileSize: 4096})
	c := catalog.New()
	lib := c.AddLibrary(catalog.LibraryRecord{Name: "lib"})
	for i := 1; i <= n; i++ {
		seq := bytes.Repeat([]byte("ACGT"), 10*i)
		rec := catalog.ReadRecord{Library: lib, ClearEnd: uint32(len(seq))}
		loc, err := w.Append(&blob.Data{Name: fmt.Sprintf("read%d", i), Seq: seq})
		require.NoError(t, err)
		rec.Blobs[catalog.Raw] = loc
		if i%3 == 0 {
			loc, err := w.Append(&blob.Data{Name: fmt.Sprintf("read%d", i), Seq: seq[:len(seq)/2]})
			require.NoError(t, err)
			rec.Blobs[catalog.Corrected] = loc
		}
		c.AddRead(rec)
	}
	require.NoError(t, w.Close())
	return dir, c
}

func TestBuildAndView(t *testing.T) {
	dir, c := newTestStore(t, fs.Default, 10)
	pool := blob.NewPool(fs.Default, dir)
	defer pool.Close()

	assignment := []uint32{0, 1, 2, 3, 4, 1, 2, 3, 4, 2, 2}
	b := NewBuilder(fs.Default, dir, c, pool, resource.NewController(resource.Config{MaxWorkers: 2}))
	table, err := b.Build(context.Background(), assignment)
	require.NoError(t, err)

	assert.Equal(t, uint32(4), table.NumPartitions())
	assert.Equal(t, []uint32{0, 2, 4, 2, 2}, table.ReadsPerPartition)

	loaded, err := LoadTable(fs.Default, dir)
	require.NoError(t, err)
	assert.Equal(t, table, loaded)

	// Every read is in exactly one partition; counts sum to the total.
	var sum uint32
	for p := uint32(1); p <= loaded.NumPartitions(); p++ {
		sum += loaded.ReadsPerPartition[p]
		assert.Equal(t, uint64(loaded.ReadsPerPartition[p]), loaded.Members(p).GetCardinality())
	}
	assert.Equal(t, c.NumReads(), sum)

	v, err := OpenView(fs.Default, dir, loaded, 2)
	require.NoError(t, err)
	defer v.Close()

	for id := uint32(1); id <= c.NumReads(); id++ {
		e, ok := v.Entry(id)
		if assignment[id] != 2 {
			assert.False(t, ok, "read %d", id)
			assert.False(t, v.Contains(id))
			continue
		}
		require.True(t, ok, "read %d", id)
		rec, _ := c.Read(id)
		for g := range rec.Blobs {
			assert.Equal(t, rec.Blobs[g].Present(), e.Blobs[g].Present())
			if !e.Blobs[g].Present() {
				continue
			}
			d, err := v.Read(e.Blobs[g])
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("read%d", id), d.Name)
			assert.Equal(t, int(rec.Blobs[g].SeqLen), len(d.Seq))
		}
	}

	_, err = b.Build(context.Background(), assignment)
	assert.ErrorIs(t, err, ErrAlreadyPartitioned)

	_, err = OpenView(fs.Default, dir, loaded, 5)
	assert.ErrorIs(t, err, errs.ErrOutOfRange)

	require.NoError(t, Remove(fs.Default, dir))
	none, err := LoadTable(fs.Default, dir)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestBuildInterrupted(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	dir, c := newTestStore(t, ffs, 6)
	pool := blob.NewPool(ffs, dir)
	defer pool.Close()

	ffs.FailRename(Dir)
	_, err := NewBuilder(ffs, dir, c, pool, nil).Build(context.Background(), []uint32{0, 1, 1, 1, 2, 2, 2})
	require.ErrorIs(t, err, fs.ErrInjected)

	for _, name := range []string{Dir, TmpDir} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), name)
	}
	table, err := LoadTable(ffs, dir)
	require.NoError(t, err)
	assert.Nil(t, table)

	// A later build succeeds.
	ffs.Reset()
	_, err = NewBuilder(ffs, dir, c, pool, nil).Build(context.Background(), []uint32{0, 1, 1, 1, 2, 2, 2})
	require.NoError(t, err)
}

func TestBuildCanceled(t *testing.T) {
	dir, c := newTestStore(t, fs.Default, 4)
	pool := blob.NewPool(fs.Default, dir)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(fs.Default, dir, c, pool, nil).Build(ctx, []uint32{0, 1, 1, 2, 2})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = os.Stat(filepath.Join(dir, TmpDir))
	assert.True(t, os.IsNotExist(err))
}

func TestBuildStaleTmpRemoved(t *testing.T) {
	dir, c := newTestStore(t, fs.Default, 3)
	pool := blob.NewPool(fs.Default, dir)
	defer pool.Close()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, TmpDir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, TmpDir, "junk"), []byte("x"), 0644))

	table, err := LoadTable(fs.Default, dir)
	require.NoError(t, err)
	assert.Nil(t, table)

	_, err = NewBuilder(fs.Default, dir, c, pool, nil).Build(context.Background(), []uint32{0, 1, 1, 1})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, Dir, "junk"))
	assert.True(t, os.IsNotExist(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		assignment []uint32
		numReads   uint32
		want       uint32
		wantErr    bool
	}{
		{"ok", []uint32{0, 1, 3, 2}, 3, 3, false},
		{"index zero ignored", []uint32{7, 1, 1}, 2, 1, false},
		{"unassigned read", []uint32{0, 1, 0}, 2, 0, true},
		{"too short", []uint32{0, 1}, 2, 0, true},
		{"too long", []uint32{0, 1, 1, 1}, 2, 0, true},
		{"no reads", []uint32{0}, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			np, err := Validate(tt.assignment, tt.numReads)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, np)
		})
	}
}

func TestLoadTableCorrupt(t *testing.T) {
	dir := t.TempDir()
	table := &Table{
		ReadsPerPartition: []uint32{0, 1, 1},
		Partition:         []uint32{0, 1, 2},
		Local:             []uint32{0, 0, 0},
	}
	data := table.encode()
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.MkdirAll(filepath.Join(dir, Dir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, Dir, MapFile), data, 0644))

	_, err := LoadTable(fs.Default, dir)
	assert.ErrorIs(t, err, errs.ErrCorrupt)
}

func TestIndexCorrupt(t *testing.T) {
	entries := []Entry{{Read: 3}, {Read: 9}}
	entries[0].Blobs[catalog.Raw] = catalog.Locator{Offset: 16, Size: 40, SeqLen: 12}

	data := encodeIndex(entries)
	out, err := decodeIndex(data, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), out[0].Blobs[catalog.Raw].File)
	assert.Equal(t, uint32(40), out[0].Blobs[catalog.Raw].Size)
	assert.Equal(t, uint32(9), out[1].Read)

	data[20] ^= 0x01
	_, err = decodeIndex(data, 2)
	assert.ErrorIs(t, err, errs.ErrCorrupt)
}

func TestBalanceByBases(t *testing.T) {
	t.Run("equal lengths", func(t *testing.T) {
		lengths := []uint32{0, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100}
		out := BalanceByBases(lengths, 4)
		assert.Equal(t, []uint32{0, 1, 1, 1, 2, 2, 3, 3, 3, 4, 4}, out)
	})

	t.Run("one long read", func(t *testing.T) {
		out := BalanceByBases([]uint32{0, 1000, 1, 1}, 3)
		assert.Equal(t, []uint32{0, 1, 2, 3}, out)
	})

	t.Run("more partitions than reads", func(t *testing.T) {
		out := BalanceByBases([]uint32{0, 5, 5}, 8)
		np, err := Validate(out, 2)
		require.NoError(t, err)
		assert.Equal(t, uint32(2), np)
	})

	t.Run("zero lengths", func(t *testing.T) {
		out := BalanceByBases([]uint32{0, 0, 0, 0, 0}, 2)
		assert.Equal(t, []uint32{0, 1, 1, 2, 2}, out)
	})

	t.Run("no reads", func(t *testing.T) {
		assert.Equal(t, []uint32{0}, BalanceByBases([]uint32{0}, 3))
	})
}
