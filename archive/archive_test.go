package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqstore"
	"github.com/hupe1980/sqstore/blobstore"
	"github.com/hupe1980/sqstore/internal/info"
)

func seq(n int) []byte {
	return bytes.Repeat([]byte("GATTACA"), n/7+1)[:n]
}

// buildStore creates a partitioned store with two libraries.
func buildStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.sqStore")

	s, err := sqstore.Open(path, sqstore.ModeCreate, sqstore.WithCompression(sqstore.CompressionZstd))
	require.NoError(t, err)
	for l := 0; l < 2; l++ {
		lib, err := s.AddEmptyLibrary(fmt.Sprintf("lib%d", l))
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			b, err := s.AddEmptyRead(lib.ID)
			require.NoError(t, err)
			n := 50 + 10*int(b.ID())
			_, err = b.SetName(fmt.Sprintf("r%d", b.ID())).SetSequence(seq(n), bytes.Repeat([]byte{'I'}, n)).Commit()
			require.NoError(t, err)
		}
	}
	require.NoError(t, s.Close())

	s, err = sqstore.Open(path, sqstore.ModePartitionBuild)
	require.NoError(t, err)
	lengths, err := s.ReadLengths()
	require.NoError(t, err)
	require.NoError(t, s.BuildPartitions(context.Background(), sqstore.BalanceByBases(lengths, 3)))
	require.NoError(t, s.Close())
	return path
}

func TestExportImport(t *testing.T) {
	backends := []struct {
		name  string
		store func(t *testing.T) blobstore.BlobStore
	}{
		{"memory", func(*testing.T) blobstore.BlobStore { return blobstore.NewMemoryStore() }},
		{"local", func(t *testing.T) blobstore.BlobStore { return blobstore.NewLocalStore(t.TempDir()) }},
	}

	for _, tt := range backends {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			src := buildStore(t)
			bs := tt.store(t)

			m, err := Export(ctx, src, bs, "backups/asm", WithConcurrency(2), WithRateLimit(1<<30))
			require.NoError(t, err)
			assert.Equal(t, uint32(10), m.NumReads)
			assert.Positive(t, m.TotalSize())

			names, err := bs.List(ctx, "backups/asm/")
			require.NoError(t, err)
			assert.Contains(t, names, "backups/asm/"+ManifestName)
			assert.Contains(t, names, "backups/asm/info")
			assert.Contains(t, names, "backups/asm/partitions/map")
			assert.NotContains(t, names, "backups/asm/LOCK")

			dst := filepath.Join(t.TempDir(), "restored.sqStore")
			m2, err := Import(ctx, bs, "backups/asm", dst)
			require.NoError(t, err)
			assert.Equal(t, m.Generation, m2.Generation)
			assert.Len(t, m2.Entries, len(m.Entries))

			s, err := sqstore.Open(dst, sqstore.ModeReadOnly, sqstore.WithStrictIntegrity())
			require.NoError(t, err)
			defer s.Close()
			assert.Equal(t, uint32(10), s.NumReads())
			assert.Equal(t, uint32(2), s.NumLibraries())
			assert.Equal(t, uint32(3), s.NumPartitions())
			for id := uint32(1); id <= 10; id++ {
				d, err := s.LoadReadDataByID(id)
				require.NoError(t, err)
				assert.Equal(t, fmt.Sprintf("r%d", id), d.Name)
				assert.Equal(t, string(seq(50+10*int(id))), string(d.Seq))
			}

			p, err := sqstore.OpenPartition(dst, 1)
			require.NoError(t, err)
			d, err := p.LoadReadDataByID(1)
			require.NoError(t, err)
			assert.Equal(t, "r1", d.Name)
			require.NoError(t, p.Close())
		})
	}
}

func TestExportRequiresStore(t *testing.T) {
	_, err := Export(context.Background(), t.TempDir(), blobstore.NewMemoryStore(), "x")
	assert.ErrorIs(t, err, sqstore.ErrNotFound)
}

func TestExportWhileWriterOpen(t *testing.T) {
	src := buildStore(t)
	w, err := sqstore.Open(src, sqstore.ModeExtend)
	require.NoError(t, err)
	defer w.Close()

	bs := blobstore.NewMemoryStore()
	_, err = Export(context.Background(), src, bs, "asm")
	assert.ErrorIs(t, err, sqstore.ErrLocked)

	names, err := bs.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestImportWithoutManifest(t *testing.T) {
	ctx := context.Background()
	src := buildStore(t)
	bs := blobstore.NewMemoryStore()
	_, err := Export(ctx, src, bs, "asm")
	require.NoError(t, err)

	// An export that never finished.
	require.NoError(t, bs.Delete(ctx, "asm/"+ManifestName))

	dst := filepath.Join(t.TempDir(), "restored.sqStore")
	_, err = Import(ctx, bs, "asm", dst)
	assert.ErrorIs(t, err, ErrNoManifest)
	assert.ErrorIs(t, err, sqstore.ErrNotFound)

	_, err = os.Stat(dst)
	assert.True(t, os.IsNotExist(err))
}

func TestImportDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	src := buildStore(t)
	bs := blobstore.NewMemoryStore()
	_, err := Export(ctx, src, bs, "asm")
	require.NoError(t, err)

	require.True(t, bs.Corrupt("asm/blobs.0000", 40))

	dst := filepath.Join(t.TempDir(), "restored.sqStore")
	_, err = Import(ctx, bs, "asm", dst)
	assert.ErrorIs(t, err, sqstore.ErrCorrupt)

	_, err = sqstore.Open(dst, sqstore.ModeReadOnly)
	assert.ErrorIs(t, err, sqstore.ErrNotFound)
}

func TestImportDetectsTruncation(t *testing.T) {
	ctx := context.Background()
	src := buildStore(t)
	bs := blobstore.NewMemoryStore()
	_, err := Export(ctx, src, bs, "asm")
	require.NoError(t, err)

	names, err := bs.List(ctx, "asm/reads.")
	require.NoError(t, err)
	require.Len(t, names, 1)

	b, err := bs.Open(ctx, names[0])
	require.NoError(t, err)
	buf := make([]byte, b.Size()-1)
	_, err = b.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, bs.Put(ctx, names[0], buf))

	_, err = Import(ctx, bs, "asm", filepath.Join(t.TempDir(), "restored.sqStore"))
	assert.ErrorIs(t, err, sqstore.ErrCorrupt)
}

func TestImportRejectsReplacedObject(t *testing.T) {
	ctx := context.Background()
	src := buildStore(t)
	bs := blobstore.NewMemoryStore()
	_, err := Export(ctx, src, bs, "asm")
	require.NoError(t, err)

	// Same size, different bytes, uploaded afresh: the recorded checksum
	// disagrees with the manifest before anything is downloaded.
	b, err := bs.Open(ctx, "asm/blobs.0000")
	require.NoError(t, err)
	stale := make([]byte, b.Size())
	require.NoError(t, b.Close())
	require.NoError(t, bs.Put(ctx, "asm/blobs.0000", stale))

	_, err = Import(ctx, bs, "asm", filepath.Join(t.TempDir(), "restored.sqStore"))
	assert.ErrorIs(t, err, sqstore.ErrCorrupt)
	assert.ErrorContains(t, err, "was uploaded with checksum")
}

// failingStore refuses every streamed write and counts aborted uploads.
type failingStore struct {
	*blobstore.MemoryStore
	aborted atomic.Int32
}

func (f *failingStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	w, err := f.MemoryStore.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &failingWriter{WritableBlob: w, store: f}, nil
}

type failingWriter struct {
	blobstore.WritableBlob
	store *failingStore
}

func (w *failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk quota exceeded") }

func (w *failingWriter) Abort() error {
	w.store.aborted.Add(1)
	return w.WritableBlob.(blobstore.Aborter).Abort()
}

func TestExportAbortsFailedUploads(t *testing.T) {
	ctx := context.Background()
	src := buildStore(t)
	bs := &failingStore{MemoryStore: blobstore.NewMemoryStore()}

	_, err := Export(ctx, src, bs, "asm")
	require.Error(t, err)
	assert.Positive(t, bs.aborted.Load())

	names, err := bs.List(ctx, "asm/")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestImportIntoNonEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	src := buildStore(t)
	bs := blobstore.NewMemoryStore()
	_, err := Export(ctx, src, bs, "asm")
	require.NoError(t, err)

	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dst, "keep"), []byte("x"), 0644))

	_, err = Import(ctx, bs, "asm", dst)
	assert.ErrorIs(t, err, ErrDestinationNotEmpty)
	_, err = os.Stat(filepath.Join(dst, "keep"))
	assert.NoError(t, err)

	// An existing empty directory is fine.
	empty := t.TempDir()
	_, err = Import(ctx, bs, "asm", empty)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(empty, info.FileName))
	assert.NoError(t, err)
}

func TestManifestEncoding(t *testing.T) {
	m := &Manifest{
		Generation: 7,
		NumReads:   42,
		CreatedAt:  time.Unix(0, 1700000000123456789),
		Entries: []Entry{
			{Name: "reads.000007", Size: 1024, CRC: 0xdeadbeef},
			{Name: "partitions/map", Size: 0, CRC: 0},
		},
	}
	data, err := m.Encode()
	require.NoError(t, err)

	got, err := DecodeManifest(data)
	require.NoError(t, err)
	assert.Equal(t, m.Generation, got.Generation)
	assert.Equal(t, m.NumReads, got.NumReads)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, m.Entries, got.Entries)
	assert.Equal(t, int64(1024), got.TotalSize())

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"truncated header", func(b []byte) []byte { return b[:10] }, sqstore.ErrCorrupt},
		{"magic", func(b []byte) []byte { b[0] ^= 1; return b }, sqstore.ErrIncompatibleFormat},
		{"version", func(b []byte) []byte { b[4] ^= 1; return b }, sqstore.ErrIncompatibleFormat},
		{"payload", func(b []byte) []byte { b[len(b)-1] ^= 1; return b }, sqstore.ErrCorrupt},
		{"length", func(b []byte) []byte { return b[:len(b)-1] }, sqstore.ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeManifest(tt.mutate(bytes.Clone(data)))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidName(t *testing.T) {
	for name, want := range map[string]bool{
		"info":            true,
		"partitions/map":  true,
		"":                false,
		"/etc/passwd":     false,
		"../outside":      false,
		"partitions/../x": false,
		"partitions//map": false,
		`partitions\map`:  false,
		"./info":          false,
	} {
		assert.Equal(t, want, validName(name), name)
	}
}
