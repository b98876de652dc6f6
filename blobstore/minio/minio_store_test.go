package minio

import (
	"bytes"
	"context"
	"hash/crc32"
	"io"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqstore/blobstore"
)

// testStore connects to MINIO_ENDPOINT (default localhost:9000) and skips
// when no server answers.
func testStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
	})
	if err != nil {
		t.Skipf("minio client: %v", err)
	}

	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("minio not reachable: %v", err)
	}

	const bucket = "sqstore-test"
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "/it/")
	stale, err := store.List(ctx, "")
	require.NoError(t, err)
	for _, name := range stale {
		require.NoError(t, store.Delete(ctx, name))
	}
	return store, ctx
}

func TestMinioStore_Integration(t *testing.T) {
	store, ctx := testStore(t)

	payload := bytes.Repeat([]byte("ACGT"), 1024)
	require.NoError(t, store.Put(ctx, "asm/blobs.0000", payload))
	require.NoError(t, store.Put(ctx, "asm/info", []byte("info block")))

	names, err := store.List(ctx, "asm/")
	require.NoError(t, err)
	assert.Equal(t, []string{"asm/blobs.0000", "asm/info"}, names)

	b, err := store.Open(ctx, "asm/blobs.0000")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), b.Size())
	crc, ok := b.(blobstore.Checksummed).CRC32()
	require.True(t, ok)
	assert.Equal(t, crc32.ChecksumIEEE(payload), crc)

	buf := make([]byte, 8)
	n, err := b.ReadAt(ctx, buf, 4)
	require.NoError(t, err)
	assert.Equal(t, "ACGTACGT", string(buf[:n]))

	n, err = b.ReadAt(ctx, buf, int64(len(payload))-4)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, n)

	rc, err := b.ReadRange(ctx, 2, 6)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "GTACGT", string(got))
	require.NoError(t, rc.Close())
	require.NoError(t, b.Close())

	w, err := store.Create(ctx, "asm/catalog.000001")
	require.NoError(t, err)
	_, err = w.Write(payload[:100])
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Error(t, w.Close())

	b, err = store.Open(ctx, "asm/catalog.000001")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Size())
	crc, ok = b.(blobstore.Checksummed).CRC32()
	require.True(t, ok)
	assert.Equal(t, crc32.ChecksumIEEE(payload[:100]), crc)
	require.NoError(t, b.Close())

	w, err = store.Create(ctx, "asm/reads.000001")
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.(blobstore.Aborter).Abort())
	_, err = store.Open(ctx, "asm/reads.000001")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "asm/info"))
	_, err = store.Open(ctx, "asm/info")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	assert.NoError(t, store.Delete(ctx, "asm/info"))
}

func TestStoreKey(t *testing.T) {
	flat := NewStore(nil, "b", "")
	assert.Equal(t, "blobs.0001", flat.key("blobs.0001"))
	assert.Equal(t, "blobs.0001", flat.name("blobs.0001"))

	nested := NewStore(nil, "b", "/stores/")
	assert.Equal(t, "stores/asm/info", nested.key("asm/info"))
	assert.Equal(t, "asm/info", nested.name(nested.key("asm/info")))
}

func TestCRCMetadata(t *testing.T) {
	assert.Equal(t, map[string]string{"Sqstore-Crc32": "0000002a"}, crcMetadata(42))
	assert.Equal(t, "d87f7e0c", crcMetadata(crc32.ChecksumIEEE([]byte("test")))[crcMetaKey])
}
