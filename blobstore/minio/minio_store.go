package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/sqstore/blobstore"
)

// crcMetaKey is the user metadata entry holding the IEEE CRC32 of an
// object, as eight hex digits. MinIO returns it without the X-Amz-Meta-
// prefix.
const crcMetaKey = "Sqstore-Crc32"

// Store keeps archive objects in one bucket under a key prefix.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore returns a store writing to bucket. Every object name is placed
// under rootPrefix; leading and trailing slashes are ignored.
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: strings.Trim(rootPrefix, "/")}
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// name is the inverse of key.
func (s *Store) name(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+"/")
}

func missing(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func crcMetadata(sum uint32) map[string]string {
	return map[string]string{crcMetaKey: fmt.Sprintf("%08x", sum)}
}

// Open stats the object and returns a handle that reads it with ranged GETs.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)
	st, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if missing(err) {
		return nil, fmt.Errorf("%s: %w", name, blobstore.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	obj := &object{client: s.client, bucket: s.bucket, key: key, size: st.Size}
	if v, ok := st.UserMetadata[crcMetaKey]; ok {
		if sum, err := strconv.ParseUint(v, 16, 32); err == nil {
			obj.crc, obj.hasCRC = uint32(sum), true
		}
	}
	return obj, nil
}

// Put uploads data in one request, tagged with its CRC32.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		UserMetadata:   crcMetadata(crc32.ChecksumIEEE(data)),
		SendContentMd5: true,
	})
	return err
}

// Create starts a streaming upload. The object appears when Close returns;
// Close then tags it with the CRC32 of everything written through a
// metadata-replacing server-side copy.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	key := s.key(name)
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	u := &upload{
		store:  s,
		key:    key,
		ctx:    ctx,
		cancel: cancel,
		pw:     pw,
		crc:    crc32.NewIEEE(),
		done:   make(chan error, 1),
	}
	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, key, pr, -1, minio.PutObjectOptions{})
		_ = pr.CloseWithError(err)
		u.done <- err
	}()
	return u, nil
}

// Delete removes the object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !missing(err) {
		return err
	}
	return nil
}

// List returns the sorted names below prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	opts := minio.ListObjectsOptions{Prefix: s.key(prefix), Recursive: true}
	for info := range s.client.ListObjects(ctx, s.bucket, opts) {
		if info.Err != nil {
			return nil, info.Err
		}
		if n := s.name(info.Key); n != "" {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names, nil
}

// object reads one stored object.
type object struct {
	client *minio.Client
	bucket string
	key    string
	size   int64
	crc    uint32
	hasCRC bool
}

func (o *object) Size() int64 { return o.size }

// CRC32 returns the checksum recorded when the object was uploaded.
func (o *object) CRC32() (uint32, bool) { return o.crc, o.hasCRC }

func (o *object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= o.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	want := min(int64(len(p)), o.size-off)
	rc, err := o.fetch(ctx, off, want)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.ReadFull(rc, p[:want])
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (o *object) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= o.size {
		return nil, io.EOF
	}
	return o.fetch(ctx, off, min(length, o.size-off))
}

// fetch issues a GET for n bytes at off.
func (o *object) fetch(ctx context.Context, off, n int64) (io.ReadCloser, error) {
	var opts minio.GetObjectOptions
	if err := opts.SetRange(off, off+n-1); err != nil {
		return nil, err
	}
	return o.client.GetObject(ctx, o.bucket, o.key, opts)
}

func (o *object) Close() error { return nil }

// upload feeds a background PutObject through a pipe.
// Writes are not safe for concurrent use.
type upload struct {
	store    *Store
	key      string
	ctx      context.Context
	cancel   context.CancelFunc
	pw       *io.PipeWriter
	crc      hash.Hash32
	done     chan error
	finished atomic.Bool
}

func (u *upload) Write(p []byte) (int, error) {
	if u.finished.Load() {
		return 0, blobstore.ErrBlobClosed
	}
	n, err := u.pw.Write(p)
	_, _ = u.crc.Write(p[:n])
	return n, err
}

// Sync is a no-op; data is durable once Close returns.
func (u *upload) Sync() error { return nil }

func (u *upload) finish() bool { return u.finished.CompareAndSwap(false, true) }

func (u *upload) Close() error {
	if !u.finish() {
		return blobstore.ErrBlobClosed
	}
	defer u.cancel()
	if err := u.pw.Close(); err != nil {
		return err
	}
	if err := <-u.done; err != nil {
		return err
	}

	s := u.store
	_, err := s.client.CopyObject(u.ctx,
		minio.CopyDestOptions{
			Bucket:          s.bucket,
			Object:          u.key,
			UserMetadata:    crcMetadata(u.crc.Sum32()),
			ReplaceMetadata: true,
		},
		minio.CopySrcOptions{Bucket: s.bucket, Object: u.key},
	)
	if err != nil {
		return fmt.Errorf("failed to record checksum of %s: %w", u.key, err)
	}
	return nil
}

// Abort cancels the upload; nothing becomes visible.
func (u *upload) Abort() error {
	if !u.finish() {
		return nil
	}
	_ = u.pw.CloseWithError(errors.New("upload aborted"))
	u.cancel()
	<-u.done
	return nil
}
