package partition

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/sqstore/internal/blob"
	"github.com/hupe1980/sqstore/internal/catalog"
	"github.com/hupe1980/sqstore/internal/errs"
	"github.com/hupe1980/sqstore/internal/fs"
	"github.com/hupe1980/sqstore/internal/resource"
)

// ErrAlreadyPartitioned is returned when a build finds existing partitions.
var ErrAlreadyPartitioned = errors.New("store is already partitioned")

// Source is the catalog view a build reads from.
type Source interface {
	NumReads() uint32
	Read(id uint32) (*catalog.ReadRecord, bool)
}

// Builder materializes partitions for one store.
type Builder struct {
	fs      fs.FileSystem
	dir     string
	src     Source
	readers *blob.Pool
	ctrl    *resource.Controller
}

// NewBuilder returns a builder for the store in dir. ctrl may be nil.
func NewBuilder(fsys fs.FileSystem, dir string, src Source, readers *blob.Pool, ctrl *resource.Controller) *Builder {
	return &Builder{fs: fsys, dir: dir, src: src, readers: readers, ctrl: ctrl}
}

// Validate checks an assignment and returns the partition count.
// assignment[id] must be set for every read id; index 0 is ignored.
func Validate(assignment []uint32, numReads uint32) (uint32, error) {
	if numReads == 0 {
		return 0, fmt.Errorf("%w: store has no reads", errs.ErrInvalidArgument)
	}
	if uint64(len(assignment)) != uint64(numReads)+1 {
		return 0, fmt.Errorf("%w: assignment covers %d reads, store has %d", errs.ErrInvalidArgument, len(assignment)-1, numReads)
	}
	var np uint32
	for id := 1; id < len(assignment); id++ {
		p := assignment[id]
		if p == 0 {
			return 0, fmt.Errorf("%w: read %d has no partition", errs.ErrInvalidArgument, id)
		}
		np = max(np, p)
	}
	return np, nil
}

// Build assigns reads to partitions and writes the partition files. On error
// no partition directory is left behind.
func (b *Builder) Build(ctx context.Context, assignment []uint32) (*Table, error) {
	np, err := Validate(assignment, b.src.NumReads())
	if err != nil {
		return nil, err
	}
	ok, err := fs.Exists(b.fs, filepath.Join(b.dir, Dir))
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, ErrAlreadyPartitioned
	}

	tmp := filepath.Join(b.dir, TmpDir)
	if err := b.fs.RemoveAll(tmp); err != nil {
		return nil, fmt.Errorf("failed to remove stale build: %w", err)
	}
	if err := b.fs.MkdirAll(tmp, 0755); err != nil {
		return nil, err
	}

	t, err := b.build(ctx, tmp, assignment, np)
	if err != nil {
		_ = b.fs.RemoveAll(tmp)
		return nil, err
	}
	return t, nil
}

func (b *Builder) build(ctx context.Context, tmp string, assignment []uint32, np uint32) (*Table, error) {
	numReads := b.src.NumReads()
	t := &Table{
		ReadsPerPartition: make([]uint32, np+1),
		Partition:         make([]uint32, numReads+1),
		Local:             make([]uint32, numReads+1),
	}
	members := make([]*roaring.Bitmap, np+1)
	for p := range members {
		members[p] = roaring.New()
	}
	for id := uint32(1); id <= numReads; id++ {
		p := assignment[id]
		t.Partition[id] = p
		t.Local[id] = t.ReadsPerPartition[p]
		t.ReadsPerPartition[p]++
		members[p].Add(id)
	}

	g, ctx := errgroup.WithContext(ctx)
	for p := uint32(1); p <= np; p++ {
		g.Go(func() error {
			if err := b.ctrl.AcquireWorker(ctx); err != nil {
				return err
			}
			defer b.ctrl.ReleaseWorker()
			return b.copyPartition(ctx, tmp, p, members[p])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := fs.WriteFileAtomic(b.fs, filepath.Join(tmp, MapFile), t.encode()); err != nil {
		return nil, fmt.Errorf("failed to write partition map: %w", err)
	}
	if err := b.fs.Rename(tmp, filepath.Join(b.dir, Dir)); err != nil {
		return nil, fmt.Errorf("failed to publish partitions: %w", err)
	}
	if err := fs.SyncDir(b.fs, b.dir); err != nil {
		return nil, err
	}
	return t, nil
}

func (b *Builder) copyPartition(ctx context.Context, tmp string, p uint32, members *roaring.Bitmap) error {
	fw, err := blob.CreateFile(b.fs, filepath.Join(tmp, BlobFile(p)))
	if err != nil {
		return fmt.Errorf("partition %d: %w", p, err)
	}

	r := b.readers.Get()
	if r == nil {
		_ = fw.Close()
		return fmt.Errorf("partition %d: reader pool closed", p)
	}
	defer b.readers.Put(r)

	entries := make([]Entry, 0, members.GetCardinality())
	it := members.Iterator()
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			_ = fw.Close()
			return err
		}
		id := it.Next()
		rec, _ := b.src.Read(id)
		e := Entry{Read: id}
		for g, loc := range rec.Blobs {
			if !loc.Present() {
				continue
			}
			raw, err := r.ReadRecord(loc)
			if err != nil {
				_ = fw.Close()
				return fmt.Errorf("partition %d: read %d: %w", p, id, err)
			}
			if err := b.ctrl.AcquireIO(ctx, 2*len(raw)); err != nil {
				_ = fw.Close()
				return err
			}
			off, err := fw.AppendRecord(raw)
			if err != nil {
				_ = fw.Close()
				return fmt.Errorf("partition %d: %w", p, err)
			}
			e.Blobs[g] = catalog.Locator{File: p, SeqLen: loc.SeqLen, Offset: uint64(off), Size: loc.Size}
		}
		entries = append(entries, e)
	}

	if err := fw.Close(); err != nil {
		return fmt.Errorf("partition %d: %w", p, err)
	}
	if err := fs.WriteFileAtomic(b.fs, filepath.Join(tmp, IndexFile(p)), encodeIndex(entries)); err != nil {
		return fmt.Errorf("partition %d: failed to write index: %w", p, err)
	}
	return nil
}
