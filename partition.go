package sqstore

import (
	"context"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/sqstore/internal/partition"
	"github.com/hupe1980/sqstore/internal/resource"
)

// BuildPartitions splits the store into partitions. assignment[id] is the
// partition of read id for every id in 1..NumReads; index 0 is ignored. The
// partition count is the largest value in assignment. Only allowed in
// ModePartitionBuild and only once; an interrupted build leaves the store
// unpartitioned. A store opened WithCloneDir writes the partitions there and
// leaves its catalog untouched.
func (s *Store) BuildPartitions(ctx context.Context, assignment []PartitionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(ModePartitionBuild); err != nil {
		return err
	}
	if s.table != nil {
		return ErrAlreadyPartitioned
	}

	raw := make([]uint32, len(assignment))
	for i, p := range assignment {
		raw[i] = uint32(p)
	}

	ctrl := resource.NewController(resource.Config{
		MaxWorkers:         int64(s.opts.buildWorkers),
		IOLimitBytesPerSec: s.opts.buildIOLimit,
	})

	start := time.Now()
	table, err := partition.NewBuilder(s.fs, s.partDir, s.cat, s.readers, ctrl).Build(ctx, raw)
	var np uint32
	if table != nil {
		np = table.NumPartitions()
	}
	s.opts.metrics.RecordPartitionBuild(int(np), time.Since(start), err)
	s.logger.LogPartitionBuild(ctx, np, s.cat.NumReads(), time.Since(start), err)
	if err != nil {
		return err
	}

	s.table = table
	if s.cloned() {
		return nil
	}
	s.recountLocked()
	s.setLastBlobLocked()
	return s.flushLocked()
}

// DeletePartitions removes the partition files, leaving the store
// unpartitioned.
func (s *Store) DeletePartitions() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(ModeExtend, ModePartitionBuild); err != nil {
		return err
	}
	if err := partition.Remove(s.fs, s.partDir); err != nil {
		return fmt.Errorf("failed to delete partitions: %w", err)
	}
	s.table = nil
	return nil
}

// NumPartitions returns the partition count, 0 for an unpartitioned store.
func (s *Store) NumPartitions() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.table == nil {
		return 0
	}
	return s.table.NumPartitions()
}

// PartitionID returns the partition a store was opened on, 0 unless it was
// opened with OpenPartition.
func (s *Store) PartitionID() PartitionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.view == nil {
		return 0
	}
	return PartitionID(s.view.ID())
}

// ReadInPartition reports whether read id is visible through this store:
// always true for a store not opened on a partition, false once closed.
func (s *Store) ReadInPartition(id uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	if s.view == nil {
		return true
	}
	return s.view.Contains(id)
}

// PartitionReads returns the reads visible through this store.
func (s *Store) PartitionReads() *roaring.Bitmap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bm := roaring.New()
	if s.closed {
		return bm
	}
	if s.view != nil {
		return s.table.Members(s.view.ID())
	}
	if s.cat != nil && s.cat.NumReads() > 0 {
		bm.AddRange(1, uint64(s.cat.NumReads())+1)
	}
	return bm
}

// BalanceByBases assigns reads to at most n partitions of similar total
// length, keeping identifiers in contiguous runs. lengths[id] is the length
// of read id; index 0 is ignored.
func BalanceByBases(lengths []uint32, n uint32) []PartitionID {
	raw := partition.BalanceByBases(lengths, n)
	out := make([]PartitionID, len(raw))
	for i, p := range raw {
		out[i] = PartitionID(p)
	}
	return out
}

// ReadLengths returns the visible length of every read, indexed by
// identifier, for use with BalanceByBases.
func (s *Store) ReadLengths() ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	n := s.cat.NumReads()
	out := make([]uint32, n+1)
	for id := uint32(1); id <= n; id++ {
		rec, _ := s.cat.Read(id)
		out[id] = newRead(id, rec, s.opts.policy).Length()
	}
	return out, nil
}
