package sqstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqstore/internal/fs"
	"github.com/hupe1980/sqstore/internal/partition"
)

func tenReads(t *testing.T) string {
	t.Helper()
	path := storePath(t)
	populate(t, path, []int{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}, WithCompression(CompressionLZ4))
	return path
}

func fourWay() []PartitionID {
	// index 0 is ignored
	return []PartitionID{0, 1, 1, 1, 2, 2, 3, 3, 4, 4, 4}
}

func TestPartitionScenario(t *testing.T) {
	path := tenReads(t)

	s, err := Open(path, ModePartitionBuild)
	require.NoError(t, err)
	require.NoError(t, s.BuildPartitions(context.Background(), fourWay()))
	assert.Equal(t, uint32(4), s.NumPartitions())
	assert.ErrorIs(t, s.BuildPartitions(context.Background(), fourWay()), ErrAlreadyPartitioned)
	require.NoError(t, s.Close())

	p, err := OpenPartition(path, 2)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, ModePartition, p.Mode())
	assert.Equal(t, PartitionID(2), p.PartitionID())
	assert.Equal(t, uint32(10), p.NumReads())
	assert.Equal(t, []uint32{4, 5}, p.PartitionReads().ToArray())

	for id := uint32(1); id <= 10; id++ {
		in := id == 4 || id == 5
		assert.Equal(t, in, p.ReadInPartition(id), "read %d", id)

		r, err := p.GetRead(id)
		if !in {
			assert.ErrorIs(t, err, ErrNotInPartition, "read %d", id)
			_, err = p.LoadReadDataByID(id)
			assert.ErrorIs(t, err, ErrNotInPartition, "read %d", id)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, id*100, r.Length())

		d, err := p.LoadReadData(r)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("read%d", id), d.Name)
		assert.Equal(t, string(testSeq(int(id*100))), string(d.Seq))
	}

	_, err = p.GetRead(11)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.ErrorIs(t, p.SetIgnore(4), ErrModeConflict)
}

func TestExtendPartitionedStore(t *testing.T) {
	path := tenReads(t)

	s, err := Open(path, ModePartitionBuild)
	require.NoError(t, err)
	require.NoError(t, s.BuildPartitions(context.Background(), fourWay()))
	require.NoError(t, s.Close())

	s, err = Open(path, ModeExtend)
	require.NoError(t, err)
	assert.ErrorIs(t, s.StashReadData(4, GenerationTrimmed, testSeq(50), nil), ErrAlreadyPartitioned)
	_, err = s.AddEmptyRead(1)
	assert.ErrorIs(t, err, ErrAlreadyPartitioned)
	require.NoError(t, s.SetClearRange(4, 10, 300))
	require.NoError(t, s.Close())

	p, err := OpenPartition(path, 2)
	require.NoError(t, err)
	r, err := p.GetRead(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(400), r.Length())
	assert.Equal(t, uint32(10), r.ClearBegin)
	d, err := p.LoadReadDataByID(4)
	require.NoError(t, err)
	assert.Len(t, d.Seq, 400)
	require.NoError(t, p.Close())

	s, err = Open(path, ModeExtend)
	require.NoError(t, err)
	require.NoError(t, s.DeletePartitions())
	require.NoError(t, s.StashReadData(4, GenerationTrimmed, testSeq(50), nil))
	addRead(t, s, 1, 60)
	require.NoError(t, s.Close())

	_, err = OpenPartition(path, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	s, err = Open(path, ModeReadOnly, WithStrictIntegrity())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, uint32(11), s.NumReads())
	r, err = s.GetRead(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(50), r.Length())
}

func TestCloneDir(t *testing.T) {
	path := tenReads(t)
	clone := filepath.Join(t.TempDir(), "clone")

	s, err := Open(path, ModeReadOnly)
	require.NoError(t, err)
	gen := s.Info().Generation
	require.NoError(t, s.Close())

	_, err = Open(path, ModeExtend, WithCloneDir(clone))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	b, err := Open(path, ModePartitionBuild, WithCloneDir(clone))
	require.NoError(t, err)
	assert.Equal(t, clone, b.CloneDir())

	// The clone holds its own lock; the store stays writable.
	_, err = Open(path, ModePartitionBuild, WithCloneDir(clone))
	assert.ErrorIs(t, err, ErrLocked)
	w, err := Open(path, ModeExtend)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, b.BuildPartitions(context.Background(), fourWay()))
	assert.Equal(t, uint32(4), b.NumPartitions())
	assert.ErrorIs(t, b.Flush(), ErrModeConflict)
	assert.ErrorIs(t, b.RecountReads(), ErrModeConflict)
	require.NoError(t, b.Close())

	_, err = os.Stat(filepath.Join(clone, partition.Dir, partition.MapFile))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(path, partition.Dir))
	assert.True(t, os.IsNotExist(err))

	_, err = OpenPartition(path, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := OpenPartition(path, 2, WithCloneDir(clone))
	require.NoError(t, err)
	assert.Equal(t, []uint32{4, 5}, p.PartitionReads().ToArray())
	d, err := p.LoadReadDataByID(5)
	require.NoError(t, err)
	assert.Equal(t, testSeq(500), d.Seq)
	require.NoError(t, p.Close())

	s, err = Open(path, ModeReadOnly)
	require.NoError(t, err)
	assert.Equal(t, gen, s.Info().Generation)
	assert.Equal(t, uint32(0), s.NumPartitions())
	require.NoError(t, s.Close())

	b, err = Open(path, ModePartitionBuild, WithCloneDir(clone))
	require.NoError(t, err)
	require.NoError(t, b.DeletePartitions())
	require.NoError(t, b.Close())
	_, err = OpenPartition(path, 2, WithCloneDir(clone))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPartitionAccessorsAfterClose(t *testing.T) {
	path := tenReads(t)

	s, err := Open(path, ModePartitionBuild)
	require.NoError(t, err)
	require.NoError(t, s.BuildPartitions(context.Background(), fourWay()))
	require.NoError(t, s.Close())

	p, err := OpenPartition(path, 3)
	require.NoError(t, err)
	assert.Equal(t, PartitionID(3), p.PartitionID())
	assert.Equal(t, uint32(4), p.NumPartitions())
	require.NoError(t, p.Close())

	assert.Equal(t, PartitionID(0), p.PartitionID())
	assert.Equal(t, uint32(0), p.NumPartitions())
	assert.False(t, p.ReadInPartition(6))
	assert.True(t, p.PartitionReads().IsEmpty())
}

func TestPartitionMembershipIsExclusive(t *testing.T) {
	path := tenReads(t)

	s, err := Open(path, ModePartitionBuild)
	require.NoError(t, err)
	require.NoError(t, s.BuildPartitions(context.Background(), fourWay()))
	require.NoError(t, s.Close())

	seen := make(map[uint32]PartitionID)
	for pid := PartitionID(1); pid <= 4; pid++ {
		p, err := OpenPartition(path, pid)
		require.NoError(t, err)
		it := p.PartitionReads().Iterator()
		for it.HasNext() {
			id := it.Next()
			_, dup := seen[id]
			assert.False(t, dup, "read %d in two partitions", id)
			seen[id] = pid
		}
		require.NoError(t, p.Close())
	}
	assert.Len(t, seen, 10)

	_, err = OpenPartition(path, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = OpenPartition(path, 5)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestPartitionOpenRequiresPartitions(t *testing.T) {
	path := tenReads(t)
	_, err := OpenPartition(path, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	s, err := Open(path, ModeExtend)
	require.NoError(t, err)
	defer s.Close()
	err = s.BuildPartitions(context.Background(), fourWay())
	assert.ErrorIs(t, err, ErrModeConflict)
}

func TestInterruptedPartitionBuild(t *testing.T) {
	path := tenReads(t)

	ffs := fs.NewFaultyFS(nil)
	ffs.FailRename(string(filepath.Separator) + partition.Dir)

	s, err := Open(path, ModePartitionBuild, WithFileSystem(ffs))
	require.NoError(t, err)
	require.Error(t, s.BuildPartitions(context.Background(), fourWay()))
	assert.Equal(t, uint32(0), s.NumPartitions())
	require.NoError(t, s.Close())

	_, err = os.Stat(filepath.Join(path, partition.TmpDir))
	assert.True(t, os.IsNotExist(err))

	s, err = Open(path, ModeReadOnly)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), s.NumPartitions())
	require.NoError(t, s.Close())

	// A later build succeeds.
	s, err = Open(path, ModePartitionBuild)
	require.NoError(t, err)
	require.NoError(t, s.BuildPartitions(context.Background(), fourWay()))
	require.NoError(t, s.Close())

	p, err := OpenPartition(path, 4)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, []uint32{8, 9, 10}, p.PartitionReads().ToArray())
}

func TestPartitionBuildCanceled(t *testing.T) {
	path := tenReads(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := Open(path, ModePartitionBuild)
	require.NoError(t, err)
	defer s.Close()
	assert.ErrorIs(t, s.BuildPartitions(ctx, fourWay()), context.Canceled)
	assert.Equal(t, uint32(0), s.NumPartitions())
}

func TestPartitionAssignmentValidation(t *testing.T) {
	path := tenReads(t)

	s, err := Open(path, ModePartitionBuild)
	require.NoError(t, err)
	defer s.Close()

	err = s.BuildPartitions(context.Background(), fourWay()[:5])
	assert.ErrorIs(t, err, ErrInvalidArgument)

	bad := fourWay()
	bad[3] = 0
	err = s.BuildPartitions(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDeletePartitions(t *testing.T) {
	path := tenReads(t)

	s, err := Open(path, ModePartitionBuild)
	require.NoError(t, err)
	require.NoError(t, s.BuildPartitions(context.Background(), fourWay()))
	require.NoError(t, s.DeletePartitions())
	assert.Equal(t, uint32(0), s.NumPartitions())
	require.NoError(t, s.Close())

	_, err = OpenPartition(path, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBalanceByBasesPartitions(t *testing.T) {
	path := tenReads(t)

	s, err := Open(path, ModePartitionBuild, WithBuildWorkers(2), WithBuildIOLimit(1<<20))
	require.NoError(t, err)
	lengths, err := s.ReadLengths()
	require.NoError(t, err)
	require.Len(t, lengths, 11)

	assignment := BalanceByBases(lengths, 3)
	require.Len(t, assignment, 11)
	for id := 2; id < len(assignment); id++ {
		assert.GreaterOrEqual(t, assignment[id], assignment[id-1])
	}
	require.NoError(t, s.BuildPartitions(context.Background(), assignment))
	assert.Equal(t, uint32(3), s.NumPartitions())
	require.NoError(t, s.Close())

	total := 0
	for pid := PartitionID(1); pid <= 3; pid++ {
		p, err := OpenPartition(path, pid)
		require.NoError(t, err)
		total += int(p.PartitionReads().GetCardinality())
		require.NoError(t, p.Close())
	}
	assert.Equal(t, 10, total)
}

func TestPartitionReadsUnrestricted(t *testing.T) {
	path := tenReads(t)

	s, err := Open(path, ModeReadOnly)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, uint64(10), s.PartitionReads().GetCardinality())
	assert.True(t, s.ReadInPartition(7))
}
