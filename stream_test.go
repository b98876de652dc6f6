package sqstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRead(t *testing.T) {
	path := storePath(t)

	s, err := Open(path, ModeCreate, WithCompression(CompressionLZ4))
	require.NoError(t, err)
	lib, err := s.AddEmptyLibrary("lib")
	require.NoError(t, err)
	addRead(t, s, lib.ID, 100)
	addRead(t, s, lib.ID, 200)
	_, err = s.AddEmptyRead(lib.ID)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, ModeExtend, WithCompression(CompressionZstd))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.StashReadData(2, GenerationTrimmed, testSeq(80), nil))
	require.NoError(t, s.SetClearRange(2, 5, 150))
	require.NoError(t, s.SetIgnore(2))

	var buf bytes.Buffer
	for id := uint32(1); id <= 3; id++ {
		require.NoError(t, s.SaveRead(&buf, id))
	}
	assert.ErrorIs(t, s.SaveRead(&buf, 4), ErrOutOfRange)

	r, d, err := LoadRead(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), r.ID)
	assert.Equal(t, lib.ID, r.Library)
	assert.Equal(t, uint32(100), r.Length())
	assert.Equal(t, uint32(100), r.ClearEnd)
	assert.Equal(t, "read1", d.Name)
	assert.Equal(t, GenerationRaw, d.Generation)
	assert.Equal(t, testSeq(100), d.Seq)
	assert.Equal(t, testQual(100), d.Qual)

	r, d, err = LoadRead(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), r.ID)
	assert.True(t, r.Ignored)
	assert.Equal(t, uint32(5), r.ClearBegin)
	assert.Equal(t, uint32(150), r.ClearEnd)
	assert.Equal(t, uint32(80), r.Length())
	assert.True(t, r.HasGeneration(GenerationTrimmed))
	assert.False(t, r.HasGeneration(GenerationRaw))
	assert.Equal(t, GenerationTrimmed, d.Generation)
	assert.Equal(t, "read2", d.Name)
	assert.Equal(t, testSeq(80), d.Seq)
	assert.Empty(t, d.Qual)

	r, d, err = LoadRead(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), r.ID)
	assert.Nil(t, d)
	_, ok := r.Generation()
	assert.False(t, ok)

	_, _, err = LoadRead(&buf)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.SaveRead(&buf, 1), ErrClosed)
}

func TestSaveReadFromPartition(t *testing.T) {
	path := tenReads(t)

	s, err := Open(path, ModePartitionBuild)
	require.NoError(t, err)
	require.NoError(t, s.BuildPartitions(context.Background(), fourWay()))
	require.NoError(t, s.Close())

	p, err := OpenPartition(path, 2)
	require.NoError(t, err)
	defer p.Close()

	var buf bytes.Buffer
	require.NoError(t, p.SaveRead(&buf, 5))
	assert.ErrorIs(t, p.SaveRead(&buf, 1), ErrNotInPartition)

	r, d, err := LoadRead(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), r.ID)
	assert.Equal(t, uint32(500), r.Length())
	assert.Equal(t, testSeq(500), d.Seq)
}

// resealHeader recomputes the header checksum after a deliberate edit.
func resealHeader(b []byte) []byte {
	binary.LittleEndian.PutUint32(b[28:32], crc32.ChecksumIEEE(b[:28]))
	return b
}

func TestLoadReadCorrupt(t *testing.T) {
	path := storePath(t)
	populate(t, path, []int{64})

	s, err := Open(path, ModeReadOnly)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, s.SaveRead(&buf, 1))
	require.NoError(t, s.Close())
	saved := buf.Bytes()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrCorrupt},
		{"version", func(b []byte) []byte { b[4] = 9; return resealHeader(b) }, ErrIncompatibleFormat},
		{"header checksum", func(b []byte) []byte { b[12] ^= 0xFF; return b }, ErrCorrupt},
		{"generation", func(b []byte) []byte { b[5] = 7; return resealHeader(b) }, ErrCorrupt},
		{"zero id", func(b []byte) []byte { clear(b[8:12]); return resealHeader(b) }, ErrCorrupt},
		{"clear range", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[20:24], 100)
			return resealHeader(b)
		}, ErrCorrupt},
		{"payload checksum", func(b []byte) []byte { b[len(b)-1] ^= 0xFF; return b }, ErrCorrupt},
		{"truncated header", func(b []byte) []byte { return b[:streamHeaderSize-1] }, ErrShortRead},
		{"missing payload", func(b []byte) []byte { return b[:streamHeaderSize] }, ErrShortRead},
		{"truncated payload", func(b []byte) []byte { return b[:len(b)-10] }, ErrShortRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.mutate(append([]byte(nil), saved...))
			_, _, err := LoadRead(bytes.NewReader(b))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
