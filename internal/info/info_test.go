package info

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqstore/internal/catalog"
	"github.com/hupe1980/sqstore/internal/errs"
	"github.com/hupe1980/sqstore/internal/fs"
)

func sample() *Info {
	in := New()
	in.Generation = 7
	in.NumLibraries = 2
	in.NumBlobs = 1
	in.SetCounts(catalog.Counts{
		Reads:          3,
		RawReads:       3,
		CorrectedReads: 1,
		RawBases:       2097501,
		CorrectedBases: 250,
	})
	return in
}

func TestEncodeDecode(t *testing.T) {
	in := sample()

	out, err := Decode(in.Encode())
	require.NoError(t, err)

	assert.Equal(t, in.Generation, out.Generation)
	assert.Equal(t, in.NumLibraries, out.NumLibraries)
	assert.Equal(t, in.NumBlobs, out.NumBlobs)
	assert.Equal(t, in.Counts(), out.Counts())
	assert.NoError(t, out.Validate())
}

func TestDecodeFingerprints(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		field  string
	}{
		{"magic", 0, "magic"},
		{"version", 8, "version"},
		{"library record size", 16, "library record size"},
		{"read record size", 20, "read record size"},
		{"library id bits", 24, "library id bits"},
		{"library name size", 28, "library name size"},
		{"read count bits", 32, "read count bits"},
		{"read length bits", 36, "read length bits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := sample().Encode()
			data[tt.offset] ^= 0x01

			_, err := Decode(data)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrIncompatibleFormat)

			var fe *FormatError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestDecodeFingerprintBeforeChecksum(t *testing.T) {
	data := sample().Encode()
	data[len(data)-1] ^= 0xFF // payload damage
	binary.LittleEndian.PutUint32(data[20:24], catalog.ReadRecordSize+8)

	_, err := Decode(data)
	assert.ErrorIs(t, err, errs.ErrIncompatibleFormat)
}

func TestDecodeCorrupt(t *testing.T) {
	t.Run("checksum", func(t *testing.T) {
		data := sample().Encode()
		data[headerSize] ^= 0xFF
		_, err := Decode(data)
		assert.ErrorIs(t, err, errs.ErrCorrupt)
	})

	t.Run("truncated payload", func(t *testing.T) {
		data := sample().Encode()
		_, err := Decode(data[:len(data)-4])
		assert.ErrorIs(t, err, errs.ErrCorrupt)
	})

	t.Run("truncated header", func(t *testing.T) {
		data := sample().Encode()
		_, err := Decode(data[:20])
		assert.ErrorIs(t, err, errs.ErrCorrupt)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Decode(nil)
		assert.ErrorIs(t, err, errs.ErrIncompatibleFormat)
	})
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(fs.Default, dir)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	in := sample()
	require.NoError(t, in.Save(fs.Default, dir))

	out, err := Load(fs.Default, dir)
	require.NoError(t, err)
	assert.Equal(t, in.Counts(), out.Counts())
	assert.Equal(t, in.UpdatedAt.UnixNano(), out.UpdatedAt.UnixNano())
}

func TestCheck(t *testing.T) {
	in := sample()
	counted := in.Counts()

	require.NoError(t, in.Check(counted))
	require.NoError(t, in.Check(counted))

	counted.RawReads++
	counted.TrimmedBases = 10

	err := in.Check(counted)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrityMismatch)

	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	require.Len(t, ie.Mismatches, 2)
	assert.Equal(t, Mismatch{Field: "raw reads", Stored: 3, Counted: 4}, ie.Mismatches[0])
	assert.Equal(t, Mismatch{Field: "trimmed bases", Stored: 0, Counted: 10}, ie.Mismatches[1])

	// Check never mutates.
	assert.Equal(t, uint32(3), in.RawReads)
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sample().WriteText(&buf))

	out := buf.String()
	assert.Contains(t, out, "numReads")
	assert.Contains(t, out, "2097501")
	assert.Contains(t, out, "generation")
	assert.NotContains(t, out, "updatedAt")
}
