package codec

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	compressible := bytes.Repeat([]byte("ACGTACGTTTGACCA"), 400)

	for _, c := range []Codec{None, LZ4, Zstd} {
		t.Run(c.String(), func(t *testing.T) {
			enc, used, err := Encode(c, compressible)
			require.NoError(t, err)
			if c != None {
				assert.Equal(t, c, used)
				assert.Less(t, len(enc), len(compressible))
			}

			dec, err := Decode(used, enc)
			require.NoError(t, err)
			assert.Equal(t, compressible, dec)
		})
	}
}

func TestEncode_IncompressibleFallsBackToNone(t *testing.T) {
	src := []byte{0x01, 0x7f, 0x33}
	enc, used, err := Encode(Zstd, src)
	require.NoError(t, err)
	assert.Equal(t, None, used)
	assert.Equal(t, src, enc)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(Codec(9), []byte{1})
	assert.ErrorIs(t, err, ErrUnknownCodec)

	_, err = Decode(LZ4, []byte{1, 2})
	assert.ErrorIs(t, err, ErrCorruptPayload)

	_, err = Decode(Zstd, []byte("not zstd"))
	assert.ErrorIs(t, err, ErrCorruptPayload)
}

func TestDecode_OversizedFrames(t *testing.T) {
	t.Run("lz4", func(t *testing.T) {
		src := make([]byte, 8)
		binary.LittleEndian.PutUint32(src, maxDecodedSize+1)
		_, err := Decode(LZ4, src)
		assert.ErrorIs(t, err, ErrCorruptPayload)
	})

	t.Run("zstd", func(t *testing.T) {
		// Frame header declaring a content size just past the limit,
		// followed by an empty last raw block.
		frame := []byte{0x28, 0xb5, 0x2f, 0xfd, 0xc0, 0x00}
		frame = binary.LittleEndian.AppendUint64(frame, maxDecodedSize+1)
		frame = append(frame, 0x01, 0x00, 0x00)
		_, err := Decode(Zstd, frame)
		assert.ErrorIs(t, err, ErrCorruptPayload)
	})
}

func TestParse(t *testing.T) {
	c, err := Parse("lz4")
	require.NoError(t, err)
	assert.Equal(t, LZ4, c)

	c, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, None, c)

	_, err = Parse("brotli")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}
