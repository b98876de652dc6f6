// Package codec implements the byte transforms applied to blob payloads.
//
// The store never interprets compressed bytes: a codec id is recorded next to
// every payload and the matching transform is applied on read. Unknown ids
// are rejected with ErrUnknownCodec.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a payload transform. The value is persisted.
type Codec uint8

const (
	// None stores payload bytes unchanged.
	None Codec = 0
	// LZ4 uses LZ4 block compression (fast).
	LZ4 Codec = 1
	// Zstd uses Zstandard (better ratio).
	Zstd Codec = 2
)

var (
	// ErrUnknownCodec is returned for codec ids this build does not know.
	ErrUnknownCodec = errors.New("codec: unknown codec")
	// ErrCorruptPayload is returned when a payload cannot be decoded.
	ErrCorruptPayload = errors.New("codec: corrupt payload")
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// Parse maps a codec name to its id.
func Parse(name string) (Codec, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// maxDecodedSize bounds allocations driven by on-disk size fields.
const maxDecodedSize = 1 << 30

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize), zstd.WithDecoderConcurrency(1))
	return dec
}

// Encode transforms src with codec c. It returns the codec actually used:
// when compression does not shrink the payload the bytes are stored as None.
func Encode(c Codec, src []byte) ([]byte, Codec, error) {
	if len(src) == 0 {
		return src, None, nil
	}

	var out []byte
	switch c {
	case None:
		return src, None, nil
	case LZ4:
		// LZ4 blocks do not carry their decoded size.
		buf := make([]byte, 4+lz4.CompressBlockBound(len(src)))
		binary.LittleEndian.PutUint32(buf, uint32(len(src)))
		n, err := lz4.CompressBlock(src, buf[4:], nil)
		if err != nil {
			return nil, None, err
		}
		if n == 0 {
			return src, None, nil
		}
		out = buf[:4+n]
	case Zstd:
		enc := getZstdEncoder()
		out = enc.EncodeAll(src, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, None, fmt.Errorf("%w: %d", ErrUnknownCodec, c)
	}

	if len(out) >= len(src) {
		return src, None, nil
	}
	return out, c, nil
}

// Decode reverses Encode.
func Decode(c Codec, src []byte) ([]byte, error) {
	switch c {
	case None:
		return src, nil
	case LZ4:
		if len(src) < 4 {
			return nil, fmt.Errorf("%w: lz4 header truncated", ErrCorruptPayload)
		}
		size := binary.LittleEndian.Uint32(src)
		if size > maxDecodedSize {
			return nil, fmt.Errorf("%w: lz4 size %d too large", ErrCorruptPayload, size)
		}
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(src[4:], dst)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
		}
		if uint32(n) != size {
			return nil, fmt.Errorf("%w: lz4 size %d, want %d", ErrCorruptPayload, n, size)
		}
		return dst, nil
	case Zstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(src, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, c)
}
