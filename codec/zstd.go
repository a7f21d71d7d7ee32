package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/diagon-project/diagon"
)

// ZSTD trades compression speed for ratio; the tier controller prefers it
// for warm and colder tiers. The shared encoder and decoder are safe for
// concurrent EncodeAll/DecodeAll use.
type ZSTD struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZSTD returns a ZSTD codec at the default compression level.
func NewZSTD() ZSTD {
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderCRC(false))
	dec, _ := zstd.NewReader(nil)
	return ZSTD{enc: enc, dec: dec}
}

func (ZSTD) Name() string { return "ZSTD" }
func (ZSTD) ID() ID       { return IDZSTD }

func (ZSTD) MaxCompressedSize(n int) int {
	// Frame header plus per-block overhead for incompressible input.
	return n + n/255 + 64
}

func (z ZSTD) Compress(dst, src []byte) (int, error) {
	out := z.enc.EncodeAll(src, dst[:0])
	if len(out) > len(dst) {
		return 0, fmt.Errorf("codec: ZSTD destination too small (%d < %d): %w",
			len(dst), len(out), diagon.ErrInvalidInput)
	}
	// EncodeAll appends in place when capacity suffices, so out starts at
	// dst; a result that did not fit was rejected above.
	return copy(dst, out), nil
}

func (z ZSTD) Decompress(dst, src []byte) (int, error) {
	out, err := z.dec.DecodeAll(src, dst[:0])
	if err != nil {
		return 0, fmt.Errorf("codec: ZSTD decompress: %v: %w", err, diagon.ErrCorrupt)
	}
	if len(out) != len(dst) {
		return 0, fmt.Errorf("codec: ZSTD decompressed %d bytes, expected %d: %w",
			len(out), len(dst), diagon.ErrCorrupt)
	}
	return copy(dst, out), nil
}
