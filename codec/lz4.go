package codec

import (
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/diagon-project/diagon"
)

// Block framing: one flag byte ahead of the payload. LZ4 block compression
// legitimately refuses incompressible input; such blocks are stored raw.
const (
	lz4BlockRaw        = 0x00
	lz4BlockCompressed = 0x01
)

// LZ4 is the fast default codec for hot-tier granules.
type LZ4 struct{}

func (LZ4) Name() string { return "LZ4" }
func (LZ4) ID() ID       { return IDLZ4 }

func (LZ4) MaxCompressedSize(n int) int {
	return 1 + lz4.CompressBlockBound(n)
}

func (LZ4) Compress(dst, src []byte) (int, error) {
	if len(dst) < 1+lz4.CompressBlockBound(len(src)) {
		return 0, fmt.Errorf("codec: LZ4 destination too small: %w", diagon.ErrInvalidInput)
	}

	var c lz4.Compressor
	n, err := c.CompressBlock(src, dst[1:])
	if err != nil || n == 0 || n >= len(src) {
		// Incompressible; store raw.
		dst[0] = lz4BlockRaw
		return 1 + copy(dst[1:], src), nil
	}

	dst[0] = lz4BlockCompressed
	return 1 + n, nil
}

func (LZ4) Decompress(dst, src []byte) (int, error) {
	if len(src) < 1 {
		return 0, fmt.Errorf("codec: LZ4 empty block: %w", diagon.ErrCorrupt)
	}

	switch src[0] {
	case lz4BlockRaw:
		if len(src)-1 != len(dst) {
			return 0, fmt.Errorf("codec: LZ4 raw length mismatch (%d != %d): %w",
				len(src)-1, len(dst), diagon.ErrCorrupt)
		}
		return copy(dst, src[1:]), nil

	case lz4BlockCompressed:
		n, err := lz4.UncompressBlock(src[1:], dst)
		if err != nil {
			return 0, fmt.Errorf("codec: LZ4 decompress: %v: %w", err, diagon.ErrCorrupt)
		}
		if n != len(dst) {
			return 0, fmt.Errorf("codec: LZ4 decompressed %d bytes, expected %d: %w",
				n, len(dst), diagon.ErrCorrupt)
		}
		return n, nil
	}

	return 0, fmt.Errorf("codec: LZ4 unknown block flag 0x%02x: %w", src[0], diagon.ErrCorrupt)
}
