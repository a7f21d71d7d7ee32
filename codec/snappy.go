package codec

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/diagon-project/diagon"
)

// Snappy sits between None and LZ4; kept for segments migrated from engines
// that wrote snappy blocks.
type Snappy struct{}

func (Snappy) Name() string { return "Snappy" }
func (Snappy) ID() ID       { return IDSnappy }

func (Snappy) MaxCompressedSize(n int) int {
	return snappy.MaxEncodedLen(n)
}

func (Snappy) Compress(dst, src []byte) (int, error) {
	if len(dst) < snappy.MaxEncodedLen(len(src)) {
		return 0, fmt.Errorf("codec: Snappy destination too small: %w", diagon.ErrInvalidInput)
	}
	return len(snappy.Encode(dst, src)), nil
}

func (Snappy) Decompress(dst, src []byte) (int, error) {
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return 0, fmt.Errorf("codec: Snappy decompress: %v: %w", err, diagon.ErrCorrupt)
	}
	if len(out) != len(dst) {
		return 0, fmt.Errorf("codec: Snappy decompressed %d bytes, expected %d: %w",
			len(out), len(dst), diagon.ErrCorrupt)
	}
	return copy(dst, out), nil
}
