// Package codec provides the block compression codecs used for columnar
// granules and sparse-index files. All codecs share one contract: the caller
// allocates the destination with MaxCompressedSize (compression) or the
// recorded uncompressed length (decompression); codecs never allocate on the
// hot path.
package codec

import (
	"fmt"

	"github.com/diagon-project/diagon"
)

// ID is the single-byte codec identifier written into file headers.
type ID uint8

const (
	IDNone   ID = 0x00
	IDLZ4    ID = 0x01
	IDZSTD   ID = 0x02
	IDSnappy ID = 0x04
)

// Codec compresses and decompresses whole blocks.
//
// Codec values are immutable and safe for concurrent use.
type Codec interface {
	// Name is the human-readable codec name ("LZ4", "ZSTD", ...).
	Name() string

	// ID is the byte written into file headers.
	ID() ID

	// MaxCompressedSize bounds the compressed size of n source bytes.
	// Compress never writes more than this many bytes.
	MaxCompressedSize(n int) int

	// Compress compresses src into dst and returns the number of bytes
	// written. len(dst) must be at least MaxCompressedSize(len(src)).
	Compress(dst, src []byte) (int, error)

	// Decompress decompresses src into dst, which must be sized to the
	// recorded uncompressed length, and returns the number of bytes
	// written. A size mismatch is a corruption error.
	Decompress(dst, src []byte) (int, error)
}

// ByID resolves a codec from its header byte.
func ByID(id ID) (Codec, error) {
	switch id {
	case IDNone:
		return None{}, nil
	case IDLZ4:
		return LZ4{}, nil
	case IDZSTD:
		return NewZSTD(), nil
	case IDSnappy:
		return Snappy{}, nil
	}
	return nil, fmt.Errorf("codec: unknown codec id 0x%02x: %w", uint8(id), diagon.ErrCorrupt)
}

// ByName resolves a codec from its configuration name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "None", "none":
		return None{}, nil
	case "LZ4", "lz4":
		return LZ4{}, nil
	case "ZSTD", "zstd":
		return NewZSTD(), nil
	case "Snappy", "snappy":
		return Snappy{}, nil
	}
	return nil, fmt.Errorf("codec: unknown codec %q: %w", name, diagon.ErrInvalidConfig)
}

// None is the identity codec.
type None struct{}

func (None) Name() string              { return "None" }
func (None) ID() ID                    { return IDNone }
func (None) MaxCompressedSize(n int) int { return n }

func (None) Compress(dst, src []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, fmt.Errorf("codec: None destination too small (%d < %d): %w",
			len(dst), len(src), diagon.ErrInvalidInput)
	}
	return copy(dst, src), nil
}

func (None) Decompress(dst, src []byte) (int, error) {
	if len(dst) != len(src) {
		return 0, fmt.Errorf("codec: None length mismatch (%d != %d): %w",
			len(dst), len(src), diagon.ErrCorrupt)
	}
	return copy(dst, src), nil
}
