package codec

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/diagon-project/diagon"
)

func allCodecs() []Codec {
	return []Codec{None{}, LZ4{}, NewZSTD(), Snappy{}}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	compressible := bytes.Repeat([]byte("granule granule granule "), 1024)
	random := make([]byte, 16384)
	rng.Read(random)

	inputs := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"one byte", []byte{0x42}},
		{"compressible", compressible},
		{"incompressible", random},
	}

	for _, c := range allCodecs() {
		for _, in := range inputs {
			t.Run(c.Name()+"/"+in.name, func(t *testing.T) {
				dst := make([]byte, c.MaxCompressedSize(len(in.data)))
				n, err := c.Compress(dst, in.data)
				if err != nil {
					t.Fatal(err)
				}
				if n > len(dst) {
					t.Fatalf("compressed %d bytes into %d-byte bound", n, len(dst))
				}

				out := make([]byte, len(in.data))
				m, err := c.Decompress(out, dst[:n])
				if err != nil {
					t.Fatal(err)
				}
				if m != len(in.data) || !bytes.Equal(out, in.data) {
					t.Fatalf("round trip mismatch (%d bytes)", m)
				}
			})
		}
	}
}

func TestCompressibleDataShrinks(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 4096)
	for _, c := range []Codec{LZ4{}, NewZSTD(), Snappy{}} {
		dst := make([]byte, c.MaxCompressedSize(len(data)))
		n, err := c.Compress(dst, data)
		if err != nil {
			t.Fatal(err)
		}
		if n >= len(data) {
			t.Fatalf("%s: repetitive input did not shrink (%d >= %d)", c.Name(), n, len(data))
		}
	}
}

func TestDecompressLengthMismatchIsCorrupt(t *testing.T) {
	data := bytes.Repeat([]byte("xyz"), 1000)
	for _, c := range allCodecs() {
		dst := make([]byte, c.MaxCompressedSize(len(data)))
		n, err := c.Compress(dst, data)
		if err != nil {
			t.Fatal(err)
		}

		short := make([]byte, len(data)-1)
		if _, err := c.Decompress(short, dst[:n]); !errors.Is(err, diagon.ErrCorrupt) {
			t.Fatalf("%s: expected ErrCorrupt on length mismatch, got %v", c.Name(), err)
		}
	}
}

func TestGarbageInputIsCorrupt(t *testing.T) {
	garbage := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x99, 0x01}
	dst := make([]byte, 128)
	for _, c := range []Codec{LZ4{}, NewZSTD(), Snappy{}} {
		if _, err := c.Decompress(dst, garbage); !errors.Is(err, diagon.ErrCorrupt) {
			t.Fatalf("%s: expected ErrCorrupt on garbage, got %v", c.Name(), err)
		}
	}
}

func TestRegistryByID(t *testing.T) {
	for _, c := range allCodecs() {
		got, err := ByID(c.ID())
		if err != nil {
			t.Fatal(err)
		}
		if got.Name() != c.Name() {
			t.Fatalf("ByID(%d) = %s, want %s", c.ID(), got.Name(), c.Name())
		}
	}

	if _, err := ByID(ID(0x7F)); !errors.Is(err, diagon.ErrCorrupt) {
		t.Fatalf("unknown id: expected ErrCorrupt, got %v", err)
	}
	if _, err := ByName("brotli"); !errors.Is(err, diagon.ErrInvalidConfig) {
		t.Fatalf("unknown name: expected ErrInvalidConfig, got %v", err)
	}
}
