// Package bytesref provides the byte-sequence value type used for terms,
// keys and FST inputs throughout the engine. A Bytes is an immutable view;
// no encoding is assumed and ordering is plain byte-wise, with the empty
// sequence smallest.
package bytesref

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
)

// Bytes is a possibly-borrowed byte sequence. Callers that retain a Bytes
// beyond the lifetime of the buffer it views must Clone it first.
type Bytes []byte

// FromString views the bytes of s.
func FromString(s string) Bytes {
	return Bytes(s)
}

// Len returns the number of bytes.
func (b Bytes) Len() int { return len(b) }

// Empty reports whether the sequence has zero length.
func (b Bytes) Empty() bool { return len(b) == 0 }

// Clone returns an owned deep copy.
func (b Bytes) Clone() Bytes {
	return append(Bytes(nil), b...)
}

// Compare orders byte-wise: negative if b < other, zero if equal.
func (b Bytes) Compare(other Bytes) int {
	return bytes.Compare(b, other)
}

// Equal reports byte-exact equality.
func (b Bytes) Equal(other Bytes) bool {
	return bytes.Equal(b, other)
}

// Hash returns a stable 64-bit hash of the content.
func (b Bytes) Hash() uint64 {
	return xxhash.Sum64(b)
}

// HasPrefix reports whether p is a prefix of b.
func (b Bytes) HasPrefix(p Bytes) bool {
	return bytes.HasPrefix(b, p)
}

// String converts the content to a string. Binary content is not escaped.
func (b Bytes) String() string { return string(b) }

// CommonPrefixLen returns the length of the longest common prefix of a and b.
func CommonPrefixLen(a, b Bytes) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
