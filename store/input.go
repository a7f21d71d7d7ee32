package store

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/diagon-project/diagon"
)

// IndexInput reads a file with an independent position. Inputs are not safe
// for concurrent use; Clone gives each reader its own file pointer over the
// same underlying bytes.
type IndexInput interface {
	// ReadByte reads one byte; io.EOF at end of file.
	ReadByte() (byte, error)

	// ReadBytes fills p completely; io.ErrUnexpectedEOF if the file ends
	// first.
	ReadBytes(p []byte) error

	// ReadUint32 reads a fixed-width little-endian uint32.
	ReadUint32() (uint32, error)

	// ReadUint64 reads a fixed-width little-endian uint64.
	ReadUint64() (uint64, error)

	// ReadUvarint reads an unsigned varint.
	ReadUvarint() (uint64, error)

	// Seek sets the absolute read position.
	Seek(pos int64) error

	// FilePointer returns the current read position.
	FilePointer() int64

	// Length returns the total file length.
	Length() int64

	// Clone returns an independent input over the same file, positioned
	// at the same offset.
	Clone() IndexInput

	// Close releases the input. Clones must be closed independently.
	Close() error
}

// BytesInput is an IndexInput over an in-memory or memory-mapped byte slice.
type BytesInput struct {
	name string
	data []byte
	pos  int64
}

// NewBytesInput wraps data without copying it.
func NewBytesInput(name string, data []byte) *BytesInput {
	return &BytesInput{name: name, data: data}
}

func (in *BytesInput) ReadByte() (byte, error) {
	if in.pos >= int64(len(in.data)) {
		return 0, io.EOF
	}
	b := in.data[in.pos]
	in.pos++
	return b, nil
}

func (in *BytesInput) ReadBytes(p []byte) error {
	if in.pos+int64(len(p)) > int64(len(in.data)) {
		return io.ErrUnexpectedEOF
	}
	copy(p, in.data[in.pos:])
	in.pos += int64(len(p))
	return nil
}

func (in *BytesInput) ReadUint32() (uint32, error) {
	if in.pos+4 > int64(len(in.data)) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(in.data[in.pos:])
	in.pos += 4
	return v, nil
}

func (in *BytesInput) ReadUint64() (uint64, error) {
	if in.pos+8 > int64(len(in.data)) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint64(in.data[in.pos:])
	in.pos += 8
	return v, nil
}

func (in *BytesInput) ReadUvarint() (uint64, error) {
	return readUvarint(in)
}

func (in *BytesInput) Seek(pos int64) error {
	if pos < 0 || pos > int64(len(in.data)) {
		return fmt.Errorf("store: seek %s to %d (length %d): %w",
			in.name, pos, len(in.data), diagon.ErrInvalidInput)
	}
	in.pos = pos
	return nil
}

func (in *BytesInput) FilePointer() int64 { return in.pos }
func (in *BytesInput) Length() int64      { return int64(len(in.data)) }

func (in *BytesInput) Clone() IndexInput {
	return &BytesInput{name: in.name, data: in.data, pos: in.pos}
}

func (in *BytesInput) Close() error { return nil }

// readUvarint decodes byte-by-byte so every input shares one implementation.
// Over-long encodings are corruption, matching encoding/binary.
func readUvarint(in IndexInput) (uint64, error) {
	var v uint64
	var shift uint
	for i := 0; i < binary.MaxVarintLen64; i++ {
		b, err := in.ReadByte()
		if err != nil {
			if err == io.EOF && i > 0 {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if b < 0x80 {
			if i == binary.MaxVarintLen64-1 && b > 1 {
				return 0, fmt.Errorf("store: uvarint overflow: %w", diagon.ErrCorrupt)
			}
			return v | uint64(b)<<shift, nil
		}
		v |= uint64(b&0x7F) << shift
		shift += 7
	}
	return 0, fmt.Errorf("store: uvarint too long: %w", diagon.ErrCorrupt)
}

// fileInput is an IndexInput over an os file using positioned reads, so
// clones never race on a shared descriptor offset.
type fileInput struct {
	name   string
	r      io.ReaderAt
	closer io.Closer // nil on clones; only the root input closes the file
	length int64
	pos    int64
}

func (in *fileInput) ReadByte() (byte, error) {
	var b [1]byte
	if err := in.ReadBytes(b[:]); err != nil {
		if err == io.ErrUnexpectedEOF && in.pos >= in.length {
			return 0, io.EOF
		}
		return 0, err
	}
	return b[0], nil
}

func (in *fileInput) ReadBytes(p []byte) error {
	if in.pos+int64(len(p)) > in.length {
		return io.ErrUnexpectedEOF
	}
	n, err := in.r.ReadAt(p, in.pos)
	in.pos += int64(n)
	if err != nil && !(err == io.EOF && n == len(p)) {
		return fmt.Errorf("store: read %s: %v: %w", in.name, err, diagon.ErrIO)
	}
	if n != len(p) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (in *fileInput) ReadUint32() (uint32, error) {
	var b [4]byte
	if err := in.ReadBytes(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (in *fileInput) ReadUint64() (uint64, error) {
	var b [8]byte
	if err := in.ReadBytes(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (in *fileInput) ReadUvarint() (uint64, error) {
	return readUvarint(in)
}

func (in *fileInput) Seek(pos int64) error {
	if pos < 0 || pos > in.length {
		return fmt.Errorf("store: seek %s to %d (length %d): %w",
			in.name, pos, in.length, diagon.ErrInvalidInput)
	}
	in.pos = pos
	return nil
}

func (in *fileInput) FilePointer() int64 { return in.pos }
func (in *fileInput) Length() int64      { return in.length }

func (in *fileInput) Clone() IndexInput {
	return &fileInput{name: in.name, r: in.r, length: in.length, pos: in.pos}
}

func (in *fileInput) Close() error {
	if in.closer == nil {
		return nil
	}
	if err := in.closer.Close(); err != nil {
		return fmt.Errorf("store: close %s: %v: %w", in.name, err, diagon.ErrIO)
	}
	return nil
}
