package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/diagon-project/diagon"
)

// IndexOutput writes a file sequentially. All multi-byte integers are
// little-endian; counts and deltas use unsigned varints.
type IndexOutput struct {
	name   string
	w      *bufio.Writer
	closer io.Closer
	fp     int64
	scratch [binary.MaxVarintLen64]byte
}

func newIndexOutput(name string, w io.Writer, closer io.Closer) *IndexOutput {
	return &IndexOutput{name: name, w: bufio.NewWriterSize(w, 1<<16), closer: closer}
}

// Name returns the file name this output writes.
func (o *IndexOutput) Name() string { return o.name }

// FilePointer returns the current write position.
func (o *IndexOutput) FilePointer() int64 { return o.fp }

// WriteByte writes a single byte.
func (o *IndexOutput) WriteByte(b byte) error {
	if err := o.w.WriteByte(b); err != nil {
		return fmt.Errorf("store: write %s: %v: %w", o.name, err, diagon.ErrIO)
	}
	o.fp++
	return nil
}

// WriteBytes writes p in full.
func (o *IndexOutput) WriteBytes(p []byte) error {
	n, err := o.w.Write(p)
	o.fp += int64(n)
	if err != nil {
		return fmt.Errorf("store: write %s: %v: %w", o.name, err, diagon.ErrIO)
	}
	return nil
}

// Write implements io.Writer for collaborators that stream their own
// serialization (bloom filters, checksum writers).
func (o *IndexOutput) Write(p []byte) (int, error) {
	if err := o.WriteBytes(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteUint32 writes a fixed-width little-endian uint32.
func (o *IndexOutput) WriteUint32(v uint32) error {
	binary.LittleEndian.PutUint32(o.scratch[:4], v)
	return o.WriteBytes(o.scratch[:4])
}

// WriteUint64 writes a fixed-width little-endian uint64.
func (o *IndexOutput) WriteUint64(v uint64) error {
	binary.LittleEndian.PutUint64(o.scratch[:8], v)
	return o.WriteBytes(o.scratch[:8])
}

// WriteUvarint writes an unsigned varint.
func (o *IndexOutput) WriteUvarint(v uint64) error {
	n := binary.PutUvarint(o.scratch[:], v)
	return o.WriteBytes(o.scratch[:n])
}

// Close flushes buffered bytes and closes the underlying file.
func (o *IndexOutput) Close() error {
	if err := o.w.Flush(); err != nil {
		if o.closer != nil {
			_ = o.closer.Close()
		}
		return fmt.Errorf("store: flush %s: %v: %w", o.name, err, diagon.ErrIO)
	}
	if o.closer == nil {
		return nil
	}
	if err := o.closer.Close(); err != nil {
		return fmt.Errorf("store: close %s: %v: %w", o.name, err, diagon.ErrIO)
	}
	return nil
}
