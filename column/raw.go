package column

import (
	"fmt"

	"github.com/diagon-project/diagon"
)

// FromRawNumeric wraps a contiguous little-endian buffer as a numeric
// column. The buffer is owned by the column afterwards.
func FromRawNumeric(typ TypeIndex, raw []byte) (*Column, error) {
	width := typ.ElementWidth()
	if width == 0 {
		return nil, fmt.Errorf("column: %s is not a fixed-width type: %w", typ, diagon.ErrInvalidInput)
	}
	if len(raw)%width != 0 {
		return nil, fmt.Errorf("column: raw length %d not a multiple of width %d: %w",
			len(raw), width, diagon.ErrCorrupt)
	}
	c, err := New(typ)
	if err != nil {
		return nil, err
	}
	c.data.numeric = raw
	c.data.rows = len(raw) / width
	return c, nil
}

// FromStringStorage wraps end-offsets and a chars buffer as a string column.
// Offsets must be non-decreasing and end at len(chars).
func FromStringStorage(offsets []uint64, chars []byte) (*Column, error) {
	prev := uint64(0)
	for i, off := range offsets {
		if off < prev || off > uint64(len(chars)) {
			return nil, fmt.Errorf("column: offset %d at row %d out of order: %w", off, i, diagon.ErrCorrupt)
		}
		prev = off
	}
	if len(offsets) > 0 && offsets[len(offsets)-1] != uint64(len(chars)) {
		return nil, fmt.Errorf("column: final offset %d != chars length %d: %w",
			offsets[len(offsets)-1], len(chars), diagon.ErrCorrupt)
	}
	c, err := New(TypeString)
	if err != nil {
		return nil, err
	}
	c.data.offsets = offsets
	c.data.chars = chars
	c.data.rows = len(offsets)
	return c, nil
}
