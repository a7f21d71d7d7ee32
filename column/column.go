// Package column provides the in-memory columnar buffers the segment writer
// accumulates rows into. Two storage shapes exist: fixed-width numeric
// columns hold a contiguous little-endian array, string columns hold an
// end-offsets array plus a concatenated chars buffer.
//
// Columns share their backing storage by reference counting; any mutating
// operation on a column observed shared first produces a deep copy
// (copy-on-write). After a segment is published columns are immutable and
// freely shareable without synchronization.
package column

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/bytesref"
)

// TypeIndex tags the logical element type of a column or field value.
type TypeIndex uint8

const (
	TypeNothing TypeIndex = iota
	TypeInt64
	TypeUInt32
	TypeUInt64
	TypeFloat32
	TypeFloat64
	TypeString
)

func (t TypeIndex) String() string {
	switch t {
	case TypeInt64:
		return "Int64"
	case TypeUInt32:
		return "UInt32"
	case TypeUInt64:
		return "UInt64"
	case TypeFloat32:
		return "Float32"
	case TypeFloat64:
		return "Float64"
	case TypeString:
		return "String"
	}
	return "Nothing"
}

// ElementWidth returns the fixed byte width of numeric types, 0 for String
// and Nothing.
func (t TypeIndex) ElementWidth() int {
	switch t {
	case TypeInt64, TypeUInt64, TypeFloat64:
		return 8
	case TypeUInt32, TypeFloat32:
		return 4
	}
	return 0
}

// columnData is the shared backing storage. refs counts the columns viewing
// it; a column mutating storage with refs > 1 deep-copies first.
type columnData struct {
	refs    atomic.Int64
	numeric []byte
	offsets []uint64
	chars   []byte
	rows    int
}

// Column is a typed columnar buffer.
type Column struct {
	typ  TypeIndex
	data *columnData
}

// New creates an empty column of the given type.
func New(typ TypeIndex) (*Column, error) {
	if typ == TypeNothing {
		return nil, fmt.Errorf("column: cannot create column of type Nothing: %w", diagon.ErrInvalidConfig)
	}
	d := &columnData{}
	d.refs.Store(1)
	return &Column{typ: typ, data: d}, nil
}

// Type returns the column's element type.
func (c *Column) Type() TypeIndex { return c.typ }

// Rows returns the number of rows.
func (c *Column) Rows() int { return c.data.rows }

// ByteSize returns the size of the stored data: chars.len + 8*n for strings,
// n*element_width for numerics.
func (c *Column) ByteSize() int {
	if c.typ == TypeString {
		return len(c.data.chars) + 8*c.data.rows
	}
	return c.data.rows * c.typ.ElementWidth()
}

// Share returns a new column viewing the same storage.
func (c *Column) Share() *Column {
	c.data.refs.Add(1)
	return &Column{typ: c.typ, data: c.data}
}

// Release drops this column's reference to the backing storage.
func (c *Column) Release() {
	c.data.refs.Add(-1)
}

// Shared reports whether the backing storage has more than one referent.
func (c *Column) Shared() bool { return c.data.refs.Load() > 1 }

// mutate makes the backing storage unique before a write.
func (c *Column) mutate() *columnData {
	d := c.data
	if d.refs.Load() <= 1 {
		return d
	}
	clone := &columnData{
		numeric: append([]byte(nil), d.numeric...),
		offsets: append([]uint64(nil), d.offsets...),
		chars:   append([]byte(nil), d.chars...),
		rows:    d.rows,
	}
	clone.refs.Store(1)
	d.refs.Add(-1)
	c.data = clone
	return clone
}

func (c *Column) checkType(want TypeIndex) error {
	if c.typ != want {
		return fmt.Errorf("column: append %s to %s column: %w", want, c.typ, diagon.ErrInvalidInput)
	}
	return nil
}

// AppendInt64 appends to an Int64 column.
func (c *Column) AppendInt64(v int64) error {
	if err := c.checkType(TypeInt64); err != nil {
		return err
	}
	c.appendFixed64(uint64(v))
	return nil
}

// AppendUInt64 appends to a UInt64 column.
func (c *Column) AppendUInt64(v uint64) error {
	if err := c.checkType(TypeUInt64); err != nil {
		return err
	}
	c.appendFixed64(v)
	return nil
}

// AppendUInt32 appends to a UInt32 column.
func (c *Column) AppendUInt32(v uint32) error {
	if err := c.checkType(TypeUInt32); err != nil {
		return err
	}
	c.appendFixed32(v)
	return nil
}

// AppendFloat32 appends to a Float32 column.
func (c *Column) AppendFloat32(v float32) error {
	if err := c.checkType(TypeFloat32); err != nil {
		return err
	}
	c.appendFixed32(math.Float32bits(v))
	return nil
}

// AppendFloat64 appends to a Float64 column.
func (c *Column) AppendFloat64(v float64) error {
	if err := c.checkType(TypeFloat64); err != nil {
		return err
	}
	c.appendFixed64(math.Float64bits(v))
	return nil
}

// AppendString appends to a String column.
func (c *Column) AppendString(v bytesref.Bytes) error {
	if err := c.checkType(TypeString); err != nil {
		return err
	}
	d := c.mutate()
	d.chars = append(d.chars, v...)
	d.offsets = append(d.offsets, uint64(len(d.chars)))
	d.rows++
	return nil
}

// AppendField appends a variant value; null appends the type's default.
func (c *Column) AppendField(f Field) error {
	if f.IsNull() {
		return c.appendDefault()
	}
	switch c.typ {
	case TypeInt64:
		v, err := f.Int64()
		if err != nil {
			return err
		}
		return c.AppendInt64(v)
	case TypeUInt64:
		v, err := f.UInt64()
		if err != nil {
			return err
		}
		return c.AppendUInt64(v)
	case TypeUInt32:
		v, err := f.UInt64()
		if err != nil {
			return err
		}
		return c.AppendUInt32(uint32(v))
	case TypeFloat32:
		v, err := f.Float64()
		if err != nil {
			return err
		}
		return c.AppendFloat32(float32(v))
	case TypeFloat64:
		v, err := f.Float64()
		if err != nil {
			return err
		}
		return c.AppendFloat64(v)
	case TypeString:
		v, err := f.Bytes()
		if err != nil {
			return err
		}
		return c.AppendString(v)
	}
	return fmt.Errorf("column: append to %s column: %w", c.typ, diagon.ErrInvalidInput)
}

func (c *Column) appendDefault() error {
	if c.typ == TypeString {
		return c.AppendString(nil)
	}
	d := c.mutate()
	d.numeric = append(d.numeric, make([]byte, c.typ.ElementWidth())...)
	d.rows++
	return nil
}

func (c *Column) appendFixed64(v uint64) {
	d := c.mutate()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	d.numeric = append(d.numeric, b[:]...)
	d.rows++
}

func (c *Column) appendFixed32(v uint32) {
	d := c.mutate()
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	d.numeric = append(d.numeric, b[:]...)
	d.rows++
}

func (c *Column) checkRow(i int) error {
	if i < 0 || i >= c.data.rows {
		return fmt.Errorf("column: row %d out of range [0,%d): %w", i, c.data.rows, diagon.ErrInvalidInput)
	}
	return nil
}

// Int64At reads row i of an Int64 column.
func (c *Column) Int64At(i int) (int64, error) {
	if err := c.checkType(TypeInt64); err != nil {
		return 0, err
	}
	if err := c.checkRow(i); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(c.data.numeric[i*8:])), nil
}

// UInt64At reads row i of a UInt64 column.
func (c *Column) UInt64At(i int) (uint64, error) {
	if err := c.checkType(TypeUInt64); err != nil {
		return 0, err
	}
	if err := c.checkRow(i); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(c.data.numeric[i*8:]), nil
}

// UInt32At reads row i of a UInt32 column.
func (c *Column) UInt32At(i int) (uint32, error) {
	if err := c.checkType(TypeUInt32); err != nil {
		return 0, err
	}
	if err := c.checkRow(i); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(c.data.numeric[i*4:]), nil
}

// Float32At reads row i of a Float32 column.
func (c *Column) Float32At(i int) (float32, error) {
	if err := c.checkType(TypeFloat32); err != nil {
		return 0, err
	}
	if err := c.checkRow(i); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(c.data.numeric[i*4:])), nil
}

// Float64At reads row i of a Float64 column.
func (c *Column) Float64At(i int) (float64, error) {
	if err := c.checkType(TypeFloat64); err != nil {
		return 0, err
	}
	if err := c.checkRow(i); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(c.data.numeric[i*8:])), nil
}

// StringAt reads row i of a String column. The returned bytes view the
// column's storage; clone to retain.
func (c *Column) StringAt(i int) (bytesref.Bytes, error) {
	if err := c.checkType(TypeString); err != nil {
		return nil, err
	}
	if err := c.checkRow(i); err != nil {
		return nil, err
	}
	start := uint64(0)
	if i > 0 {
		start = c.data.offsets[i-1]
	}
	return bytesref.Bytes(c.data.chars[start:c.data.offsets[i]]), nil
}

// FieldAt reads row i as a variant value.
func (c *Column) FieldAt(i int) (Field, error) {
	switch c.typ {
	case TypeInt64:
		v, err := c.Int64At(i)
		return Int64Field(v), err
	case TypeUInt64:
		v, err := c.UInt64At(i)
		return UInt64Field(v), err
	case TypeUInt32:
		v, err := c.UInt32At(i)
		return UInt64Field(uint64(v)), err
	case TypeFloat32:
		v, err := c.Float32At(i)
		return Float32Field(v), err
	case TypeFloat64:
		v, err := c.Float64At(i)
		return Float64Field(v), err
	case TypeString:
		v, err := c.StringAt(i)
		return BytesField(v), err
	}
	return NullField(), fmt.Errorf("column: read from %s column: %w", c.typ, diagon.ErrInvalidInput)
}

// RawNumeric exposes the contiguous fixed-width storage of a numeric column.
func (c *Column) RawNumeric() ([]byte, error) {
	if c.typ == TypeString || c.typ == TypeNothing {
		return nil, fmt.Errorf("column: %s column has no contiguous numeric storage: %w", c.typ, diagon.ErrInvalidInput)
	}
	return c.data.numeric, nil
}

// StringStorage exposes the offsets and chars buffers of a string column.
func (c *Column) StringStorage() (offsets []uint64, chars []byte, err error) {
	if c.typ != TypeString {
		return nil, nil, fmt.Errorf("column: %s column has no string storage: %w", c.typ, diagon.ErrInvalidInput)
	}
	return c.data.offsets, c.data.chars, nil
}

// Cut returns a new column holding rows [offset, offset+length).
func (c *Column) Cut(offset, length int) (*Column, error) {
	if offset < 0 || length < 0 || offset+length > c.data.rows {
		return nil, fmt.Errorf("column: cut [%d,%d) of %d rows: %w",
			offset, offset+length, c.data.rows, diagon.ErrInvalidInput)
	}
	out, err := New(c.typ)
	if err != nil {
		return nil, err
	}
	for i := 0; i < length; i++ {
		f, err := c.FieldAt(offset + i)
		if err != nil {
			return nil, err
		}
		if err := out.AppendField(f); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Filter returns a new column with the rows whose mask byte is nonzero.
func (c *Column) Filter(mask []byte) (*Column, error) {
	if len(mask) != c.data.rows {
		return nil, fmt.Errorf("column: filter mask length %d != %d rows: %w",
			len(mask), c.data.rows, diagon.ErrInvalidInput)
	}
	out, err := New(c.typ)
	if err != nil {
		return nil, err
	}
	for i, keep := range mask {
		if keep == 0 {
			continue
		}
		f, err := c.FieldAt(i)
		if err != nil {
			return nil, err
		}
		if err := out.AppendField(f); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Reset drops all rows, making the storage unique first.
func (c *Column) Reset() {
	d := c.mutate()
	d.numeric = d.numeric[:0]
	d.offsets = d.offsets[:0]
	d.chars = d.chars[:0]
	d.rows = 0
}
