package column

import (
	"fmt"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/bytesref"
)

// Field is a variant holding exactly one of: signed 64-bit integer, unsigned
// 64-bit integer, 32/64-bit float, owned byte sequence, or null.
type Field struct {
	kind TypeIndex
	i    int64
	u    uint64
	f    float64
	b    bytesref.Bytes
}

// NullField returns the null variant.
func NullField() Field { return Field{kind: TypeNothing} }

// Int64Field wraps a signed integer.
func Int64Field(v int64) Field { return Field{kind: TypeInt64, i: v} }

// UInt64Field wraps an unsigned integer.
func UInt64Field(v uint64) Field { return Field{kind: TypeUInt64, u: v} }

// Float32Field wraps a 32-bit float.
func Float32Field(v float32) Field { return Field{kind: TypeFloat32, f: float64(v)} }

// Float64Field wraps a 64-bit float.
func Float64Field(v float64) Field { return Field{kind: TypeFloat64, f: v} }

// BytesField wraps a byte sequence, taking ownership of a copy.
func BytesField(v bytesref.Bytes) Field { return Field{kind: TypeString, b: v.Clone()} }

// Kind returns the variant tag.
func (f Field) Kind() TypeIndex { return f.kind }

// IsNull reports whether the field is the null variant.
func (f Field) IsNull() bool { return f.kind == TypeNothing }

// Int64 extracts a signed integer value.
func (f Field) Int64() (int64, error) {
	switch f.kind {
	case TypeInt64:
		return f.i, nil
	case TypeUInt64:
		return int64(f.u), nil
	}
	return 0, fmt.Errorf("column: field %s is not an integer: %w", f.kind, diagon.ErrInvalidInput)
}

// UInt64 extracts an unsigned integer value.
func (f Field) UInt64() (uint64, error) {
	switch f.kind {
	case TypeUInt64:
		return f.u, nil
	case TypeInt64:
		if f.i < 0 {
			return 0, fmt.Errorf("column: negative value for unsigned field: %w", diagon.ErrInvalidInput)
		}
		return uint64(f.i), nil
	}
	return 0, fmt.Errorf("column: field %s is not an integer: %w", f.kind, diagon.ErrInvalidInput)
}

// Float64 extracts a floating-point value.
func (f Field) Float64() (float64, error) {
	switch f.kind {
	case TypeFloat32, TypeFloat64:
		return f.f, nil
	case TypeInt64:
		return float64(f.i), nil
	case TypeUInt64:
		return float64(f.u), nil
	}
	return 0, fmt.Errorf("column: field %s is not numeric: %w", f.kind, diagon.ErrInvalidInput)
}

// Bytes extracts a byte-sequence value.
func (f Field) Bytes() (bytesref.Bytes, error) {
	if f.kind != TypeString {
		return nil, fmt.Errorf("column: field %s is not a byte sequence: %w", f.kind, diagon.ErrInvalidInput)
	}
	return f.b, nil
}
