// Package diagon carries the error kinds shared by every subsystem of the
// engine. Callers discriminate failures with errors.Is against these
// sentinels; packages wrap them with context via fmt.Errorf and %w.
package diagon

import "errors"

var (
	// ErrInvalidInput reports a programmer-contract violation on data fed
	// into a builder or writer: out-of-order or duplicate term adds, use
	// after finish, index out of range.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig reports an out-of-range configuration value.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrCorrupt reports a data or format failure while reading: truncated
	// stream, magic or version mismatch, unknown encoding tag, decompressed
	// length mismatch.
	ErrCorrupt = errors.New("corrupt data")

	// ErrIO reports an underlying storage failure.
	ErrIO = errors.New("io error")

	// ErrNotFound reports a missing named entity (segment, file, lock).
	ErrNotFound = errors.New("not found")
)
