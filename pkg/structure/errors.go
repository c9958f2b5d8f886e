package structure

import "errors"

var (
	ErrImmutable       = errors.New("structure: record is immutable")
	ErrIndexOutOfRange = errors.New("structure: index out of range")
	ErrNotConvertible  = errors.New("structure: cannot be converted to Value")
	ErrUnknownClass    = errors.New("structure: unknown class")
	ErrNotAClass       = errors.New("structure: only structs can be registered as classes")
	ErrFieldMismatch   = errors.New("structure: value does not fit the destination field")
)
