package codec

import (
	"errors"
	"fmt"
)

var (
	ErrTypeMismatch = errors.New("value does not match the schema type")
	ErrOutOfRange   = errors.New("integer out of range")
	ErrNoField      = errors.New("no Go field for schema field")
	ErrArgCount     = errors.New("wrong number of arguments")
)

// EncodeError reports a value that cannot be written under its plan. Path names the
// offending value, e.g. "args[1].tags[3]".
type EncodeError struct {
	Path string
	Op   Op
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("codec: encode %s at %s: %v", e.Op, e.Path, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func encodeErr(path string, op Op, err error) error {
	return &EncodeError{Path: path, Op: op, Err: err}
}

func mismatch(path string, op Op, v any) error {
	return encodeErr(path, op, fmt.Errorf("%w: got %T", ErrTypeMismatch, v))
}
