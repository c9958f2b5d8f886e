package recon

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedIdent  = errors.New("recon: malformed identifier")
	ErrMalformedAttr   = errors.New("recon: malformed attribute")
	ErrMalformedNumber = errors.New("recon: malformed number")
	ErrUnexpectedChar  = errors.New("recon: unexpected character")
)

// ParseError locates a parse failure in the original input.
type ParseError struct {
	Err    error
	Offset int
	Msg    string
	Input  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at offset %d: %s (input %q)", e.Err, e.Offset, e.Msg, e.Input)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
