package warp

import "errors"

var (
	ErrInvalidFormTag   = errors.New("envelope: invalid form tag")
	ErrMissingHeader    = errors.New("envelope: missing header")
	ErrMalformedMapBody = errors.New("envelope: malformed map body")
)
