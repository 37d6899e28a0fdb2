package uuidbloom

import "errors"

var (
	// ErrInvalidID indicates an identifier that does not decode to 16 bytes.
	ErrInvalidID = errors.New("invalid 128-bit identifier")
	// ErrSizeMismatch indicates an existing filter file whose size is not MapBytes.
	ErrSizeMismatch = errors.New("filter file size mismatch")
	// ErrClosed indicates use of a filter after Close.
	ErrClosed = errors.New("filter is closed")
)
