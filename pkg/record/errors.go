package record

import "errors"

var (
	// ErrMissingField indicates a required metadata field is absent.
	ErrMissingField = errors.New("missing required field")
	// ErrMalformed indicates metadata that is present but not usable.
	ErrMalformed = errors.New("malformed object metadata")
)
