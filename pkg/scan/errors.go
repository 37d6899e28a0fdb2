package scan

import (
	"errors"
	"fmt"
)

var (
	// ErrOverloaded marks a transient backend overload. Query backends wrap
	// it; the overload policy retries the chunk instead of failing.
	ErrOverloaded = errors.New("backend overloaded")
	// ErrRetriesExhausted is returned when a capped overload policy gives up.
	ErrRetriesExhausted = errors.New("overload retries exhausted")
	// ErrNoBoundary indicates a boundary query returned no value.
	ErrNoBoundary = errors.New("no maximum value")
)

// BoundaryError reports a failed boundary query for an id column.
type BoundaryError struct {
	Column string
	Err    error
}

func (e *BoundaryError) Error() string {
	return fmt.Sprintf("resolve max(%s): %v", e.Column, e.Err)
}

func (e *BoundaryError) Unwrap() error { return e.Err }

// QueryError reports an unrecoverable failure while reading a chunk.
type QueryError struct {
	Column string
	Chunk  Chunk
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("find %s [%d, %d]: %v", e.Column, e.Chunk.Begin, e.Chunk.End, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// SinkError reports a failure writing a chunk's results.
type SinkError struct {
	Chunk Chunk
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("write results of [%d, %d]: %v", e.Chunk.Begin, e.Chunk.End, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
