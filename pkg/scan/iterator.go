package scan

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of an Iterator or a scan session.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateIterating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateIterating:
		return "iterating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Iterator walks a Range in fixed-size chunks.
//
// Next hands out the chunk to run; the caller reports the outcome with
// Commit or Fail. Until a chunk is committed, Next returns the same chunk
// again, so a retried chunk never moves the cursor or the remaining count.
type Iterator struct {
	rng       Range
	chunkSize int64

	state     State
	next      int64
	remaining int64
	pending   *Chunk
	chunks    int64
	err       error
}

// NewIterator returns an Idle iterator over r.
func NewIterator(r Range, chunkSize int64) (*Iterator, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &Iterator{
		rng:       r,
		chunkSize: chunkSize,
		state:     StateIdle,
		next:      r.Begin,
		remaining: r.Len(),
	}, nil
}

// Next returns the chunk to run, or false once the iterator is Done or
// Failed. An empty range goes straight from Idle to Done.
func (it *Iterator) Next() (Chunk, bool) {
	switch it.state {
	case StateDone, StateFailed:
		return Chunk{}, false
	case StateIdle:
		if it.remaining == 0 {
			it.state = StateDone
			return Chunk{}, false
		}
		it.state = StateIterating
	}

	if it.pending != nil {
		return *it.pending, true
	}

	size := min(it.chunkSize, it.remaining)
	c := Chunk{Begin: it.next, End: it.next + size - 1, Size: size}
	it.pending = &c
	return c, true
}

// Commit marks the pending chunk c as finished and advances the cursor.
func (it *Iterator) Commit(c Chunk) error {
	if it.state != StateIterating || it.pending == nil {
		return fmt.Errorf("commit [%d, %d]: no chunk in flight (state %s)", c.Begin, c.End, it.state)
	}
	if *it.pending != c {
		return fmt.Errorf("commit [%d, %d]: in-flight chunk is [%d, %d]", c.Begin, c.End, it.pending.Begin, it.pending.End)
	}

	it.pending = nil
	it.remaining -= c.Size
	it.next = c.End + 1
	it.chunks++
	if it.remaining == 0 {
		it.state = StateDone
	}
	return nil
}

// Fail moves the iterator to Failed. No further chunks are issued.
func (it *Iterator) Fail(err error) {
	if it.state == StateFailed {
		return
	}
	if err == nil {
		err = errors.New("iterator failed")
	}
	it.state = StateFailed
	it.err = err
}

// State returns the current state.
func (it *Iterator) State() State { return it.state }

// Range returns the range being walked.
func (it *Iterator) Range() Range { return it.rng }

// Remaining returns the number of ids not yet committed.
func (it *Iterator) Remaining() int64 { return it.remaining }

// Chunks returns the number of committed chunks.
func (it *Iterator) Chunks() int64 { return it.chunks }

// Err returns the error passed to Fail.
func (it *Iterator) Err() error { return it.err }
