package scan

import "fmt"

// Range is an inclusive interval [Begin, End] of id values. A range with
// End == Begin-1 is empty.
type Range struct {
	Begin int64
	End   int64
}

// Span returns [begin, end], or an empty range starting at begin when end
// is below begin.
func Span(begin, end int64) Range {
	if end < begin {
		end = begin - 1
	}
	return Range{Begin: begin, End: end}
}

// Len returns the number of ids in the range.
func (r Range) Len() int64 {
	if r.End < r.Begin {
		return 0
	}
	return r.End - r.Begin + 1
}

// Empty reports whether the range holds no ids.
func (r Range) Empty() bool {
	return r.Len() == 0
}

func (r Range) validate() error {
	if r.Begin > r.End+1 {
		return fmt.Errorf("invalid range [%d, %d]", r.Begin, r.End)
	}
	return nil
}

// Chunk is one bounded query over a contiguous part of a Range.
// End == Begin + Size - 1.
type Chunk struct {
	Begin int64
	End   int64
	Size  int64
}
