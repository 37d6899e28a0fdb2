package scan

import (
	"time"

	"github.com/eunmann/sharkspotter/pkg/record"
)

// Session is the mutable state of one scan. Only the Scanner changes it.
type Session struct {
	State State

	PrimaryMax  int64
	OverflowMax int64
	// HasOverflow is false when the overflow column could not be resolved.
	HasOverflow bool

	RequestedBegin int64
	RequestedEnd   int64

	// Column and Remaining describe the sub-range being scanned.
	Column    string
	Remaining int64
}

// RangeSummary describes one sub-range scan.
type RangeSummary struct {
	Column  string
	Range   Range
	Skipped bool
	State   State

	Chunks   int64
	Rows     int64
	Kept     int64
	Retries  int64
	Duration time.Duration
}

// Summary reports the outcome of a scan.
type Summary struct {
	Session Session
	Ranges  []RangeSummary

	ChunksCompleted  int64
	RowsSeen         int64
	Kept             int64
	DiscardedParts   int64
	DiscardedNoMatch int64
	Prefiltered      int64
	Retries          int64

	Duration time.Duration
	// Err is the first unrecoverable error, nil on success.
	Err error
}

// Discarded returns the total number of rows not kept.
func (s *Summary) Discarded() int64 {
	return s.DiscardedParts + s.DiscardedNoMatch
}

// chunkResult is what one successful chunk read produced.
type chunkResult struct {
	rows        int64
	parts       int64
	noMatch     int64
	prefiltered int64
	kept        []record.ObjectRecord
}

func (s *Summary) addChunk(rs *RangeSummary, res chunkResult, retries int) {
	kept := int64(len(res.kept))

	rs.Chunks++
	rs.Rows += res.rows
	rs.Kept += kept
	rs.Retries += int64(retries)

	s.ChunksCompleted++
	s.RowsSeen += res.rows
	s.Kept += kept
	s.DiscardedParts += res.parts
	s.DiscardedNoMatch += res.noMatch
	s.Prefiltered += res.prefiltered
	s.Retries += int64(retries)
}
