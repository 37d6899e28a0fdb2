package scan

import (
	"errors"
	"testing"
)

// drain walks it to the end, committing every chunk.
func drain(t *testing.T, it *Iterator) []Chunk {
	t.Helper()
	var chunks []Chunk
	for {
		c, ok := it.Next()
		if !ok {
			return chunks
		}
		if err := it.Commit(c); err != nil {
			t.Fatalf("Commit(%+v) failed: %v", c, err)
		}
		chunks = append(chunks, c)
	}
}

func TestSpan(t *testing.T) {
	tests := []struct {
		begin, end int64
		want       Range
		wantLen    int64
	}{
		{0, 100, Range{0, 100}, 101},
		{5, 5, Range{5, 5}, 1},
		{5, 4, Range{5, 4}, 0},
		{120, 100, Range{120, 119}, 0},
	}
	for _, tt := range tests {
		got := Span(tt.begin, tt.end)
		if got != tt.want || got.Len() != tt.wantLen {
			t.Errorf("Span(%d, %d) = %+v (len %d), want %+v (len %d)",
				tt.begin, tt.end, got, got.Len(), tt.want, tt.wantLen)
		}
	}
}

func TestIteratorChunksContiguous(t *testing.T) {
	tests := []struct {
		begin, end, size int64
	}{
		{0, 0, 1},
		{0, 99, 10},
		{0, 100, 10},
		{1, 100, 7},
		{101, 150, 10000},
		{42, 1041, 1000},
		{0, 9, 3},
	}

	for _, tt := range tests {
		it, err := NewIterator(Range{tt.begin, tt.end}, tt.size)
		if err != nil {
			t.Fatalf("NewIterator failed: %v", err)
		}
		chunks := drain(t, it)

		var total int64
		next := tt.begin
		for i, c := range chunks {
			if c.Begin != next {
				t.Errorf("[%d,%d]/%d chunk %d begins at %d, want %d", tt.begin, tt.end, tt.size, i, c.Begin, next)
			}
			if c.End != c.Begin+c.Size-1 {
				t.Errorf("chunk %+v: end != begin+size-1", c)
			}
			if c.Size <= 0 || c.Size > tt.size {
				t.Errorf("chunk %+v: size out of (0, %d]", c, tt.size)
			}
			if i < len(chunks)-1 && c.Size != tt.size {
				t.Errorf("chunk %+v: only the last chunk may be short", c)
			}
			total += c.Size
			next = c.End + 1
		}
		if want := tt.end - tt.begin + 1; total != want {
			t.Errorf("[%d,%d]/%d sizes sum to %d, want %d", tt.begin, tt.end, tt.size, total, want)
		}
		if it.State() != StateDone || it.Remaining() != 0 {
			t.Errorf("final state %s remaining %d, want done/0", it.State(), it.Remaining())
		}
		if it.Chunks() != int64(len(chunks)) {
			t.Errorf("Chunks() = %d, want %d", it.Chunks(), len(chunks))
		}
	}
}

func TestIteratorEmptyRange(t *testing.T) {
	it, err := NewIterator(Span(10, 9), 100)
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}
	if it.State() != StateIdle {
		t.Fatalf("initial state %s, want idle", it.State())
	}
	if _, ok := it.Next(); ok {
		t.Fatal("empty range produced a chunk")
	}
	if it.State() != StateDone {
		t.Errorf("state %s, want done", it.State())
	}
}

func TestIteratorRejectsBadInput(t *testing.T) {
	if _, err := NewIterator(Range{0, 10}, 0); err == nil {
		t.Error("expected error for zero chunk size")
	}
	if _, err := NewIterator(Range{10, 5}, 1); err == nil {
		t.Error("expected error for range with begin > end+1")
	}
}

func TestIteratorUncommittedChunkRepeats(t *testing.T) {
	it, err := NewIterator(Range{0, 24}, 10)
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}

	first, _ := it.Next()
	again, _ := it.Next()
	if first != again {
		t.Fatalf("uncommitted chunk changed: %+v -> %+v", first, again)
	}
	if it.Remaining() != 25 {
		t.Errorf("remaining %d after retry, want 25", it.Remaining())
	}

	if err := it.Commit(first); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	second, _ := it.Next()
	if second.Begin != 10 || second.End != 19 {
		t.Errorf("second chunk %+v, want [10, 19]", second)
	}
	if it.Remaining() != 15 {
		t.Errorf("remaining %d, want 15", it.Remaining())
	}
}

func TestIteratorCommitMismatch(t *testing.T) {
	it, _ := NewIterator(Range{0, 24}, 10)
	if err := it.Commit(Chunk{0, 9, 10}); err == nil {
		t.Error("expected error committing before Next")
	}
	c, _ := it.Next()
	if err := it.Commit(Chunk{Begin: c.Begin, End: c.End + 1, Size: c.Size + 1}); err == nil {
		t.Error("expected error committing a different chunk")
	}
	if err := it.Commit(c); err != nil {
		t.Errorf("Commit of in-flight chunk failed: %v", err)
	}
}

func TestIteratorFail(t *testing.T) {
	it, _ := NewIterator(Range{0, 99}, 10)
	c, _ := it.Next()
	_ = it.Commit(c)

	boom := errors.New("boom")
	it.Fail(boom)
	it.Fail(errors.New("second"))

	if it.State() != StateFailed {
		t.Errorf("state %s, want failed", it.State())
	}
	if !errors.Is(it.Err(), boom) {
		t.Errorf("Err() = %v, want first failure", it.Err())
	}
	if _, ok := it.Next(); ok {
		t.Error("failed iterator produced a chunk")
	}
	if it.Remaining() != 90 {
		t.Errorf("remaining %d, want 90", it.Remaining())
	}
}
