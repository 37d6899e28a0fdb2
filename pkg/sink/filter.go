package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/eunmann/sharkspotter/pkg/record"
	"github.com/google/uuid"
)

// MembershipSet is a set of object ids, such as a *uuidbloom.Filter.
type MembershipSet interface {
	Insert(id uuid.UUID) error
	Query(id uuid.UUID) (bool, error)
	Sync() error
}

// SharedSet serializes access to a MembershipSet used by several scans.
type SharedSet struct {
	mu  sync.Mutex
	set MembershipSet
}

// NewSharedSet wraps set.
func NewSharedSet(set MembershipSet) *SharedSet {
	return &SharedSet{set: set}
}

// Add inserts every id and returns how many were already present.
func (s *SharedSet) Add(ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var present int64
	for _, id := range ids {
		ok, err := s.set.Query(id)
		if err != nil {
			return present, fmt.Errorf("query %s: %w", id, err)
		}
		if ok {
			present++
			continue
		}
		if err := s.set.Insert(id); err != nil {
			return present, fmt.Errorf("insert %s: %w", id, err)
		}
	}
	return present, nil
}

// Sync flushes the set to storage.
func (s *SharedSet) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Sync()
}

// FilterStats counts ids a FilterSink handled.
type FilterStats struct {
	Inserted int64
	// AlreadyPresent counts ids the set already reported as members,
	// either inserted earlier or false positives.
	AlreadyPresent int64
	Batches        int64
}

// FilterSink inserts the object id of every kept record into a shared set.
type FilterSink struct {
	set   *SharedSet
	ids   []uuid.UUID
	stats FilterStats
}

// NewFilterSink returns a sink adding to set.
func NewFilterSink(set *SharedSet) *FilterSink {
	return &FilterSink{set: set}
}

// WriteRecords adds the records' object ids.
func (f *FilterSink) WriteRecords(_ context.Context, recs []record.ObjectRecord) error {
	f.ids = f.ids[:0]
	for _, r := range recs {
		f.ids = append(f.ids, r.ObjectID)
	}
	present, err := f.set.Add(f.ids)
	if err != nil {
		return err
	}
	f.stats.AlreadyPresent += present
	f.stats.Inserted += int64(len(f.ids)) - present
	f.stats.Batches++
	return nil
}

// Stats returns the counts so far.
func (f *FilterSink) Stats() FilterStats { return f.stats }
