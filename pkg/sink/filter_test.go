package sink

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/eunmann/sharkspotter/pkg/uuidbloom"
	"github.com/google/uuid"
)

var _ MembershipSet = (*uuidbloom.Filter)(nil)

type mapSet struct {
	ids    map[uuid.UUID]bool
	synced int
	err    error
}

func newMapSet() *mapSet { return &mapSet{ids: map[uuid.UUID]bool{}} }

func (m *mapSet) Insert(id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.ids[id] = true
	return nil
}

func (m *mapSet) Query(id uuid.UUID) (bool, error) { return m.ids[id], nil }

func (m *mapSet) Sync() error {
	m.synced++
	return nil
}

func TestFilterSink(t *testing.T) {
	set := newMapSet()
	s := NewFilterSink(NewSharedSet(set))
	ctx := context.Background()

	recs := testRecords(5)
	if err := s.WriteRecords(ctx, recs); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}
	// A repeated chunk adds nothing new.
	if err := s.WriteRecords(ctx, recs[:2]); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}

	if len(set.ids) != 5 {
		t.Errorf("set holds %d ids, want 5", len(set.ids))
	}
	for _, r := range recs {
		if !set.ids[r.ObjectID] {
			t.Errorf("object %s missing", r.ObjectID)
		}
	}
	if st := s.Stats(); st.Inserted != 5 || st.AlreadyPresent != 2 || st.Batches != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestFilterSinkError(t *testing.T) {
	set := newMapSet()
	set.err = errors.New("disk full")
	s := NewFilterSink(NewSharedSet(set))

	err := s.WriteRecords(context.Background(), testRecords(1))
	if !errors.Is(err, set.err) {
		t.Fatalf("err = %v, want %v", err, set.err)
	}
	if st := s.Stats(); st.Batches != 0 {
		t.Errorf("failed batch counted: %+v", st)
	}
}

func TestSharedSetConcurrent(t *testing.T) {
	set := newMapSet()
	shared := NewSharedSet(set)

	var wg sync.WaitGroup
	sinks := make([]*FilterSink, 4)
	for i := range sinks {
		sinks[i] = NewFilterSink(shared)
		wg.Add(1)
		go func(s *FilterSink) {
			defer wg.Done()
			for range 10 {
				if err := s.WriteRecords(context.Background(), testRecords(10)); err != nil {
					t.Error(err)
					return
				}
			}
		}(sinks[i])
	}
	wg.Wait()

	if len(set.ids) != 400 {
		t.Errorf("set holds %d ids, want 400", len(set.ids))
	}
	if err := shared.Sync(); err != nil || set.synced != 1 {
		t.Errorf("Sync = %v, synced %d", err, set.synced)
	}
}
