package scan

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type executeResult struct {
	val     int
	retries int
	err     error
}

func TestExecute_RetriesOverloadInPlace(t *testing.T) {
	clock := clockwork.NewFakeClock()
	policy := OverloadPolicy{Delay: 5 * time.Second, Clock: clock}
	chunk := Chunk{Begin: 100, End: 109, Size: 10}

	var seen []Chunk
	fn := func(_ context.Context, c Chunk) (int, error) {
		seen = append(seen, c)
		if len(seen) <= 2 {
			return 0, fmt.Errorf("query: %w", ErrOverloaded)
		}
		return 42, nil
	}

	done := make(chan executeResult, 1)
	go func() {
		v, r, err := Execute(context.Background(), policy, chunk, fn)
		done <- executeResult{v, r, err}
	}()

	for range 2 {
		clock.BlockUntil(1)
		clock.Advance(5 * time.Second)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("Execute failed: %v", res.err)
	}
	if res.val != 42 || res.retries != 2 {
		t.Errorf("got (%d, %d retries), want (42, 2)", res.val, res.retries)
	}
	if len(seen) != 3 {
		t.Fatalf("handler called %d times, want 3", len(seen))
	}
	for _, c := range seen {
		if c != chunk {
			t.Errorf("retry used bounds %+v, want %+v", c, chunk)
		}
	}
}

func TestExecute_WaitsFullDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	policy := OverloadPolicy{Delay: 5 * time.Second, Clock: clock}

	calls := make(chan struct{}, 4)
	fn := func(_ context.Context, _ Chunk) (int, error) {
		calls <- struct{}{}
		if len(calls) == 1 {
			return 0, ErrOverloaded
		}
		return 1, nil
	}

	done := make(chan executeResult, 1)
	go func() {
		v, r, err := Execute(context.Background(), policy, Chunk{0, 0, 1}, fn)
		done <- executeResult{v, r, err}
	}()

	clock.BlockUntil(1)
	clock.Advance(4 * time.Second)
	select {
	case <-done:
		t.Fatal("retried before the delay elapsed")
	case <-time.After(20 * time.Millisecond):
	}
	clock.Advance(time.Second)

	if res := <-done; res.err != nil || res.retries != 1 {
		t.Errorf("got retries=%d err=%v, want 1 retry", res.retries, res.err)
	}
}

func TestExecute_OtherErrorsPropagate(t *testing.T) {
	boom := errors.New("connection reset")
	calls := 0
	_, retries, err := Execute(context.Background(), DefaultOverloadPolicy(), Chunk{0, 9, 10},
		func(_ context.Context, _ Chunk) (int, error) {
			calls++
			return 0, boom
		})

	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if calls != 1 || retries != 0 {
		t.Errorf("calls=%d retries=%d, want 1/0", calls, retries)
	}
}

func TestExecute_RetryCap(t *testing.T) {
	policy := OverloadPolicy{Delay: time.Millisecond, MaxRetries: 2}
	calls := 0
	_, retries, err := Execute(context.Background(), policy, Chunk{0, 9, 10},
		func(_ context.Context, _ Chunk) (int, error) {
			calls++
			return 0, ErrOverloaded
		})

	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("err = %v, want ErrRetriesExhausted", err)
	}
	if !errors.Is(err, ErrOverloaded) {
		t.Errorf("err = %v, should still wrap ErrOverloaded", err)
	}
	if calls != 3 || retries != 2 {
		t.Errorf("calls=%d retries=%d, want 3/2", calls, retries)
	}
}

func TestExecute_CancelDuringWait(t *testing.T) {
	clock := clockwork.NewFakeClock()
	policy := OverloadPolicy{Delay: time.Hour, Clock: clock}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan executeResult, 1)
	go func() {
		v, r, err := Execute(ctx, policy, Chunk{0, 0, 1}, func(_ context.Context, _ Chunk) (int, error) {
			return 0, ErrOverloaded
		})
		done <- executeResult{v, r, err}
	}()

	clock.BlockUntil(1)
	cancel()

	res := <-done
	if !errors.Is(res.err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", res.err)
	}
}

func TestOverloadPolicyValidate(t *testing.T) {
	if err := DefaultOverloadPolicy().Validate(); err != nil {
		t.Errorf("default policy invalid: %v", err)
	}
	if err := (OverloadPolicy{Delay: -time.Second}).Validate(); err == nil {
		t.Error("expected error for negative delay")
	}
	if err := (OverloadPolicy{MaxRetries: -1}).Validate(); err == nil {
		t.Error("expected error for negative retry cap")
	}
}
