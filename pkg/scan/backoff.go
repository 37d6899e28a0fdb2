package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/sharkspotter/internal/logctx"
	"github.com/jonboulle/clockwork"
)

// DefaultOverloadDelay is the wait before re-running an overloaded chunk.
const DefaultOverloadDelay = 5 * time.Second

// OverloadPolicy re-runs a chunk with identical bounds when the backend
// reports ErrOverloaded. Any other error is returned at once.
type OverloadPolicy struct {
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	// MaxRetries caps the retries per chunk. Zero retries forever.
	MaxRetries int
	// Clock drives the wait; nil uses the real clock.
	Clock clockwork.Clock
}

// DefaultOverloadPolicy retries every DefaultOverloadDelay without limit.
func DefaultOverloadPolicy() OverloadPolicy {
	return OverloadPolicy{Delay: DefaultOverloadDelay}
}

// Validate checks the policy settings.
func (p OverloadPolicy) Validate() error {
	if p.Delay < 0 {
		return fmt.Errorf("overload delay must be non-negative, got %v", p.Delay)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", p.MaxRetries)
	}
	return nil
}

func (p OverloadPolicy) clock() clockwork.Clock {
	if p.Clock == nil {
		return clockwork.NewRealClock()
	}
	return p.Clock
}

// IsOverload reports whether err is a transient backend overload.
func IsOverload(err error) bool {
	return errors.Is(err, ErrOverloaded)
}

// Execute runs fn on c, retrying while it fails with ErrOverloaded. It
// returns fn's result, the number of retries taken, and the final error.
// fn receives ctx, so cancelling it may abort the attempt in flight; the
// context is also checked during the wait.
func Execute[T any](ctx context.Context, p OverloadPolicy, c Chunk, fn func(context.Context, Chunk) (T, error)) (T, int, error) {
	clock := p.clock()
	log := logctx.FromContext(ctx)

	retries := 0
	for {
		res, err := fn(ctx, c)
		if err == nil || !IsOverload(err) {
			return res, retries, err
		}

		if p.MaxRetries > 0 && retries >= p.MaxRetries {
			var zero T
			return zero, retries, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, retries+1, err)
		}

		retries++
		log.Warn().
			Err(err).
			Int64("begin_id", c.Begin).
			Int64("end_id", c.End).
			Int("retry", retries).
			Dur("delay", p.Delay).
			Msg("backend overloaded, retrying chunk")

		select {
		case <-ctx.Done():
			var zero T
			return zero, retries, ctx.Err()
		case <-clock.After(p.Delay):
		}
	}
}
