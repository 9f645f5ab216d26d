package graph

import (
	"context"
	"math/rand"
	"time"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
)

// RetryPolicy bounds the re-execution of transactions that lose a
// version-uniqueness race or deadlock.
type RetryPolicy struct {
	Attempts   int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   5,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 200 * time.Millisecond,
	}
}

// Backoff returns the jittered delay before the given attempt (1-based).
// Doubles from MinBackoff, capped at MaxBackoff, with up to 50% jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.MinBackoff << uint(attempt-1)
	if d > p.MaxBackoff || d <= 0 {
		d = p.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	d = d/2 + jitter
	if d < p.MinBackoff {
		d = p.MinBackoff
	}
	return d
}

// withRetry runs fn until it succeeds, fails non-retryably, the attempts are
// exhausted, or ctx expires.
func (w *Writer) withRetry(ctx context.Context, op string, fn func() error) error {
	attempts := w.retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryableStoreError(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		delay := w.retry.Backoff(attempt)
		w.log.Debug("retrying after store conflict", "op", op, "attempt", attempt, "backoff_ms", delay.Milliseconds())
		select {
		case <-ctx.Done():
			return apierr.New(apierr.KindStoreUnavailable, ctx.Err()).AsTransient()
		case <-time.After(delay):
		}
	}
	return err
}
