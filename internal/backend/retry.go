package backend

import (
	"context"
	"log/slog"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryPolicy retries transient failures with exponential backoff.
type RetryPolicy struct {
	Attempts  int           // total attempts including the first
	BaseDelay time.Duration // delay before the second attempt; doubles after each
	Sleep     SleepFunc     // nil means Sleep
}

// DefaultRetryPolicy returns 3 attempts starting at 2s (2s, then 4s).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: 2 * time.Second,
		Sleep:     Sleep,
	}
}

// Delay returns the backoff before retry number n (0-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	return p.BaseDelay << uint(n)
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// policy's attempts are exhausted. The last error is returned.
func Retry[T any](ctx context.Context, p RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var (
		result T
		err    error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt - 1)
			slog.Info("[retry] backing off", "op", op, "attempt", attempt+1, "delay", delay, "kind", Kind(err))
			if serr := sleep(ctx, delay); serr != nil {
				return result, err
			}
		}

		result, err = fn(ctx)
		if err == nil || !Retryable(err) {
			return result, err
		}
		slog.Warn("[retry] attempt failed", "op", op, "attempt", attempt+1, "error", err)
	}
	return result, err
}
