package feed

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

var ErrRetryExhausted = errors.New("feed: retry attempts exhausted")

// RetryPolicy decides whether and when to reconnect after the attempt-th
// consecutive failure (starting at 1). Returning an error stops the feed.
type RetryPolicy interface {
	Wait(ctx context.Context, attempt int) error
}

// Forever retries unconditionally after a fixed delay.
type Forever struct {
	Delay time.Duration
}

func (f Forever) Wait(ctx context.Context, _ int) error {
	return sleep(ctx, f.Delay)
}

// MaxAttempts retries up to Attempts times, then gives up. Feeds count
// consecutive sessions that delivered nothing, including connections that
// were accepted and dropped straight away.
type MaxAttempts struct {
	Attempts int
	Delay    time.Duration
}

func (m MaxAttempts) Wait(ctx context.Context, attempt int) error {
	if attempt > m.Attempts {
		return ErrRetryExhausted
	}
	return sleep(ctx, m.Delay)
}

// LimiterRetry retries forever but never faster than the limiter allows.
type LimiterRetry struct {
	limiter *rate.Limiter
}

func NewLimiterRetry(perSecond float64, burst int) *LimiterRetry {
	if burst <= 0 {
		burst = 1
	}
	return &LimiterRetry{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *LimiterRetry) Wait(ctx context.Context, _ int) error {
	return l.limiter.Wait(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
