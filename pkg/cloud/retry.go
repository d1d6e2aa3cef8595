package cloud

import (
	"context"
	"math/rand"
	"time"

	"github.com/cloudmason/snapguard/pkg/metrics"
)

// RetryPolicy controls how transient failures are retried. The zero value is
// not usable; call DefaultRetryPolicy.
type RetryPolicy struct {
	MaxAttempts    int           // total attempts, including the first
	BaseDelay      time.Duration // delay before the second attempt
	Factor         float64       // multiplier applied per attempt
	Jitter         float64       // fraction of the delay randomized in both directions
	RequestTimeout time.Duration // per-attempt deadline
}

// DefaultRetryPolicy is the uniform policy for all cloud operations:
// 30 s request timeout, up to 3 retries with exponential backoff starting at
// 1 s, factor 2, ±20% jitter. Only transient outcomes are retried.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		BaseDelay:      time.Second,
		Factor:         2,
		Jitter:         0.2,
		RequestTimeout: 30 * time.Second,
	}
}

// Do runs fn under the policy, classifying the outcome for op. fn receives a
// context bounded by the per-attempt request timeout.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := p.BaseDelay
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return classify(op, ctx.Err())
			case <-time.After(jittered(delay, p.Jitter)):
			}
			delay = time.Duration(float64(delay) * p.Factor)
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.RequestTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.RequestTimeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			metrics.CloudRequestsTotal.WithLabelValues(op, "ok").Inc()
			return nil
		}

		lastErr = classify(op, err)
		if !IsTransient(lastErr) {
			metrics.CloudRequestsTotal.WithLabelValues(op, string(KindOf(lastErr))).Inc()
			return lastErr
		}
	}

	metrics.CloudRequestsTotal.WithLabelValues(op, string(KindOf(lastErr))).Inc()
	return lastErr
}

func jittered(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	spread := float64(d) * fraction
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}
