package provider

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// parseRetryAfter parses a Retry-After header value (seconds, the only form
// the providers in this pack send) into a duration. Empty/invalid input
// yields zero, meaning "no hint".
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// RetryPolicy controls the backoff applied by Retry.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// JitterFrac is the +/- fraction applied to each computed delay
	// (±30% multiplicative jitter).
	JitterFrac float64
}

// DefaultRetryPolicy is exponential
// backoff base*multiplier^attempt capped at max, ±30% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    20 * time.Second,
		Multiplier:  2.0,
		JitterFrac:  0.30,
	}
}

// retryable reports whether err represents a transient failure worth
// retrying (429 or 5xx), and the provider-requested delay if any.
func retryable(err error) (retry bool, retryAfter time.Duration) {
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return true, se.RetryAfter
		case se.StatusCode >= 500 && se.StatusCode <= 599:
			return true, 0
		default:
			return false, 0
		}
	}
	// Transport-level failures (timeouts, connection resets) are retried
	// without a server-provided hint.
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return true, 0
	}
	return false, 0
}

// backoffDelay computes the jittered exponential delay for attempt (0-based).
func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	d := float64(policy.BaseDelay) * pow(policy.Multiplier, attempt)
	if max := float64(policy.MaxDelay); d > max {
		d = max
	}
	jitter := 1 + (rand.Float64()*2-1)*policy.JitterFrac
	result := time.Duration(d * jitter)
	if result < 0 {
		result = 0
	}
	return result
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Retry runs fn with exponential-backoff retry on 429/5xx errors, honoring
// any Retry-After hint in place of the computed delay. It stops retrying
// once ctx is canceled or MaxAttempts is exhausted, returning the last error.
func Retry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) error {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		retry, retryAfter := retryable(lastErr)
		if !retry || attempt == policy.MaxAttempts-1 {
			return lastErr
		}
		delay := retryAfter
		if delay == 0 {
			delay = backoffDelay(policy, attempt)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
