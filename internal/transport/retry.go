package transport

import (
	"context"
	"time"
)

// RetryPolicy holds shared retry configuration for a Provider
// implementation, grounded on the teacher's BaseProvider.
type RetryPolicy struct {
	maxRetries int
	retryDelay time.Duration
}

// NewRetryPolicy builds a RetryPolicy, defaulting to 3 attempts with a
// 1s linear backoff step.
func NewRetryPolicy(maxRetries int, retryDelay time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return RetryPolicy{maxRetries: maxRetries, retryDelay: retryDelay}
}

// Retry runs op, retrying with linear backoff while isRetryable(err) is
// true, up to the configured attempt count.
func (p RetryPolicy) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt >= p.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.retryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}
