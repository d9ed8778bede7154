package httpclient

import (
	"context"
	"time"
)

const (
	// DefaultTotalRetries is the default number of retries after the
	// initial attempt
	DefaultTotalRetries = 4

	// DefaultBackoffFactor is the default backoff factor, in seconds
	DefaultBackoffFactor = 1.0

	// DefaultMaxBackoff caps a single backoff wait
	DefaultMaxBackoff = 30 * time.Second
)

// DefaultRetryStatusCodes returns the status codes retried by default.
// 404 is included because a service whose route has just been provisioned
// may briefly answer not-found while its backend warms up.
func DefaultRetryStatusCodes() []int {
	return []int{404, 429, 502, 503, 504}
}

// RetryPolicy controls how transient failures are retried.
// The zero value disables retries entirely; DefaultRetryPolicy returns the
// standard policy.
type RetryPolicy struct {
	// TotalRetries is the number of retries after the initial attempt, so
	// at most TotalRetries+1 attempts are made.
	TotalRetries int `validate:"gte=0"`
	// BackoffFactor scales the geometric backoff, in seconds: the wait
	// before retry i (1-based) is BackoffFactor * 2^(i-1) seconds.
	BackoffFactor float64 `validate:"gte=0"`
	// RetryStatusCodes are the response status codes treated as
	// retryable. Any completed response outside this set is terminal.
	RetryStatusCodes []int
	// MaxBackoff caps a single wait. Zero means DefaultMaxBackoff.
	MaxBackoff time.Duration `validate:"gte=0"`
}

// DefaultRetryPolicy returns the standard retry policy: 4 retries, a
// backoff factor of 1.0, and the default retryable status set.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		TotalRetries:     DefaultTotalRetries,
		BackoffFactor:    DefaultBackoffFactor,
		RetryStatusCodes: DefaultRetryStatusCodes(),
		MaxBackoff:       DefaultMaxBackoff,
	}
}

// isRetryableStatus reports whether code is in the policy's retryable set.
func (p *RetryPolicy) isRetryableStatus(code int) bool {
	for _, c := range p.RetryStatusCodes {
		if c == code {
			return true
		}
	}
	return false
}

// backoffDelay returns the wait before retry number retryIndex (1-based),
// capped at MaxBackoff.
func (p *RetryPolicy) backoffDelay(retryIndex int) time.Duration {
	if p.BackoffFactor <= 0 {
		return 0
	}
	// Cap the exponent to avoid overflow when computing the multiplier
	if retryIndex > 30 {
		retryIndex = 30
	}
	mult := int64(1) << (retryIndex - 1)
	d := time.Duration(p.BackoffFactor * float64(mult) * float64(time.Second))
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	if d > maxBackoff || d < 0 {
		d = maxBackoff
	}
	return d
}

// sleepContext waits for d or until ctx is cancelled, whichever comes
// first.
func sleepContext(ctx context.Context, d time.Duration) error {
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
