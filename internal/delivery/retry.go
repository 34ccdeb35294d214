package delivery

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

// Transient transport failures worth another attempt.
var retryableErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"unexpected eof",
	"timeout",
}

// RetryPolicy bounds how often a failed request is repeated.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff is the wait before the second attempt; it doubles afterwards.
	Backoff time.Duration
}

// DefaultRetryPolicy returns the policy HTTPClient uses unless told otherwise.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		Backoff:     250 * time.Millisecond,
	}
}

// ShouldRetry reports whether err, returned by attempt (counting from 1),
// warrants another attempt.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	return IsRetryable(err)
}

// Do calls fn until it succeeds, fails permanently or runs out of attempts.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	wait := p.Backoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if !p.ShouldRetry(err, attempt) {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		wait *= 2
	}
}

// IsRetryable classifies err as transient: server-side statuses, rate
// limiting and transport errors. Cancellation and integrity failures are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrIntegrity) || errors.Is(err, ErrInvalidHandle) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= http.StatusInternalServerError || se.Status == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryableErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
