package portal

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	return b
}

func (p RetryPolicy) tries() uint {
	if p.MaxRetries < 0 {
		return 1
	}
	return uint(p.MaxRetries) + 1
}

// shouldRetry decides whether an attempt error is transient.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrNotFound) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	// Anything else came from the transport.
	return true
}

// classifyAttempt turns a transient attempt error into what backoff expects.
func classifyAttempt(err error, resp response) error {
	if !shouldRetry(err) {
		return backoff.Permanent(err)
	}
	if resp.status == http.StatusTooManyRequests {
		if secs, convErr := strconv.Atoi(resp.headers.Get("Retry-After")); convErr == nil && secs > 0 {
			return backoff.RetryAfter(secs)
		}
	}
	return err
}

// retry runs op with the configured backoff and wraps exhaustion in a NetworkError.
func (p RetryPolicy) retry(
	ctx context.Context,
	target string,
	notify func(error, time.Duration),
	op func() (response, error),
) (response, error) {
	if notify == nil {
		notify = func(error, time.Duration) {}
	}
	attempts := 0
	var lastErr error
	resp, err := backoff.Retry(ctx, func() (response, error) {
		attempts++
		r, err := op()
		if err != nil {
			lastErr = err
			return r, classifyAttempt(err, r)
		}
		return r, nil
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(p.tries()),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return resp, nil
	}
	if !shouldRetry(err) {
		return response{}, err
	}
	if lastErr == nil {
		lastErr = err
	}
	return response{}, &NetworkError{URL: target, Attempts: attempts, Err: lastErr}
}
