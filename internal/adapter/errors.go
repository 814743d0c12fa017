package adapter

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy. Callers branch with errors.Is; retryable-class failures may
// be checkpointed and retried, permanent ones abort the unit of work.
var (
	// ErrRateLimited marks a throttling response. Retried locally with
	// backoff; still retryable for the caller once local attempts run out.
	ErrRateLimited = errors.New("source rate limited")

	// ErrTransient marks network errors and 5xx responses.
	ErrTransient = errors.New("transient source error")

	// ErrBadCredentials marks 401/403 responses. Never retried.
	ErrBadCredentials = errors.New("bad source credentials")

	// ErrMalformedPayload marks undecodable or contract-violating payloads.
	// Never retried; the raw payload is kept in the audit log for inspection.
	ErrMalformedPayload = errors.New("malformed source payload")
)

// RateLimitError carries the server-suggested delay when one was provided.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("source rate limited (retry after %s)", e.RetryAfter)
	}
	return "source rate limited"
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// IsRetryable reports whether the failure class permits another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}
