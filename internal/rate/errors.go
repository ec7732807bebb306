package rate

import (
	"fmt"
	"time"
)

// RateLimitError is returned when the upstream answered 429.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

// StatusError is a retryable non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// TransportError is returned once every attempt of a call has failed.
type TransportError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
